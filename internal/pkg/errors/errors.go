package errors

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidID rejects job/section/analysis ids that fail the safe-id
	// pattern or would escape the configured root.
	ErrInvalidID = errors.New("invalid id")
	// ErrIngestion covers unreadable or unusable source documents.
	ErrIngestion = errors.New("ingestion failed")
	// ErrChoreography means all plan attempts were exhausted.
	ErrChoreography = errors.New("choreography failed")
	// ErrImplementation means the implementer produced no usable snippet.
	ErrImplementation = errors.New("implementation failed")
	// ErrRefinement means the adaptive fixer loop did not stabilize the code.
	ErrRefinement = errors.New("refinement failed")
	// ErrRendering covers renderer subprocess failures, timeouts and missing
	// or unprobeable output artifacts.
	ErrRendering = errors.New("rendering failed")
	// ErrGateway is the terminal provider-side failure after all retries.
	ErrGateway = errors.New("gateway failed")
)
