package llm

import (
	"context"
	"time"
)

type ResponseFormat string

const (
	FormatText ResponseFormat = "text"
	FormatJSON ResponseFormat = "json"
)

// Part is one element of a multimodal prompt. Either Text is set, or Data
// plus MimeType carry an inline binary attachment (PDF pages, images).
type Part struct {
	Text     string
	Data     []byte
	MimeType string
	FileName string
}

func TextPart(s string) Part { return Part{Text: s} }

func BinaryPart(data []byte, mime, name string) Part {
	return Part{Data: data, MimeType: mime, FileName: name}
}

// ToolDecl is a function declaration passed to the provider.
type ToolDecl struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type FunctionCall struct {
	Name string
	Args map[string]any
	// CallID is provider plumbing: it ties a function result back to the
	// model turn that requested it.
	CallID string
}

type FunctionResult struct {
	Name    string
	Content string
}

// ToolHandler dispatches one function call to host code and returns the
// payload fed back to the model.
type ToolHandler func(ctx context.Context, call FunctionCall) (string, error)

type GenerateConfig struct {
	Temperature      float64
	Timeout          time.Duration
	MaxOutputTokens  int
	EnableThinking   bool
	ResponseFormat   ResponseFormat
	ResponseSchema   map[string]any
	SchemaName       string
	MaxRetries       int
	RequireJSONValid bool
}

type Request struct {
	Prompt   string
	System   string
	Contents []Part
	Tools    []ToolDecl
	// Handler is required when Tools is non-empty.
	Handler ToolHandler
	// Scope tags cost records and call logs (e.g. "section_3/refiner").
	Scope  string
	Config GenerateConfig
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

const (
	ReasonInvalidJSON    = "invalid_json"
	ReasonSchemaRejected = "schema_rejected"
	ReasonTimeout        = "timeout"
	ReasonEmpty          = "empty"
)

type Result struct {
	Success       bool
	Response      string
	ParsedJSON    map[string]any
	FunctionCalls []FunctionCall
	Err           string
	ErrorReason   string
	Usage         *Usage
}

// Gateway is the single call interface consumed by the script pipeline, the
// animation agent and translation.
type Gateway interface {
	Generate(ctx context.Context, req Request) (*Result, error)
	Model() string
}

// Turn is one entry of the running conversation kept by the tool loop.
type Turn struct {
	Role           string // "user" | "assistant" | "tool"
	Parts          []Part
	FunctionCall   *FunctionCall
	FunctionResult *FunctionResult
}

// ProviderRequest is a single provider attempt, already flattened by the
// gateway (retries and the tool loop both live above this line).
type ProviderRequest struct {
	System          string
	Turns           []Turn
	Tools           []ToolDecl
	Temperature     *float64
	MaxOutputTokens int
	EnableThinking  bool
	ForceJSON       bool
	ResponseSchema  map[string]any
	SchemaName      string
}

type ProviderResponse struct {
	Text          string
	FunctionCalls []FunctionCall
	Usage         Usage
}

// Provider is the wire-level backend. The gateway owns retries, schema
// enforcement, cost accounting and the function-calling loop; the provider
// only does one round trip.
type Provider interface {
	ModelID() string
	Complete(ctx context.Context, req ProviderRequest) (*ProviderResponse, error)
}

// CallRecord is emitted to the optional per-section call log observer.
type CallRecord struct {
	At       time.Time `json:"at"`
	Scope    string    `json:"scope,omitempty"`
	Model    string    `json:"model"`
	Attempt  int       `json:"attempt"`
	Success  bool      `json:"success"`
	Reason   string    `json:"reason,omitempty"`
	Usage    Usage     `json:"usage"`
	Duration float64   `json:"duration_seconds"`
}

type Observer func(rec CallRecord)
