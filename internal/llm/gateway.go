package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/scholarcast-backend/internal/pkg/ctxutil"
	pkgerrors "github.com/yungbote/scholarcast-backend/internal/pkg/errors"
	"github.com/yungbote/scholarcast-backend/internal/pkg/logger"
)

const (
	// retryTempStep diversifies retries: attempt n runs at base + n*step.
	retryTempStep = 0.15

	// DefaultMaxToolIterations caps the function-calling loop independently
	// of MaxRetries.
	DefaultMaxToolIterations = 10

	defaultTimeout    = 120 * time.Second
	defaultMaxRetries = 3
)

type gateway struct {
	log      *logger.Logger
	provider Provider
	costs    *CostStore
	compat   *schemaCompatCache

	maxToolIterations int

	mu       sync.RWMutex
	observer Observer
}

// NewGateway wraps a provider with retries, schema enforcement, cost
// accounting and the tool-calling loop.
func NewGateway(log *logger.Logger, provider Provider, costs *CostStore) Gateway {
	return &gateway{
		log:               log.With("service", "LLMGateway"),
		provider:          provider,
		costs:             costs,
		compat:            newSchemaCompatCache(24 * time.Hour),
		maxToolIterations: DefaultMaxToolIterations,
	}
}

func (g *gateway) Model() string { return g.provider.ModelID() }

// SetObserver installs a per-call record sink (e.g. llm_calls.jsonl).
// Passing nil removes it.
func (g *gateway) SetObserver(obs Observer) {
	g.mu.Lock()
	g.observer = obs
	g.mu.Unlock()
}

func (g *gateway) observe(rec CallRecord) {
	g.mu.RLock()
	obs := g.observer
	g.mu.RUnlock()
	if obs != nil {
		obs(rec)
	}
}

func (g *gateway) Generate(ctx context.Context, req Request) (*Result, error) {
	ctx = ctxutil.Default(ctx)
	if g.provider == nil {
		return nil, fmt.Errorf("gateway: missing provider")
	}
	if len(req.Tools) > 0 {
		if req.Handler == nil {
			return nil, fmt.Errorf("gateway: tools require a handler")
		}
		return g.generateWithTools(ctx, req)
	}
	return g.generateOnce(ctx, req)
}

func (g *gateway) generateOnce(ctx context.Context, req Request) (*Result, error) {
	cfg := req.Config
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	model := g.provider.ModelID()
	schema := cfg.ResponseSchema
	if schema != nil && g.compat.isIncompatible(model) {
		// Known-incompatible model: skip the schema attempt entirely.
		schema = nil
	}

	var lastRes *Result
	for attempt := 0; attempt < maxRetries; attempt++ {
		temp := cfg.Temperature + float64(attempt)*retryTempStep
		res, retriable := g.attempt(ctx, req, schema, temp, timeout, attempt)
		if res.Success {
			return res, nil
		}
		lastRes = res

		// Schema-compatibility fallback: remember the model and reissue once
		// without the schema, still requiring valid JSON.
		if res.ErrorReason == ReasonSchemaRejected && schema != nil {
			g.compat.markIncompatible(model)
			schema = nil
			continue
		}
		if !retriable {
			break
		}
	}
	if lastRes == nil {
		lastRes = &Result{Err: "no attempts made", ErrorReason: ReasonEmpty}
	}
	return lastRes, nil
}

// attempt runs one provider round trip plus response-shape validation.
// The bool reports whether the failure is retriable.
func (g *gateway) attempt(ctx context.Context, req Request, schema map[string]any, temp float64, timeout time.Duration, attempt int) (*Result, bool) {
	cfg := req.Config

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	preq := ProviderRequest{
		System:          req.System,
		Turns:           []Turn{userTurn(req)},
		Temperature:     &temp,
		MaxOutputTokens: cfg.MaxOutputTokens,
		EnableThinking:  cfg.EnableThinking,
		ForceJSON:       cfg.ResponseFormat == FormatJSON,
		ResponseSchema:  schema,
		SchemaName:      cfg.SchemaName,
	}

	start := time.Now()
	resp, err := g.provider.Complete(actx, preq)
	rec := CallRecord{
		At:       start.UTC(),
		Scope:    req.Scope,
		Model:    g.provider.ModelID(),
		Attempt:  attempt,
		Duration: time.Since(start).Seconds(),
	}

	if err != nil {
		reason := classifyProviderError(err)
		rec.Reason = reason
		g.observe(rec)
		g.log.Warn("provider call failed", "attempt", attempt, "reason", reason, "error", err.Error())
		return &Result{Err: err.Error(), ErrorReason: reason}, reason != ReasonSchemaRejected
	}

	rec.Usage = resp.Usage
	g.costs.Append(g.provider.ModelID(), req.Scope, resp.Usage.InputTokens, resp.Usage.OutputTokens)

	res := &Result{
		Response:      resp.Text,
		FunctionCalls: resp.FunctionCalls,
		Usage:         &Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
	}

	if strings.TrimSpace(resp.Text) == "" && len(resp.FunctionCalls) == 0 {
		res.Err = "empty response"
		res.ErrorReason = ReasonEmpty
		rec.Reason = ReasonEmpty
		g.observe(rec)
		return res, true
	}

	if cfg.ResponseFormat == FormatJSON {
		parsed, perr := parseJSONObject(resp.Text)
		if perr != nil {
			res.Err = perr.Error()
			if cfg.RequireJSONValid {
				res.ErrorReason = ReasonInvalidJSON
			}
			rec.Reason = ReasonInvalidJSON
			g.observe(rec)
			return res, true
		}
		if cfg.ResponseSchema != nil {
			if verr := ValidateAgainstSchema(parsed, cfg.ResponseSchema); verr != nil {
				res.Err = verr.Error()
				if cfg.RequireJSONValid {
					res.ErrorReason = ReasonInvalidJSON
				}
				rec.Reason = ReasonInvalidJSON
				g.observe(rec)
				return res, true
			}
		}
		res.ParsedJSON = parsed
	}

	res.Success = true
	rec.Success = true
	g.observe(rec)
	return res, false
}

// generateWithTools converts the call into a multi-turn session. After each
// model turn it either returns (no function call), or dispatches the call to
// the handler and appends both sides to the running history.
func (g *gateway) generateWithTools(ctx context.Context, req Request) (*Result, error) {
	cfg := req.Config
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	temp := cfg.Temperature

	turns := []Turn{userTurn(req)}
	var totalUsage Usage

	for iter := 0; iter < g.maxToolIterations; iter++ {
		actx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := g.provider.Complete(actx, ProviderRequest{
			System:          req.System,
			Turns:           turns,
			Tools:           req.Tools,
			Temperature:     &temp,
			MaxOutputTokens: cfg.MaxOutputTokens,
			EnableThinking:  cfg.EnableThinking,
		})
		cancel()
		if err != nil {
			reason := classifyProviderError(err)
			return &Result{Err: err.Error(), ErrorReason: reason, Usage: &totalUsage}, nil
		}

		totalUsage.InputTokens += resp.Usage.InputTokens
		totalUsage.OutputTokens += resp.Usage.OutputTokens
		g.costs.Append(g.provider.ModelID(), req.Scope, resp.Usage.InputTokens, resp.Usage.OutputTokens)

		if len(resp.FunctionCalls) == 0 {
			return &Result{
				Success:  true,
				Response: resp.Text,
				Usage:    &totalUsage,
			}, nil
		}

		call := resp.FunctionCalls[0]
		payload, herr := req.Handler(ctx, call)
		if herr != nil {
			payload = fmt.Sprintf(`{"error":%q}`, herr.Error())
		}

		turns = append(turns,
			Turn{Role: "assistant", FunctionCall: &call},
			Turn{Role: "tool", FunctionResult: &FunctionResult{Name: call.Name, Content: payload}},
		)
	}

	return &Result{
		Err:         fmt.Sprintf("tool loop exceeded %d iterations", g.maxToolIterations),
		ErrorReason: ReasonEmpty,
		Usage:       &totalUsage,
	}, nil
}

func userTurn(req Request) Turn {
	parts := make([]Part, 0, len(req.Contents)+1)
	if strings.TrimSpace(req.Prompt) != "" {
		parts = append(parts, TextPart(req.Prompt))
	}
	parts = append(parts, req.Contents...)
	return Turn{Role: "user", Parts: parts}
}

func parseJSONObject(text string) (map[string]any, error) {
	s := strings.TrimSpace(text)
	// Models sometimes fence their JSON; unwrap before parsing.
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	var out map[string]any
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	return out, nil
}

func classifyProviderError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadline") || strings.Contains(msg, "timeout"):
		return ReasonTimeout
	case isSchemaRejectionMessage(msg):
		return ReasonSchemaRejected
	default:
		return ""
	}
}

// isSchemaRejectionMessage matches the recognizable incompatibility
// signatures providers emit when a response_schema is refused.
func isSchemaRejectionMessage(msg string) bool {
	if !strings.Contains(msg, "schema") && !strings.Contains(msg, "response_format") && !strings.Contains(msg, "json_schema") {
		return false
	}
	for _, hint := range []string{
		"unsupported",
		"not supported",
		"does not support",
		"invalid schema",
		"unknown parameter",
		"unrecognized",
		"invalid_request_error",
	} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// schemaCompatCache remembers models that rejected a response schema so we
// can skip the doomed first attempt for a while. Best effort, in memory.
type schemaCompatCache struct {
	mu   sync.RWMutex
	seen map[string]time.Time
	ttl  time.Duration
}

func newSchemaCompatCache(ttl time.Duration) *schemaCompatCache {
	return &schemaCompatCache{seen: map[string]time.Time{}, ttl: ttl}
}

func (c *schemaCompatCache) isIncompatible(model string) bool {
	m := strings.ToLower(strings.TrimSpace(model))
	if m == "" {
		return false
	}
	c.mu.RLock()
	ts, ok := c.seen[m]
	ttl := c.ttl
	c.mu.RUnlock()
	if !ok {
		return false
	}
	if ttl <= 0 {
		return true
	}
	return time.Since(ts) < ttl
}

func (c *schemaCompatCache) markIncompatible(model string) {
	m := strings.ToLower(strings.TrimSpace(model))
	if m == "" {
		return
	}
	c.mu.Lock()
	c.seen[m] = time.Now().UTC()
	c.mu.Unlock()
}

// GatewayError wraps a terminal gateway failure for errors.Is matching.
func GatewayError(res *Result) error {
	if res == nil {
		return pkgerrors.ErrGateway
	}
	return fmt.Errorf("%w: %s (%s)", pkgerrors.ErrGateway, res.Err, res.ErrorReason)
}
