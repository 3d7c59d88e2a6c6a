package anim

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/yungbote/scholarcast-backend/internal/llm"
	pkgerrors "github.com/yungbote/scholarcast-backend/internal/pkg/errors"
	"github.com/yungbote/scholarcast-backend/internal/pkg/logger"
)

// fakeGateway feeds scripted tool calls to the request handler, one batch
// per Generate call, then replays canned results in order.
type fakeGateway struct {
	toolCalls [][]llm.FunctionCall
	results   []*llm.Result
	calls     []llm.Request
}

func (f *fakeGateway) Generate(ctx context.Context, req llm.Request) (*llm.Result, error) {
	f.calls = append(f.calls, req)
	if len(f.toolCalls) > 0 && req.Handler != nil {
		batch := f.toolCalls[0]
		f.toolCalls = f.toolCalls[1:]
		for _, call := range batch {
			_, _ = req.Handler(ctx, call)
		}
	}
	if len(f.results) == 0 {
		return &llm.Result{Success: true, Response: "done"}, nil
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res, nil
}

func (f *fakeGateway) Model() string { return "fake-model" }

func surgicalCall(search, replacement string) llm.FunctionCall {
	return llm.FunctionCall{Name: ToolSurgicalEdit, Args: map[string]any{
		"search_text":      search,
		"replacement_text": replacement,
	}}
}

// scriptedValidator returns canned reports in order and repeats the last one.
type scriptedValidator struct {
	reports []*Report
	err     error
	n       int
}

func (v *scriptedValidator) Validate(_ context.Context, _ *Scaffolded) (*Report, error) {
	if v.err != nil {
		return nil, v.err
	}
	idx := v.n
	if idx >= len(v.reports) {
		idx = len(v.reports) - 1
	}
	v.n++
	r := *v.reports[idx]
	r.Spatial = append([]SpatialIssue(nil), v.reports[idx].Spatial...)
	return &r, nil
}

func refineScaffold() *Scaffolded {
	return Scaffold("        circl = Circle()\n        self.play(Create(circl))", "SectionScene")
}

func TestRefineCleanFirstPass(t *testing.T) {
	gw := &fakeGateway{}
	val := &scriptedValidator{reports: []*Report{{}}}
	r := NewRefiner(logger.NewNop(), gw, val, RefinerConfig{MaxAttempts: 3})

	_, report, err := r.Refine(context.Background(), refineScaffold(), "s0")
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if !report.Clean() {
		t.Fatalf("report not clean: %+v", report)
	}
	if len(gw.calls) != 0 {
		t.Fatalf("clean code should not reach the model, got %d calls", len(gw.calls))
	}
}

func TestRefineFixesAfterOneEdit(t *testing.T) {
	failing := &Report{Category: CategoryRuntime, Findings: []Finding{
		{Category: CategoryRuntime, LineNumber: 7, Message: "NameError: name 'circl' is not defined"},
	}}
	gw := &fakeGateway{toolCalls: [][]llm.FunctionCall{
		{surgicalCall("circl = Circle()", "circle = Circle()")},
	}}
	val := &scriptedValidator{reports: []*Report{failing, {}}}
	r := NewRefiner(logger.NewNop(), gw, val, RefinerConfig{MaxAttempts: 3})

	sc := refineScaffold()
	out, report, err := r.Refine(context.Background(), sc, "s0")
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if !report.Clean() {
		t.Fatalf("report not clean: %+v", report)
	}
	if !strings.Contains(out.Source, "circle = Circle()") {
		t.Fatalf("edit not applied:\n%s", out.Source)
	}
	if len(gw.calls) != 1 {
		t.Fatalf("model called %d times, want 1", len(gw.calls))
	}
	if !strings.Contains(gw.calls[0].Scope, "/refine_0") {
		t.Fatalf("scope = %q", gw.calls[0].Scope)
	}
	names := map[string]bool{}
	for _, tool := range gw.calls[0].Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{ToolWriteCode, ToolPatchCode, ToolSurgicalEdit} {
		if !names[want] {
			t.Fatalf("tool %s not declared on the fix call", want)
		}
	}
}

func TestRefineAppliesEditsFromJSONAnswer(t *testing.T) {
	failing := &Report{Category: CategoryRuntime, Findings: []Finding{
		{Category: CategoryRuntime, LineNumber: 7, Message: "NameError: name 'circl' is not defined"},
	}}
	// The model answers with the edit list as text instead of calling tools.
	gw := &fakeGateway{results: []*llm.Result{{
		Success:  true,
		Response: `{"analysis":"typo","edits":[{"search_text":"circl = Circle()","replacement_text":"circle = Circle()"}]}`,
	}}}
	val := &scriptedValidator{reports: []*Report{failing, {}}}
	r := NewRefiner(logger.NewNop(), gw, val, RefinerConfig{MaxAttempts: 3})

	out, report, err := r.Refine(context.Background(), refineScaffold(), "s0")
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if !report.Clean() {
		t.Fatalf("report not clean: %+v", report)
	}
	if !strings.Contains(out.Source, "circle = Circle()") {
		t.Fatalf("fallback edit not applied:\n%s", out.Source)
	}
}

func TestRefineFailedTurnKeepsSourceIntact(t *testing.T) {
	failing := &Report{Category: CategoryRuntime, Findings: []Finding{
		{Category: CategoryRuntime, Message: "ValueError: stuck"},
	}}
	// The handler applies an edit but the call itself dies afterwards: the
	// session buffer must be discarded, not half-adopted.
	gw := &fakeGateway{
		toolCalls: [][]llm.FunctionCall{{surgicalCall("circl = Circle()", "circle = Circle()")}},
		results:   []*llm.Result{{Success: false, Err: "stream reset"}},
	}
	val := &scriptedValidator{reports: []*Report{failing}}
	r := NewRefiner(logger.NewNop(), gw, val, RefinerConfig{MaxAttempts: 1})

	out, _, err := r.Refine(context.Background(), refineScaffold(), "s0")
	if !errors.Is(err, pkgerrors.ErrRefinement) {
		t.Fatalf("err = %v, want refinement sentinel", err)
	}
	if !strings.Contains(out.Source, "circl = Circle()") {
		t.Fatalf("failed turn mutated the source:\n%s", out.Source)
	}
}

func TestRefineExhaustionReturnsSentinel(t *testing.T) {
	failing := &Report{Category: CategoryRuntime, Findings: []Finding{
		{Category: CategoryRuntime, Message: "ValueError: stuck"},
	}}
	gw := &fakeGateway{} // default result carries no edits
	val := &scriptedValidator{reports: []*Report{failing}}
	r := NewRefiner(logger.NewNop(), gw, val, RefinerConfig{MaxAttempts: 2})

	_, report, err := r.Refine(context.Background(), refineScaffold(), "s0")
	if !errors.Is(err, pkgerrors.ErrRefinement) {
		t.Fatalf("err = %v, want refinement sentinel", err)
	}
	if report == nil || report.Clean() {
		t.Fatalf("exhaustion must return the failing report, got %+v", report)
	}
}

func TestRefineValidatorErrorPropagates(t *testing.T) {
	val := &scriptedValidator{err: errors.New("python missing")}
	r := NewRefiner(logger.NewNop(), &fakeGateway{}, val, RefinerConfig{MaxAttempts: 2})

	_, _, err := r.Refine(context.Background(), refineScaffold(), "s0")
	if err == nil || !strings.Contains(err.Error(), "python missing") {
		t.Fatalf("err = %v", err)
	}
}

func TestRefineWhitelistsRepeatedSpatialWarnings(t *testing.T) {
	warn := SpatialIssue{Severity: SeverityWarning, Message: "box_a and box_b overlap by 0.60 area units"}
	failing := &Report{Category: CategorySpatial, Spatial: []SpatialIssue{warn}}
	gw := &fakeGateway{} // never produces edits, so the warning survives turns
	val := &scriptedValidator{reports: []*Report{failing}}
	r := NewRefiner(logger.NewNop(), gw, val, RefinerConfig{MaxAttempts: 4})

	_, report, err := r.Refine(context.Background(), refineScaffold(), "s0")
	if err != nil {
		t.Fatalf("warning seen twice should be whitelisted, got %v", err)
	}
	if !report.Clean() {
		t.Fatalf("whitelisted warning still blocking: %+v", report)
	}
}

func TestRefineNeverWhitelistsErrors(t *testing.T) {
	hardErr := SpatialIssue{Severity: SeverityError, Message: "text caption is occluded by panel drawn above it"}
	failing := &Report{Category: CategorySpatial, Spatial: []SpatialIssue{hardErr}}
	val := &scriptedValidator{reports: []*Report{failing}}
	r := NewRefiner(logger.NewNop(), &fakeGateway{}, val, RefinerConfig{MaxAttempts: 3})

	_, _, err := r.Refine(context.Background(), refineScaffold(), "s0")
	if !errors.Is(err, pkgerrors.ErrRefinement) {
		t.Fatalf("spatial error must never be whitelisted, got %v", err)
	}
}

func TestDecodeEditsCapsPerTurn(t *testing.T) {
	items := make([]any, 0, maxEditsPerTurn+5)
	for i := 0; i < maxEditsPerTurn+5; i++ {
		items = append(items, map[string]any{"search_text": "a", "replacement_text": "b"})
	}
	edits, err := decodeEdits(map[string]any{"edits": items})
	if err != nil {
		t.Fatalf("decodeEdits: %v", err)
	}
	if len(edits) != maxEditsPerTurn {
		t.Fatalf("got %d edits, want %d", len(edits), maxEditsPerTurn)
	}
}
