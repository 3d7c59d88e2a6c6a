package anim

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/scholarcast-backend/internal/llm"
	pkgerrors "github.com/yungbote/scholarcast-backend/internal/pkg/errors"
	"github.com/yungbote/scholarcast-backend/internal/pkg/logger"
	"github.com/yungbote/scholarcast-backend/internal/script"
)

// stderrTailChars is how much renderer or validator output the rewrite
// prompt carries.
const stderrTailChars = 1500

// Agent drives one section through plan, implement and refine, and owns the
// full-rewrite correction path used after refiner exhaustion and after
// render failures. It never touches the filesystem; callers persist the
// returned source.
type Agent struct {
	log     *logger.Logger
	gw      llm.Gateway
	chor    *Choreographer
	impl    *Implementer
	refiner *Refiner
}

func NewAgent(log *logger.Logger, gw llm.Gateway, validator Validator, cfg RefinerConfig) *Agent {
	return &Agent{
		log:     log.With("service", "AnimationAgent"),
		gw:      gw,
		chor:    NewChoreographer(log, gw),
		impl:    NewImplementer(log, gw),
		refiner: NewRefiner(log, gw, validator, cfg),
	}
}

type BuildRequest struct {
	Section        *script.Section
	TargetDuration float64
	Style          string
	Language       string
	// Attempt is the section-level clean-retry counter; it raises the
	// implementer temperature.
	Attempt int
	Scope   string
}

// BuildSource produces a stabilized scene source for the section: plan,
// implement, refine, and on refiner exhaustion one full rewrite followed by
// one more refine pass.
func (a *Agent) BuildSource(ctx context.Context, req BuildRequest) (*Scaffolded, error) {
	if req.Section == nil {
		return nil, fmt.Errorf("build source: missing section")
	}

	plan, err := a.chor.Plan(ctx, PlanRequest{
		Section:        req.Section,
		TargetDuration: req.TargetDuration,
		Style:          req.Style,
		Language:       req.Language,
		Scope:          req.Scope,
	})
	if err != nil {
		return nil, err
	}

	sc, err := a.impl.Implement(ctx, ImplementRequest{
		Section:        req.Section,
		Plan:           plan,
		TargetDuration: req.TargetDuration,
		Temperature:    implementTemperature(req.Attempt),
		Scope:          req.Scope,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrImplementation, err)
	}

	sc, report, err := a.refiner.Refine(ctx, sc, req.Scope)
	if err == nil {
		return sc, nil
	}
	if !errors.Is(err, pkgerrors.ErrRefinement) {
		return nil, err
	}

	// Refiner exhausted: full rewrite against the last failure report, then
	// one more pass around the refiner.
	a.log.Warn("refiner exhausted; attempting full rewrite", "scope", req.Scope, "section", req.Section.ID)
	errText := ""
	if report != nil {
		errText = report.ErrorText()
	}
	rewritten, rwErr := a.rewrite(ctx, sc, req, errText)
	if rwErr != nil {
		return nil, fmt.Errorf("%w: rewrite after refinement failed: %v", pkgerrors.ErrRefinement, rwErr)
	}
	rewritten, _, err = a.refiner.Refine(ctx, rewritten, req.Scope+"/rewrite")
	if err != nil {
		return nil, err
	}
	return rewritten, nil
}

// CorrectAfterRender is the render-failure correction path: a full rewrite
// fed with the renderer stderr tail, then one refine pass. Callers re-render
// the result, up to their correction budget.
func (a *Agent) CorrectAfterRender(ctx context.Context, sc *Scaffolded, req BuildRequest, stderr string) (*Scaffolded, error) {
	rewritten, err := a.rewrite(ctx, sc, req, stderr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrRendering, err)
	}
	rewritten, _, err = a.refiner.Refine(ctx, rewritten, req.Scope+"/correct")
	if err != nil {
		return nil, err
	}
	return rewritten, nil
}

func (a *Agent) rewrite(ctx context.Context, sc *Scaffolded, req BuildRequest, errText string) (*Scaffolded, error) {
	var b strings.Builder
	b.WriteString("This Manim scene fails; rewrite the complete construct method body from scratch.\n\n")
	fmt.Fprintf(&b, "Section: %q, total duration %.1f seconds.\n", req.Section.Title, req.TargetDuration)
	b.WriteString("Narration:\n" + req.Section.Narration + "\n\n")
	b.WriteString("Failing code:\n" + sc.Source + "\n")
	if tail := tailString(errText, stderrTailChars); tail != "" {
		b.WriteString("\nError output:\n" + tail + "\n")
	}
	b.WriteString("\nEmit ONLY the method body. No imports, no class line, no def line. Keep it simple and robust; plain Text, MathTex and basic shapes only.")

	res, err := a.gw.Generate(ctx, llm.Request{
		Prompt: b.String(),
		Scope:  req.Scope + "/full_rewrite",
		Config: llm.GenerateConfig{
			Temperature:     implementTemperature(req.Attempt),
			Timeout:         240 * time.Second,
			MaxOutputTokens: 16384,
			MaxRetries:      2,
		},
	})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("rewrite call failed: %s (%s)", res.Err, res.ErrorReason)
	}
	snippet := CleanSnippet(res.Response)
	if strings.TrimSpace(snippet) == "" {
		return nil, fmt.Errorf("rewrite produced an empty snippet")
	}
	return Scaffold(snippet, sc.ClassName), nil
}

// implementTemperature rises with section-level retries so repeated
// attempts explore different renderings.
func implementTemperature(attempt int) float64 {
	t := 0.3 + 0.2*float64(attempt)
	if t > 0.9 {
		t = 0.9
	}
	return t
}

func tailString(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
