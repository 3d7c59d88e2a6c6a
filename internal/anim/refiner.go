package anim

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/scholarcast-backend/internal/llm"
	pkgerrors "github.com/yungbote/scholarcast-backend/internal/pkg/errors"
	"github.com/yungbote/scholarcast-backend/internal/pkg/logger"
)

const (
	DefaultMaxRefinementAttempts = 5
	maxEditsPerTurn              = 10
	historyTurns                 = 2
)

type RefinerConfig struct {
	MaxAttempts     int
	ExcerptRadius   int
	ExcerptMaxLines int
	CodeSizeBudget  int
}

func (c RefinerConfig) withDefaults() RefinerConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxRefinementAttempts
	}
	if c.ExcerptRadius <= 0 {
		c.ExcerptRadius = DefaultExcerptRadius
	}
	if c.ExcerptMaxLines <= 0 {
		c.ExcerptMaxLines = DefaultExcerptMaxLines
	}
	if c.CodeSizeBudget <= 0 {
		c.CodeSizeBudget = DefaultCodeSizeBudget
	}
	return c
}

// falsePositiveCache whitelists spatial warnings that survive unchanged
// turns: a warning the fixer cannot or will not move twice in a row stops
// blocking the section. Errors are never whitelisted. Process-wide so
// repeated sections of one job benefit.
type falsePositiveCache struct {
	mu   sync.Mutex
	seen map[string]int
}

func newFalsePositiveCache() *falsePositiveCache {
	return &falsePositiveCache{seen: map[string]int{}}
}

func (c *falsePositiveCache) observe(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[msg]++
}

func (c *falsePositiveCache) whitelisted(msg string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[msg] >= 2
}

// turnRecord is the compressed history entry the next turn's prompt sees.
type turnRecord struct {
	Status    string
	Strategy  Strategy
	EditCount int
	Reason    string
}

// Refiner is the adaptive fixer loop: validate, classify, excerpt, let the
// model edit through the fixer tools, adopt the buffer atomically, repeat.
type Refiner struct {
	log       *logger.Logger
	gw        llm.Gateway
	validator Validator
	cfg       RefinerConfig
	whitelist *falsePositiveCache
}

func NewRefiner(log *logger.Logger, gw llm.Gateway, validator Validator, cfg RefinerConfig) *Refiner {
	return &Refiner{
		log:       log.With("service", "Refiner"),
		gw:        gw,
		validator: validator,
		cfg:       cfg.withDefaults(),
		whitelist: newFalsePositiveCache(),
	}
}

// Refine drives the loop until the validators are green or the attempt
// budget runs out. On exhaustion it returns the last failing report along
// with a refinement sentinel error.
func (r *Refiner) Refine(ctx context.Context, sc *Scaffolded, scope string) (*Scaffolded, *Report, error) {
	var history []turnRecord
	var lastReport *Report

	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		report, err := r.validator.Validate(ctx, sc)
		if err != nil {
			return sc, lastReport, err
		}
		r.filterWhitelisted(report)
		if report.Clean() {
			return sc, report, nil
		}
		lastReport = report
		r.observeSpatialWarnings(report)

		strategy := Classify(report.ErrorText())
		r.log.Info("refine turn", "scope", scope, "attempt", attempt, "category", string(report.Category), "strategy", string(strategy))

		next, rec := r.fixTurn(ctx, sc, report, strategy, history, scope, attempt)
		history = r.push(history, rec)
		if rec.Status == "applied" {
			sc.Source = next
		}
	}

	// One final validation so a fix applied on the last turn still counts.
	report, err := r.validator.Validate(ctx, sc)
	if err != nil {
		return sc, lastReport, err
	}
	r.filterWhitelisted(report)
	if report.Clean() {
		return sc, report, nil
	}
	return sc, report, fmt.Errorf("%w: %d attempts exhausted, last category %s", pkgerrors.ErrRefinement, r.cfg.MaxAttempts, report.Category)
}

func (r *Refiner) filterWhitelisted(report *Report) {
	if len(report.Spatial) == 0 {
		return
	}
	kept := report.Spatial[:0]
	for _, is := range report.Spatial {
		if is.Severity != SeverityError && r.whitelist.whitelisted(is.Message) {
			continue
		}
		kept = append(kept, is)
	}
	report.Spatial = kept
}

func (r *Refiner) observeSpatialWarnings(report *Report) {
	for _, is := range report.Spatial {
		if is.Severity != SeverityError {
			r.whitelist.observe(is.Message)
		}
	}
}

// fixTurn runs one tool-driven fix conversation against a session copy of
// the source. The returned buffer is adopted only when the turn applied at
// least one edit; any failure leaves the source exactly as it was.
func (r *Refiner) fixTurn(ctx context.Context, sc *Scaffolded, report *Report, strategy Strategy, history []turnRecord, scope string, attempt int) (string, turnRecord) {
	session := &editSession{className: sc.ClassName, source: sc.Source}
	res, err := r.gw.Generate(ctx, llm.Request{
		Prompt:  r.prompt(sc, report, strategy, history),
		Tools:   refineToolDecls(),
		Handler: session.Handle,
		Scope:   fmt.Sprintf("%s/refine_%d", scope, attempt),
		Config: llm.GenerateConfig{
			Timeout:         180 * time.Second,
			MaxOutputTokens: 8192,
			MaxRetries:      2,
		},
	})
	if err != nil {
		return sc.Source, turnRecord{Status: "call_failed", Strategy: strategy, Reason: err.Error()}
	}
	if !res.Success {
		return sc.Source, turnRecord{Status: "call_failed", Strategy: strategy, Reason: fmt.Sprintf("%s (%s)", res.Err, res.ErrorReason)}
	}
	if session.applied > 0 {
		return session.source, turnRecord{Status: "applied", Strategy: strategy, EditCount: session.applied, Reason: outcomeSummary(session.outcomes)}
	}

	// Some models skip the tools and answer with the edit list as JSON text.
	edits, decErr := fallbackEdits(res.Response)
	if decErr == nil && len(edits) > 0 {
		next, outcomes, ok := ApplyEdits(sc.Source, edits)
		if ok {
			return next, turnRecord{Status: "applied", Strategy: strategy, EditCount: countApplied(outcomes), Reason: outcomeSummary(outcomes)}
		}
		return sc.Source, turnRecord{Status: "no_edit_applied", Strategy: strategy, EditCount: len(edits), Reason: outcomeSummary(outcomes)}
	}
	if len(session.outcomes) > 0 {
		return sc.Source, turnRecord{Status: "no_edit_applied", Strategy: strategy, EditCount: len(session.outcomes), Reason: outcomeSummary(session.outcomes)}
	}
	return sc.Source, turnRecord{Status: "no_edits", Strategy: strategy, Reason: "model proposed no edits"}
}

// fallbackEdits parses a plain-text answer as an edit payload. Anything that
// is not a JSON object yields no edits.
func fallbackEdits(text string) ([]Edit, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	if !strings.HasPrefix(s, "{") {
		return nil, nil
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, err
	}
	return decodeEdits(raw)
}

func decodeEdits(parsed map[string]any) ([]Edit, error) {
	raw, err := json.Marshal(parsed)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Analysis string `json:"analysis"`
		Edits    []Edit `json:"edits"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode edit payload: %w", err)
	}
	if len(payload.Edits) > maxEditsPerTurn {
		payload.Edits = payload.Edits[:maxEditsPerTurn]
	}
	return payload.Edits, nil
}

func (r *Refiner) prompt(sc *Scaffolded, report *Report, strategy Strategy, history []turnRecord) string {
	var b strings.Builder
	b.WriteString("Fix the reported problems in this Manim scene file with minimal search/replace edits.\n\n")

	b.WriteString("Problems (" + string(report.Category) + "):\n")
	b.WriteString(report.ErrorText())

	b.WriteString("\nGuidance:\n")
	for _, h := range HintsFor(strategy) {
		b.WriteString("- " + h + "\n")
	}

	if len(history) > 0 {
		b.WriteString("\nPrevious turns:\n")
		for _, tr := range history {
			fmt.Fprintf(&b, "- %s (strategy %s, %d edits): %s\n", tr.Status, tr.Strategy, tr.EditCount, tr.Reason)
		}
	}

	b.WriteString("\nCode")
	if len(sc.Source) > r.cfg.CodeSizeBudget {
		b.WriteString(" (excerpt around the reported lines)")
		b.WriteString(":\n")
		b.WriteString(ExcerptAround(sc.Source, report.ErrLines(), r.cfg.ExcerptRadius, r.cfg.ExcerptMaxLines))
	} else {
		b.WriteString(":\n")
		b.WriteString(numbered(strings.Split(sc.Source, "\n"), 1))
	}

	b.WriteString("\nApply the fixes with the tools: apply_surgical_edit for one small replacement, ")
	b.WriteString("patch_manim_code for a multi-line block, write_manim_code only when the body needs a full rewrite. ")
	b.WriteString("search_text must match the file exactly once, without the line-number prefix.")
	return b.String()
}

func (r *Refiner) push(history []turnRecord, rec turnRecord) []turnRecord {
	history = append(history, rec)
	if len(history) > historyTurns {
		history = history[len(history)-historyTurns:]
	}
	return history
}

func countApplied(outcomes []EditOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Status == EditApplied {
			n++
		}
	}
	return n
}

func outcomeSummary(outcomes []EditOutcome) string {
	parts := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		parts = append(parts, fmt.Sprintf("edit %d %s", o.Index, o.Status))
	}
	return strings.Join(parts, ", ")
}
