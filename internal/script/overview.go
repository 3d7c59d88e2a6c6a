package script

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/yungbote/scholarcast-backend/internal/llm"
	pkgerrors "github.com/yungbote/scholarcast-backend/internal/pkg/errors"
)

// generateOverview is the single-call mode: one schema call producing a
// compact 3-7 minute script, post-validated against the section/word/
// duration constraints and retried once with a concrete violation report.
func (p *Pipeline) generateOverview(ctx context.Context, src *sourceMaterial, language, style string) (*Script, error) {
	basePrompt := p.overviewPrompt(src, language, style, nil)

	var sc *Script
	var violations []string
	for attempt := 0; attempt <= p.cfg.OverviewConstraintRetries; attempt++ {
		prompt := basePrompt
		if len(violations) > 0 {
			prompt = p.overviewPrompt(src, language, style, violations)
		}

		res, err := p.gw.Generate(ctx, llm.Request{
			Prompt:   prompt,
			Contents: src.parts,
			Scope:    "script/overview",
			Config: llm.GenerateConfig{
				Timeout:          180 * time.Second,
				MaxOutputTokens:  8192,
				ResponseFormat:   llm.FormatJSON,
				ResponseSchema:   ScriptSchema(),
				SchemaName:       "overview_script",
				MaxRetries:       3,
				RequireJSONValid: true,
			},
		})
		if err != nil {
			return nil, err
		}
		if !res.Success {
			return nil, fmt.Errorf("%w: overview generation: %s", pkgerrors.ErrIngestion, res.Err)
		}

		candidate, decodeErr := decodeScript(res.ParsedJSON)
		if decodeErr != nil {
			return nil, fmt.Errorf("%w: %v", pkgerrors.ErrIngestion, decodeErr)
		}
		normalizeSectionIDs(candidate)
		rewriteExternalReferences(candidate)

		violations = p.overviewViolations(candidate)
		sc = candidate
		if len(violations) == 0 {
			return sc, nil
		}
		p.log.Warn("overview constraints violated; retrying", "attempt", attempt, "violations", strings.Join(violations, "; "))
	}

	// Best effort after exhausting constraint retries.
	if sc == nil {
		return nil, fmt.Errorf("%w: overview generation produced nothing", pkgerrors.ErrIngestion)
	}
	return sc, nil
}

// overviewViolations returns a concrete report of every violated
// constraint, suitable for feeding back into the corrective retry.
func (p *Pipeline) overviewViolations(sc *Script) []string {
	var out []string
	n := len(sc.Sections)
	if n < p.cfg.OverviewMinSections || n > p.cfg.OverviewMaxSections {
		out = append(out, fmt.Sprintf("section count %d outside [%d,%d]", n, p.cfg.OverviewMinSections, p.cfg.OverviewMaxSections))
	}
	total := 0.0
	for i := range sc.Sections {
		sec := &sc.Sections[i]
		words := WordCount(sec.Narration)
		if words < p.cfg.OverviewSectionMinWords || words > p.cfg.OverviewSectionMaxWords {
			out = append(out, fmt.Sprintf("section %q narration has %d words, want [%d,%d]", sec.ID, words, p.cfg.OverviewSectionMinWords, p.cfg.OverviewSectionMaxWords))
		}
		narr := sec.TTSNarration
		if strings.TrimSpace(narr) == "" {
			narr = sec.Narration
		}
		total += EstimateDuration(narr)
	}
	if total < p.cfg.OverviewMinDuration || total > p.cfg.OverviewMaxDuration {
		out = append(out, fmt.Sprintf("total estimated duration %.0fs outside [%.0f,%.0f]", total, p.cfg.OverviewMinDuration, p.cfg.OverviewMaxDuration))
	}
	return out
}

// overviewPrompt derives preferred targets from material size so the
// corrective retry can aim concretely.
func (p *Pipeline) overviewPrompt(src *sourceMaterial, language, style string, violations []string) string {
	preferredSections := p.cfg.OverviewMinSections
	if src.pageCount > 8 || src.contentLength() > 40_000 {
		preferredSections = (p.cfg.OverviewMinSections + p.cfg.OverviewMaxSections) / 2
	}

	var b strings.Builder
	b.WriteString("Produce a narrated educational video script from the attached material.\n")
	fmt.Fprintf(&b, "Language: %s. Style: %s.\n", language, orDefault(style, "clear and engaging"))
	fmt.Fprintf(&b, "Emit %d-%d sections (aim for %d). Each section narration must be %d-%d words.\n",
		p.cfg.OverviewMinSections, p.cfg.OverviewMaxSections, preferredSections,
		p.cfg.OverviewSectionMinWords, p.cfg.OverviewSectionMaxWords)
	fmt.Fprintf(&b, "Total spoken duration must land between %.0f and %.0f seconds at %.1f characters per second.\n",
		p.cfg.OverviewMinDuration, p.cfg.OverviewMaxDuration, CharsPerSecond)
	b.WriteString("Section ids must be short snake_case identifiers. ")
	b.WriteString("tts_narration is the narration with pronunciations normalized for speech synthesis. ")
	b.WriteString("Narration must be fully self-contained: never say 'as shown in the figure' or reference tables, equations or page numbers the viewer cannot see.\n")
	if src.text != "" && len(src.parts) == 0 {
		excerpt := src.text
		if len(excerpt) > 24_000 {
			excerpt = excerpt[:24_000]
		}
		b.WriteString("\nSource material:\n")
		b.WriteString(excerpt)
	}
	if len(violations) > 0 {
		b.WriteString("\nYour previous attempt violated these constraints; fix every one of them:\n")
		for _, v := range violations {
			b.WriteString("- " + v + "\n")
		}
	}
	return b.String()
}

var externalRefPattern = regexp.MustCompile(`(?i)\b(as\s+(shown|seen|illustrated|depicted)\s+in|refer(?:ring)?\s+to|see)\s+(the\s+)?(figure|table|equation|diagram|chart|image|graph)\b[^.!?]*`)

// rewriteExternalReferences scans narration for references to figures or
// tables the viewer cannot see. Unresolved references get a
// referenced_content supporting-data item so the animation agent recreates
// the content in the video.
func rewriteExternalReferences(sc *Script) {
	for i := range sc.Sections {
		sec := &sc.Sections[i]
		matches := externalRefPattern.FindAllString(sec.Narration, -1)
		for _, m := range matches {
			sec.SupportingData = append(sec.SupportingData, SupportingData{
				Kind:            "referenced_content",
				Content:         strings.TrimSpace(m),
				RecreateInVideo: true,
			})
		}
	}
}

var idSanitizer = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// normalizeSectionIDs coerces model-emitted ids into the safe pattern and
// deduplicates them positionally.
func normalizeSectionIDs(sc *Script) {
	seen := map[string]bool{}
	for i := range sc.Sections {
		sec := &sc.Sections[i]
		id := idSanitizer.ReplaceAllString(strings.TrimSpace(sec.ID), "_")
		id = strings.Trim(id, "_")
		if id == "" {
			id = fmt.Sprintf("section_%d", i)
		}
		for seen[id] {
			id = fmt.Sprintf("%s_%d", id, i)
		}
		seen[id] = true
		sec.ID = id
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
