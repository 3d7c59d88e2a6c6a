package script

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/scholarcast-backend/internal/llm"
	pkgerrors "github.com/yungbote/scholarcast-backend/internal/pkg/errors"
)

const (
	maxOutlineAttempts     = 3
	maxSectionCallAttempts = 3
	sectionCallBackoff     = 2 * time.Second

	// priorNarrationTail is how much of each previous narration the next
	// section call sees, to keep the narrative coherent without blowing
	// the context.
	priorNarrationTail = 200
)

// generateComprehensive is the two-phase mode: one outline call, then
// strictly sequential per-section narration calls.
func (p *Pipeline) generateComprehensive(ctx context.Context, src *sourceMaterial, language, style string) (*Script, error) {
	outline, err := p.generateOutline(ctx, src, language, style)
	if err != nil {
		return nil, err
	}

	sc := &Script{
		Title:              outline.Title,
		SubjectArea:        outline.SubjectArea,
		Overview:           outline.Overview,
		LearningObjectives: outline.LearningObjectives,
	}

	// Sections are generated sequentially, never in parallel: each prompt
	// carries a compressed tail of what was already written.
	for i, os := range outline.Sections {
		sec, err := p.generateSection(ctx, src, outline, i, sc.Sections, language, style)
		if err != nil {
			return nil, fmt.Errorf("section %d (%s): %w", i, os.ID, err)
		}
		sc.Sections = append(sc.Sections, *sec)
	}

	normalizeSectionIDs(sc)
	rewriteExternalReferences(sc)
	return sc, nil
}

func (p *Pipeline) generateOutline(ctx context.Context, src *sourceMaterial, language, style string) (*Outline, error) {
	prompt := p.outlinePrompt(src, language, style)

	strictSuffix := ""
	for attempt := 0; attempt < maxOutlineAttempts; attempt++ {
		res, err := p.gw.Generate(ctx, llm.Request{
			Prompt:   prompt + strictSuffix,
			Contents: src.parts,
			Scope:    "script/outline",
			Config: llm.GenerateConfig{
				Timeout:          180 * time.Second,
				MaxOutputTokens:  8192,
				ResponseFormat:   llm.FormatJSON,
				ResponseSchema:   OutlineSchema(),
				SchemaName:       "script_outline",
				MaxRetries:       2,
				RequireJSONValid: true,
			},
		})
		if err != nil {
			return nil, err
		}
		if res.Success {
			outline, decodeErr := decodeOutline(res.ParsedJSON)
			if decodeErr == nil {
				return outline, nil
			}
			p.log.Warn("outline decode failed", "attempt", attempt, "error", decodeErr.Error())
		} else {
			p.log.Warn("outline call failed", "attempt", attempt, "reason", res.ErrorReason)
		}
		// Malformed or truncated JSON: push harder on the format.
		strictSuffix = "\n\nReturn ONLY the JSON object. No markdown, no commentary, no trailing text. The JSON must be complete and parseable."
	}
	return nil, fmt.Errorf("%w: outline generation exhausted %d attempts", pkgerrors.ErrIngestion, maxOutlineAttempts)
}

func (p *Pipeline) generateSection(ctx context.Context, src *sourceMaterial, outline *Outline, index int, prior []Section, language, style string) (*Section, error) {
	os_ := outline.Sections[index]

	contents := src.parts
	if p.cfg.EnableSectionPDFSlices && src.pdfPath != "" && os_.PageStart > 0 && os_.PageEnd >= os_.PageStart {
		if sliced, err := p.sectionSlice(ctx, src, os_.PageStart, os_.PageEnd); err == nil {
			contents = sliced
		} else {
			p.log.Warn("section pdf slice failed; using full attachment", "section", os_.ID, "error", err.Error())
		}
	}

	prompt := p.sectionPrompt(src, outline, index, prior, language, style)

	var lastErr error
	for attempt := 0; attempt < maxSectionCallAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(sectionCallBackoff * time.Duration(attempt)):
			}
		}
		res, err := p.gw.Generate(ctx, llm.Request{
			Prompt:   prompt,
			Contents: contents,
			Scope:    fmt.Sprintf("script/section_%d", index),
			Config: llm.GenerateConfig{
				Timeout:          180 * time.Second,
				MaxOutputTokens:  4096,
				ResponseFormat:   llm.FormatJSON,
				ResponseSchema:   SectionNarrationSchema(),
				SchemaName:       "section_narration",
				MaxRetries:       2,
				RequireJSONValid: true,
			},
		})
		if err != nil {
			return nil, err
		}
		if !res.Success {
			lastErr = fmt.Errorf("%s (%s)", res.Err, res.ErrorReason)
			continue
		}
		narr, decodeErr := decodeSectionNarration(res.ParsedJSON)
		if decodeErr != nil {
			lastErr = decodeErr
			continue
		}
		return &Section{
			ID:           os_.ID,
			Title:        os_.Title,
			Narration:    narr.Narration,
			TTSNarration: narr.TTSNarration,
			VisualType:   os_.VisualType,
			PageStart:    os_.PageStart,
			PageEnd:      os_.PageEnd,
		}, nil
	}
	return nil, fmt.Errorf("%w: %v", pkgerrors.ErrIngestion, lastErr)
}

func (p *Pipeline) sectionSlice(ctx context.Context, src *sourceMaterial, pageStart, pageEnd int) ([]llm.Part, error) {
	pages := make([]int, 0, pageEnd-pageStart+1)
	for pg := pageStart; pg <= pageEnd; pg++ {
		pages = append(pages, pg)
	}
	slicePath := filepath.Join(os.TempDir(), "secslice_"+uuid.NewString()+".pdf")
	if err := p.tools.SlicePDF(ctx, src.pdfPath, pages, slicePath); err != nil {
		return nil, err
	}
	defer os.Remove(slicePath)
	raw, err := os.ReadFile(slicePath)
	if err != nil {
		return nil, err
	}
	return []llm.Part{llm.BinaryPart(raw, "application/pdf", filepath.Base(src.pdfPath))}, nil
}

func (p *Pipeline) outlinePrompt(src *sourceMaterial, language, style string) string {
	var b strings.Builder
	b.WriteString("Create a complete lecture outline for a narrated educational video covering the attached material in depth.\n")
	fmt.Fprintf(&b, "Language: %s. Style: %s.\n", language, orDefault(style, "clear and engaging"))
	b.WriteString("Each outline section needs: a short snake_case id, title, section_type, content_to_cover, key_points, visual_type, estimated_duration_seconds")
	if src.pageCount > 0 {
		b.WriteString(", and the 1-based page_start/page_end of the source pages it covers")
	}
	b.WriteString(".\n")
	if src.text != "" && len(src.parts) == 0 {
		excerpt := src.text
		if len(excerpt) > 24_000 {
			excerpt = excerpt[:24_000]
		}
		b.WriteString("\nSource material:\n")
		b.WriteString(excerpt)
	}
	return b.String()
}

func (p *Pipeline) sectionPrompt(src *sourceMaterial, outline *Outline, index int, prior []Section, language, style string) string {
	os_ := outline.Sections[index]

	var b strings.Builder
	fmt.Fprintf(&b, "Write the narration for section %d of %d of an educational video.\n", index+1, len(outline.Sections))
	fmt.Fprintf(&b, "Language: %s. Style: %s.\n\n", language, orDefault(style, "clear and engaging"))

	b.WriteString("Full outline:\n")
	for i, s := range outline.Sections {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s.Title)
	}

	fmt.Fprintf(&b, "\nThis section: %q (%s)\nCover: %s\n", os_.Title, os_.SectionType, os_.ContentToCover)
	if len(os_.KeyPoints) > 0 {
		b.WriteString("Key points:\n")
		for _, kp := range os_.KeyPoints {
			b.WriteString("- " + kp + "\n")
		}
	}

	switch {
	case index == 0:
		b.WriteString("\nPosition: this is the FIRST section; open the video and set expectations.\n")
	case index == len(outline.Sections)-1:
		b.WriteString("\nPosition: this is the LAST section; close the video and recap the objectives.\n")
	default:
		b.WriteString("\nPosition: middle section; continue seamlessly from the previous narration.\n")
	}

	// Compressed tail of what was already written: the last two narrations,
	// trimmed to their final characters.
	if n := len(prior); n > 0 {
		b.WriteString("\nPreviously written sections:\n")
		from := n - 2
		if from < 0 {
			from = 0
		}
		for _, ps := range prior[from:] {
			fmt.Fprintf(&b, "- %q ends with: ...%s\n", ps.Title, tailChars(ps.Narration, priorNarrationTail))
		}
	}

	if index > 0 && src.text != "" {
		query := os_.Title + " " + strings.Join(os_.KeyPoints, " ")
		passages := SelectPassages(src.text, query, index, len(outline.Sections), 6000)
		if passages != "" {
			b.WriteString("\nRelevant source passages:\n")
			b.WriteString(passages)
			b.WriteString("\n")
		}
	}

	b.WriteString("\nReturn JSON with narration (display text) and tts_narration (pronunciation-normalized for speech synthesis). The narration must be fully self-contained.")
	return b.String()
}

func tailChars(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
