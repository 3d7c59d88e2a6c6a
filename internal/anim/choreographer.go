package anim

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/scholarcast-backend/internal/llm"
	"github.com/yungbote/scholarcast-backend/internal/pkg/logger"
	"github.com/yungbote/scholarcast-backend/internal/script"
)

// Choreographer turns a section into a normalized Choreography Plan v2.
// The full-schema call degrades to a schema-free retry and then to a compact
// fallback prompt before giving up.
type Choreographer struct {
	log *logger.Logger
	gw  llm.Gateway
}

func NewChoreographer(log *logger.Logger, gw llm.Gateway) *Choreographer {
	return &Choreographer{log: log.With("service", "Choreographer"), gw: gw}
}

// PlanRequest carries the section context the plan prompt needs.
type PlanRequest struct {
	Section        *script.Section
	TargetDuration float64
	Style          string
	Language       string
	Scope          string
}

func (c *Choreographer) Plan(ctx context.Context, req PlanRequest) (*Plan, error) {
	if req.Section == nil {
		return nil, PlanError(fmt.Errorf("nil section"))
	}

	prompt := c.planPrompt(req)

	// Full schema first. The gateway already skips the schema for models it
	// has learned are schema-incompatible and reissues once without it on a
	// schema-rejection signature.
	res, err := c.gw.Generate(ctx, llm.Request{
		Prompt: prompt,
		Scope:  req.Scope + "/plan",
		Config: llm.GenerateConfig{
			Timeout:          180 * time.Second,
			MaxOutputTokens:  8192,
			ResponseFormat:   llm.FormatJSON,
			ResponseSchema:   PlanSchema(),
			SchemaName:       "choreography_plan",
			MaxRetries:       2,
			RequireJSONValid: true,
		},
	})
	if err != nil {
		return nil, err
	}
	if res.Success {
		if plan, normErr := c.normalizePayload(res.ParsedJSON); normErr == nil {
			return plan, nil
		} else {
			c.log.Warn("plan failed normalization; falling back to compact prompt", "section", req.Section.ID, "error", normErr.Error())
		}
	} else {
		c.log.Warn("plan call failed; falling back to compact prompt", "section", req.Section.ID, "reason", res.ErrorReason)
	}

	// Compact fallback: shorter shape, no schema enforcement.
	res, err = c.gw.Generate(ctx, llm.Request{
		Prompt: c.compactPrompt(req),
		Scope:  req.Scope + "/plan_compact",
		Config: llm.GenerateConfig{
			Timeout:          120 * time.Second,
			MaxOutputTokens:  4096,
			ResponseFormat:   llm.FormatJSON,
			MaxRetries:       2,
			RequireJSONValid: true,
		},
	})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, PlanError(fmt.Errorf("compact plan call failed: %s", res.Err))
	}
	plan, normErr := c.normalizePayload(res.ParsedJSON)
	if normErr != nil {
		return nil, PlanError(normErr)
	}
	return plan, nil
}

func (c *Choreographer) normalizePayload(payload map[string]any) (*Plan, error) {
	decoded, err := DecodePlan(payload)
	if err != nil {
		return nil, err
	}
	return Normalize(decoded)
}

func (c *Choreographer) planPrompt(req PlanRequest) string {
	sec := req.Section

	var b strings.Builder
	b.WriteString("Design the visual choreography for one section of a narrated educational video.\n")
	fmt.Fprintf(&b, "Section: %q\nLanguage: %s\nTarget duration: %.1f seconds\n", sec.Title, req.Language, req.TargetDuration)
	if req.Style != "" {
		fmt.Fprintf(&b, "Style: %s\n", req.Style)
	}
	if sec.VisualType != "" {
		fmt.Fprintf(&b, "Visual type hint: %s\n", sec.VisualType)
	}

	b.WriteString("\nNarration segments (the visuals must track this timing):\n")
	for _, seg := range sec.Segments {
		fmt.Fprintf(&b, "[%.1f-%.1fs] %s\n", seg.StartTime, seg.EndTime, seg.Text)
	}
	if len(sec.Segments) == 0 {
		b.WriteString(sec.Narration + "\n")
	}

	for _, sd := range sec.SupportingData {
		if sd.RecreateInVideo {
			fmt.Fprintf(&b, "\nRecreate this referenced content on screen (%s): %s\n", sd.Kind, sd.Content)
		}
	}

	b.WriteString("\nRules:\n")
	b.WriteString("- Every object needs a unique snake_case id; timeline actions reference objects by id.\n")
	fmt.Fprintf(&b, "- Keep all objects inside safe bounds x in [%.1f,%.1f], y in [%.1f,%.1f].\n",
		DefaultSafeBounds.XMin, DefaultSafeBounds.XMax, DefaultSafeBounds.YMin, DefaultSafeBounds.YMax)
	b.WriteString("- Timeline segments must not overlap; one segment per narration segment.\n")
	b.WriteString("- Never show more than 8 objects at once; remove what is no longer discussed.\n")
	return b.String()
}

func (c *Choreographer) compactPrompt(req PlanRequest) string {
	sec := req.Section
	var b strings.Builder
	fmt.Fprintf(&b, "List the visual elements and animations for a %.0f second animated explanation of %q.\n", req.TargetDuration, sec.Title)
	b.WriteString("Narration:\n" + sec.Narration + "\n\n")
	b.WriteString(`Return JSON: {"elements":[{"id","kind","text","appear_at","remove_at"}],"animations":[{"at","op","target","run_time"}]}. Times in seconds. Ids snake_case and unique.`)
	return b.String()
}
