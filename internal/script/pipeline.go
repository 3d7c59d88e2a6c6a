package script

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/scholarcast-backend/internal/llm"
	"github.com/yungbote/scholarcast-backend/internal/media"
	"github.com/yungbote/scholarcast-backend/internal/pkg/ctxutil"
	pkgerrors "github.com/yungbote/scholarcast-backend/internal/pkg/errors"
	"github.com/yungbote/scholarcast-backend/internal/pkg/logger"
)

// Extractor is the external text-extraction collaborator, used when inline
// attachment is unavailable and for keyword passage selection.
type Extractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// Config carries the script-stage knobs (see OVERVIEW_* env vars).
type Config struct {
	OverviewMinSections       int
	OverviewMaxSections       int
	OverviewSectionMinWords   int
	OverviewSectionMaxWords   int
	OverviewMinDuration       float64
	OverviewMaxDuration       float64
	OverviewConstraintRetries int

	PDFSlicePageThreshold  int
	EnableSectionPDFSlices bool

	SegmentTargetSeconds float64
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.OverviewMinSections <= 0 {
		out.OverviewMinSections = 5
	}
	if out.OverviewMaxSections <= 0 {
		out.OverviewMaxSections = 8
	}
	if out.OverviewSectionMinWords <= 0 {
		out.OverviewSectionMinWords = 80
	}
	if out.OverviewSectionMaxWords <= 0 {
		out.OverviewSectionMaxWords = 170
	}
	if out.OverviewMinDuration <= 0 {
		out.OverviewMinDuration = 180
	}
	if out.OverviewMaxDuration <= 0 {
		out.OverviewMaxDuration = 420
	}
	if out.OverviewConstraintRetries < 0 {
		out.OverviewConstraintRetries = 1
	}
	if out.PDFSlicePageThreshold <= 0 {
		out.PDFSlicePageThreshold = 15
	}
	if out.SegmentTargetSeconds <= 0 {
		out.SegmentTargetSeconds = DefaultSegmentTargetSeconds
	}
	return out
}

// Pipeline turns raw document bytes into a validated Script.
type Pipeline struct {
	log       *logger.Logger
	gw        llm.Gateway
	tools     media.Tools
	extractor Extractor
	cfg       Config
}

func NewPipeline(log *logger.Logger, gw llm.Gateway, tools media.Tools, extractor Extractor, cfg Config) *Pipeline {
	return &Pipeline{
		log:       log.With("service", "ScriptPipeline"),
		gw:        gw,
		tools:     tools,
		extractor: extractor,
		cfg:       cfg.withDefaults(),
	}
}

// Generate runs ingestion, language detection, mode dispatch and narration
// segmentation. language may be empty or "auto" for detection.
func (p *Pipeline) Generate(ctx context.Context, mat Material, mode Mode, language, style string) (*Script, error) {
	ctx = ctxutil.Default(ctx)
	if p.gw == nil || p.tools == nil {
		return nil, fmt.Errorf("script pipeline: missing deps")
	}

	src, err := p.ingest(ctx, mat)
	if err != nil {
		return nil, err
	}

	lang := strings.ToLower(strings.TrimSpace(language))
	if lang == "" || lang == "auto" {
		lang = p.detectLanguage(ctx, src)
	} else if !ValidLanguage(lang) {
		lang = DefaultLanguage
	}

	var sc *Script
	switch mode {
	case ModeComprehensive:
		sc, err = p.generateComprehensive(ctx, src, lang, style)
	default:
		sc, err = p.generateOverview(ctx, src, lang, style)
	}
	if err != nil {
		return nil, err
	}
	sc.Language = lang

	// Stage D: narration segmentation + duration estimates.
	total := 0.0
	for i := range sc.Sections {
		sec := &sc.Sections[i]
		if strings.TrimSpace(sec.TTSNarration) == "" {
			sec.TTSNarration = sec.Narration
		}
		sec.Segments = SegmentNarration(sec.TTSNarration, p.cfg.SegmentTargetSeconds)
		if len(sec.Segments) > 0 {
			sec.Duration = sec.Segments[len(sec.Segments)-1].EndTime
		}
		total += sec.Duration
	}
	sc.TotalDuration = total

	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: generated script invalid: %v", pkgerrors.ErrIngestion, err)
	}
	return sc, nil
}
