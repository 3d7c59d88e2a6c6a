package section

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/yungbote/scholarcast-backend/internal/anim"
	"github.com/yungbote/scholarcast-backend/internal/jobstore"
	"github.com/yungbote/scholarcast-backend/internal/media"
	pkgerrors "github.com/yungbote/scholarcast-backend/internal/pkg/errors"
	"github.com/yungbote/scholarcast-backend/internal/pkg/logger"
	"github.com/yungbote/scholarcast-backend/internal/script"
	"github.com/yungbote/scholarcast-backend/internal/tts"
)

const (
	AudioFileName        = "section_audio.mp3"
	AudioAliasFileName   = "audio.mp3"
	FinalSectionFileName = "final_section.mp4"

	DefaultMaxCorrectionAttempts = 3
)

type Config struct {
	Quality               string
	RenderTimeout         time.Duration
	MaxCorrectionAttempts int
}

func (c Config) withDefaults() Config {
	if c.Quality == "" {
		c.Quality = "low"
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = 10 * time.Minute
	}
	if c.MaxCorrectionAttempts <= 0 {
		c.MaxCorrectionAttempts = DefaultMaxCorrectionAttempts
	}
	return c
}

// Processor turns one validated section into a merged final_section.mp4.
// It runs inside the orchestrator's bounded worker pool; one Process call
// owns its section directory for the whole lifetime of the section.
type Processor struct {
	log      *logger.Logger
	tts      tts.Client
	tools    media.Tools
	renderer media.Renderer
	agent    *anim.Agent
	cfg      Config
}

func NewProcessor(log *logger.Logger, ttsClient tts.Client, tools media.Tools, renderer media.Renderer, agent *anim.Agent, cfg Config) (*Processor, error) {
	if ttsClient == nil || tools == nil || renderer == nil || agent == nil {
		return nil, fmt.Errorf("section processor: missing deps")
	}
	return &Processor{
		log:      log.With("service", "SectionProcessor"),
		tts:      ttsClient,
		tools:    tools,
		renderer: renderer,
		agent:    agent,
		cfg:      cfg.withDefaults(),
	}, nil
}

type Request struct {
	Job     *jobstore.Job
	Index   int
	Section *script.Section
	Voice   string
	Style   string
	// Attempt is the clean-retry counter from the orchestrator; it raises
	// the implementer temperature inside the animation agent.
	Attempt  int
	Language string
}

// Process runs the whole per-section procedure: TTS, audio concat, source
// generation, render with corrections, and the no-cut merge. The section is
// mutated in place with its realized artifact paths and measured duration.
func (p *Processor) Process(ctx context.Context, req Request) error {
	if req.Job == nil || req.Section == nil {
		return fmt.Errorf("section process: missing job or section")
	}
	sec := req.Section
	dir := req.Job.SectionDir(req.Index)
	scope := fmt.Sprintf("section_%d", req.Index)

	if err := jobstore.WriteStatus(dir, jobstore.StatusGeneratingAudio, ""); err != nil {
		return err
	}

	audioPath, audioLen, err := p.generateAudio(ctx, dir, sec, req.Voice, req.Language)
	if err != nil {
		return err
	}
	// Measured audio duration replaces the character-rate estimate, and the
	// segment timeline is rescaled onto it.
	sec.Segments = script.RescaleSegments(sec.Segments, audioLen)
	sec.Duration = audioLen
	sec.AudioPath = audioPath

	if err := jobstore.WriteStatus(dir, jobstore.StatusGeneratingAnimation, ""); err != nil {
		return err
	}

	buildReq := anim.BuildRequest{
		Section:        sec,
		TargetDuration: audioLen,
		Style:          req.Style,
		Language:       req.Language,
		Attempt:        req.Attempt,
		Scope:          scope,
	}
	sc, err := p.agent.BuildSource(ctx, buildReq)
	if err != nil {
		return err
	}

	scenePath := filepath.Join(dir, fmt.Sprintf("scene_%s.py", sec.ID))
	if err := renameio.WriteFile(scenePath, []byte(sc.Source), 0o644); err != nil {
		return fmt.Errorf("persist scene source: %w", err)
	}
	sec.AnimationSourcePath = scenePath

	videoPath, err := p.renderWithCorrections(ctx, req, sc, scenePath, dir, scope)
	if err != nil {
		return err
	}
	sec.VideoPath = videoPath

	finalPath := filepath.Join(dir, FinalSectionFileName)
	if err := p.tools.MergeNoCut(ctx, videoPath, audioPath, finalPath); err != nil {
		return fmt.Errorf("merge section %d: %w", req.Index, err)
	}
	// No-cut merge: the section runs as long as the longer stream.
	if merged, probeErr := p.tools.ProbeDuration(ctx, finalPath); probeErr == nil {
		sec.Duration = merged
	}

	return jobstore.WriteStatus(dir, jobstore.StatusCompleted, "")
}

// generateAudio synthesizes every narration segment, concatenates them
// losslessly and probes the real duration.
func (p *Processor) generateAudio(ctx context.Context, dir string, sec *script.Section, voice, language string) (string, float64, error) {
	segments := sec.Segments
	if len(segments) == 0 {
		text := sec.TTSNarration
		if text == "" {
			text = sec.Narration
		}
		segments = []script.NarrationSegment{{Text: text, SegmentIndex: 0}}
	}

	segPaths := make([]string, 0, len(segments))
	for _, seg := range segments {
		segDir := filepath.Join(dir, fmt.Sprintf("seg_%d", seg.SegmentIndex))
		if err := os.MkdirAll(segDir, 0o755); err != nil {
			return "", 0, fmt.Errorf("create segment dir: %w", err)
		}
		audio, err := p.tts.Synthesize(ctx, seg.Text, voice, language)
		if err != nil {
			return "", 0, fmt.Errorf("tts segment %d: %w", seg.SegmentIndex, err)
		}
		segPath := filepath.Join(segDir, "audio.mp3")
		if err := os.WriteFile(segPath, audio, 0o644); err != nil {
			return "", 0, fmt.Errorf("write segment audio: %w", err)
		}
		segPaths = append(segPaths, segPath)
	}

	outPath := filepath.Join(dir, AudioFileName)
	if len(segPaths) == 1 {
		// Single segment: the section audio is the segment audio, kept under
		// the canonical name and the flat audio.mp3 alias.
		raw, err := os.ReadFile(segPaths[0])
		if err != nil {
			return "", 0, err
		}
		if err := os.WriteFile(outPath, raw, 0o644); err != nil {
			return "", 0, fmt.Errorf("write section audio: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, AudioAliasFileName), raw, 0o644); err != nil {
			return "", 0, fmt.Errorf("write section audio alias: %w", err)
		}
	} else if err := p.tools.ConcatAudio(ctx, segPaths, outPath); err != nil {
		return "", 0, fmt.Errorf("concat section audio: %w", err)
	}

	dur, err := p.tools.ProbeDuration(ctx, outPath)
	if err != nil {
		return "", 0, fmt.Errorf("probe section audio: %w", err)
	}
	return outPath, dur, nil
}

// renderWithCorrections renders the scene, and on failure walks the
// correction path: full rewrite against the renderer stderr, re-render, up
// to the correction budget.
func (p *Processor) renderWithCorrections(ctx context.Context, req Request, sc *anim.Scaffolded, scenePath, dir, scope string) (string, error) {
	renderReq := media.RenderRequest{
		SceneFile:  scenePath,
		SceneClass: sc.ClassName,
		OutputName: fmt.Sprintf("section_%d", req.Index),
		MediaDir:   req.Job.MediaDir(),
		Quality:    p.cfg.Quality,
		Timeout:    p.cfg.RenderTimeout,
	}

	res, err := p.renderer.RenderScene(ctx, renderReq)
	if err == nil {
		return res.VideoPath, nil
	}

	buildReq := anim.BuildRequest{
		Section:        req.Section,
		TargetDuration: req.Section.Duration,
		Style:          req.Style,
		Language:       req.Language,
		Attempt:        req.Attempt,
		Scope:          scope,
	}

	for correction := 0; correction < p.cfg.MaxCorrectionAttempts; correction++ {
		stderr := ""
		if res != nil {
			stderr = res.Stderr
		}
		p.log.Warn("render failed; correcting", "section", req.Index, "correction", correction, "error", err.Error())
		if werr := jobstore.WriteStatus(dir, jobstore.StatusFixingError, fmt.Sprintf("render correction %d", correction+1)); werr != nil {
			return "", werr
		}

		corrected, corrErr := p.agent.CorrectAfterRender(ctx, sc, buildReq, stderr)
		if corrErr != nil {
			return "", corrErr
		}
		sc = corrected
		if werr := renameio.WriteFile(scenePath, []byte(sc.Source), 0o644); werr != nil {
			return "", fmt.Errorf("persist corrected source: %w", werr)
		}
		renderReq.SceneClass = sc.ClassName

		res, err = p.renderer.RenderScene(ctx, renderReq)
		if err == nil {
			return res.VideoPath, nil
		}
	}
	return "", fmt.Errorf("%w: section %d exhausted %d render corrections: %v", pkgerrors.ErrRendering, req.Index, p.cfg.MaxCorrectionAttempts, err)
}
