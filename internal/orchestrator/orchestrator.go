package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/google/renameio/v2"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/scholarcast-backend/internal/jobstore"
	"github.com/yungbote/scholarcast-backend/internal/llm"
	"github.com/yungbote/scholarcast-backend/internal/media"
	"github.com/yungbote/scholarcast-backend/internal/pkg/ctxutil"
	"github.com/yungbote/scholarcast-backend/internal/pkg/logger"
	"github.com/yungbote/scholarcast-backend/internal/progress"
	"github.com/yungbote/scholarcast-backend/internal/script"
	"github.com/yungbote/scholarcast-backend/internal/section"
)

const DefaultMaxConcurrent = 3

// Orchestrator owns the per-job fan-out: script, bounded section workers,
// aggregation, concatenation and cleanup.
type Orchestrator struct {
	log        *logger.Logger
	store      *jobstore.Store
	pipeline   *script.Pipeline
	processor  *section.Processor
	tools      media.Tools
	costs      *llm.CostStore
	maxRetries int
}

func New(log *logger.Logger, store *jobstore.Store, pipeline *script.Pipeline, processor *section.Processor, tools media.Tools, costs *llm.CostStore, maxSectionRetries int) (*Orchestrator, error) {
	if store == nil || pipeline == nil || processor == nil || tools == nil {
		return nil, fmt.Errorf("orchestrator: missing deps")
	}
	if maxSectionRetries < 0 {
		maxSectionRetries = 0
	}
	return &Orchestrator{
		log:        log.With("service", "Orchestrator"),
		store:      store,
		pipeline:   pipeline,
		processor:  processor,
		tools:      tools,
		costs:      costs,
		maxRetries: maxSectionRetries,
	}, nil
}

type Request struct {
	JobID    string
	Material script.Material
	Voice    string
	Style    string
	Language string
	Mode     script.Mode
	// Resume short-circuits sections whose merged artifact already exists.
	Resume        bool
	Progress      progress.Callback
	MaxConcurrent int
}

// Chapter is one entry of the cumulative timeline over included sections.
type Chapter struct {
	Title     string  `json:"title"`
	StartTime float64 `json:"start_time"`
	Duration  float64 `json:"duration"`
}

type SectionResult struct {
	Index  int    `json:"index"`
	Cached bool   `json:"cached,omitempty"`
	Error  string `json:"error,omitempty"`
}

type Result struct {
	JobID         string          `json:"job_id"`
	VideoPath     string          `json:"video_path,omitempty"`
	Script        *script.Script  `json:"script,omitempty"`
	Chapters      []Chapter       `json:"chapters,omitempty"`
	TotalDuration float64         `json:"total_duration,omitempty"`
	CostSummary   llm.CostSummary `json:"cost_summary"`
	Status        string          `json:"status"`
	Error         string          `json:"error,omitempty"`
}

// GenerateVideo runs one job end to end. Section failures never cancel
// sibling sections; they surface as dropped chapters.
func (o *Orchestrator) GenerateVideo(ctx context.Context, req Request) (*Result, error) {
	ctx = ctxutil.Default(ctx)
	started := time.Now()

	job, err := o.store.Open(req.JobID)
	if err != nil {
		return nil, err
	}
	state, err := o.store.Inspect(req.JobID)
	if err != nil {
		return nil, err
	}

	tracker := progress.NewTracker(o.log, state.TotalSections, req.Progress)
	tracker.Seed(state)

	if state.HasFinalVideo {
		o.log.Info("final video already on disk; returning cached result", "job", req.JobID)
		sc, _ := script.Load(job.ScriptPath())
		return &Result{
			JobID:       req.JobID,
			VideoPath:   job.FinalVideoPath(),
			Script:      sc,
			CostSummary: o.costSummary(),
			Status:      "completed",
		}, nil
	}

	sc, err := o.loadOrGenerateScript(ctx, job, state, req, tracker)
	if err != nil {
		return o.fail(job, req.JobID, err)
	}
	tracker.SetTotal(len(sc.Sections))

	results := o.runSections(ctx, job, sc, req, tracker)

	included, chapters, total := o.aggregate(ctx, job, sc, results)
	if len(included) == 0 {
		return o.fail(job, req.JobID, fmt.Errorf("no section produced a playable video"))
	}

	if err := sc.Save(job.ScriptPath()); err != nil {
		return o.fail(job, req.JobID, fmt.Errorf("persist realized script: %w", err))
	}

	tracker.ReportStageProgress("concatenating", 92, fmt.Sprintf("joining %d sections", len(included)))
	if err := o.tools.ConcatVideos(ctx, included, job.FinalVideoPath()); err != nil {
		return o.fail(job, req.JobID, fmt.Errorf("concatenate final video: %w", err))
	}

	res := &Result{
		JobID:         req.JobID,
		VideoPath:     job.FinalVideoPath(),
		Script:        sc,
		Chapters:      chapters,
		TotalDuration: total,
		CostSummary:   o.costSummary(),
		Status:        "completed",
	}
	o.writeVideoInfo(job, res, results, time.Since(started))

	if err := o.store.Cleanup(job.Dir, jobstore.CleanupKeepFinalOnly); err != nil {
		o.log.Warn("post-completion cleanup failed", "job", req.JobID, "error", err.Error())
	}

	tracker.ReportStageProgress("completed", 100, "final video ready")
	return res, nil
}

func (o *Orchestrator) loadOrGenerateScript(ctx context.Context, job *jobstore.Job, state jobstore.State, req Request, tracker *progress.Tracker) (*script.Script, error) {
	if state.HasScript && req.Resume {
		sc, err := script.Load(job.ScriptPath())
		if err == nil {
			o.log.Info("resuming with existing script", "job", req.JobID, "sections", len(sc.Sections))
			return sc, nil
		}
		o.log.Warn("script on disk unreadable; regenerating", "job", req.JobID, "error", err.Error())
	}

	tracker.ReportStageProgress("analyzing", 5, "generating script")
	sc, err := o.pipeline.Generate(ctx, req.Material, req.Mode, req.Language, req.Style)
	if err != nil {
		return nil, err
	}
	if err := sc.Save(job.ScriptPath()); err != nil {
		return nil, fmt.Errorf("persist script: %w", err)
	}
	tracker.ReportStageProgress("script_ready", 15, fmt.Sprintf("%d sections", len(sc.Sections)))
	return sc, nil
}

// runSections fans out over section indices with bounded concurrency.
// Panics and errors are captured into SectionResult; the group error is
// always nil.
func (o *Orchestrator) runSections(ctx context.Context, job *jobstore.Job, sc *script.Script, req Request, tracker *progress.Tracker) []SectionResult {
	maxConcurrent := req.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}

	results := make([]SectionResult, len(sc.Sections))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)

	for i := range sc.Sections {
		i := i
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					o.log.Error("section worker panicked", "section", i, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
					results[i] = SectionResult{Index: i, Error: fmt.Sprintf("panic: %v", r)}
				}
				err = nil
			}()
			results[i] = o.runSection(gctx, job, sc, req, tracker, i)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) runSection(ctx context.Context, job *jobstore.Job, sc *script.Script, req Request, tracker *progress.Tracker, i int) SectionResult {
	sec := &sc.Sections[i]

	if req.Resume && tracker.IsSectionComplete(i) {
		if path, ok := o.completedArtifact(job, i); ok {
			o.log.Info("section already complete; skipping", "section", i)
			o.attachCachedArtifacts(ctx, job, sec, i, path)
			tracker.ReportSectionProgress(tracker.CompletedCount(), len(sc.Sections), true)
			return SectionResult{Index: i, Cached: true}
		}
	}

	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		err := o.processor.Process(ctx, section.Request{
			Job:      job,
			Index:    i,
			Section:  sec,
			Voice:    req.Voice,
			Style:    req.Style,
			Language: sc.Language,
			Attempt:  attempt,
		})
		if err == nil {
			tracker.MarkSectionComplete(i)
			tracker.ReportSectionProgress(tracker.CompletedCount(), len(sc.Sections), false)
			return SectionResult{Index: i}
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		o.log.Warn("section attempt failed", "section", i, "attempt", attempt, "error", err.Error())
	}
	tracker.MarkSectionFailed(i)
	return SectionResult{Index: i, Error: lastErr.Error()}
}

// completedArtifact reports the on-disk merged artifact for a section, in
// either layout.
func (o *Orchestrator) completedArtifact(job *jobstore.Job, i int) (string, bool) {
	merged := job.MergedSectionPath(i)
	if _, err := os.Stat(merged); err == nil {
		return merged, true
	}
	final := filepath.Join(job.SectionDir(i), section.FinalSectionFileName)
	if _, err := os.Stat(final); err == nil {
		return final, true
	}
	return "", false
}

func (o *Orchestrator) attachCachedArtifacts(ctx context.Context, job *jobstore.Job, sec *script.Section, i int, videoPath string) {
	sec.VideoPath = videoPath
	audio := filepath.Join(job.SectionDir(i), section.AudioFileName)
	if _, err := os.Stat(audio); err == nil {
		sec.AudioPath = audio
	}
	if sec.Duration <= 0 {
		if dur, err := o.tools.ProbeDuration(ctx, videoPath); err == nil {
			sec.Duration = dur
		}
	}
}

// aggregate applies the inclusion rule: a section joins the final video when
// it has a playable video artifact. Video-only sections are kept with silent
// audio; audio-only sections have nothing to show and are dropped along with
// their chapter slots.
func (o *Orchestrator) aggregate(ctx context.Context, job *jobstore.Job, sc *script.Script, results []SectionResult) (included []string, chapters []Chapter, total float64) {
	for i := range sc.Sections {
		sec := &sc.Sections[i]
		if results[i].Error != "" {
			o.log.Warn("section dropped from final video", "section", i, "error", results[i].Error)
			continue
		}
		videoOK := sec.VideoPath != "" && exists(sec.VideoPath)
		audioOK := sec.AudioPath != "" && exists(sec.AudioPath)
		if !videoOK {
			o.log.Warn("section has no video; dropped", "section", i, "audio", audioOK)
			continue
		}
		mergedPath := filepath.Join(job.SectionDir(i), section.FinalSectionFileName)
		if !exists(mergedPath) {
			if !audioOK {
				// Silent section: the video artifact stands alone.
				o.log.Info("section has no audio; keeping silent video", "section", i)
				mergedPath = sec.VideoPath
			} else {
				// Artifacts exist but the merge never ran (cached legacy layout):
				// produce the merged section now under the no-cut policy.
				mergedPath = job.MergedSectionPath(i)
				if err := o.tools.MergeNoCut(ctx, sec.VideoPath, sec.AudioPath, mergedPath); err != nil {
					o.log.Warn("late merge failed; section dropped", "section", i, "error", err.Error())
					continue
				}
			}
		}
		dur := sec.Duration
		if dur <= 0 {
			if probed, err := o.tools.ProbeDuration(ctx, mergedPath); err == nil {
				dur = probed
				sec.Duration = probed
			}
		}
		chapters = append(chapters, Chapter{Title: sec.Title, StartTime: total, Duration: dur})
		total += dur
		included = append(included, mergedPath)
	}
	return included, chapters, total
}

func (o *Orchestrator) costSummary() llm.CostSummary {
	if o.costs == nil {
		return llm.CostSummary{}
	}
	return o.costs.Summary("")
}

func (o *Orchestrator) fail(job *jobstore.Job, jobID string, cause error) (*Result, error) {
	o.log.Error("job failed", "job", jobID, "error", cause.Error())
	info := map[string]any{
		"job_id": jobID,
		"error":  cause.Error(),
		"at":     time.Now().UTC().Format(time.RFC3339),
	}
	if raw, err := json.MarshalIndent(info, "", "  "); err == nil {
		_ = renameio.WriteFile(job.ErrorInfoPath(), raw, 0o644)
	}
	return &Result{
		JobID:       jobID,
		CostSummary: o.costSummary(),
		Status:      "failed",
		Error:       cause.Error(),
	}, nil
}

func (o *Orchestrator) writeVideoInfo(job *jobstore.Job, res *Result, results []SectionResult, elapsed time.Duration) {
	info := map[string]any{
		"job_id":          res.JobID,
		"video_path":      res.VideoPath,
		"chapters":        res.Chapters,
		"total_duration":  res.TotalDuration,
		"section_results": results,
		"cost_summary":    res.CostSummary,
		"elapsed_seconds": elapsed.Seconds(),
		"completed_at":    time.Now().UTC().Format(time.RFC3339),
	}
	raw, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return
	}
	if err := renameio.WriteFile(job.VideoInfoPath(), raw, 0o644); err != nil {
		o.log.Warn("write video info failed", "job", res.JobID, "error", err.Error())
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
