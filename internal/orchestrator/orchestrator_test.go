package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/scholarcast-backend/internal/anim"
	"github.com/yungbote/scholarcast-backend/internal/jobstore"
	"github.com/yungbote/scholarcast-backend/internal/llm"
	"github.com/yungbote/scholarcast-backend/internal/media"
	"github.com/yungbote/scholarcast-backend/internal/pkg/logger"
	"github.com/yungbote/scholarcast-backend/internal/script"
	"github.com/yungbote/scholarcast-backend/internal/section"
)

// sceneGateway serves plan and implement scopes with canned payloads; every
// other scope gets a plain code snippet.
type sceneGateway struct{}

func (sceneGateway) Generate(_ context.Context, req llm.Request) (*llm.Result, error) {
	if strings.HasSuffix(req.Scope, "/plan") {
		return &llm.Result{Success: true, Response: "{}", ParsedJSON: map[string]any{
			"scene": map[string]any{"mode": "2D"},
			"objects": []any{map[string]any{
				"id": "label", "kind": "text",
				"content":   map[string]any{"text": "Topic"},
				"placement": map[string]any{"type": "absolute", "absolute": map[string]any{"x": 0.0, "y": 0.0}},
				"lifecycle": map[string]any{"appear_at": 0.0, "remove_at": 5.0},
			}},
			"timeline": []any{map[string]any{
				"segment_index": 0, "start_at": 0.0, "end_at": 5.0,
				"actions": []any{map[string]any{"at": 0.0, "op": "write", "target": "label", "run_time": 1.0}},
			}},
		}}, nil
	}
	return &llm.Result{Success: true, Response: "label = Text(\"Topic\")\nself.play(Write(label))\nself.wait(4)"}, nil
}

func (sceneGateway) Model() string { return "fake-model" }

type cleanValidator struct{}

func (cleanValidator) Validate(_ context.Context, _ *anim.Scaffolded) (*anim.Report, error) {
	return &anim.Report{}, nil
}

// concurrencyTTS counts overlapping Synthesize calls.
type concurrencyTTS struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *concurrencyTTS) Synthesize(context.Context, string, string, string) ([]byte, error) {
	cur := f.inFlight.Add(1)
	for {
		peak := f.peak.Load()
		if cur <= peak || f.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	f.inFlight.Add(-1)
	return []byte("mp3"), nil
}

type fakeTools struct{}

func (fakeTools) AssertReady(context.Context) error { return nil }

func (fakeTools) ProbeDuration(_ context.Context, path string) (float64, error) {
	if strings.HasSuffix(path, section.FinalSectionFileName) {
		return 32, nil
	}
	return 30, nil
}

func (fakeTools) ConcatAudio(_ context.Context, inputs []string, outPath string) error {
	return os.WriteFile(outPath, []byte("audio"), 0o644)
}

func (fakeTools) ConcatVideos(_ context.Context, inputs []string, outPath string) error {
	return os.WriteFile(outPath, []byte(fmt.Sprintf("concat of %d", len(inputs))), 0o644)
}

func (fakeTools) MergeNoCut(_ context.Context, _, _, outPath string) error {
	return os.WriteFile(outPath, []byte("merged"), 0o644)
}

func (fakeTools) MergeTrim(_ context.Context, _, _, outPath string) error {
	return os.WriteFile(outPath, []byte("merged"), 0o644)
}

func (fakeTools) CountPDFPages(context.Context, string) (int, error) { return 0, nil }

func (fakeTools) SlicePDF(context.Context, string, []int, string) error { return nil }

type fakeRenderer struct {
	calls   atomic.Int32
	failAll bool
}

func (f *fakeRenderer) RenderScene(_ context.Context, req media.RenderRequest) (*media.RenderResult, error) {
	f.calls.Add(1)
	if f.failAll {
		return &media.RenderResult{Stderr: "Traceback: ValueError"}, fmt.Errorf("renderer exited: exit status 1")
	}
	videoPath := filepath.Join(filepath.Dir(req.SceneFile), req.OutputName+".mp4")
	if err := os.WriteFile(videoPath, []byte("video"), 0o644); err != nil {
		return nil, err
	}
	return &media.RenderResult{VideoPath: videoPath}, nil
}

type env struct {
	orch     *Orchestrator
	store    *jobstore.Store
	job      *jobstore.Job
	tts      *concurrencyTTS
	renderer *fakeRenderer
}

func newEnv(t *testing.T, jobID string, failRenders bool) *env {
	t.Helper()
	log := logger.NewNop()
	store, err := jobstore.New(log, t.TempDir())
	if err != nil {
		t.Fatalf("jobstore.New: %v", err)
	}
	job, err := store.Open(jobID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	gw := sceneGateway{}
	ttsClient := &concurrencyTTS{}
	tools := fakeTools{}
	renderer := &fakeRenderer{failAll: failRenders}
	agent := anim.NewAgent(log, gw, cleanValidator{}, anim.RefinerConfig{MaxAttempts: 2})

	proc, err := section.NewProcessor(log, ttsClient, tools, renderer, agent, section.Config{MaxCorrectionAttempts: 1})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	pipeline := script.NewPipeline(log, gw, tools, nil, script.Config{})

	orch, err := New(log, store, pipeline, proc, tools, llm.NewCostStore(), 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &env{orch: orch, store: store, job: job, tts: ttsClient, renderer: renderer}
}

func seedScript(t *testing.T, job *jobstore.Job, sections int) *script.Script {
	t.Helper()
	sc := &script.Script{Title: "Cell Biology", Language: "en"}
	for i := 0; i < sections; i++ {
		sc.Sections = append(sc.Sections, script.Section{
			ID:        fmt.Sprintf("part_%d", i),
			Title:     fmt.Sprintf("Part %d", i),
			Narration: "Cells divide through mitosis.",
			Segments: []script.NarrationSegment{
				{Text: "Cells divide through mitosis.", StartTime: 0, EndTime: 4, SegmentIndex: 0},
			},
		})
	}
	if err := sc.Save(job.ScriptPath()); err != nil {
		t.Fatalf("seed script: %v", err)
	}
	return sc
}

func TestGenerateVideoFromSeededScript(t *testing.T) {
	e := newEnv(t, "job-ok", false)
	seedScript(t, e.job, 2)

	res, err := e.orch.GenerateVideo(context.Background(), Request{
		JobID: "job-ok", Resume: true, MaxConcurrent: 2,
	})
	if err != nil {
		t.Fatalf("GenerateVideo: %v", err)
	}
	if res.Status != "completed" {
		t.Fatalf("status = %q (%s)", res.Status, res.Error)
	}
	if _, err := os.Stat(res.VideoPath); err != nil {
		t.Fatalf("final video missing: %v", err)
	}
	if len(res.Chapters) != 2 {
		t.Fatalf("chapters = %+v", res.Chapters)
	}
	if res.Chapters[1].StartTime != res.Chapters[0].Duration {
		t.Fatalf("chapter timeline not cumulative: %+v", res.Chapters)
	}
	if res.TotalDuration != 64 {
		t.Fatalf("total duration = %v, want 64", res.TotalDuration)
	}
	if _, err := os.Stat(e.job.VideoInfoPath()); err != nil {
		t.Fatal("video_info.json missing")
	}
	// keep_final_only cleanup ran after completion.
	if _, err := os.Stat(e.job.ScriptPath()); !os.IsNotExist(err) {
		t.Fatal("intermediates survived cleanup")
	}
}

func TestGenerateVideoReturnsCachedFinal(t *testing.T) {
	e := newEnv(t, "job-cached", false)
	seedScript(t, e.job, 1)
	if err := os.WriteFile(e.job.FinalVideoPath(), []byte("done"), 0o644); err != nil {
		t.Fatalf("seed final: %v", err)
	}

	res, err := e.orch.GenerateVideo(context.Background(), Request{JobID: "job-cached", Resume: true})
	if err != nil {
		t.Fatalf("GenerateVideo: %v", err)
	}
	if res.Status != "completed" || res.VideoPath != e.job.FinalVideoPath() {
		t.Fatalf("res = %+v", res)
	}
	if res.Script == nil || len(res.Script.Sections) != 1 {
		t.Fatalf("cached script not loaded: %+v", res.Script)
	}
	if e.renderer.calls.Load() != 0 {
		t.Fatal("cached final must not render")
	}
}

func TestGenerateVideoResumeSkipsCompletedSection(t *testing.T) {
	e := newEnv(t, "job-resume", false)
	seedScript(t, e.job, 2)

	// Section 0 already has both artifacts from a previous run.
	dir := e.job.SectionDir(0)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{section.FinalSectionFileName, section.AudioFileName} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("artifact"), 0o644); err != nil {
			t.Fatalf("seed artifact: %v", err)
		}
	}

	res, err := e.orch.GenerateVideo(context.Background(), Request{JobID: "job-resume", Resume: true})
	if err != nil {
		t.Fatalf("GenerateVideo: %v", err)
	}
	if res.Status != "completed" {
		t.Fatalf("status = %q (%s)", res.Status, res.Error)
	}
	if got := e.renderer.calls.Load(); got != 1 {
		t.Fatalf("render calls = %d, want only the unfinished section", got)
	}

	raw, err := os.ReadFile(e.job.VideoInfoPath())
	if err != nil {
		t.Fatalf("read video info: %v", err)
	}
	var info struct {
		SectionResults []SectionResult `json:"section_results"`
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		t.Fatalf("decode video info: %v", err)
	}
	if len(info.SectionResults) != 2 || !info.SectionResults[0].Cached || info.SectionResults[1].Cached {
		t.Fatalf("section results = %+v", info.SectionResults)
	}
}

func TestGenerateVideoKeepsVideoOnlySection(t *testing.T) {
	e := newEnv(t, "job-silent", false)
	seedScript(t, e.job, 1)

	// A previous run left the merged artifact but its audio never survived
	// cleanup: the section must still ship, silent.
	if err := os.WriteFile(e.job.MergedSectionPath(0), []byte("cached"), 0o644); err != nil {
		t.Fatalf("seed merged artifact: %v", err)
	}

	res, err := e.orch.GenerateVideo(context.Background(), Request{JobID: "job-silent", Resume: true})
	if err != nil {
		t.Fatalf("GenerateVideo: %v", err)
	}
	if res.Status != "completed" {
		t.Fatalf("status = %q (%s)", res.Status, res.Error)
	}
	if _, err := os.Stat(res.VideoPath); err != nil {
		t.Fatalf("final video missing: %v", err)
	}
	if len(res.Chapters) != 1 || res.Chapters[0].Duration != 30 {
		t.Fatalf("chapters = %+v", res.Chapters)
	}
	if e.renderer.calls.Load() != 0 {
		t.Fatal("cached section must not re-render")
	}
}

func TestGenerateVideoFailsWhenNoSectionSurvives(t *testing.T) {
	e := newEnv(t, "job-bad", true)
	seedScript(t, e.job, 2)

	res, err := e.orch.GenerateVideo(context.Background(), Request{JobID: "job-bad", Resume: true})
	if err != nil {
		t.Fatalf("GenerateVideo: %v", err)
	}
	if res.Status != "failed" || res.Error == "" {
		t.Fatalf("res = %+v", res)
	}
	if _, statErr := os.Stat(e.job.ErrorInfoPath()); statErr != nil {
		t.Fatal("error_info.json missing")
	}
	if _, statErr := os.Stat(e.job.FinalVideoPath()); !os.IsNotExist(statErr) {
		t.Fatal("failed job must not leave a final video")
	}
}

func TestGenerateVideoBoundsConcurrency(t *testing.T) {
	e := newEnv(t, "job-fanout", false)
	seedScript(t, e.job, 6)

	res, err := e.orch.GenerateVideo(context.Background(), Request{
		JobID: "job-fanout", Resume: true, MaxConcurrent: 2,
	})
	if err != nil {
		t.Fatalf("GenerateVideo: %v", err)
	}
	if res.Status != "completed" {
		t.Fatalf("status = %q (%s)", res.Status, res.Error)
	}
	if got := e.renderer.calls.Load(); got != 6 {
		t.Fatalf("render calls = %d, want 6", got)
	}
	if peak := e.tts.peak.Load(); peak > 2 {
		t.Fatalf("observed %d concurrent sections, limit is 2", peak)
	}
}
