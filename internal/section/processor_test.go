package section

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yungbote/scholarcast-backend/internal/anim"
	"github.com/yungbote/scholarcast-backend/internal/jobstore"
	"github.com/yungbote/scholarcast-backend/internal/llm"
	"github.com/yungbote/scholarcast-backend/internal/media"
	pkgerrors "github.com/yungbote/scholarcast-backend/internal/pkg/errors"
	"github.com/yungbote/scholarcast-backend/internal/pkg/logger"
	"github.com/yungbote/scholarcast-backend/internal/script"
)

// planGateway answers plan, implement and rewrite scopes with canned
// payloads good enough for the animation agent to assemble a scene.
type planGateway struct {
	scopes []string
}

func (g *planGateway) Generate(_ context.Context, req llm.Request) (*llm.Result, error) {
	g.scopes = append(g.scopes, req.Scope)
	switch {
	case strings.HasSuffix(req.Scope, "/plan"):
		return &llm.Result{Success: true, Response: "{}", ParsedJSON: map[string]any{
			"scene": map[string]any{"mode": "2D"},
			"objects": []any{map[string]any{
				"id": "title", "kind": "text",
				"content":   map[string]any{"text": "Cells"},
				"placement": map[string]any{"type": "absolute", "absolute": map[string]any{"x": 0.0, "y": 2.0}},
				"lifecycle": map[string]any{"appear_at": 0.0, "remove_at": 5.0},
			}},
			"timeline": []any{map[string]any{
				"segment_index": 0, "start_at": 0.0, "end_at": 5.0,
				"actions": []any{map[string]any{"at": 0.0, "op": "write", "target": "title", "run_time": 1.0}},
			}},
		}}, nil
	default:
		// implement and full_rewrite calls both want a snippet.
		return &llm.Result{Success: true, Response: "```python\ntitle = Text(\"Cells\")\nself.play(Write(title))\nself.wait(4)\n```"}, nil
	}
}

func (g *planGateway) Model() string { return "fake-model" }

func (g *planGateway) countScope(suffix string) int {
	n := 0
	for _, s := range g.scopes {
		if strings.HasSuffix(s, suffix) {
			n++
		}
	}
	return n
}

type cleanValidator struct{}

func (cleanValidator) Validate(_ context.Context, _ *anim.Scaffolded) (*anim.Report, error) {
	return &anim.Report{}, nil
}

type fakeTTS struct{ calls int }

func (f *fakeTTS) Synthesize(_ context.Context, text, _, _ string) ([]byte, error) {
	f.calls++
	return []byte("AUDIO:" + text), nil
}

// fakeTools fabricates media artifacts and reports fixed durations.
type fakeTools struct {
	audioDuration float64
	finalDuration float64
	concatCalls   int
}

func (f *fakeTools) AssertReady(context.Context) error { return nil }

func (f *fakeTools) ProbeDuration(_ context.Context, path string) (float64, error) {
	if strings.HasSuffix(path, FinalSectionFileName) {
		return f.finalDuration, nil
	}
	return f.audioDuration, nil
}

func (f *fakeTools) ConcatAudio(_ context.Context, inputs []string, outPath string) error {
	f.concatCalls++
	return os.WriteFile(outPath, []byte(fmt.Sprintf("concat of %d", len(inputs))), 0o644)
}

func (f *fakeTools) ConcatVideos(_ context.Context, inputs []string, outPath string) error {
	return os.WriteFile(outPath, []byte("video concat"), 0o644)
}

func (f *fakeTools) MergeNoCut(_ context.Context, videoPath, audioPath, outPath string) error {
	return os.WriteFile(outPath, []byte("merged"), 0o644)
}

func (f *fakeTools) MergeTrim(_ context.Context, videoPath, audioPath, outPath string) error {
	return os.WriteFile(outPath, []byte("merged trim"), 0o644)
}

func (f *fakeTools) CountPDFPages(context.Context, string) (int, error) { return 0, nil }

func (f *fakeTools) SlicePDF(context.Context, string, []int, string) error { return nil }

// fakeRenderer fails a set number of times, then writes the video artifact.
// It records the section status visible at each render attempt.
type fakeRenderer struct {
	failures   int
	calls      int
	statusSeen []jobstore.Status
}

func (f *fakeRenderer) RenderScene(_ context.Context, req media.RenderRequest) (*media.RenderResult, error) {
	f.calls++
	if status, _, err := jobstore.ReadStatus(filepath.Dir(req.SceneFile)); err == nil {
		f.statusSeen = append(f.statusSeen, status)
	}
	if f.calls <= f.failures {
		return &media.RenderResult{Stderr: "Traceback: NameError: name 'titel' is not defined"}, fmt.Errorf("%w: renderer exited: exit status 1", pkgerrors.ErrRendering)
	}
	videoPath := filepath.Join(filepath.Dir(req.SceneFile), req.OutputName+".mp4")
	if err := os.WriteFile(videoPath, []byte("rendered"), 0o644); err != nil {
		return nil, err
	}
	return &media.RenderResult{VideoPath: videoPath}, nil
}

type fixture struct {
	processor *Processor
	gateway   *planGateway
	tts       *fakeTTS
	tools     *fakeTools
	renderer  *fakeRenderer
	job       *jobstore.Job
}

func newFixture(t *testing.T, renderFailures int) *fixture {
	t.Helper()
	log := logger.NewNop()
	store, err := jobstore.New(log, t.TempDir())
	if err != nil {
		t.Fatalf("jobstore.New: %v", err)
	}
	job, err := store.Open("job1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	gw := &planGateway{}
	agent := anim.NewAgent(log, gw, cleanValidator{}, anim.RefinerConfig{MaxAttempts: 2})
	ttsClient := &fakeTTS{}
	tools := &fakeTools{audioDuration: 30, finalDuration: 32}
	renderer := &fakeRenderer{failures: renderFailures}

	p, err := NewProcessor(log, ttsClient, tools, renderer, agent, Config{MaxCorrectionAttempts: 2})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	return &fixture{processor: p, gateway: gw, tts: ttsClient, tools: tools, renderer: renderer, job: job}
}

func testSection() *script.Section {
	return &script.Section{
		ID:           "intro",
		Title:        "Introduction",
		Narration:    "Cells are the unit of life.",
		TTSNarration: "Cells are the unit of life.",
		Segments: []script.NarrationSegment{
			{Text: "Cells are the unit of life.", StartTime: 0, EndTime: 4, SegmentIndex: 0},
			{Text: "Every organism is built from them.", StartTime: 4, EndTime: 10, SegmentIndex: 1},
		},
	}
}

func TestProcessHappyPath(t *testing.T) {
	fx := newFixture(t, 0)
	sec := testSection()

	err := fx.processor.Process(context.Background(), Request{
		Job: fx.job, Index: 0, Section: sec, Voice: "alloy", Language: "en",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	dir := fx.job.SectionDir(0)
	status, _, err := jobstore.ReadStatus(dir)
	if err != nil || status != jobstore.StatusCompleted {
		t.Fatalf("status = %q (%v)", status, err)
	}

	for _, seg := range []string{"seg_0", "seg_1"} {
		if _, err := os.Stat(filepath.Join(dir, seg, "audio.mp3")); err != nil {
			t.Fatalf("segment audio missing: %s", seg)
		}
	}
	if fx.tools.concatCalls != 1 {
		t.Fatalf("concat calls = %d, want 1", fx.tools.concatCalls)
	}
	if _, err := os.Stat(filepath.Join(dir, FinalSectionFileName)); err != nil {
		t.Fatal("final section missing")
	}

	if sec.AudioPath != filepath.Join(dir, AudioFileName) {
		t.Fatalf("audio path = %q", sec.AudioPath)
	}
	if sec.VideoPath == "" || sec.AnimationSourcePath == "" {
		t.Fatalf("artifact paths missing: %+v", sec)
	}
	if sec.Duration != 32 {
		t.Fatalf("duration = %v, want merged probe 32", sec.Duration)
	}
	// The segment timeline is rescaled onto the measured audio duration.
	if last := sec.Segments[len(sec.Segments)-1]; last.EndTime != 30 {
		t.Fatalf("segments not rescaled: tail ends at %v", last.EndTime)
	}

	source, err := os.ReadFile(sec.AnimationSourcePath)
	if err != nil {
		t.Fatalf("read scene source: %v", err)
	}
	if !strings.Contains(string(source), "class SceneIntro(Scene):") {
		t.Fatalf("scene class missing:\n%s", source)
	}
}

func TestProcessSingleSegmentAudio(t *testing.T) {
	fx := newFixture(t, 0)
	sec := testSection()
	sec.Segments = nil

	if err := fx.processor.Process(context.Background(), Request{Job: fx.job, Index: 1, Section: sec}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if fx.tools.concatCalls != 0 {
		t.Fatal("single segment must not concat")
	}
	raw, err := os.ReadFile(filepath.Join(fx.job.SectionDir(1), AudioFileName))
	if err != nil {
		t.Fatalf("section audio missing: %v", err)
	}
	if string(raw) != "AUDIO:Cells are the unit of life." {
		t.Fatalf("section audio = %q", raw)
	}
	alias, err := os.ReadFile(filepath.Join(fx.job.SectionDir(1), AudioAliasFileName))
	if err != nil {
		t.Fatalf("audio alias missing: %v", err)
	}
	if string(alias) != string(raw) {
		t.Fatalf("alias = %q, want the section audio bytes", alias)
	}
}

func TestProcessRenderCorrectionLoop(t *testing.T) {
	fx := newFixture(t, 2)
	sec := testSection()

	err := fx.processor.Process(context.Background(), Request{Job: fx.job, Index: 0, Section: sec})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if fx.renderer.calls != 3 {
		t.Fatalf("render calls = %d, want 3", fx.renderer.calls)
	}
	if got := fx.gateway.countScope("/full_rewrite"); got != 2 {
		t.Fatalf("rewrite calls = %d, want 2", got)
	}
	// The re-renders must run under the correction status.
	for i, st := range fx.renderer.statusSeen[1:] {
		if st != jobstore.StatusFixingError {
			t.Fatalf("re-render %d saw status %q", i+1, st)
		}
	}
	if status, _, _ := jobstore.ReadStatus(fx.job.SectionDir(0)); status != jobstore.StatusCompleted {
		t.Fatalf("final status = %q", status)
	}
}

func TestProcessRenderExhaustion(t *testing.T) {
	fx := newFixture(t, 99)
	sec := testSection()

	err := fx.processor.Process(context.Background(), Request{Job: fx.job, Index: 0, Section: sec})
	if !errors.Is(err, pkgerrors.ErrRendering) {
		t.Fatalf("err = %v, want rendering sentinel", err)
	}
	if fx.renderer.calls != 3 {
		t.Fatalf("render calls = %d, want initial + 2 corrections", fx.renderer.calls)
	}
	if _, err := os.Stat(filepath.Join(fx.job.SectionDir(0), FinalSectionFileName)); !os.IsNotExist(err) {
		t.Fatal("failed section must not leave a final artifact")
	}
}
