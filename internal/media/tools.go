package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/scholarcast-backend/internal/pkg/ctxutil"
	"github.com/yungbote/scholarcast-backend/internal/pkg/logger"
)

// Tools is the glue around system binaries.
//
// REQUIRED BINARIES in worker runtime:
// - ffmpeg / ffprobe for audio concat, merge, concat and probing
// - pdfinfo, pdfseparate, pdfunite (poppler-utils) for PDF inspection/slicing
// - python with the renderer module installed (see Renderer)
//
// Synchronous and deterministic; call from worker goroutines, not handlers.
type Tools interface {
	AssertReady(ctx context.Context) error

	ProbeDuration(ctx context.Context, path string) (float64, error)
	ConcatAudio(ctx context.Context, inputs []string, outPath string) error
	ConcatVideos(ctx context.Context, inputs []string, outPath string) error
	MergeNoCut(ctx context.Context, videoPath, audioPath, outPath string) error
	MergeTrim(ctx context.Context, videoPath, audioPath, outPath string) error

	CountPDFPages(ctx context.Context, pdfPath string) (int, error)
	SlicePDF(ctx context.Context, pdfPath string, pages []int, outPath string) error
}

const (
	probeTimeout  = 30 * time.Second
	concatTimeout = 300 * time.Second

	// mergeTolerance: streams within this delta are merged directly.
	mergeTolerance = 0.1
)

type tools struct {
	log *logger.Logger

	ffmpegPath      string
	ffprobePath     string
	pdfinfoPath     string
	pdfseparatePath string
	pdfunitePath    string

	workRoot       string
	defaultTimeout time.Duration
}

type Option func(*tools)

func WithBinaries(ffmpeg, ffprobe string) Option {
	return func(t *tools) {
		if ffmpeg != "" {
			t.ffmpegPath = ffmpeg
		}
		if ffprobe != "" {
			t.ffprobePath = ffprobe
		}
	}
}

func New(log *logger.Logger, opts ...Option) Tools {
	t := &tools{
		log:             log.With("service", "MediaTools"),
		ffmpegPath:      "ffmpeg",
		ffprobePath:     "ffprobe",
		pdfinfoPath:     "pdfinfo",
		pdfseparatePath: "pdfseparate",
		pdfunitePath:    "pdfunite",
		workRoot:        filepath.Join(os.TempDir(), "scholarcast-media"),
		defaultTimeout:  10 * time.Minute,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (m *tools) AssertReady(ctx context.Context) error {
	ctx = ctxutil.Default(ctx)
	for _, bin := range []string{m.ffmpegPath, m.ffprobePath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("missing required binary %q in PATH: %w", bin, err)
		}
	}
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return fmt.Errorf("create workRoot: %w", err)
	}
	return nil
}

// ProbeDuration returns the container duration in seconds.
func (m *tools) ProbeDuration(ctx context.Context, path string) (float64, error) {
	ctx = ctxutil.Default(ctx)
	if path == "" {
		return 0, fmt.Errorf("path required")
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w; out=%s", err, string(out))
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || dur <= 0 {
		return 0, fmt.Errorf("ffprobe returned no duration for %s; out=%s", path, string(out))
	}
	return dur, nil
}

// ConcatAudio losslessly concatenates audio files (concat demuxer, -c copy)
// in the given order.
func (m *tools) ConcatAudio(ctx context.Context, inputs []string, outPath string) error {
	return m.concatCopy(ctx, inputs, outPath, false)
}

// ConcatVideos concatenates with stream copy, falling back to re-encode
// when the copy concat fails (mismatched section encodes).
func (m *tools) ConcatVideos(ctx context.Context, inputs []string, outPath string) error {
	return m.concatCopy(ctx, inputs, outPath, true)
}

func (m *tools) concatCopy(ctx context.Context, inputs []string, outPath string, reencodeFallback bool) error {
	ctx = ctxutil.Default(ctx)
	if len(inputs) == 0 {
		return fmt.Errorf("no inputs to concatenate")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("mkdir out dir: %w", err)
	}

	listPath, cleanup, err := m.writeConcatList(inputs)
	if err != nil {
		return err
	}
	defer cleanup()

	cctx, cancel := context.WithTimeout(ctx, concatTimeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, m.ffmpegPath,
		"-y", "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", outPath,
	)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	if !reencodeFallback {
		return fmt.Errorf("ffmpeg concat failed: %w; out=%s", err, tail(string(out), 600))
	}

	m.log.Warn("stream-copy concat failed; re-encoding", "error", err.Error())
	rctx, rcancel := context.WithTimeout(ctx, concatTimeout)
	defer rcancel()
	cmd = exec.CommandContext(rctx, m.ffmpegPath,
		"-y", "-f", "concat", "-safe", "0", "-i", listPath,
		"-c:v", "libx264", "-preset", "fast", "-c:a", "aac", outPath,
	)
	out, err = cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg re-encode concat failed: %w; out=%s", err, tail(string(out), 600))
	}
	return nil
}

func (m *tools) writeConcatList(inputs []string) (string, func(), error) {
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return "", func() {}, fmt.Errorf("mkdir workRoot: %w", err)
	}
	var b strings.Builder
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return "", func() {}, err
		}
		// concat demuxer quoting: single quotes, embedded quotes escaped.
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(abs, "'", `'\''`))
		b.WriteString("'\n")
	}
	listPath := filepath.Join(m.workRoot, "concat_"+uuid.NewString()+".txt")
	if err := os.WriteFile(listPath, []byte(b.String()), 0o644); err != nil {
		return "", func() {}, fmt.Errorf("write concat list: %w", err)
	}
	return listPath, func() { _ = os.Remove(listPath) }, nil
}

// MergeNoCut combines video and audio without trimming either stream.
// A shorter video is padded with a frozen last frame; a longer video simply
// runs past the audio. Output duration is max(video, audio).
// Audio is never padded with silence.
func (m *tools) MergeNoCut(ctx context.Context, videoPath, audioPath, outPath string) error {
	return m.merge(ctx, videoPath, audioPath, outPath, false)
}

// MergeTrim pads a shorter video like MergeNoCut but trims a longer video
// to the audio length. Used only by the translation re-merge path.
func (m *tools) MergeTrim(ctx context.Context, videoPath, audioPath, outPath string) error {
	return m.merge(ctx, videoPath, audioPath, outPath, true)
}

func (m *tools) merge(ctx context.Context, videoPath, audioPath, outPath string, trim bool) error {
	ctx = ctxutil.Default(ctx)
	videoLen, err := m.ProbeDuration(ctx, videoPath)
	if err != nil {
		return err
	}
	audioLen, err := m.ProbeDuration(ctx, audioPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("mkdir out dir: %w", err)
	}

	delta := audioLen - videoLen
	args := []string{"-y", "-i", videoPath, "-i", audioPath}
	switch {
	case delta > mergeTolerance:
		// Video shorter: freeze the last frame for the remainder.
		args = append(args,
			"-vf", fmt.Sprintf("tpad=stop_duration=%.3f:stop_mode=clone", delta),
			"-c:v", "libx264", "-preset", "fast",
			"-c:a", "aac",
			"-map", "0:v:0", "-map", "1:a:0",
		)
	case delta < -mergeTolerance && trim:
		args = append(args,
			"-t", fmt.Sprintf("%.3f", audioLen),
			"-c:v", "copy", "-c:a", "aac",
			"-map", "0:v:0", "-map", "1:a:0",
		)
	default:
		// Within tolerance, or video longer under no-cut: direct merge,
		// container length follows the longer stream.
		args = append(args,
			"-c:v", "copy", "-c:a", "aac",
			"-map", "0:v:0", "-map", "1:a:0",
		)
	}
	args = append(args, outPath)

	mctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()
	cmd := exec.CommandContext(mctx, m.ffmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg merge failed: %w; out=%s", err, tail(string(out), 600))
	}
	return nil
}

func (m *tools) CountPDFPages(ctx context.Context, pdfPath string) (int, error) {
	ctx = ctxutil.Default(ctx)
	if pdfPath == "" {
		return 0, fmt.Errorf("pdfPath required")
	}
	if _, err := exec.LookPath(m.pdfinfoPath); err != nil {
		return 0, fmt.Errorf("pdfinfo not found in PATH: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.pdfinfoPath, pdfPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("pdfinfo failed: %w; out=%s", err, string(out))
	}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Pages:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		n, err := strconv.Atoi(fields[len(fields)-1])
		if err != nil || n <= 0 {
			continue
		}
		return n, nil
	}
	return 0, fmt.Errorf("pdfinfo output missing Pages field")
}

// SlicePDF extracts the given 1-based pages into a new PDF, preserving the
// requested order, via pdfseparate + pdfunite.
func (m *tools) SlicePDF(ctx context.Context, pdfPath string, pages []int, outPath string) error {
	ctx = ctxutil.Default(ctx)
	if len(pages) == 0 {
		return fmt.Errorf("no pages requested")
	}
	for _, bin := range []string{m.pdfseparatePath, m.pdfunitePath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("missing required binary %q in PATH: %w", bin, err)
		}
	}
	workDir := filepath.Join(m.workRoot, "slice_"+uuid.NewString())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("mkdir slice dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	sctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()

	pagePaths := make([]string, 0, len(pages))
	for _, p := range pages {
		if p <= 0 {
			return fmt.Errorf("page must be >= 1, got %d", p)
		}
		pagePath := filepath.Join(workDir, fmt.Sprintf("page_%04d.pdf", p))
		cmd := exec.CommandContext(sctx, m.pdfseparatePath,
			"-f", strconv.Itoa(p), "-l", strconv.Itoa(p), pdfPath, pagePath,
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("pdfseparate page %d failed: %w; out=%s", p, err, string(out))
		}
		pagePaths = append(pagePaths, pagePath)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("mkdir out dir: %w", err)
	}
	args := append(pagePaths, outPath)
	cmd := exec.CommandContext(sctx, m.pdfunitePath, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("pdfunite failed: %w; out=%s", err, string(out))
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
