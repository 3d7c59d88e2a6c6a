package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/yungbote/scholarcast-backend/internal/pkg/ctxutil"
	pkgerrors "github.com/yungbote/scholarcast-backend/internal/pkg/errors"
	"github.com/yungbote/scholarcast-backend/internal/pkg/logger"
)

// qualityFlags maps a quality tag to the renderer CLI flag.
var qualityFlags = map[string]string{
	"low":    "-ql",
	"medium": "-qm",
	"high":   "-qh",
	"4k":     "-qk",
}

// qualitySubdirs maps the quality tag to the renderer's media output subdir.
var qualitySubdirs = map[string]string{
	"low":    "480p15",
	"medium": "720p30",
	"high":   "1080p60",
	"4k":     "2160p60",
}

// minOutputBytes: renders smaller than this are treated as corrupt.
const minOutputBytes = 1024

// RenderRequest invokes the animation renderer for one scene file.
type RenderRequest struct {
	SceneFile  string
	SceneClass string
	OutputName string // --output_file value, e.g. "section_3"
	MediaDir   string
	Quality    string // low | medium | high | 4k
	Timeout    time.Duration
}

// RenderResult carries the located artifact plus the captured process
// output for the correction loop.
type RenderResult struct {
	VideoPath string
	Stderr    string
	Duration  float64
}

// Renderer shells out to the animation renderer (a Manim-compatible module
// run under python) and validates its output artifact.
type Renderer interface {
	RenderScene(ctx context.Context, req RenderRequest) (*RenderResult, error)
}

type renderer struct {
	log       *logger.Logger
	pythonBin string
	module    string
	tools     Tools
}

func NewRenderer(log *logger.Logger, pythonBin, module string, tools Tools) Renderer {
	if pythonBin == "" {
		pythonBin = "python3"
	}
	if module == "" {
		module = "manim"
	}
	return &renderer{
		log:       log.With("service", "Renderer"),
		pythonBin: pythonBin,
		module:    module,
		tools:     tools,
	}
}

func (r *renderer) RenderScene(ctx context.Context, req RenderRequest) (*RenderResult, error) {
	ctx = ctxutil.Default(ctx)
	if req.SceneFile == "" || req.SceneClass == "" {
		return nil, fmt.Errorf("%w: scene file and class required", pkgerrors.ErrInvalidArgument)
	}
	quality := strings.ToLower(strings.TrimSpace(req.Quality))
	flag, ok := qualityFlags[quality]
	if !ok {
		quality = "low"
		flag = qualityFlags[quality]
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	// Stale fragments from a previous attempt would get concatenated into
	// the new render; clear them first.
	r.cleanStaleOutputs(req)

	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(rctx, r.pythonBin,
		"-m", r.module,
		flag,
		"--format=mp4",
		"--output_file="+req.OutputName,
		"--media_dir="+req.MediaDir,
		req.SceneFile,
		req.SceneClass,
	)
	out, err := cmd.CombinedOutput()
	stderr := string(out)
	if rctx.Err() == context.DeadlineExceeded {
		return &RenderResult{Stderr: stderr}, fmt.Errorf("%w: renderer timed out after %s", pkgerrors.ErrRendering, timeout)
	}
	if err != nil {
		return &RenderResult{Stderr: stderr}, fmt.Errorf("%w: renderer exited: %v", pkgerrors.ErrRendering, err)
	}

	videoPath := r.locateOutput(req, quality)
	if videoPath == "" {
		return &RenderResult{Stderr: stderr}, fmt.Errorf("%w: renderer produced no artifact", pkgerrors.ErrRendering)
	}
	info, statErr := os.Stat(videoPath)
	if statErr != nil || info.Size() <= minOutputBytes {
		return &RenderResult{Stderr: stderr}, fmt.Errorf("%w: artifact missing or too small at %s", pkgerrors.ErrRendering, videoPath)
	}
	dur, probeErr := r.tools.ProbeDuration(ctx, videoPath)
	if probeErr != nil {
		return &RenderResult{Stderr: stderr}, fmt.Errorf("%w: artifact failed probe: %v", pkgerrors.ErrRendering, probeErr)
	}

	return &RenderResult{VideoPath: videoPath, Stderr: stderr, Duration: dur}, nil
}

func (r *renderer) sceneMediaDir(req RenderRequest, quality string) string {
	stem := strings.TrimSuffix(filepath.Base(req.SceneFile), filepath.Ext(req.SceneFile))
	return filepath.Join(req.MediaDir, "videos", stem, qualitySubdirs[quality])
}

func (r *renderer) locateOutput(req RenderRequest, quality string) string {
	dir := r.sceneMediaDir(req, quality)
	candidate := filepath.Join(dir, req.OutputName+".mp4")
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	// Renderer versions differ on output naming; fall back to any mp4.
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".mp4") {
			return filepath.Join(dir, e.Name())
		}
	}
	return ""
}

// cleanStaleOutputs removes partial movie fragments and old renders under
// the scene's media subdirectory before a fresh render.
func (r *renderer) cleanStaleOutputs(req RenderRequest) {
	for _, quality := range []string{"low", "medium", "high", "4k"} {
		dir := r.sceneMediaDir(req, quality)
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		_ = os.RemoveAll(filepath.Join(dir, "partial_movie_files"))
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".mp4") {
				_ = os.Remove(filepath.Join(dir, e.Name()))
			}
		}
	}
	// Fragment dirs can also live one level up depending on renderer version.
	stem := strings.TrimSuffix(filepath.Base(req.SceneFile), filepath.Ext(req.SceneFile))
	_ = os.RemoveAll(filepath.Join(req.MediaDir, "videos", stem, "partial_movie_files"))
}
