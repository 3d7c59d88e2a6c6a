package anim

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yungbote/scholarcast-backend/internal/pkg/logger"
)

type Category string

const (
	CategoryStatic  Category = "static"
	CategoryRuntime Category = "runtime"
	CategorySpatial Category = "spatial"
)

// Finding is one validator error against the assembled source.
type Finding struct {
	Category   Category
	LineNumber int
	Message    string
}

// Report is the result of one validation pass. The pipeline stops at the
// first category that produced findings, so a report never mixes
// categories.
type Report struct {
	Category Category
	Findings []Finding
	Spatial  []SpatialIssue
}

func (r *Report) Clean() bool {
	return len(r.Findings) == 0 && len(r.Spatial) == 0
}

// ErrLines collects every line number findings carry, for excerpting.
func (r *Report) ErrLines() []int {
	var out []int
	for _, f := range r.Findings {
		if f.LineNumber > 0 {
			out = append(out, f.LineNumber)
		}
	}
	for _, s := range r.Spatial {
		if s.LineNumber > 0 {
			out = append(out, s.LineNumber)
		}
	}
	return out
}

// ErrorText renders all findings for prompts and classification.
func (r *Report) ErrorText() string {
	var b strings.Builder
	for _, f := range r.Findings {
		if f.LineNumber > 0 {
			fmt.Fprintf(&b, "line %d: %s\n", f.LineNumber, f.Message)
		} else {
			b.WriteString(f.Message + "\n")
		}
	}
	for _, s := range r.Spatial {
		b.WriteString(s.String() + "\n")
	}
	return b.String()
}

// Validator runs the check pipeline over an assembled source file.
type Validator interface {
	Validate(ctx context.Context, sc *Scaffolded) (*Report, error)
}

// PyValidator executes the static, runtime-preflight and spatial checks
// through python subprocesses with embedded harness scripts.
type PyValidator struct {
	log           *logger.Logger
	pythonBin     string
	workDir       string
	spatialCfg    SpatialConfig
	enableSpatial bool
	timeout       time.Duration
}

type ValidatorOption func(*PyValidator)

func WithPython(bin string) ValidatorOption {
	return func(v *PyValidator) { v.pythonBin = bin }
}

func WithSpatialChecks(enabled bool) ValidatorOption {
	return func(v *PyValidator) { v.enableSpatial = enabled }
}

func WithValidateTimeout(d time.Duration) ValidatorOption {
	return func(v *PyValidator) { v.timeout = d }
}

func NewPyValidator(log *logger.Logger, workDir string, opts ...ValidatorOption) *PyValidator {
	v := &PyValidator{
		log:           log.With("service", "PyValidator"),
		pythonBin:     "python3",
		workDir:       workDir,
		spatialCfg:    DefaultSpatialConfig(),
		enableSpatial: true,
		timeout:       60 * time.Second,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *PyValidator) Validate(ctx context.Context, sc *Scaffolded) (*Report, error) {
	if findings := v.staticChecks(sc); len(findings) > 0 {
		return &Report{Category: CategoryStatic, Findings: findings}, nil
	}

	path, cleanup, err := v.writeTemp(sc.Source)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if findings, err := v.compileCheck(ctx, path); err != nil {
		return nil, err
	} else if len(findings) > 0 {
		return &Report{Category: CategoryStatic, Findings: findings}, nil
	}

	if findings, err := v.preflight(ctx, path, sc.ClassName); err != nil {
		return nil, err
	} else if len(findings) > 0 {
		return &Report{Category: CategoryRuntime, Findings: findings}, nil
	}

	if !v.enableSpatial {
		return &Report{}, nil
	}
	issues, err := v.spatialProbe(ctx, path, sc.ClassName)
	if err != nil {
		// A broken probe must not block an otherwise valid section.
		v.log.Warn("spatial probe failed; skipping spatial checks", "error", err.Error())
		return &Report{}, nil
	}
	if len(issues) > 0 {
		return &Report{Category: CategorySpatial, Spatial: issues}, nil
	}
	return &Report{}, nil
}

// staticChecks run in process: required class present, auto-detectable
// imports present for the symbols the body uses.
func (v *PyValidator) staticChecks(sc *Scaffolded) []Finding {
	var out []Finding
	if !strings.Contains(sc.Source, "class "+sc.ClassName+"(") {
		out = append(out, Finding{Category: CategoryStatic, Message: fmt.Sprintf("required scene class %s is missing", sc.ClassName)})
	}
	for _, ai := range autoImports {
		if strings.Contains(sc.Source, ai.marker) && !strings.Contains(sc.Source, ai.stmt) {
			out = append(out, Finding{Category: CategoryStatic, Message: fmt.Sprintf("symbol prefix %q used without %q", ai.marker, ai.stmt)})
		}
	}
	return out
}

func (v *PyValidator) writeTemp(source string) (string, func(), error) {
	dir := v.workDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "scene_check_"+uuid.NewString()+".py")
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		return "", nil, fmt.Errorf("write validation temp file: %w", err)
	}
	return path, func() { os.Remove(path) }, nil
}

var syntaxLinePattern = regexp.MustCompile(`line (\d+)`)

func (v *PyValidator) compileCheck(ctx context.Context, path string) ([]Finding, error) {
	out, err := v.run(ctx, v.pythonBin, "-c", compileCheckScript, path)
	if err == nil {
		return nil, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	line := 0
	if m := syntaxLinePattern.FindStringSubmatch(out); m != nil {
		line, _ = strconv.Atoi(m[1])
	}
	return []Finding{{Category: CategoryStatic, LineNumber: line, Message: "SyntaxError: " + tailLines(out, 3)}}, nil
}

type preflightResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Line  int    `json:"line"`
}

func (v *PyValidator) preflight(ctx context.Context, path, className string) ([]Finding, error) {
	out, err := v.run(ctx, v.pythonBin, "-c", preflightScript, path, className)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	var res preflightResult
	if jsonErr := json.Unmarshal([]byte(lastJSONLine(out)), &res); jsonErr != nil {
		if err != nil {
			// Harness crashed before it could report; surface raw output.
			return []Finding{{Category: CategoryRuntime, Message: tailLines(out, 5)}}, nil
		}
		return nil, fmt.Errorf("preflight harness output unparseable: %s", tailLines(out, 3))
	}
	if res.OK {
		return nil, nil
	}
	return []Finding{{Category: CategoryRuntime, LineNumber: res.Line, Message: res.Error}}, nil
}

func (v *PyValidator) spatialProbe(ctx context.Context, path, className string) ([]SpatialIssue, error) {
	out, err := v.run(ctx, v.pythonBin, "-c", spatialProbeScript, path, className)
	if err != nil {
		return nil, fmt.Errorf("spatial probe: %v: %s", err, tailLines(out, 3))
	}
	var frames []FrameSnapshot
	if err := json.Unmarshal([]byte(lastJSONLine(out)), &frames); err != nil {
		return nil, fmt.Errorf("spatial probe output unparseable: %w", err)
	}
	return AnalyzeFrames(frames, v.spatialCfg), nil
}

func (v *PyValidator) run(ctx context.Context, bin string, args ...string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	cmd := exec.CommandContext(cctx, bin, args...)
	cmd.Dir = v.workDir
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

// lastJSONLine extracts the final line that looks like JSON; harness output
// may be preceded by library warnings.
func lastJSONLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		t := strings.TrimSpace(lines[i])
		if strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[") {
			return t
		}
	}
	return ""
}

const compileCheckScript = `import py_compile, sys
py_compile.compile(sys.argv[1], doraise=True)`

// preflightScript imports the scene module with play/wait stubbed to no-ops
// and runs construct, reporting the first exception with its line number in
// the scene file.
const preflightScript = `import importlib.util, json, sys, traceback

path, class_name = sys.argv[1], sys.argv[2]

import manim

def _noop(self, *args, **kwargs):
    pass

manim.Scene.play = _noop
manim.Scene.wait = _noop

try:
    spec = importlib.util.spec_from_file_location("scene_under_check", path)
    mod = importlib.util.module_from_spec(spec)
    spec.loader.exec_module(mod)
    cls = getattr(mod, class_name)
    cls().construct()
except Exception as exc:
    line = 0
    for fr in traceback.extract_tb(sys.exc_info()[2]):
        if fr.filename == path:
            line = fr.lineno
    print(json.dumps({"ok": False, "error": "%s: %s" % (type(exc).__name__, exc), "line": line}))
    sys.exit(1)

print(json.dumps({"ok": True}))`

// spatialProbeScript replaces play/wait with recorders that advance a
// virtual clock and snapshot every mobject bounding box at each animation
// boundary, then emits the frames as JSON.
const spatialProbeScript = `import importlib.util, json, sys

path, class_name = sys.argv[1], sys.argv[2]

import manim

frames = []
clock = {"t": 0.0}

TEXT_TYPES = ("Text", "MarkupText", "Tex", "MathTex", "SingleStringMathTex", "Paragraph")
HIGHLIGHT_TYPES = ("SurroundingRectangle", "BackgroundRectangle")

def _kind(m):
    name = type(m).__name__
    if name in TEXT_TYPES:
        return "text"
    if name in HIGHLIGHT_TYPES:
        return "highlight"
    return "shape"

def _snapshot(scene):
    objs = []
    for m in scene.mobjects:
        try:
            x0 = float(m.get_left()[0]); x1 = float(m.get_right()[0])
            y0 = float(m.get_bottom()[1]); y1 = float(m.get_top()[1])
        except Exception:
            continue
        rec = {
            "name": str(getattr(m, "name", None) or type(m).__name__),
            "kind": _kind(m),
            "x0": x0, "y0": y0, "x1": x1, "y1": y1,
            "z": int(getattr(m, "z_index", 0) or 0),
        }
        fs = getattr(m, "font_size", None)
        if fs is not None:
            rec["font_size"] = float(fs)
        txt = getattr(m, "original_text", None) or getattr(m, "text", None)
        if isinstance(txt, str):
            rec["text_len"] = len(txt)
        objs.append(rec)
    frames.append({"frame_id": "f%d" % len(frames), "time": clock["t"], "objects": objs})

def _play(self, *animations, **kwargs):
    clock["t"] += float(kwargs.get("run_time", 1.0))
    for anim in animations:
        mob = getattr(anim, "mobject", None)
        if mob is not None:
            try:
                self.add(mob)
            except Exception:
                pass
    _snapshot(self)

def _wait(self, duration=1.0, **kwargs):
    clock["t"] += float(duration)
    _snapshot(self)

manim.Scene.play = _play
manim.Scene.wait = _wait

spec = importlib.util.spec_from_file_location("scene_probe", path)
mod = importlib.util.module_from_spec(spec)
spec.loader.exec_module(mod)
cls = getattr(mod, class_name)
cls().construct()

print(json.dumps(frames))`
