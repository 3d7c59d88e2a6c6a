package anim

import (
	"fmt"
	"strings"
)

// Spatial analysis runs over frame snapshots emitted by the probe harness:
// the Python side records bounding boxes at every animation boundary, the
// geometry checks live here.

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// SpatialIssue is one structured finding from the spatial pass.
type SpatialIssue struct {
	LineNumber   int    `json:"line_number"`
	Severity     string `json:"severity"`
	Message      string `json:"message"`
	SuggestedFix string `json:"suggested_fix"`
	FrameID      string `json:"frame_id,omitempty"`
}

// MobjectBox is one object snapshot inside a frame.
type MobjectBox struct {
	Name     string  `json:"name"`
	Kind     string  `json:"kind"` // text | shape | highlight | other
	X0       float64 `json:"x0"`
	Y0       float64 `json:"y0"`
	X1       float64 `json:"x1"`
	Y1       float64 `json:"y1"`
	Z        int     `json:"z"`
	FontSize float64 `json:"font_size,omitempty"`
	TextLen  int     `json:"text_len,omitempty"`
	Line     int     `json:"line,omitempty"`
	Target   string  `json:"target,omitempty"` // highlight boxes only
}

// FrameSnapshot is the probe output at one animation boundary.
type FrameSnapshot struct {
	FrameID string       `json:"frame_id"`
	Time    float64      `json:"time"`
	Objects []MobjectBox `json:"objects"`
}

// SpatialConfig tunes the geometry thresholds.
type SpatialConfig struct {
	Bounds               Bounds
	Margin               float64 // safe frame shrink applied before boundary checks
	OverlapAreaThreshold float64 // absolute overlap area that flags a pair
	ContainmentExemption float64 // containment ratio above which overlap is fine
	MaxFontSize          float64
	MaxTextLen           int
	MinHighlightArea     float64
}

func DefaultSpatialConfig() SpatialConfig {
	return SpatialConfig{
		Bounds:               DefaultSafeBounds,
		Margin:               0.2,
		OverlapAreaThreshold: 0.5,
		ContainmentExemption: 0.9,
		MaxFontSize:          72,
		MaxTextLen:           120,
		MinHighlightArea:     0.05,
	}
}

func (b MobjectBox) area() float64 {
	w := b.X1 - b.X0
	h := b.Y1 - b.Y0
	if w < 0 || h < 0 {
		return 0
	}
	return w * h
}

func intersection(a, b MobjectBox) float64 {
	w := minF(a.X1, b.X1) - maxF(a.X0, b.X0)
	h := minF(a.Y1, b.Y1) - maxF(a.Y0, b.Y0)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// AnalyzeFrames runs every geometry check over every frame and returns the
// deduplicated issues.
func AnalyzeFrames(frames []FrameSnapshot, cfg SpatialConfig) []SpatialIssue {
	var issues []SpatialIssue
	seen := map[string]bool{}
	emit := func(is SpatialIssue) {
		key := fmt.Sprintf("%s|%d|%s", is.Message, is.LineNumber, is.Severity)
		if seen[key] {
			return
		}
		seen[key] = true
		issues = append(issues, is)
	}

	for _, fr := range frames {
		checkBounds(fr, cfg, emit)
		checkOverlaps(fr, cfg, emit)
		checkOcclusion(fr, emit)
		checkText(fr, cfg, emit)
		checkHighlights(fr, cfg, emit)
	}
	return issues
}

func checkBounds(fr FrameSnapshot, cfg SpatialConfig, emit func(SpatialIssue)) {
	xMin := cfg.Bounds.XMin + cfg.Margin
	xMax := cfg.Bounds.XMax - cfg.Margin
	yMin := cfg.Bounds.YMin + cfg.Margin
	yMax := cfg.Bounds.YMax - cfg.Margin
	for _, o := range fr.Objects {
		if o.X0 < xMin || o.X1 > xMax || o.Y0 < yMin || o.Y1 > yMax {
			emit(SpatialIssue{
				LineNumber:   o.Line,
				Severity:     SeverityError,
				Message:      fmt.Sprintf("%s extends outside the safe frame (box [%.2f,%.2f]x[%.2f,%.2f])", o.Name, o.X0, o.X1, o.Y0, o.Y1),
				SuggestedFix: fmt.Sprintf("move or scale %s so it stays inside x in [%.1f,%.1f], y in [%.1f,%.1f]", o.Name, xMin, xMax, yMin, yMax),
				FrameID:      fr.FrameID,
			})
		}
	}
}

func checkOverlaps(fr FrameSnapshot, cfg SpatialConfig, emit func(SpatialIssue)) {
	for i := 0; i < len(fr.Objects); i++ {
		for j := i + 1; j < len(fr.Objects); j++ {
			a, b := fr.Objects[i], fr.Objects[j]
			if a.Kind == "highlight" || b.Kind == "highlight" {
				continue
			}
			inter := intersection(a, b)
			if inter < cfg.OverlapAreaThreshold {
				continue
			}
			// A label fully inside its shape is intentional.
			smaller := minF(a.area(), b.area())
			if smaller > 0 && inter/smaller >= cfg.ContainmentExemption && (a.Kind == "text") != (b.Kind == "text") {
				continue
			}
			emit(SpatialIssue{
				LineNumber:   firstLine(a, b),
				Severity:     SeverityWarning,
				Message:      fmt.Sprintf("%s and %s overlap by %.2f area units", a.Name, b.Name, inter),
				SuggestedFix: fmt.Sprintf("separate %s and %s, e.g. with next_to or a larger buff", a.Name, b.Name),
				FrameID:      fr.FrameID,
			})
		}
	}
}

func checkOcclusion(fr FrameSnapshot, emit func(SpatialIssue)) {
	for _, txt := range fr.Objects {
		if txt.Kind != "text" {
			continue
		}
		for _, other := range fr.Objects {
			if other.Name == txt.Name || other.Kind == "text" || other.Kind == "highlight" {
				continue
			}
			if other.Z <= txt.Z {
				continue
			}
			inter := intersection(txt, other)
			if txt.area() > 0 && inter/txt.area() > 0.5 {
				emit(SpatialIssue{
					LineNumber:   firstLine(txt, other),
					Severity:     SeverityError,
					Message:      fmt.Sprintf("text %s is occluded by %s drawn above it", txt.Name, other.Name),
					SuggestedFix: fmt.Sprintf("raise %s with set_z_index or draw %s first", txt.Name, other.Name),
					FrameID:      fr.FrameID,
				})
			}
		}
	}
}

func checkText(fr FrameSnapshot, cfg SpatialConfig, emit func(SpatialIssue)) {
	for _, o := range fr.Objects {
		if o.Kind != "text" {
			continue
		}
		if cfg.MaxFontSize > 0 && o.FontSize > cfg.MaxFontSize {
			emit(SpatialIssue{
				LineNumber:   o.Line,
				Severity:     SeverityWarning,
				Message:      fmt.Sprintf("%s font size %.0f exceeds %.0f", o.Name, o.FontSize, cfg.MaxFontSize),
				SuggestedFix: fmt.Sprintf("reduce font_size of %s to at most %.0f", o.Name, cfg.MaxFontSize),
				FrameID:      fr.FrameID,
			})
		}
		if cfg.MaxTextLen > 0 && o.TextLen > cfg.MaxTextLen {
			emit(SpatialIssue{
				LineNumber:   o.Line,
				Severity:     SeverityWarning,
				Message:      fmt.Sprintf("%s holds %d characters of text; screens this dense are unreadable", o.Name, o.TextLen),
				SuggestedFix: fmt.Sprintf("split %s into shorter lines or multiple sequenced texts", o.Name),
				FrameID:      fr.FrameID,
			})
		}
	}
}

func checkHighlights(fr FrameSnapshot, cfg SpatialConfig, emit func(SpatialIssue)) {
	byName := map[string]MobjectBox{}
	for _, o := range fr.Objects {
		byName[o.Name] = o
	}
	for _, h := range fr.Objects {
		if h.Kind != "highlight" {
			continue
		}
		if h.Target == "" {
			continue
		}
		target, ok := byName[h.Target]
		if !ok {
			emit(SpatialIssue{
				LineNumber:   h.Line,
				Severity:     SeverityError,
				Message:      fmt.Sprintf("highlight %s targets %s which is not on screen", h.Name, h.Target),
				SuggestedFix: fmt.Sprintf("keep %s visible while %s runs, or drop the highlight", h.Target, h.Name),
				FrameID:      fr.FrameID,
			})
			continue
		}
		if target.X1 < cfg.Bounds.XMin || target.X0 > cfg.Bounds.XMax || target.Y1 < cfg.Bounds.YMin || target.Y0 > cfg.Bounds.YMax {
			emit(SpatialIssue{
				LineNumber:   h.Line,
				Severity:     SeverityError,
				Message:      fmt.Sprintf("highlight %s targets %s which sits off screen", h.Name, h.Target),
				SuggestedFix: fmt.Sprintf("move %s on screen before highlighting it", h.Target),
				FrameID:      fr.FrameID,
			})
			continue
		}
		if target.area() < cfg.MinHighlightArea {
			emit(SpatialIssue{
				LineNumber:   h.Line,
				Severity:     SeverityWarning,
				Message:      fmt.Sprintf("highlight %s targets %s whose area %.3f is too small to read", h.Name, h.Target, target.area()),
				SuggestedFix: fmt.Sprintf("scale %s up before highlighting it", h.Target),
				FrameID:      fr.FrameID,
			})
		}
	}
}

func firstLine(a, b MobjectBox) int {
	if a.Line > 0 {
		return a.Line
	}
	return b.Line
}

func (is SpatialIssue) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", is.Severity, is.Message)
	if is.LineNumber > 0 {
		fmt.Fprintf(&b, " (line %d)", is.LineNumber)
	}
	if is.SuggestedFix != "" {
		fmt.Fprintf(&b, " -- fix: %s", is.SuggestedFix)
	}
	return b.String()
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
