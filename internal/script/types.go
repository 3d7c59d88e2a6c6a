package script

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/google/renameio/v2"

	pkgerrors "github.com/yungbote/scholarcast-backend/internal/pkg/errors"
)

// Mode selects how the script pipeline generates narration.
type Mode string

const (
	ModeOverview      Mode = "overview"
	ModeComprehensive Mode = "comprehensive"
)

// CharsPerSecond is the fixed narration pacing used for duration estimates.
const CharsPerSecond = 12.5

var sectionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// NarrationSegment is the unit of TTS. Segments form a contiguous,
// non-overlapping timeline starting at 0 within their section.
type NarrationSegment struct {
	Text              string  `json:"text"`
	EstimatedDuration float64 `json:"estimated_duration"`
	StartTime         float64 `json:"start_time"`
	EndTime           float64 `json:"end_time"`
	SegmentIndex      int     `json:"segment_index"`
}

// SupportingData is an opaque structured item consumed by the animation
// agent (figures to recreate, tables, referenced equations).
type SupportingData struct {
	Kind            string `json:"kind"`
	Content         string `json:"content"`
	RecreateInVideo bool   `json:"recreate_in_video,omitempty"`
}

type Section struct {
	ID             string             `json:"id"`
	Title          string             `json:"title"`
	Narration      string             `json:"narration"`
	TTSNarration   string             `json:"tts_narration"`
	Segments       []NarrationSegment `json:"segments"`
	SupportingData []SupportingData   `json:"supporting_data,omitempty"`
	VisualType     string             `json:"visual_type,omitempty"`
	PageStart      int                `json:"page_start,omitempty"`
	PageEnd        int                `json:"page_end,omitempty"`

	// Realized artifacts, attached after processing.
	VideoPath           string  `json:"video_path,omitempty"`
	AudioPath           string  `json:"audio_path,omitempty"`
	AnimationSourcePath string  `json:"animation_source_path,omitempty"`
	Duration            float64 `json:"duration,omitempty"`
}

// SceneClassName PascalCases the section id into the renderer class name.
func (s *Section) SceneClassName() string {
	parts := regexp.MustCompile(`[_\-\s]+`).Split(s.ID, -1)
	var b strings.Builder
	b.WriteString("Scene")
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		if len(p) > 1 {
			b.WriteString(p[1:])
		}
	}
	return b.String()
}

type Script struct {
	Title              string    `json:"title"`
	SubjectArea        string    `json:"subject_area"`
	Overview           string    `json:"overview"`
	LearningObjectives []string  `json:"learning_objectives"`
	Sections           []Section `json:"sections"`
	TotalDuration      float64   `json:"total_duration"`
	Language           string    `json:"language"`
}

// Validate enforces the structural invariants of §3: unique safe section
// ids and a contiguous segment timeline per section.
func (sc *Script) Validate() error {
	if len(sc.Sections) == 0 {
		return fmt.Errorf("%w: script has no sections", pkgerrors.ErrInvalidArgument)
	}
	seen := map[string]bool{}
	for i := range sc.Sections {
		sec := &sc.Sections[i]
		if !sectionIDPattern.MatchString(sec.ID) {
			return fmt.Errorf("%w: section %d id %q", pkgerrors.ErrInvalidID, i, sec.ID)
		}
		if seen[sec.ID] {
			return fmt.Errorf("%w: duplicate section id %q", pkgerrors.ErrInvalidArgument, sec.ID)
		}
		seen[sec.ID] = true
		if err := ValidateSegments(sec.Segments); err != nil {
			return fmt.Errorf("section %q: %w", sec.ID, err)
		}
	}
	return nil
}

// ValidateSegments checks the contiguous-timeline invariant:
// start at 0, end_time[i] == start_time[i+1], contiguous indices.
func ValidateSegments(segments []NarrationSegment) error {
	const eps = 1e-6
	for i, seg := range segments {
		if seg.SegmentIndex != i {
			return fmt.Errorf("%w: segment index %d at position %d", pkgerrors.ErrInvalidArgument, seg.SegmentIndex, i)
		}
		if seg.EndTime < seg.StartTime {
			return fmt.Errorf("%w: segment %d ends before it starts", pkgerrors.ErrInvalidArgument, i)
		}
		if i == 0 {
			if seg.StartTime > eps {
				return fmt.Errorf("%w: first segment starts at %.3f", pkgerrors.ErrInvalidArgument, seg.StartTime)
			}
			continue
		}
		prev := segments[i-1]
		if diff := seg.StartTime - prev.EndTime; diff > eps || diff < -eps {
			return fmt.Errorf("%w: segment %d timeline gap %.3f", pkgerrors.ErrInvalidArgument, i, diff)
		}
	}
	return nil
}

// EstimateDuration is the chars-per-second estimate for a narration string.
func EstimateDuration(text string) float64 {
	return float64(len(strings.TrimSpace(text))) / CharsPerSecond
}

// Save writes the script atomically (temp-write + rename). Written exactly
// once per job; re-saves only attach realized artifact paths.
func (sc *Script) Save(path string) error {
	raw, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, raw, 0o644)
}

func Load(path string) (*Script, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pkgerrors.ErrNotFound
		}
		return nil, err
	}
	var sc Script
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	return &sc, nil
}

// WordCount counts whitespace-delimited words; used by the overview-mode
// constraint validator.
func WordCount(s string) int {
	return len(strings.Fields(s))
}
