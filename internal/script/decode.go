package script

import (
	"encoding/json"
	"fmt"
)

// Decoded LLM outputs land in typed records before use; unknown fields are
// discarded by the round trip.

func decodeScript(parsed map[string]any) (*Script, error) {
	raw, err := json.Marshal(parsed)
	if err != nil {
		return nil, err
	}
	var sc Script
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("decode script payload: %w", err)
	}
	if len(sc.Sections) == 0 {
		return nil, fmt.Errorf("script payload has no sections")
	}
	return &sc, nil
}

// Outline is phase one of comprehensive mode.
type Outline struct {
	Title              string           `json:"title"`
	SubjectArea        string           `json:"subject_area"`
	Overview           string           `json:"overview"`
	LearningObjectives []string         `json:"learning_objectives"`
	Sections           []OutlineSection `json:"sections_outline"`
}

type OutlineSection struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	SectionType      string   `json:"section_type"`
	ContentToCover   string   `json:"content_to_cover"`
	KeyPoints        []string `json:"key_points"`
	VisualType       string   `json:"visual_type"`
	EstimatedSeconds float64  `json:"estimated_duration_seconds"`
	PageStart        int      `json:"page_start"`
	PageEnd          int      `json:"page_end"`
}

func decodeOutline(parsed map[string]any) (*Outline, error) {
	raw, err := json.Marshal(parsed)
	if err != nil {
		return nil, err
	}
	var o Outline
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("decode outline payload: %w", err)
	}
	if len(o.Sections) == 0 {
		return nil, fmt.Errorf("outline payload has no sections")
	}
	return &o, nil
}

type sectionNarration struct {
	Narration    string `json:"narration"`
	TTSNarration string `json:"tts_narration"`
}

func decodeSectionNarration(parsed map[string]any) (*sectionNarration, error) {
	raw, err := json.Marshal(parsed)
	if err != nil {
		return nil, err
	}
	var s sectionNarration
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode section payload: %w", err)
	}
	if s.Narration == "" {
		return nil, fmt.Errorf("section payload has empty narration")
	}
	return &s, nil
}
