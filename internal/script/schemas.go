package script

import (
	"github.com/yungbote/scholarcast-backend/internal/llm"
)

// Strict-mode schema rules apply everywhere: additionalProperties false and
// required listing every property. Per-field semantics (word counts, section
// counts) are enforced in code, not in the schema.

func sectionSchema() map[string]any {
	return llm.ObjectSchema(map[string]any{
		"id":            llm.StringSchema(),
		"title":         llm.StringSchema(),
		"narration":     llm.StringSchema(),
		"tts_narration": llm.StringSchema(),
		"visual_type":   llm.StringSchema(),
		"page_start":    llm.IntegerSchema(),
		"page_end":      llm.IntegerSchema(),
	})
}

// ScriptSchema is the overview-mode single-call script shape.
func ScriptSchema() map[string]any {
	return llm.ObjectSchema(map[string]any{
		"title":               llm.StringSchema(),
		"subject_area":        llm.StringSchema(),
		"overview":            llm.StringSchema(),
		"learning_objectives": llm.StringArraySchema(),
		"sections":            llm.ArraySchema(sectionSchema()),
	})
}

// OutlineSchema is phase one of comprehensive mode.
func OutlineSchema() map[string]any {
	outlineSection := llm.ObjectSchema(map[string]any{
		"id":                         llm.StringSchema(),
		"title":                      llm.StringSchema(),
		"section_type":               llm.StringSchema(),
		"content_to_cover":           llm.StringSchema(),
		"key_points":                 llm.StringArraySchema(),
		"visual_type":                llm.StringSchema(),
		"estimated_duration_seconds": llm.NumberSchema(),
		"page_start":                 llm.IntegerSchema(),
		"page_end":                   llm.IntegerSchema(),
	})
	return llm.ObjectSchema(map[string]any{
		"title":               llm.StringSchema(),
		"subject_area":        llm.StringSchema(),
		"overview":            llm.StringSchema(),
		"learning_objectives": llm.StringArraySchema(),
		"sections_outline":    llm.ArraySchema(outlineSection),
	})
}

// SectionNarrationSchema is phase two of comprehensive mode, one call per
// section.
func SectionNarrationSchema() map[string]any {
	return llm.ObjectSchema(map[string]any{
		"narration":     llm.StringSchema(),
		"tts_narration": llm.StringSchema(),
	})
}

// LanguageSchema is the short detection call.
func LanguageSchema() map[string]any {
	return llm.ObjectSchema(map[string]any{
		"language": llm.StringSchema(),
	})
}
