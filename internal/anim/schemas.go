package anim

import "github.com/yungbote/scholarcast-backend/internal/llm"

// PlanSchema is the strict v2 choreography plan shape.
func PlanSchema() map[string]any {
	placement := llm.ObjectSchema(map[string]any{
		"type": llm.EnumSchema("absolute", "relative"),
		"absolute": llm.ObjectSchema(map[string]any{
			"x": llm.NumberSchema(),
			"y": llm.NumberSchema(),
		}),
		"relative": llm.ObjectSchema(map[string]any{
			"relative_to": llm.StringSchema(),
			"relation":    llm.EnumSchema("above", "below", "left_of", "right_of"),
			"spacing":     llm.NumberSchema(),
		}),
	})
	object := llm.ObjectSchema(map[string]any{
		"id":   llm.StringSchema(),
		"kind": llm.EnumSchema("text", "latex", "shape", "axes", "graph", "image", "highlight", "group"),
		"content": llm.ObjectSchema(map[string]any{
			"text":       llm.StringSchema(),
			"latex":      llm.StringSchema(),
			"asset_path": llm.StringSchema(),
		}),
		"placement": placement,
		"lifecycle": llm.ObjectSchema(map[string]any{
			"appear_at": llm.NumberSchema(),
			"remove_at": llm.NumberSchema(),
		}),
	})
	action := llm.ObjectSchema(map[string]any{
		"at":       llm.NumberSchema(),
		"op":       llm.StringSchema(),
		"target":   llm.StringSchema(),
		"source":   llm.StringSchema(),
		"run_time": llm.NumberSchema(),
	})
	segment := llm.ObjectSchema(map[string]any{
		"segment_index": llm.IntegerSchema(),
		"start_at":      llm.NumberSchema(),
		"end_at":        llm.NumberSchema(),
		"actions":       llm.ArraySchema(action),
	})
	return llm.ObjectSchema(map[string]any{
		"scene": llm.ObjectSchema(map[string]any{
			"mode":   llm.EnumSchema("2D", "3D"),
			"camera": llm.StringSchema(),
			"safe_bounds": llm.ObjectSchema(map[string]any{
				"x_min": llm.NumberSchema(),
				"x_max": llm.NumberSchema(),
				"y_min": llm.NumberSchema(),
				"y_max": llm.NumberSchema(),
			}),
		}),
		"objects":  llm.ArraySchema(object),
		"timeline": llm.ArraySchema(segment),
		"constraints": llm.ObjectSchema(map[string]any{
			"language":            llm.StringSchema(),
			"max_visible_objects": llm.IntegerSchema(),
			"forbidden_constants": llm.StringArraySchema(),
		}),
	})
}

// CompactPlanSchema is the short fallback shape used when the full schema
// keeps failing. Normalization lifts it into the v2 plan.
func CompactPlanSchema() map[string]any {
	element := llm.ObjectSchema(map[string]any{
		"id":        llm.StringSchema(),
		"kind":      llm.StringSchema(),
		"text":      llm.StringSchema(),
		"appear_at": llm.NumberSchema(),
		"remove_at": llm.NumberSchema(),
	})
	animation := llm.ObjectSchema(map[string]any{
		"at":       llm.NumberSchema(),
		"op":       llm.StringSchema(),
		"target":   llm.StringSchema(),
		"run_time": llm.NumberSchema(),
	})
	return llm.ObjectSchema(map[string]any{
		"elements":   llm.ArraySchema(element),
		"animations": llm.ArraySchema(animation),
	})
}
