package anim

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	pkgerrors "github.com/yungbote/scholarcast-backend/internal/pkg/errors"
)

// Choreography Plan v2: the single carrier of intent between the reasoning
// step and the code step. Every fallback path emerges in this shape so the
// implementer never branches on provenance.

type SceneMode string

const (
	Scene2D SceneMode = "2D"
	Scene3D SceneMode = "3D"
)

type Bounds struct {
	XMin float64 `json:"x_min"`
	XMax float64 `json:"x_max"`
	YMin float64 `json:"y_min"`
	YMax float64 `json:"y_max"`
}

// DefaultSafeBounds is the virtual-scene region objects must stay inside.
var DefaultSafeBounds = Bounds{XMin: -5.5, XMax: 5.5, YMin: -3.0, YMax: 3.0}

type Scene struct {
	Mode       SceneMode `json:"mode"`
	Camera     string    `json:"camera,omitempty"`
	SafeBounds Bounds    `json:"safe_bounds"`
}

type Content struct {
	Text      string `json:"text,omitempty"`
	Latex     string `json:"latex,omitempty"`
	AssetPath string `json:"asset_path,omitempty"`
}

type XY struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Relative struct {
	RelativeTo string  `json:"relative_to"`
	Relation   string  `json:"relation"`
	Spacing    float64 `json:"spacing"`
}

type Placement struct {
	Type     string    `json:"type"` // absolute | relative
	Absolute *XY       `json:"absolute,omitempty"`
	Relative *Relative `json:"relative,omitempty"`
}

type Lifecycle struct {
	AppearAt float64 `json:"appear_at"`
	RemoveAt float64 `json:"remove_at"`
}

type Object struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Content   Content   `json:"content"`
	Placement Placement `json:"placement"`
	Lifecycle Lifecycle `json:"lifecycle"`
}

type Action struct {
	At      float64 `json:"at"`
	Op      string  `json:"op"`
	Target  string  `json:"target"`
	Source  string  `json:"source,omitempty"`
	RunTime float64 `json:"run_time"`
}

type TimelineSegment struct {
	SegmentIndex int      `json:"segment_index"`
	StartAt      float64  `json:"start_at"`
	EndAt        float64  `json:"end_at"`
	Actions      []Action `json:"actions"`
}

type Constraints struct {
	Language           string   `json:"language"`
	MaxVisibleObjects  int      `json:"max_visible_objects"`
	ForbiddenConstants []string `json:"forbidden_constants"`
}

type Plan struct {
	Scene       Scene             `json:"scene"`
	Objects     []Object          `json:"objects"`
	Timeline    []TimelineSegment `json:"timeline"`
	Constraints Constraints       `json:"constraints"`
}

var validRelations = map[string]bool{
	"above": true, "below": true, "left_of": true, "right_of": true,
}

// sceneBuiltins are timeline targets that resolve without an object id.
var sceneBuiltins = map[string]bool{
	"camera": true, "frame": true, "scene": true, "self": true,
}

// DecodePlan accepts either a v2 plan or a legacy plan shape and coerces
// both into the typed Plan. Unknown fields are discarded.
func DecodePlan(raw map[string]any) (*Plan, error) {
	if raw == nil {
		return nil, fmt.Errorf("empty plan payload")
	}
	coerceLegacy(raw)
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &p, nil
}

// coerceLegacy maps the legacy plan keys onto the v2 shape in place:
// elements->objects, position->absolute placement, animations->timeline.
func coerceLegacy(raw map[string]any) {
	if _, hasObjects := raw["objects"]; !hasObjects {
		if elements, ok := raw["elements"].([]any); ok {
			raw["objects"] = elements
		}
	}
	if objects, ok := raw["objects"].([]any); ok {
		for _, o := range objects {
			obj, ok := o.(map[string]any)
			if !ok {
				continue
			}
			if _, hasPlacement := obj["placement"]; !hasPlacement {
				if pos, ok := obj["position"].(map[string]any); ok {
					obj["placement"] = map[string]any{"type": "absolute", "absolute": pos}
				}
			}
			if _, hasLifecycle := obj["lifecycle"]; !hasLifecycle {
				lc := map[string]any{}
				if v, ok := obj["appear_at"]; ok {
					lc["appear_at"] = v
				}
				if v, ok := obj["remove_at"]; ok {
					lc["remove_at"] = v
				}
				if len(lc) > 0 {
					obj["lifecycle"] = lc
				}
			}
		}
	}
	if _, hasTimeline := raw["timeline"]; !hasTimeline {
		if anims, ok := raw["animations"].([]any); ok {
			raw["timeline"] = []any{map[string]any{
				"segment_index": 0,
				"start_at":      0,
				"end_at":        legacyEnd(anims),
				"actions":       anims,
			}}
		}
	}
	if scene, ok := raw["scene"].(map[string]any); ok {
		if mode, ok := scene["mode"].(string); ok {
			scene["mode"] = strings.ToUpper(strings.TrimSpace(mode))
		}
	}
}

func legacyEnd(actions []any) float64 {
	end := 0.0
	for _, a := range actions {
		m, ok := a.(map[string]any)
		if !ok {
			continue
		}
		at := numberOf(m["at"]) + numberOf(m["time"])
		run := numberOf(m["run_time"])
		if at+run > end {
			end = at + run
		}
	}
	return end
}

func numberOf(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	}
	return 0
}

// Normalize coerces a decoded plan into canonical v2 form and validates
// the invariants that cannot be coerced. Idempotent: normalize(normalize(p))
// equals normalize(p).
func Normalize(p *Plan) (*Plan, error) {
	if p == nil {
		return nil, fmt.Errorf("nil plan")
	}
	out := *p

	if out.Scene.Mode != Scene3D {
		out.Scene.Mode = Scene2D
	}
	if out.Scene.SafeBounds == (Bounds{}) {
		out.Scene.SafeBounds = DefaultSafeBounds
	}

	ids := map[string]bool{}
	objects := make([]Object, 0, len(out.Objects))
	for i, obj := range out.Objects {
		if strings.TrimSpace(obj.ID) == "" {
			return nil, fmt.Errorf("object %d: empty id", i)
		}
		if ids[obj.ID] {
			return nil, fmt.Errorf("duplicate object id %q", obj.ID)
		}
		ids[obj.ID] = true

		switch obj.Placement.Type {
		case "relative":
			if obj.Placement.Relative == nil {
				obj.Placement = Placement{Type: "absolute", Absolute: &XY{}}
				break
			}
			// Unknown relation strings default to below. Work on a copy so
			// the caller's plan is never written through the shared pointer.
			rel := *obj.Placement.Relative
			if !validRelations[rel.Relation] {
				rel.Relation = "below"
			}
			obj.Placement.Relative = &rel
			obj.Placement.Absolute = nil
		case "absolute":
			if obj.Placement.Absolute == nil {
				obj.Placement.Absolute = &XY{}
			}
			obj.Placement.Relative = nil
		default:
			// Unknown placement types default to absolute at origin.
			obj.Placement = Placement{Type: "absolute", Absolute: &XY{}}
		}

		obj.Lifecycle.AppearAt = quantizeMS(obj.Lifecycle.AppearAt)
		obj.Lifecycle.RemoveAt = quantizeMS(obj.Lifecycle.RemoveAt)
		if obj.Lifecycle.RemoveAt < obj.Lifecycle.AppearAt {
			return nil, fmt.Errorf("object %q: appear_at %.3f after remove_at %.3f", obj.ID, obj.Lifecycle.AppearAt, obj.Lifecycle.RemoveAt)
		}
		objects = append(objects, obj)
	}
	out.Objects = objects

	// Relative anchors must resolve too.
	for _, obj := range out.Objects {
		if obj.Placement.Type == "relative" && !ids[obj.Placement.Relative.RelativeTo] {
			return nil, fmt.Errorf("object %q: relative_to %q unresolved", obj.ID, obj.Placement.Relative.RelativeTo)
		}
	}

	timeline := make([]TimelineSegment, 0, len(out.Timeline))
	for _, seg := range out.Timeline {
		seg.StartAt = quantizeMS(seg.StartAt)
		seg.EndAt = quantizeMS(seg.EndAt)
		if seg.EndAt < seg.StartAt {
			return nil, fmt.Errorf("segment %d: ends before it starts", seg.SegmentIndex)
		}
		actions := make([]Action, 0, len(seg.Actions))
		for _, act := range seg.Actions {
			act.At = quantizeMS(act.At)
			act.RunTime = quantizeMS(act.RunTime)
			if act.Target == "" {
				continue
			}
			if !ids[act.Target] && !sceneBuiltins[act.Target] {
				return nil, fmt.Errorf("segment %d: action target %q unresolved", seg.SegmentIndex, act.Target)
			}
			if act.Source != "" && !ids[act.Source] && !sceneBuiltins[act.Source] {
				return nil, fmt.Errorf("segment %d: action source %q unresolved", seg.SegmentIndex, act.Source)
			}
			actions = append(actions, act)
		}
		seg.Actions = actions
		timeline = append(timeline, seg)
	}
	sort.SliceStable(timeline, func(i, j int) bool { return timeline[i].StartAt < timeline[j].StartAt })
	for i := 1; i < len(timeline); i++ {
		if timeline[i].StartAt < timeline[i-1].EndAt {
			return nil, fmt.Errorf("segments %d and %d overlap", timeline[i-1].SegmentIndex, timeline[i].SegmentIndex)
		}
	}
	out.Timeline = timeline

	if out.Constraints.MaxVisibleObjects <= 0 {
		out.Constraints.MaxVisibleObjects = 8
	}
	if out.Constraints.Language == "" {
		out.Constraints.Language = "en"
	}

	return &out, nil
}

func quantizeMS(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// PlanError wraps a normalization or generation failure in the
// choreography sentinel.
func PlanError(err error) error {
	return fmt.Errorf("%w: %v", pkgerrors.ErrChoreography, err)
}
