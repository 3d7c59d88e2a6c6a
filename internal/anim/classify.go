package anim

import "strings"

// Strategy buckets an error report so the refiner prompt can carry targeted
// hints instead of a generic "fix it".
type Strategy string

const (
	StrategySyntax    Strategy = "syntax_error"
	StrategyName      Strategy = "name_error"
	StrategyAttribute Strategy = "attribute_error"
	StrategyType      Strategy = "type_error"
	StrategyRuntime   Strategy = "runtime_error"
	StrategyManimAPI  Strategy = "manim_api"
	StrategyGeneral   Strategy = "general"
)

// manimMarkers promote an attribute error to manim_api when the message
// names renderer machinery rather than plain Python objects.
var manimMarkers = []string{
	"mobject", "vmobject", "scene", "animation", "manim",
	"self.play", "self.wait", "self.add", "camera", "axes", "mathtex",
	"fadein", "fadeout", "transform", "create(", "write(",
}

// Classify picks a strategy by keyword match, in priority order.
func Classify(errText string) Strategy {
	t := strings.ToLower(errText)
	switch {
	case strings.Contains(t, "syntaxerror") || strings.Contains(t, "indentationerror") || strings.Contains(t, "invalid syntax"):
		return StrategySyntax
	case strings.Contains(t, "nameerror") || strings.Contains(t, "is not defined"):
		return StrategyName
	case strings.Contains(t, "attributeerror") || strings.Contains(t, "has no attribute"):
		if containsAny(t, manimMarkers) {
			return StrategyManimAPI
		}
		return StrategyAttribute
	case strings.Contains(t, "typeerror") || strings.Contains(t, "unexpected keyword argument") || strings.Contains(t, "positional argument"):
		return StrategyType
	case strings.Contains(t, "valueerror") || strings.Contains(t, "indexerror") || strings.Contains(t, "keyerror") || strings.Contains(t, "zerodivisionerror") || strings.Contains(t, "exception"):
		return StrategyRuntime
	case containsAny(t, manimMarkers):
		return StrategyManimAPI
	}
	return StrategyGeneral
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// strategyHints are the per-strategy guidance lines injected into the
// refiner prompt.
var strategyHints = map[Strategy][]string{
	StrategySyntax: {
		"Check indentation: the method body starts at 8 spaces.",
		"Look for unclosed brackets, quotes and trailing colons.",
		"f-strings with LaTeX need doubled braces: f\"{{x}}\".",
	},
	StrategyName: {
		"The name is undefined at that point; define it earlier or fix the spelling.",
		"Variables created inside a loop or conditional may not exist on this path.",
		"Only Manim Community names are in scope; helpers from other libraries do not exist.",
	},
	StrategyAttribute: {
		"The object does not have that attribute; check what the expression actually returns.",
		"A method may return None; do not chain off calls that mutate in place.",
	},
	StrategyType: {
		"Check the argument list: a keyword argument is wrong or a positional count is off.",
		"Numeric arguments must not be strings; coordinates are floats.",
	},
	StrategyRuntime: {
		"Guard index and key accesses; an empty collection is being accessed.",
		"Check divisions and ranges for zero and negative values.",
	},
	StrategyManimAPI: {
		"Use Manim Community API names: Create, Write, FadeIn, FadeOut, Transform.",
		"Text uses font_size, MathTex takes raw LaTeX strings.",
		"Position with .move_to([x, y, 0]) and .next_to(obj, direction, buff=...).",
		"Animations go inside self.play(...); bare constructors render nothing.",
	},
	StrategyGeneral: {
		"Fix the first reported error; later errors are usually consequences.",
		"Prefer the smallest edit that resolves the message.",
	},
}

// HintsFor returns the prompt guidance for a strategy.
func HintsFor(s Strategy) []string {
	if h, ok := strategyHints[s]; ok {
		return h
	}
	return strategyHints[StrategyGeneral]
}
