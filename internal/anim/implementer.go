package anim

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/yungbote/scholarcast-backend/internal/llm"
	"github.com/yungbote/scholarcast-backend/internal/pkg/logger"
	"github.com/yungbote/scholarcast-backend/internal/script"
)

// bodyIndent is the column the snippet's outermost level is reindented to:
// two levels deep, inside class and construct.
const bodyIndent = 8

// Implementer turns a normalized plan into a code snippet and scaffolds it
// into a complete scene source file.
type Implementer struct {
	log *logger.Logger
	gw  llm.Gateway
}

func NewImplementer(log *logger.Logger, gw llm.Gateway) *Implementer {
	return &Implementer{log: log.With("service", "Implementer"), gw: gw}
}

type ImplementRequest struct {
	Section        *script.Section
	Plan           *Plan
	TargetDuration float64
	Temperature    float64
	Scope          string
}

// Scaffolded is the assembled source plus the line bookkeeping needed to map
// full-file error lines back to snippet-local lines.
type Scaffolded struct {
	Source       string
	ClassName    string
	PreludeLines int
}

func (im *Implementer) Implement(ctx context.Context, req ImplementRequest) (*Scaffolded, error) {
	if req.Section == nil || req.Plan == nil {
		return nil, fmt.Errorf("implement: missing section or plan")
	}

	res, err := im.gw.Generate(ctx, llm.Request{
		Prompt: im.prompt(req),
		Scope:  req.Scope + "/implement",
		Config: llm.GenerateConfig{
			Temperature:     req.Temperature,
			Timeout:         240 * time.Second,
			MaxOutputTokens: 16384,
			MaxRetries:      2,
		},
	})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("implement call failed: %s (%s)", res.Err, res.ErrorReason)
	}

	snippet := CleanSnippet(res.Response)
	return Scaffold(snippet, req.Section.SceneClassName()), nil
}

func (im *Implementer) prompt(req ImplementRequest) string {
	planJSON, _ := json.MarshalIndent(req.Plan, "", "  ")

	var b strings.Builder
	b.WriteString("Write the body of the construct method for a Manim Community scene animating this choreography plan.\n\n")
	b.WriteString("Plan:\n")
	b.Write(planJSON)
	fmt.Fprintf(&b, "\n\nTotal duration must be %.1f seconds; pad the tail with self.wait() so play and wait times sum to it.\n", req.TargetDuration)
	b.WriteString("Rules:\n")
	b.WriteString("- Emit ONLY the method body. No imports, no class line, no def line.\n")
	b.WriteString("- Use plain coordinates, never layout constants like ORIGIN, UP, LEFT.\n")
	b.WriteString("- Keep everything inside the plan's safe bounds.\n")
	b.WriteString("- Remove objects with FadeOut when the plan's lifecycle ends them.\n")
	return b.String()
}

var (
	fencePattern    = regexp.MustCompile("(?s)```(?:python|py)?\\s*\\n(.*?)```")
	importLine      = regexp.MustCompile(`^\s*(import\s+\S+|from\s+\S+\s+import\b)`)
	classLine       = regexp.MustCompile(`^\s*class\s+\w+\s*\(`)
	constructDefRe  = regexp.MustCompile(`^\s*def\s+construct\s*\(`)
	leadingSpaceRun = regexp.MustCompile(`^[ \t]*`)
)

// CleanSnippet reduces raw model output to a bare method body: longest fenced
// block if present, imports and class/def lines stripped, outermost level
// reindented to bodyIndent spaces.
func CleanSnippet(raw string) string {
	code := raw
	if blocks := fencePattern.FindAllStringSubmatch(raw, -1); len(blocks) > 0 {
		longest := ""
		for _, m := range blocks {
			if len(m[1]) > len(longest) {
				longest = m[1]
			}
		}
		code = longest
	}

	lines := strings.Split(strings.ReplaceAll(code, "\t", "    "), "\n")
	kept := make([]string, 0, len(lines))
	for _, ln := range lines {
		if importLine.MatchString(ln) || classLine.MatchString(ln) || constructDefRe.MatchString(ln) {
			continue
		}
		kept = append(kept, strings.TrimRight(ln, " "))
	}

	// Drop leading and trailing blanks before measuring indentation.
	for len(kept) > 0 && strings.TrimSpace(kept[0]) == "" {
		kept = kept[1:]
	}
	for len(kept) > 0 && strings.TrimSpace(kept[len(kept)-1]) == "" {
		kept = kept[:len(kept)-1]
	}
	if len(kept) == 0 {
		return ""
	}

	minIndent := -1
	for _, ln := range kept {
		if strings.TrimSpace(ln) == "" {
			continue
		}
		n := len(leadingSpaceRun.FindString(ln))
		if minIndent < 0 || n < minIndent {
			minIndent = n
		}
	}

	pad := strings.Repeat(" ", bodyIndent)
	out := make([]string, 0, len(kept))
	for _, ln := range kept {
		if strings.TrimSpace(ln) == "" {
			out = append(out, "")
			continue
		}
		out = append(out, pad+ln[minIndent:])
	}
	return strings.Join(out, "\n")
}

// autoImports maps symbol prefixes found in snippets to the import line each
// one needs.
var autoImports = []struct {
	marker string
	stmt   string
}{
	{"np.", "import numpy as np"},
	{"math.", "import math"},
	{"random.", "import random"},
	{"itertools.", "import itertools"},
}

// Scaffold assembles the final source file around a cleaned snippet and
// records how many prelude lines precede it.
func Scaffold(snippet, className string) *Scaffolded {
	var prelude []string
	prelude = append(prelude, "from manim import *")
	for _, ai := range autoImports {
		if strings.Contains(snippet, ai.marker) {
			prelude = append(prelude, ai.stmt)
		}
	}
	prelude = append(prelude, "")
	prelude = append(prelude, "")
	prelude = append(prelude, fmt.Sprintf("class %s(Scene):", className))
	prelude = append(prelude, "    def construct(self):")

	body := snippet
	if strings.TrimSpace(body) == "" {
		body = strings.Repeat(" ", bodyIndent) + "self.wait(1)"
	}

	return &Scaffolded{
		Source:       strings.Join(prelude, "\n") + "\n" + body + "\n",
		ClassName:    className,
		PreludeLines: len(prelude),
	}
}

// SnippetLine translates a line number reported against the full file into a
// snippet-local line. Lines inside the prelude map to zero.
func (s *Scaffolded) SnippetLine(fileLine int) int {
	local := fileLine - s.PreludeLines
	if local < 0 {
		return 0
	}
	return local
}
