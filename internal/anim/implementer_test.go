package anim

import (
	"strings"
	"testing"
)

func TestCleanSnippetPicksLongestFencedBlock(t *testing.T) {
	raw := "Here is a helper:\n```python\nx = 1\n```\nAnd the full body:\n```python\ncircle = Circle()\nself.play(Create(circle))\nself.wait(2)\n```\n"
	got := CleanSnippet(raw)
	if strings.Contains(got, "x = 1") {
		t.Fatalf("short block chosen:\n%s", got)
	}
	if !strings.Contains(got, "self.play(Create(circle))") {
		t.Fatalf("long block missing:\n%s", got)
	}
}

func TestCleanSnippetStripsStructuralLines(t *testing.T) {
	raw := strings.Join([]string{
		"from manim import *",
		"import numpy as np",
		"class FullScene(Scene):",
		"    def construct(self):",
		"        dot = Dot()",
		"        self.add(dot)",
	}, "\n")
	got := CleanSnippet(raw)
	for _, banned := range []string{"import", "class ", "def construct"} {
		if strings.Contains(got, banned) {
			t.Fatalf("structural line %q survived:\n%s", banned, got)
		}
	}
	for _, ln := range strings.Split(got, "\n") {
		if strings.TrimSpace(ln) == "" {
			continue
		}
		if !strings.HasPrefix(ln, "        ") || strings.HasPrefix(ln, "         ") {
			t.Fatalf("line not reindented to 8 spaces: %q", ln)
		}
	}
}

func TestCleanSnippetPreservesRelativeIndent(t *testing.T) {
	raw := "for i in range(3):\n    self.wait(1)"
	got := CleanSnippet(raw)
	lines := strings.Split(got, "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	if lines[0] != "        for i in range(3):" {
		t.Fatalf("outer line = %q", lines[0])
	}
	if lines[1] != "            self.wait(1)" {
		t.Fatalf("inner line = %q", lines[1])
	}
}

func TestScaffoldAutoImportsAndPrelude(t *testing.T) {
	snippet := "        pts = [np.sin(x) for x in range(10)]\n        self.wait(1)"
	sc := Scaffold(snippet, "Section3Scene")
	if !strings.Contains(sc.Source, "import numpy as np") {
		t.Fatalf("numpy auto-import missing:\n%s", sc.Source)
	}
	if strings.Contains(sc.Source, "import math") {
		t.Fatalf("unneeded import added:\n%s", sc.Source)
	}
	if !strings.Contains(sc.Source, "class Section3Scene(Scene):") {
		t.Fatalf("class header missing:\n%s", sc.Source)
	}
	if sc.PreludeLines != 6 {
		t.Fatalf("prelude lines = %d, want 6", sc.PreludeLines)
	}
}

func TestScaffoldEmptySnippetGetsWait(t *testing.T) {
	sc := Scaffold("", "EmptyScene")
	if !strings.Contains(sc.Source, "        self.wait(1)") {
		t.Fatalf("empty body should become a wait:\n%s", sc.Source)
	}
}

func TestSnippetLineMapping(t *testing.T) {
	sc := Scaffold("        self.wait(1)", "S")
	if got := sc.SnippetLine(sc.PreludeLines + 1); got != 1 {
		t.Fatalf("first body line maps to %d, want 1", got)
	}
	if got := sc.SnippetLine(2); got != 0 {
		t.Fatalf("prelude line maps to %d, want 0", got)
	}
}
