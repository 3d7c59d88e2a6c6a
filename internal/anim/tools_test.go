package anim

import (
	"context"
	"strings"
	"testing"

	"github.com/yungbote/scholarcast-backend/internal/llm"
)

func newSession() *editSession {
	sc := refineScaffold()
	return &editSession{className: sc.ClassName, source: sc.Source}
}

func TestToolDispatchRejectsUnknownName(t *testing.T) {
	s := newSession()
	if _, err := s.Handle(context.Background(), llm.FunctionCall{Name: "delete_scene"}); err == nil {
		t.Fatal("unknown tool must be rejected")
	}
	if s.applied != 0 {
		t.Fatalf("applied = %d after rejected call", s.applied)
	}
}

func TestToolTableCoversDeclaredTools(t *testing.T) {
	for _, decl := range refineToolDecls() {
		if _, ok := refineTools[decl.Name]; !ok {
			t.Fatalf("declared tool %s has no handler", decl.Name)
		}
	}
	if len(refineTools) != 3 {
		t.Fatalf("dispatch table has %d entries, want 3", len(refineTools))
	}
}

func TestWriteCodeReplacesConstructBody(t *testing.T) {
	s := newSession()
	payload, err := s.Handle(context.Background(), llm.FunctionCall{
		Name: ToolWriteCode,
		Args: map[string]any{"code": "square = Square()\nself.play(Create(square))\nself.wait(2)"},
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(payload, EditApplied) {
		t.Fatalf("payload = %q", payload)
	}
	if !strings.Contains(s.source, "class SectionScene(Scene):") {
		t.Fatalf("scaffold lost:\n%s", s.source)
	}
	if !strings.Contains(s.source, "square = Square()") || strings.Contains(s.source, "circl") {
		t.Fatalf("body not replaced:\n%s", s.source)
	}
	if s.applied != 1 {
		t.Fatalf("applied = %d, want 1", s.applied)
	}
}

func TestWriteCodeEmptySnippetIsRejected(t *testing.T) {
	s := newSession()
	before := s.source
	payload, err := s.Handle(context.Background(), llm.FunctionCall{
		Name: ToolWriteCode,
		Args: map[string]any{"code": "   \n\n"},
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(payload, EditEmpty) {
		t.Fatalf("payload = %q", payload)
	}
	if s.source != before || s.applied != 0 {
		t.Fatal("empty rewrite must not touch the buffer")
	}
}

func TestSurgicalEditStatuses(t *testing.T) {
	s := newSession()

	payload, err := s.Handle(context.Background(), surgicalCall("no_such_text", "x"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(payload, EditNotFound) {
		t.Fatalf("payload = %q", payload)
	}

	s.source += "        circl = Circle()\n"
	payload, err = s.Handle(context.Background(), surgicalCall("circl = Circle()", "circle = Circle()"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(payload, EditAmbiguous) {
		t.Fatalf("payload = %q", payload)
	}
	if s.applied != 0 {
		t.Fatalf("applied = %d after rejected edits", s.applied)
	}
}

func TestPatchCodeAppliesThroughTable(t *testing.T) {
	s := newSession()
	payload, err := s.Handle(context.Background(), llm.FunctionCall{
		Name: ToolPatchCode,
		Args: map[string]any{
			"search_text":      "circl = Circle()\n        self.play(Create(circl))",
			"replacement_text": "circle = Circle()\n        self.play(Create(circle))",
		},
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(payload, EditApplied) {
		t.Fatalf("payload = %q", payload)
	}
	if !strings.Contains(s.source, "self.play(Create(circle))") {
		t.Fatalf("block not replaced:\n%s", s.source)
	}
}

func TestSessionCapsEditsPerTurn(t *testing.T) {
	s := newSession()
	for i := 0; i < maxEditsPerTurn; i++ {
		s.source += "        pad\n"
		if _, err := s.Handle(context.Background(), surgicalCall("pad", "filled")); err != nil {
			t.Fatalf("edit %d: %v", i, err)
		}
	}
	payload, err := s.Handle(context.Background(), surgicalCall("filled", "again"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(payload, "limit_reached") {
		t.Fatalf("payload = %q", payload)
	}
	if s.applied != maxEditsPerTurn {
		t.Fatalf("applied = %d, want %d", s.applied, maxEditsPerTurn)
	}
}
