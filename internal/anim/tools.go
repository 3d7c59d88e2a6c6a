package anim

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/scholarcast-backend/internal/llm"
)

// Tool names exposed to the fixer model.
const (
	ToolWriteCode    = "write_manim_code"
	ToolPatchCode    = "patch_manim_code"
	ToolSurgicalEdit = "apply_surgical_edit"
)

// editSession is the working state of one fix turn. Tool calls mutate the
// session copy of the source only; the caller adopts the buffer after a
// successful turn, so a failed turn leaves the original untouched.
type editSession struct {
	className string
	source    string
	applied   int
	outcomes  []EditOutcome
}

// refineTools is the static dispatch table routing fixer function calls to
// their host handlers.
var refineTools = map[string]func(*editSession, llm.FunctionCall) (string, error){
	ToolWriteCode:    (*editSession).writeCode,
	ToolPatchCode:    (*editSession).applyEdit,
	ToolSurgicalEdit: (*editSession).applyEdit,
}

// Handle is the session's llm.ToolHandler.
func (s *editSession) Handle(_ context.Context, call llm.FunctionCall) (string, error) {
	fn, ok := refineTools[call.Name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}
	return fn(s, call)
}

// writeCode replaces the whole construct body with freshly written code,
// re-scaffolded under the session's scene class.
func (s *editSession) writeCode(call llm.FunctionCall) (string, error) {
	code, _ := call.Args["code"].(string)
	snippet := CleanSnippet(code)
	if strings.TrimSpace(snippet) == "" {
		return toolStatus(EditEmpty), nil
	}
	s.source = Scaffold(snippet, s.className).Source
	s.applied++
	s.outcomes = append(s.outcomes, EditOutcome{Index: len(s.outcomes), Status: EditApplied, Matched: "rewrite"})
	return toolStatus(EditApplied), nil
}

// applyEdit serves both patch_manim_code and apply_surgical_edit: the two
// differ only in the granularity the model is told to use.
func (s *editSession) applyEdit(call llm.FunctionCall) (string, error) {
	if s.applied >= maxEditsPerTurn {
		return toolStatus("limit_reached"), nil
	}
	search, _ := call.Args["search_text"].(string)
	replacement, _ := call.Args["replacement_text"].(string)
	if strings.TrimSpace(search) == "" {
		s.outcomes = append(s.outcomes, EditOutcome{Index: len(s.outcomes), Status: EditEmpty})
		return toolStatus(EditEmpty), nil
	}
	next, status, matched := applyOne(s.source, Edit{SearchText: search, ReplacementText: replacement})
	s.outcomes = append(s.outcomes, EditOutcome{Index: len(s.outcomes), Status: status, Matched: matched})
	if status == EditApplied {
		s.source = next
		s.applied++
	}
	return toolStatus(status), nil
}

// toolStatus is the payload fed back to the model after a tool call.
func toolStatus(status string) string {
	raw, _ := json.Marshal(map[string]string{"status": status})
	return string(raw)
}

// refineToolDecls declares the fixer tools for the gateway's tool loop.
func refineToolDecls() []llm.ToolDecl {
	editParams := llm.ObjectSchema(map[string]any{
		"search_text":      llm.StringSchema(),
		"replacement_text": llm.StringSchema(),
	})
	return []llm.ToolDecl{
		{
			Name:        ToolWriteCode,
			Description: "Replace the entire construct body with freshly written code.",
			Parameters:  llm.ObjectSchema(map[string]any{"code": llm.StringSchema()}),
		},
		{
			Name:        ToolPatchCode,
			Description: "Replace one multi-line block; search_text must match the file exactly once.",
			Parameters:  editParams,
		},
		{
			Name:        ToolSurgicalEdit,
			Description: "Replace one small fragment; search_text must match the file exactly once.",
			Parameters:  editParams,
		},
	}
}
