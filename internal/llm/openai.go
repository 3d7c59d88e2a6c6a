package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/yungbote/scholarcast-backend/internal/pkg/ctxutil"
	"github.com/yungbote/scholarcast-backend/internal/pkg/logger"
	"github.com/yungbote/scholarcast-backend/internal/platform/envutil"
)

// openAIProvider speaks the OpenAI Responses API. It is the only wire-level
// code in the engine; everything above it works in Provider terms.
type openAIProvider struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAIProvider reads OPENAI_API_KEY, OPENAI_BASE_URL, OPENAI_MODEL and
// OPENAI_TIMEOUT_SECONDS. modelOverride, when non-empty, wins over the env.
func NewOpenAIProvider(log *logger.Logger, modelOverride string) (Provider, error) {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := strings.TrimRight(envutil.String("OPENAI_BASE_URL", "https://api.openai.com"), "/")

	model := strings.TrimSpace(modelOverride)
	if model == "" {
		model = envutil.String("OPENAI_MODEL", "gpt-5.2")
	}

	timeout := envutil.Seconds("OPENAI_TIMEOUT_SECONDS", 180*time.Second)

	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	return &openAIProvider{
		log:        log.With("service", "OpenAIProvider"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (p *openAIProvider) ModelID() string { return p.model }

type responsesRequest struct {
	Model           string   `json:"model"`
	Instructions    string   `json:"instructions,omitempty"`
	Input           []any    `json:"input"`
	Tools           []any    `json:"tools,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"max_output_tokens,omitempty"`
	Text            any      `json:"text,omitempty"`
	Reasoning       any      `json:"reasoning,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
		CallID    string `json:"call_id"`
	} `json:"output"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *openAIProvider) Complete(ctx context.Context, req ProviderRequest) (*ProviderResponse, error) {
	ctx = ctxutil.Default(ctx)

	body := responsesRequest{
		Model:           p.model,
		Instructions:    req.System,
		Input:           encodeTurns(req.Turns),
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxOutputTokens,
	}
	if req.EnableThinking {
		body.Reasoning = map[string]any{"effort": "medium"}
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, map[string]any{
			"type":        "function",
			"name":        t.Name,
			"description": t.Description,
			"parameters":  t.Parameters,
			"strict":      false,
		})
	}
	if req.ResponseSchema != nil {
		name := strings.TrimSpace(req.SchemaName)
		if name == "" {
			name = "response"
		}
		body.Text = map[string]any{
			"format": map[string]any{
				"type":   "json_schema",
				"name":   name,
				"schema": req.ResponseSchema,
				"strict": true,
			},
		}
	} else if req.ForceJSON {
		body.Text = map[string]any{
			"format": map[string]any{"type": "json_object"},
		}
	}

	raw, err := p.doOnce(ctx, "/v1/responses", body)
	if err != nil {
		return nil, err
	}

	var parsed responsesResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode responses payload: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("openai error (%s): %s", parsed.Error.Type, parsed.Error.Message)
	}

	out := &ProviderResponse{}
	out.Usage.InputTokens = parsed.Usage.InputTokens
	out.Usage.OutputTokens = parsed.Usage.OutputTokens

	var text strings.Builder
	for _, item := range parsed.Output {
		switch item.Type {
		case "message":
			for _, c := range item.Content {
				if c.Type == "output_text" {
					text.WriteString(c.Text)
				}
			}
		case "function_call":
			args := map[string]any{}
			if strings.TrimSpace(item.Arguments) != "" {
				_ = json.Unmarshal([]byte(item.Arguments), &args)
			}
			out.FunctionCalls = append(out.FunctionCalls, FunctionCall{
				Name:   item.Name,
				Args:   args,
				CallID: item.CallID,
			})
		}
	}
	out.Text = text.String()
	return out, nil
}

func encodeTurns(turns []Turn) []any {
	input := make([]any, 0, len(turns))
	for _, t := range turns {
		switch {
		case t.FunctionCall != nil:
			args, _ := json.Marshal(t.FunctionCall.Args)
			input = append(input, map[string]any{
				"type":      "function_call",
				"name":      t.FunctionCall.Name,
				"arguments": string(args),
				"call_id":   t.FunctionCall.CallID,
			})
		case t.FunctionResult != nil:
			input = append(input, map[string]any{
				"type":    "function_call_output",
				"call_id": functionResultCallID(turns, t.FunctionResult.Name),
				"output":  t.FunctionResult.Content,
			})
		default:
			content := make([]any, 0, len(t.Parts))
			for _, part := range t.Parts {
				content = append(content, encodePart(part))
			}
			role := t.Role
			if role == "" {
				role = "user"
			}
			input = append(input, map[string]any{"role": role, "content": content})
		}
	}
	return input
}

// functionResultCallID finds the call id of the most recent function call
// with the given name so the output can be tied back to it.
func functionResultCallID(turns []Turn, name string) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if fc := turns[i].FunctionCall; fc != nil && fc.Name == name {
			return fc.CallID
		}
	}
	return ""
}

func encodePart(part Part) map[string]any {
	if len(part.Data) == 0 {
		return map[string]any{"type": "input_text", "text": part.Text}
	}
	b64 := base64.StdEncoding.EncodeToString(part.Data)
	mime := strings.ToLower(strings.TrimSpace(part.MimeType))
	if strings.HasPrefix(mime, "image/") {
		return map[string]any{
			"type":      "input_image",
			"image_url": fmt.Sprintf("data:%s;base64,%s", mime, b64),
		}
	}
	name := part.FileName
	if name == "" {
		name = "document.pdf"
	}
	return map[string]any{
		"type":      "input_file",
		"filename":  name,
		"file_data": fmt.Sprintf("data:%s;base64,%s", mime, b64),
	}
}

func (p *openAIProvider) doOnce(ctx context.Context, path string, body any) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("openai http %d: %s", resp.StatusCode, truncate(string(raw), 600))
	}
	return raw, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
