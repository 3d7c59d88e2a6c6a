package tts

import (
	"bytes"
	"context"
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

// Client synthesizes one narration segment into MP3 bytes.
type Client interface {
	Synthesize(ctx context.Context, text, voice, language string) ([]byte, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient reads OPENAI_API_KEY, OPENAI_BASE_URL, OPENAI_TTS_MODEL and
// OPENAI_TTS_TIMEOUT_SECONDS.
func NewClient(log *logger.Logger) (Client, error) {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	baseURL := strings.TrimRight(envutil.String("OPENAI_BASE_URL", "https://api.openai.com"), "/")
	model := envutil.String("OPENAI_TTS_MODEL", "gpt-4o-mini-tts")
	timeout := envutil.Seconds("OPENAI_TTS_TIMEOUT_SECONDS", 120*time.Second)

	return &client{
		log:        log.With("service", "TTSClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *client) Synthesize(ctx context.Context, text, voice, language string) ([]byte, error) {
	ctx = ctxutil.Default(ctx)
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty narration text")
	}
	if voice == "" {
		voice = "alloy"
	}

	body := map[string]any{
		"model":           c.model,
		"voice":           voice,
		"input":           text,
		"response_format": "mp3",
	}
	if language != "" {
		// Pronunciation hint; the endpoint ignores unknown fields.
		body["instructions"] = "Speak in language code: " + language
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/audio/speech", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(raw)
		if len(msg) > 600 {
			msg = msg[:600]
		}
		return nil, fmt.Errorf("tts http %d: %s", resp.StatusCode, msg)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("tts returned empty audio")
	}
	return raw, nil
}
