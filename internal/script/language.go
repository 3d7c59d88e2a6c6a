package script

import (
	"context"
	"strings"
	"time"

	"github.com/yungbote/scholarcast-backend/internal/llm"
)

// supportedLanguages is the closed set accepted from detection; anything
// else falls back to English.
var supportedLanguages = map[string]bool{
	"en": true, "es": true, "fr": true, "de": true, "it": true,
	"pt": true, "nl": true, "pl": true, "ru": true, "uk": true,
	"tr": true, "ar": true, "he": true, "hi": true, "bn": true,
	"zh": true, "ja": true, "ko": true, "vi": true, "th": true,
	"id": true, "ms": true, "sv": true, "no": true, "da": true,
	"fi": true, "cs": true, "el": true, "hu": true, "ro": true,
}

const DefaultLanguage = "en"

// ValidLanguage reports whether code is in the supported closed set.
func ValidLanguage(code string) bool {
	return supportedLanguages[strings.ToLower(strings.TrimSpace(code))]
}

// detectLanguage is Stage B: one short gateway call returning a 2-letter
// code. Any failure falls back to English.
func (p *Pipeline) detectLanguage(ctx context.Context, src *sourceMaterial) string {
	prompt := "Identify the primary language of the attached document. " +
		"Respond with JSON: {\"language\": \"<2-letter ISO 639-1 code>\"}."

	contents := src.parts
	if len(contents) == 0 {
		sample := src.text
		if len(sample) > 4000 {
			sample = sample[:4000]
		}
		contents = []llm.Part{llm.TextPart("Document sample:\n" + sample)}
	}

	res, err := p.gw.Generate(ctx, llm.Request{
		Prompt:   prompt,
		Contents: contents,
		Scope:    "script/language",
		Config: llm.GenerateConfig{
			Timeout:          60 * time.Second,
			MaxOutputTokens:  100,
			ResponseFormat:   llm.FormatJSON,
			ResponseSchema:   LanguageSchema(),
			SchemaName:       "language_detection",
			MaxRetries:       2,
			RequireJSONValid: true,
		},
	})
	if err != nil || res == nil || !res.Success {
		p.log.Warn("language detection failed; defaulting", "default", DefaultLanguage)
		return DefaultLanguage
	}
	code, _ := res.ParsedJSON["language"].(string)
	code = strings.ToLower(strings.TrimSpace(code))
	if !ValidLanguage(code) {
		return DefaultLanguage
	}
	return code
}
