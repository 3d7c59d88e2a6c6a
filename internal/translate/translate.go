package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yungbote/scholarcast-backend/internal/jobstore"
	"github.com/yungbote/scholarcast-backend/internal/llm"
	"github.com/yungbote/scholarcast-backend/internal/media"
	"github.com/yungbote/scholarcast-backend/internal/pkg/ctxutil"
	pkgerrors "github.com/yungbote/scholarcast-backend/internal/pkg/errors"
	"github.com/yungbote/scholarcast-backend/internal/pkg/logger"
	"github.com/yungbote/scholarcast-backend/internal/script"
	"github.com/yungbote/scholarcast-backend/internal/tts"
)

// Service produces a translated final video for a completed job: narration
// translated per section, re-synthesized, and re-merged over the existing
// final video. It only needs the artifacts keep_final_only preserves.
type Service struct {
	log   *logger.Logger
	gw    llm.Gateway
	tts   tts.Client
	tools media.Tools
	store *jobstore.Store
}

func NewService(log *logger.Logger, gw llm.Gateway, ttsClient tts.Client, tools media.Tools, store *jobstore.Store) (*Service, error) {
	if gw == nil || ttsClient == nil || tools == nil || store == nil {
		return nil, fmt.Errorf("translate: missing deps")
	}
	return &Service{
		log:   log.With("service", "TranslateService"),
		gw:    gw,
		tts:   ttsClient,
		tools: tools,
		store: store,
	}, nil
}

func translationSchema() map[string]any {
	sec := llm.ObjectSchema(map[string]any{
		"id":            llm.StringSchema(),
		"narration":     llm.StringSchema(),
		"tts_narration": llm.StringSchema(),
	})
	return llm.ObjectSchema(map[string]any{
		"title":    llm.StringSchema(),
		"sections": llm.ArraySchema(sec),
	})
}

// Translate builds translations/<lang>/final_video.mp4 for a completed job.
// The translated audio rarely matches the original timing exactly, so the
// re-merge uses the trimming policy: video is padded or trimmed to the new
// audio.
func (s *Service) Translate(ctx context.Context, jobID, language, voice string) (string, error) {
	ctx = ctxutil.Default(ctx)
	if !script.ValidLanguage(language) {
		return "", fmt.Errorf("%w: unsupported language %q", pkgerrors.ErrInvalidArgument, language)
	}

	job, err := s.store.Open(jobID)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(job.FinalVideoPath()); err != nil {
		return "", fmt.Errorf("%w: job has no final video", pkgerrors.ErrNotFound)
	}
	sc, err := script.Load(job.ScriptPath())
	if err != nil {
		return "", fmt.Errorf("load script for translation: %w", err)
	}
	if sc.Language == language {
		return "", fmt.Errorf("%w: script already in %q", pkgerrors.ErrInvalidArgument, language)
	}

	outDir := job.TranslationDir(language)
	outPath := filepath.Join(outDir, jobstore.FinalVideoFileName)
	if _, err := os.Stat(outPath); err == nil {
		s.log.Info("translation already on disk", "job", jobID, "language", language)
		return outPath, nil
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create translation dir: %w", err)
	}

	translated, err := s.translateScript(ctx, sc, language)
	if err != nil {
		return "", err
	}
	if err := translated.Save(filepath.Join(outDir, jobstore.ScriptFileName)); err != nil {
		return "", fmt.Errorf("persist translated script: %w", err)
	}

	audioPath, err := s.synthesize(ctx, outDir, translated, voice, language)
	if err != nil {
		return "", err
	}

	if err := s.tools.MergeTrim(ctx, job.FinalVideoPath(), audioPath, outPath); err != nil {
		return "", fmt.Errorf("merge translated audio: %w", err)
	}
	return outPath, nil
}

func (s *Service) translateScript(ctx context.Context, sc *script.Script, language string) (*script.Script, error) {
	payload := map[string]any{"title": sc.Title}
	secs := make([]map[string]any, 0, len(sc.Sections))
	for _, sec := range sc.Sections {
		secs = append(secs, map[string]any{"id": sec.ID, "narration": sec.Narration})
	}
	payload["sections"] = secs
	raw, _ := json.MarshalIndent(payload, "", "  ")

	prompt := fmt.Sprintf(
		"Translate this video script into %s. Keep section ids unchanged. "+
			"narration is the translated display text; tts_narration additionally normalizes pronunciations for speech synthesis.\n\n%s",
		language, raw)

	res, err := s.gw.Generate(ctx, llm.Request{
		Prompt: prompt,
		Scope:  "translate/" + language,
		Config: llm.GenerateConfig{
			Timeout:          240 * time.Second,
			MaxOutputTokens:  16384,
			ResponseFormat:   llm.FormatJSON,
			ResponseSchema:   translationSchema(),
			SchemaName:       "script_translation",
			MaxRetries:       2,
			RequireJSONValid: true,
		},
	})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("translation call failed: %s (%s)", res.Err, res.ErrorReason)
	}

	var decoded struct {
		Title    string `json:"title"`
		Sections []struct {
			ID           string `json:"id"`
			Narration    string `json:"narration"`
			TTSNarration string `json:"tts_narration"`
		} `json:"sections"`
	}
	buf, _ := json.Marshal(res.ParsedJSON)
	if err := json.Unmarshal(buf, &decoded); err != nil {
		return nil, fmt.Errorf("decode translation payload: %w", err)
	}

	byID := map[string]int{}
	for i, sec := range decoded.Sections {
		byID[sec.ID] = i
	}

	out := *sc
	out.Language = language
	out.Title = decoded.Title
	out.Sections = make([]script.Section, len(sc.Sections))
	copy(out.Sections, sc.Sections)
	for i := range out.Sections {
		idx, ok := byID[out.Sections[i].ID]
		if !ok {
			return nil, fmt.Errorf("translation payload missing section %q", out.Sections[i].ID)
		}
		out.Sections[i].Narration = decoded.Sections[idx].Narration
		out.Sections[i].TTSNarration = decoded.Sections[idx].TTSNarration
		out.Sections[i].Segments = nil
	}
	return &out, nil
}

// synthesize re-voices every section in script order and concatenates into
// one audio track.
func (s *Service) synthesize(ctx context.Context, outDir string, sc *script.Script, voice, language string) (string, error) {
	paths := make([]string, 0, len(sc.Sections))
	for i, sec := range sc.Sections {
		text := sec.TTSNarration
		if text == "" {
			text = sec.Narration
		}
		audio, err := s.tts.Synthesize(ctx, text, voice, language)
		if err != nil {
			return "", fmt.Errorf("tts section %d: %w", i, err)
		}
		p := filepath.Join(outDir, fmt.Sprintf("section_%d.mp3", i))
		if err := os.WriteFile(p, audio, 0o644); err != nil {
			return "", fmt.Errorf("write section audio: %w", err)
		}
		paths = append(paths, p)
	}

	outPath := filepath.Join(outDir, "translated_audio.mp3")
	if len(paths) == 1 {
		return paths[0], nil
	}
	if err := s.tools.ConcatAudio(ctx, paths, outPath); err != nil {
		return "", fmt.Errorf("concat translated audio: %w", err)
	}
	return outPath, nil
}
