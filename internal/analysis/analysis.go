package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/yungbote/scholarcast-backend/internal/jobstore"
	"github.com/yungbote/scholarcast-backend/internal/llm"
	"github.com/yungbote/scholarcast-backend/internal/media"
	"github.com/yungbote/scholarcast-backend/internal/pkg/ctxutil"
	pkgerrors "github.com/yungbote/scholarcast-backend/internal/pkg/errors"
	"github.com/yungbote/scholarcast-backend/internal/pkg/logger"
	"github.com/yungbote/scholarcast-backend/internal/script"
)

// Result is the persisted outcome of one document analysis. Analyses are
// standalone: they let callers inspect a document before committing to a
// full video job.
type Result struct {
	AnalysisID  string              `json:"analysis_id"`
	FilePath    string              `json:"file_path"`
	Kind        script.MaterialKind `json:"kind"`
	Title       string              `json:"title"`
	Summary     string              `json:"summary"`
	SubjectArea string              `json:"subject_area"`
	Topics      []string            `json:"topics"`
	Difficulty  string              `json:"difficulty"`
	Language    string              `json:"language"`
	PageCount   int                 `json:"page_count,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

// Service runs one flat analyzer per material kind and persists results
// under a single root, one JSON file per analysis id.
type Service struct {
	log   *logger.Logger
	gw    llm.Gateway
	tools media.Tools
	root  string
}

func NewService(log *logger.Logger, gw llm.Gateway, tools media.Tools, root string) (*Service, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve analysis root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create analysis root: %w", err)
	}
	return &Service{
		log:   log.With("service", "AnalysisService"),
		gw:    gw,
		tools: tools,
		root:  abs,
	}, nil
}

func analysisSchema() map[string]any {
	return llm.ObjectSchema(map[string]any{
		"title":        llm.StringSchema(),
		"summary":      llm.StringSchema(),
		"subject_area": llm.StringSchema(),
		"topics":       llm.StringArraySchema(),
		"difficulty":   llm.EnumSchema("introductory", "intermediate", "advanced"),
		"language":     llm.StringSchema(),
	})
}

// Analyze inspects the material and persists the result under a fresh
// analysis id.
func (s *Service) Analyze(ctx context.Context, filePath string) (*Result, error) {
	ctx = ctxutil.Default(ctx)
	if s.gw == nil {
		return nil, fmt.Errorf("analysis: missing gateway")
	}

	kind := script.DetectMaterialKind(filePath)
	var (
		res *Result
		err error
	)
	switch kind {
	case script.MaterialPDF:
		res, err = s.analyzePDF(ctx, filePath)
	case script.MaterialImage:
		res, err = s.analyzeImage(ctx, filePath)
	default:
		res, err = s.analyzeText(ctx, filePath)
	}
	if err != nil {
		return nil, err
	}

	res.AnalysisID = uuid.NewString()
	res.FilePath = filePath
	res.Kind = kind
	res.CreatedAt = time.Now().UTC()
	if err := s.persist(res); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) analyzePDF(ctx context.Context, path string) (*Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	pages := 0
	if n, probeErr := s.tools.CountPDFPages(ctx, path); probeErr == nil {
		pages = n
	}
	res, err := s.call(ctx, "analysis/pdf",
		"Analyze the attached document for use as educational video source material.",
		[]llm.Part{llm.BinaryPart(raw, "application/pdf", filepath.Base(path))})
	if err != nil {
		return nil, err
	}
	res.PageCount = pages
	return res, nil
}

func (s *Service) analyzeImage(ctx context.Context, path string) (*Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	mime := "image/png"
	switch filepath.Ext(path) {
	case ".jpg", ".jpeg":
		mime = "image/jpeg"
	case ".gif":
		mime = "image/gif"
	case ".webp":
		mime = "image/webp"
	}
	return s.call(ctx, "analysis/image",
		"Analyze the attached image (notes, slide, diagram or worksheet) for use as educational video source material.",
		[]llm.Part{llm.BinaryPart(raw, mime, filepath.Base(path))})
}

func (s *Service) analyzeText(ctx context.Context, path string) (*Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read text: %w", err)
	}
	text := string(raw)
	if len(text) > 24_000 {
		text = text[:24_000]
	}
	return s.call(ctx, "analysis/text",
		"Analyze this document for use as educational video source material.\n\n"+text, nil)
}

func (s *Service) call(ctx context.Context, scope, prompt string, contents []llm.Part) (*Result, error) {
	res, err := s.gw.Generate(ctx, llm.Request{
		Prompt:   prompt,
		Contents: contents,
		Scope:    scope,
		Config: llm.GenerateConfig{
			Timeout:          120 * time.Second,
			MaxOutputTokens:  2048,
			ResponseFormat:   llm.FormatJSON,
			ResponseSchema:   analysisSchema(),
			SchemaName:       "document_analysis",
			MaxRetries:       2,
			RequireJSONValid: true,
		},
	})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("%w: analysis call failed: %s", pkgerrors.ErrIngestion, res.Err)
	}
	raw, err := json.Marshal(res.ParsedJSON)
	if err != nil {
		return nil, err
	}
	var out Result
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode analysis payload: %w", err)
	}
	return &out, nil
}

func (s *Service) persist(res *Result) error {
	path, err := jobstore.ResolveUnder(s.root, res.AnalysisID)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(path+".json", raw, 0o644)
}

// Get loads a persisted analysis by id. Ids are resolved with the same
// traversal safety as job ids.
func (s *Service) Get(id string) (*Result, error) {
	path, err := jobstore.ResolveUnder(s.root, id)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path + ".json")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pkgerrors.ErrNotFound
		}
		return nil, err
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
