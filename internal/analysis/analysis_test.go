package analysis

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/yungbote/scholarcast-backend/internal/llm"
	pkgerrors "github.com/yungbote/scholarcast-backend/internal/pkg/errors"
	"github.com/yungbote/scholarcast-backend/internal/pkg/logger"
	"github.com/yungbote/scholarcast-backend/internal/script"
)

type fakeGateway struct {
	scopes []string
}

func (g *fakeGateway) Generate(_ context.Context, req llm.Request) (*llm.Result, error) {
	g.scopes = append(g.scopes, req.Scope)
	return &llm.Result{Success: true, Response: "{}", ParsedJSON: map[string]any{
		"title":        "Cell Biology Notes",
		"summary":      "Lecture notes on the cell cycle.",
		"subject_area": "biology",
		"topics":       []any{"mitosis", "interphase"},
		"difficulty":   "introductory",
		"language":     "en",
	}}, nil
}

func (g *fakeGateway) Model() string { return "fake-model" }

type fakeTools struct{ pages int }

func (f fakeTools) AssertReady(context.Context) error { return nil }

func (f fakeTools) ProbeDuration(context.Context, string) (float64, error) { return 0, nil }

func (f fakeTools) ConcatAudio(context.Context, []string, string) error { return nil }

func (f fakeTools) ConcatVideos(context.Context, []string, string) error { return nil }

func (f fakeTools) MergeNoCut(context.Context, string, string, string) error { return nil }

func (f fakeTools) MergeTrim(context.Context, string, string, string) error { return nil }

func (f fakeTools) CountPDFPages(context.Context, string) (int, error) { return f.pages, nil }

func (f fakeTools) SlicePDF(context.Context, string, []int, string) error { return nil }

func newService(t *testing.T, gw llm.Gateway) *Service {
	t.Helper()
	svc, err := NewService(logger.NewNop(), gw, fakeTools{pages: 12}, t.TempDir())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestAnalyzeTextPersistsResult(t *testing.T) {
	gw := &fakeGateway{}
	svc := newService(t, gw)
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("The cell cycle has four phases."), 0o644); err != nil {
		t.Fatalf("write material: %v", err)
	}

	res, err := svc.Analyze(context.Background(), path)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.AnalysisID == "" || res.Kind != script.MaterialText {
		t.Fatalf("res = %+v", res)
	}
	if res.Title != "Cell Biology Notes" || res.Difficulty != "introductory" {
		t.Fatalf("payload not decoded: %+v", res)
	}
	if len(gw.scopes) != 1 || gw.scopes[0] != "analysis/text" {
		t.Fatalf("scopes = %v", gw.scopes)
	}

	loaded, err := svc.Get(res.AnalysisID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if loaded.Summary != res.Summary || len(loaded.Topics) != 2 {
		t.Fatalf("loaded = %+v", loaded)
	}
}

func TestAnalyzePDFCountsPages(t *testing.T) {
	gw := &fakeGateway{}
	svc := newService(t, gw)
	path := filepath.Join(t.TempDir(), "notes.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatalf("write material: %v", err)
	}

	res, err := svc.Analyze(context.Background(), path)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Kind != script.MaterialPDF || res.PageCount != 12 {
		t.Fatalf("res = %+v", res)
	}
	if gw.scopes[0] != "analysis/pdf" {
		t.Fatalf("scope = %q", gw.scopes[0])
	}
}

func TestGetRejectsUnsafeID(t *testing.T) {
	svc := newService(t, &fakeGateway{})
	if _, err := svc.Get("../escape"); !errors.Is(err, pkgerrors.ErrInvalidID) {
		t.Fatalf("err = %v", err)
	}
}

func TestGetMissingAnalysis(t *testing.T) {
	svc := newService(t, &fakeGateway{})
	if _, err := svc.Get("0123456789abcdef"); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}
