package script

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/scholarcast-backend/internal/llm"
	pkgerrors "github.com/yungbote/scholarcast-backend/internal/pkg/errors"
)

// MaterialKind is inferred from the source file extension.
type MaterialKind string

const (
	MaterialPDF   MaterialKind = "pdf"
	MaterialImage MaterialKind = "image"
	MaterialText  MaterialKind = "text"
)

type Material struct {
	Path string
	Kind MaterialKind
}

// DetectMaterialKind infers pdf/image/text from the file extension.
func DetectMaterialKind(path string) MaterialKind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return MaterialPDF
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return MaterialImage
	default:
		return MaterialText
	}
}

func imageMime(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	}
	return "application/octet-stream"
}

// sourceMaterial is the ingested form handed to the generation stages.
type sourceMaterial struct {
	// parts attach to gateway calls (inline PDF slice or image bytes).
	parts []llm.Part
	// text is the in-memory body for text sources or extraction fallback.
	text string
	// pageCount of the original PDF (0 for non-PDF).
	pageCount int
	// pdfPath of the original document, for per-section slicing.
	pdfPath string
}

func (s *sourceMaterial) contentLength() int {
	n := len(s.text)
	for _, p := range s.parts {
		n += len(p.Data)
	}
	return n
}

// ingest performs Stage A. PDFs above the page threshold are reduced to a
// representative slice (first two, two around the middle, last two) before
// attachment; text extraction is the fallback when attachment is off.
func (p *Pipeline) ingest(ctx context.Context, mat Material) (*sourceMaterial, error) {
	switch mat.Kind {
	case MaterialPDF:
		return p.ingestPDF(ctx, mat.Path)
	case MaterialImage:
		raw, err := os.ReadFile(mat.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: read image: %v", pkgerrors.ErrIngestion, err)
		}
		return &sourceMaterial{
			parts: []llm.Part{llm.BinaryPart(raw, imageMime(mat.Path), filepath.Base(mat.Path))},
		}, nil
	case MaterialText:
		raw, err := os.ReadFile(mat.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: read text: %v", pkgerrors.ErrIngestion, err)
		}
		return &sourceMaterial{text: string(raw)}, nil
	default:
		return nil, fmt.Errorf("%w: unknown material kind %q", pkgerrors.ErrIngestion, mat.Kind)
	}
}

func (p *Pipeline) ingestPDF(ctx context.Context, path string) (*sourceMaterial, error) {
	pages, err := p.tools.CountPDFPages(ctx, path)
	if err != nil {
		// No inspector available: fall back to text extraction if we can.
		if p.extractor != nil {
			text, exErr := p.extractor.ExtractText(ctx, path)
			if exErr != nil {
				return nil, fmt.Errorf("%w: pdf unreadable: %v", pkgerrors.ErrIngestion, exErr)
			}
			return &sourceMaterial{text: text, pdfPath: path}, nil
		}
		return nil, fmt.Errorf("%w: count pdf pages: %v", pkgerrors.ErrIngestion, err)
	}

	attachPath := path
	if pages > p.cfg.PDFSlicePageThreshold {
		slicePath := filepath.Join(os.TempDir(), "slice_"+uuid.NewString()+".pdf")
		if err := p.tools.SlicePDF(ctx, path, RepresentativePages(pages), slicePath); err != nil {
			return nil, fmt.Errorf("%w: slice pdf: %v", pkgerrors.ErrIngestion, err)
		}
		defer os.Remove(slicePath)
		attachPath = slicePath
	}

	raw, err := os.ReadFile(attachPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read pdf: %v", pkgerrors.ErrIngestion, err)
	}

	src := &sourceMaterial{
		parts:     []llm.Part{llm.BinaryPart(raw, "application/pdf", filepath.Base(path))},
		pageCount: pages,
		pdfPath:   path,
	}
	if p.extractor != nil {
		// Extracted text also feeds keyword passage selection.
		if text, exErr := p.extractor.ExtractText(ctx, path); exErr == nil {
			src.text = text
		}
	}
	return src, nil
}

// RepresentativePages picks first two, two around the middle and last two
// (1-based, deduplicated, sorted).
func RepresentativePages(pageCount int) []int {
	if pageCount <= 6 {
		out := make([]int, 0, pageCount)
		for i := 1; i <= pageCount; i++ {
			out = append(out, i)
		}
		return out
	}
	mid := pageCount / 2
	seen := map[int]bool{}
	var out []int
	for _, p := range []int{1, 2, mid, mid + 1, pageCount - 1, pageCount} {
		if p >= 1 && p <= pageCount && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Ints(out)
	return out
}
