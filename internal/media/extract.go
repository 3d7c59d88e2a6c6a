package media

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/yungbote/scholarcast-backend/internal/pkg/ctxutil"
	"github.com/yungbote/scholarcast-backend/internal/pkg/logger"
)

const extractTimeout = 120 * time.Second

// TextExtractor shells out to pdftotext. It satisfies the script pipeline's
// Extractor and is best effort: ingestion falls back to inline attachment
// when extraction fails.
type TextExtractor struct {
	log *logger.Logger
	bin string
}

func NewTextExtractor(log *logger.Logger, bin string) *TextExtractor {
	if bin == "" {
		bin = "pdftotext"
	}
	return &TextExtractor{log: log.With("service", "TextExtractor"), bin: bin}
}

func (e *TextExtractor) ExtractText(ctx context.Context, path string) (string, error) {
	ctx = ctxutil.Default(ctx)
	if _, err := exec.LookPath(e.bin); err != nil {
		return "", fmt.Errorf("pdftotext not found in PATH: %w", err)
	}
	ectx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	// "-" streams the text to stdout.
	cmd := exec.CommandContext(ectx, e.bin, "-layout", path, "-")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("pdftotext failed: %w", err)
	}
	return string(out), nil
}
