package extract

import (
	"context"
	"fmt"
	"io"

	"github.com/studyforge/material-pipeline/internal/models"
	"github.com/studyforge/material-pipeline/pkg/logger"
)

// kindExtractor pulls plain text out of one blob format.
type kindExtractor interface {
	Extract(ctx context.Context, r io.Reader) (string, error)
}

// Extractor routes a material's blob to the extractor for its kind:
// PDF text for documents, Textract OCR for images.
type Extractor struct {
	byKind map[models.MaterialKind]kindExtractor
	logger logger.Logger
}

func NewExtractor(doc kindExtractor, img kindExtractor, log logger.Logger) *Extractor {
	return &Extractor{
		byKind: map[models.MaterialKind]kindExtractor{
			models.KindDocument: doc,
			models.KindImage:    img,
		},
		logger: log,
	}
}

// ExtractText implements the pipeline's extraction capability.
func (e *Extractor) ExtractText(ctx context.Context, kind models.MaterialKind, r io.Reader) (string, error) {
	ext, ok := e.byKind[kind]
	if !ok {
		return "", fmt.Errorf("unsupported material kind: %s", kind)
	}

	text, err := ext.Extract(ctx, r)
	if err != nil {
		return "", err
	}

	e.logger.Debug("Extracted text",
		logger.String("kind", string(kind)),
		logger.Int("length", len(text)),
	)
	return text, nil
}
