package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/studyforge/material-pipeline/pkg/logger"
)

// PDFExtractor reads page text from PDF documents, processing pages in
// parallel under a small semaphore.
type PDFExtractor struct {
	logger     logger.Logger
	maxWorkers int
}

func NewPDFExtractor(log logger.Logger) *PDFExtractor {
	return &PDFExtractor{
		logger:     log,
		maxWorkers: 4,
	}
}

func (p *PDFExtractor) Extract(ctx context.Context, file io.Reader) (string, error) {
	content, err := io.ReadAll(file)
	if err != nil {
		return "", fmt.Errorf("failed to read pdf: %w", err)
	}

	reader := bytes.NewReader(content)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	numPages := pdfReader.NumPage()

	type pageText struct {
		num  int
		text string
	}

	g, ctx := errgroup.WithContext(ctx)
	pages := make([]pageText, 0, numPages)
	var mu sync.Mutex

	sem := make(chan struct{}, p.maxWorkers)
	for i := 1; i <= numPages; i++ {
		pageNum := i
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return ctx.Err()
			}

			page := pdfReader.Page(pageNum)
			if page.V.IsNull() {
				return nil
			}

			text, err := page.GetPlainText(nil)
			if err != nil {
				return fmt.Errorf("failed to get text from page %d: %w", pageNum, err)
			}

			mu.Lock()
			pages = append(pages, pageText{num: pageNum, text: text})
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return "", err
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].num < pages[j].num })

	var b strings.Builder
	for _, pg := range pages {
		b.WriteString(pg.text)
		b.WriteByte('\n')
	}

	p.logger.Debug("PDF extracted",
		logger.Int("pages", numPages),
		logger.Int("length", b.Len()),
	)
	return b.String(), nil
}
