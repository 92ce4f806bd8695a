package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ledongthuc/pdf"
)

// PDFService reads uploaded PDFs: text-layer extraction, page counting,
// and page rasterization for the OCR fallback.
type PDFService struct {
	gsBin  string
	runner Runner
}

func NewPDFService(gsBin string) *PDFService {
	if gsBin == "" {
		gsBin = "gs"
	}
	return &PDFService{gsBin: gsBin, runner: execRunner{}}
}

// NewPDFServiceWithRunner is used by tests to stub the ghostscript call.
func NewPDFServiceWithRunner(gsBin string, runner Runner) *PDFService {
	s := NewPDFService(gsBin)
	if runner != nil {
		s.runner = runner
	}
	return s
}

// ExtractText returns the PDF's embedded text layer. Image-only documents
// yield empty or near-empty text; the resolver decides what that means.
func (s *PDFService) ExtractText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract text layer: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", fmt.Errorf("read text layer: %w", err)
	}
	return buf.String(), nil
}

// PageCount reports the number of pages in the PDF.
func (s *PDFService) PageCount(path string) (int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf for page count: %w", err)
	}
	defer f.Close()
	return r.NumPage(), nil
}

// PageImage is one rasterized page on disk.
type PageImage struct {
	PageNumber int
	Path       string
}

// RasterizePages renders every page of the PDF to a PNG inside outDir
// using Ghostscript and returns the pages in ascending order. The caller
// owns outDir and is responsible for deleting the rasters.
func (s *PDFService) RasterizePages(ctx context.Context, path, outDir string) ([]PageImage, error) {
	numPages, err := s.PageCount(path)
	if err != nil {
		return nil, err
	}
	if numPages == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}

	// -r150: 150 DPI is a good balance between OCR quality and size.
	outputPattern := filepath.Join(outDir, "page-%03d.png")
	_, stderr, err := s.runner.Run(ctx, s.gsBin,
		"-dQUIET",
		"-dSAFER",
		"-dNOPAUSE",
		"-dBATCH",
		"-sDEVICE=png16m",
		"-r150",
		fmt.Sprintf("-sOutputFile=%s", outputPattern),
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("ghostscript render failed: %w, stderr: %s", err, truncate(string(stderr), 8<<10))
	}

	pages := make([]PageImage, 0, numPages)
	for pageNum := 1; pageNum <= numPages; pageNum++ {
		pagePath := filepath.Join(outDir, fmt.Sprintf("page-%03d.png", pageNum))
		if _, err := os.Stat(pagePath); err != nil {
			return nil, fmt.Errorf("rendered page %d missing: %w", pageNum, err)
		}
		pages = append(pages, PageImage{PageNumber: pageNum, Path: pagePath})
	}
	return pages, nil
}
