package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// minUsableText is the minimum whitespace-stripped length either path
// must produce for the document to be processable at all.
const minUsableText = 20

// TextExtractor is the direct-extraction side of a PDF reader.
type TextExtractor interface {
	ExtractText(path string) (string, error)
	RasterizePages(ctx context.Context, path, outDir string) ([]PageImage, error)
}

// PageRecognizer recognizes rasterized pages in ascending order.
type PageRecognizer interface {
	RecognizePages(ctx context.Context, pages []PageImage) ([]string, error)
}

// Resolver produces a best-effort plain-text transcript for a document,
// preferring the embedded text layer and falling back to image
// recognition only when the direct transcript is too short to be useful.
type Resolver struct {
	pdf       TextExtractor
	ocr       PageRecognizer // nil means fallback unavailable
	minSignal int
}

func NewResolver(pdf TextExtractor, ocr PageRecognizer, minSignal int) *Resolver {
	if minSignal < 1 {
		minSignal = 1
	}
	return &Resolver{pdf: pdf, ocr: ocr, minSignal: minSignal}
}

// Resolve returns the transcript and whether the OCR fallback supplied
// it. Raster artifacts are written under rasterDir, which the caller
// purges regardless of outcome. Recognition failures downgrade to
// "fallback unavailable"; they are never fatal on their own.
func (r *Resolver) Resolve(ctx context.Context, pdfPath, rasterDir string) (string, bool, error) {
	direct, err := r.pdf.ExtractText(pdfPath)
	if err != nil {
		slog.Warn("text-layer extraction failed", "error", err)
		direct = ""
	}

	text := direct
	usedFallback := false

	if signalLength(direct) < r.minSignal {
		if fallback, ok := r.recognize(ctx, pdfPath, rasterDir); ok && len(fallback) > len(direct) {
			text = fallback
			usedFallback = true
		}
	}

	if signalLength(text) < minUsableText {
		return "", usedFallback, newPipelineError(CodeInsufficientText,
			"document produced no usable text", nil)
	}
	return text, usedFallback, nil
}

// recognize runs the rasterize+OCR pass and joins per-page results with
// page-boundary markers. All failures are absorbed.
func (r *Resolver) recognize(ctx context.Context, pdfPath, rasterDir string) (string, bool) {
	if r.ocr == nil {
		return "", false
	}

	pages, err := r.pdf.RasterizePages(ctx, pdfPath, rasterDir)
	if err != nil {
		slog.Warn("rasterization failed, fallback unavailable", "error", err)
		return "", false
	}

	texts, err := r.ocr.RecognizePages(ctx, pages)
	if err != nil {
		slog.Warn("page recognition failed, fallback unavailable", "error", err)
		return "", false
	}

	var b strings.Builder
	for i, txt := range texts {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Page %d\n", pages[i].PageNumber)
		b.WriteString(strings.TrimSpace(txt))
	}
	return b.String(), true
}

var _ TextExtractor = (*PDFService)(nil)
var _ PageRecognizer = (*OCRClient)(nil)
