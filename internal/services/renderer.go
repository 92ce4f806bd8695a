package services

import (
	"fmt"

	"github.com/go-pdf/fpdf"

	"quizmark/internal/models"
)

// Renderer produces the answer-key PDF: every question in batch order,
// its four options beneath it, and the correct option in a contrasting
// color. A record without a recognized correct label is rendered with
// all options unstyled.
type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

// RenderAnswerKey writes the paginated document to outPath. The write is
// complete only once the file is flushed and closed; on error the caller
// purges any partial file.
func (r *Renderer) RenderAnswerKey(batch models.ExtractionBatch, outPath string) error {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetTitle("Answer Key", true)
	doc.SetAutoPageBreak(true, 15)
	doc.AddPage()
	tr := doc.UnicodeTranslatorFromDescriptor("")

	for _, q := range batch.Questions {
		doc.SetFont("Helvetica", "B", 11)
		doc.SetTextColor(0, 0, 0)
		doc.MultiCell(0, 6, tr(fmt.Sprintf("%d. %s", q.Index, q.Prompt)), "", "L", false)

		doc.SetFont("Helvetica", "", 11)
		for _, label := range models.OptionLabels {
			if label == q.CorrectLabel {
				doc.SetTextColor(0, 128, 0)
			} else {
				doc.SetTextColor(0, 0, 0)
			}
			doc.MultiCell(0, 6, tr(label+". "+q.Options[label]), "", "L", false)
		}
		doc.Ln(4)
	}

	if err := doc.OutputFileAndClose(outPath); err != nil {
		return newPipelineError(CodeRenderFailure, "write answer key", err)
	}
	return nil
}
