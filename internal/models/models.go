package models

import "time"

// OptionLabels are the four recognized MCQ option keys, in render order.
var OptionLabels = []string{"A", "B", "C", "D"}

// QuestionRecord is the canonical unit of output: one multiple-choice
// question with exactly four options and one correct label. Records are
// constructed during response parsing, immutable afterwards, and consumed
// exactly once by the renderer.
type QuestionRecord struct {
	// Index is the 1-based position assigned by extraction order; the
	// model's own numbering is not trusted.
	Index        int
	Prompt       string
	Options      map[string]string
	CorrectLabel string
}

// Valid reports whether the record may enter the accepted set: non-empty
// prompt, all four options present and non-empty, and a correct label
// matching one of the option keys. An empty CorrectLabel means the
// parser could not recognize the model's correct marker; such records
// stay in the batch and the renderer leaves them unhighlighted.
func (q QuestionRecord) Valid() bool {
	if q.Prompt == "" {
		return false
	}
	for _, label := range OptionLabels {
		if q.Options[label] == "" {
			return false
		}
	}
	if q.CorrectLabel == "" {
		return true
	}
	_, ok := q.Options[q.CorrectLabel]
	return ok
}

// ExtractionBatch is the parse result for one document: question records
// in document order plus the name of the cascade strategy that produced
// them.
type ExtractionBatch struct {
	Questions    []QuestionRecord
	StrategyUsed string
}

// Upload describes one staged incoming document.
type Upload struct {
	OriginalName string
	StoredPath   string
	ReceivedAt   time.Time
}
