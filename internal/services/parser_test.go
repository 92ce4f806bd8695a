package services_test

import (
	"errors"
	"strings"
	"testing"

	"quizmark/internal/services"
)

const wellFormedReply = `{"questions":[
{"q1.":"What is the capital of France?","A.":"Berlin","B.":"Paris","C.":"Madrid","D.":"Rome","correct":"B"},
{"q2.":"Which planet is largest?","A.":"Jupiter","B.":"Mars","C.":"Venus","D.":"Earth","correct":"A"}
]}`

func TestParseReply_StrictPath(t *testing.T) {
	batch, err := services.ParseReply(wellFormedReply)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if batch.StrategyUsed != services.StrategyStrict {
		t.Fatalf("expected strict strategy, got %q", batch.StrategyUsed)
	}
	if len(batch.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(batch.Questions))
	}
	if batch.Questions[0].Prompt != "What is the capital of France?" {
		t.Errorf("unexpected first prompt: %q", batch.Questions[0].Prompt)
	}
	if batch.Questions[0].CorrectLabel != "B" || batch.Questions[1].CorrectLabel != "A" {
		t.Errorf("correct labels wrong: %q, %q",
			batch.Questions[0].CorrectLabel, batch.Questions[1].CorrectLabel)
	}
	if batch.Questions[0].Index != 1 || batch.Questions[1].Index != 2 {
		t.Errorf("indices not positional: %d, %d",
			batch.Questions[0].Index, batch.Questions[1].Index)
	}
}

func TestParseReply_CodeFenceEquivalence(t *testing.T) {
	fenced := "```json\n" + wellFormedReply + "\n```"

	plain, err := services.ParseReply(wellFormedReply)
	if err != nil {
		t.Fatalf("plain parse failed: %v", err)
	}
	wrapped, err := services.ParseReply(fenced)
	if err != nil {
		t.Fatalf("fenced parse failed: %v", err)
	}

	if wrapped.StrategyUsed != plain.StrategyUsed {
		t.Errorf("strategies differ: %q vs %q", plain.StrategyUsed, wrapped.StrategyUsed)
	}
	if len(wrapped.Questions) != len(plain.Questions) {
		t.Fatalf("question counts differ: %d vs %d", len(plain.Questions), len(wrapped.Questions))
	}
	for i := range plain.Questions {
		if plain.Questions[i].Prompt != wrapped.Questions[i].Prompt {
			t.Errorf("question %d differs", i+1)
		}
	}
}

func TestParseReply_DropsMalformedRecord(t *testing.T) {
	reply := `{"questions":[
{"q1.":"Good question?","A.":"a","B.":"b","C.":"c","D.":"d","correct":"C"},
{"q2.":"Missing an option","A.":"a","B.":"b","C.":"c","correct":"A"}
]}`

	batch, err := services.ParseReply(reply)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch.Questions) != 1 {
		t.Fatalf("expected the malformed record to be dropped, got %d records", len(batch.Questions))
	}
	if batch.Questions[0].Prompt != "Good question?" {
		t.Errorf("wrong surviving record: %q", batch.Questions[0].Prompt)
	}
}

func TestParseReply_SegmentedRescuesBareKeys(t *testing.T) {
	reply := `{"questions": [
{q1.: "First question", A.: "one", B.: "two", C.: "three", D.: "four", correct: "D",},
{q2.: "Second question", A.: "one", B.: "two", C.: "three", D.: "four", correct: "A"}
]}`

	batch, err := services.ParseReply(reply)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if batch.StrategyUsed != services.StrategySegmented {
		t.Fatalf("expected segmented strategy, got %q", batch.StrategyUsed)
	}
	if len(batch.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(batch.Questions))
	}
	if batch.Questions[0].CorrectLabel != "D" {
		t.Errorf("unexpected correct label %q", batch.Questions[0].CorrectLabel)
	}
}

func TestParseReply_ScanRescuesTruncatedArray(t *testing.T) {
	// Truncated before the closing bracket: the array boundary cannot be
	// located, only the complete leading object is recoverable.
	reply := `Sure, here are the questions: {"questions": [
{"q1.": "Recoverable?", "A.": "yes", "B.": "no", "C.": "maybe", "D.": "unsure", "correct": "A"},
{"q2.": "Lost to truncati`

	batch, err := services.ParseReply(reply)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if batch.StrategyUsed != services.StrategyScan {
		t.Fatalf("expected scan strategy, got %q", batch.StrategyUsed)
	}
	if len(batch.Questions) != 1 || batch.Questions[0].Prompt != "Recoverable?" {
		t.Fatalf("unexpected batch: %+v", batch.Questions)
	}
}

func TestParseReply_NoQuestionsFound(t *testing.T) {
	reply := "I could not find any questions in the supplied document, sorry."

	_, err := services.ParseReply(reply)
	if err == nil {
		t.Fatal("expected an error")
	}
	pe, ok := services.AsPipelineError(err)
	if !ok {
		t.Fatalf("expected PipelineError, got %T", err)
	}
	if pe.Code != services.CodeNoQuestionsFound {
		t.Errorf("expected %s, got %s", services.CodeNoQuestionsFound, pe.Code)
	}
	if pe.RawReply != reply {
		t.Error("raw reply not attached to diagnostics")
	}
}

func TestParseReply_CorrectLabelPolicy(t *testing.T) {
	t.Run("PrefixWithText", func(t *testing.T) {
		reply := `{"questions":[{"q1.":"Q","A.":"a","B.":"b","C.":"c","D.":"d","correct":"C. Some Answer"}]}`
		batch, err := services.ParseReply(reply)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if batch.Questions[0].CorrectLabel != "C" {
			t.Errorf("expected C, got %q", batch.Questions[0].CorrectLabel)
		}
	})

	t.Run("UnrecognizedMarker", func(t *testing.T) {
		reply := `{"questions":[{"q1.":"Q","A.":"a","B.":"b","C.":"c","D.":"d","correct":"the third one"}]}`
		batch, err := services.ParseReply(reply)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(batch.Questions) != 1 {
			t.Fatalf("record should be kept, got %d records", len(batch.Questions))
		}
		if batch.Questions[0].CorrectLabel != "" {
			t.Errorf("expected no recognized correct option, got %q", batch.Questions[0].CorrectLabel)
		}
	})
}

func TestParseReply_DuplicateNumberingKeptInOrder(t *testing.T) {
	reply := `{"questions":[
{"q1.":"First occurrence","A.":"a","B.":"b","C.":"c","D.":"d","correct":"A"},
{"q1.":"Second occurrence","A.":"a","B.":"b","C.":"c","D.":"d","correct":"B"}
]}`

	batch, err := services.ParseReply(reply)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch.Questions) != 2 {
		t.Fatalf("expected 2 records, got %d", len(batch.Questions))
	}
	if batch.Questions[0].Prompt != "First occurrence" || batch.Questions[1].Prompt != "Second occurrence" {
		t.Error("encounter order not preserved")
	}
	if batch.Questions[0].Index != 1 || batch.Questions[1].Index != 2 {
		t.Error("indices should be positional, not taken from model numbering")
	}
}

func TestParseReply_TolerantKeyVariants(t *testing.T) {
	// Model omitted trailing periods in keys; prefix matching absorbs it.
	reply := `{"questions":[{"q7":"Variant keys","A":"a","B":"b","C":"c","D":"d","correct":"D"}]}`

	batch, err := services.ParseReply(reply)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch.Questions) != 1 {
		t.Fatalf("expected 1 record, got %d", len(batch.Questions))
	}
	q := batch.Questions[0]
	if q.Prompt != "Variant keys" || q.Options["D"] != "d" || q.CorrectLabel != "D" {
		t.Errorf("unexpected record: %+v", q)
	}
}

func TestParseReply_EmptyBatchNeverNilOnSuccess(t *testing.T) {
	// A reply that is valid JSON but holds zero valid entries must fall
	// through the cascade and fail, not return an empty success.
	reply := `{"questions":[{"q1.":"","A.":"a","B.":"b","C.":"c","D.":"d","correct":"A"}]}`

	_, err := services.ParseReply(reply)
	var pe *services.PipelineError
	if !errors.As(err, &pe) || pe.Code != services.CodeNoQuestionsFound {
		t.Fatalf("expected no_questions_found, got %v", err)
	}
	if !strings.Contains(pe.RawReply, "questions") {
		t.Error("raw reply should be attached")
	}
}
