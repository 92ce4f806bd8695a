package services_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"quizmark/internal/services"
)

type stubModel struct {
	replies []string
	errs    []error
	calls   int
	prompts []string
}

func (m *stubModel) ExtractQuestions(ctx context.Context, text string) (string, error) {
	i := m.calls
	m.calls++
	m.prompts = append(m.prompts, text)
	var err error
	if i < len(m.errs) {
		err = m.errs[i]
	}
	var reply string
	if i < len(m.replies) {
		reply = m.replies[i]
	}
	return reply, err
}

func newTestPipeline(t *testing.T, extractor services.TextExtractor, model services.ModelCollaborator) *services.Pipeline {
	t.Helper()
	staging := services.NewStagingService(t.TempDir(), t.TempDir())
	resolver := services.NewResolver(extractor, nil, 20)
	return services.NewPipeline(staging, resolver, model, services.NewRenderer())
}

func TestPipeline_DeliversAnswerKey(t *testing.T) {
	extractor := &stubExtractor{
		text: "1. What is the capital of France? A. Berlin B. Paris C. Madrid D. Rome",
	}
	model := &stubModel{replies: []string{wellFormedReply}}
	pipeline := newTestPipeline(t, extractor, model)

	result, err := pipeline.Process(context.Background(), "geography quiz.pdf", strings.NewReader("%PDF-fake"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	defer os.Remove(result.OutputPath)

	if result.Questions != 2 {
		t.Errorf("expected 2 questions, got %d", result.Questions)
	}
	if result.Strategy != services.StrategyStrict {
		t.Errorf("expected strict strategy, got %q", result.Strategy)
	}
	if !strings.HasPrefix(result.Filename, "geography quiz-answers-") {
		t.Errorf("unexpected filename %q", result.Filename)
	}
	if _, err := os.Stat(result.OutputPath); err != nil {
		t.Fatalf("output missing: %v", err)
	}

	// The prompt must carry the normalized transcript verbatim.
	if len(model.prompts) != 1 || model.prompts[0] != services.Normalize(extractor.text) {
		t.Errorf("model received unexpected text: %q", model.prompts)
	}
}

func TestPipeline_RetriesModelOnceThenFails(t *testing.T) {
	extractor := &stubExtractor{text: strings.Repeat("question text ", 10)}
	model := &stubModel{errs: []error{errors.New("timeout"), errors.New("timeout")}}
	pipeline := newTestPipeline(t, extractor, model)

	_, err := pipeline.Process(context.Background(), "quiz.pdf", strings.NewReader("x"))
	pe, ok := services.AsPipelineError(err)
	if !ok || pe.Code != services.CodeModelCallFailed {
		t.Fatalf("expected model_call_failed, got %v", err)
	}
	if model.calls != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", model.calls)
	}
}

func TestPipeline_RetrySucceeds(t *testing.T) {
	extractor := &stubExtractor{text: strings.Repeat("question text ", 10)}
	model := &stubModel{
		errs:    []error{errors.New("connection reset"), nil},
		replies: []string{"", wellFormedReply},
	}
	pipeline := newTestPipeline(t, extractor, model)

	result, err := pipeline.Process(context.Background(), "quiz.pdf", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	defer os.Remove(result.OutputPath)
	if model.calls != 2 {
		t.Errorf("expected 2 attempts, got %d", model.calls)
	}
}

func TestPipeline_PurgesStagingOnFailure(t *testing.T) {
	uploadDir := t.TempDir()
	outputDir := t.TempDir()
	staging := services.NewStagingService(uploadDir, outputDir)
	extractor := &stubExtractor{text: strings.Repeat("exam text ", 10)}
	model := &stubModel{replies: []string{"no json here at all"}}
	resolver := services.NewResolver(extractor, nil, 20)
	pipeline := services.NewPipeline(staging, resolver, model, services.NewRenderer())

	_, err := pipeline.Process(context.Background(), "quiz.pdf", strings.NewReader("x"))
	pe, ok := services.AsPipelineError(err)
	if !ok || pe.Code != services.CodeNoQuestionsFound {
		t.Fatalf("expected no_questions_found, got %v", err)
	}
	if pe.RawReply != "no json here at all" {
		t.Error("raw reply not carried on failure")
	}

	for _, dir := range []string{uploadDir, outputDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("read dir: %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("staging dir %s not purged: %d entries", dir, len(entries))
		}
	}
}

func TestPipeline_InsufficientTextDoesNotCallModel(t *testing.T) {
	extractor := &stubExtractor{text: "tiny"}
	model := &stubModel{}
	pipeline := newTestPipeline(t, extractor, model)

	_, err := pipeline.Process(context.Background(), "scan.pdf", strings.NewReader("x"))
	pe, ok := services.AsPipelineError(err)
	if !ok || pe.Code != services.CodeInsufficientText {
		t.Fatalf("expected insufficient_text, got %v", err)
	}
	if model.calls != 0 {
		t.Errorf("model must not be called, got %d calls", model.calls)
	}
}
