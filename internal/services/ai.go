package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ErrAIUnavailable is returned when the OpenAI integration is not configured.
var ErrAIUnavailable = errors.New("openai integration is not configured")

const extractionSystemPrompt = "You are a precise exam digitizer that converts raw " +
	"question-paper text into strict JSON for automated grading."

// AIService shapes the extraction request and performs the single-shot
// model call. Retry policy lives in the pipeline, not here.
type AIService struct {
	client *openai.Client
	model  string
}

func NewAIService(apiKey, model, apiEndpoint string) *AIService {
	if apiKey == "" {
		return &AIService{}
	}

	cfg := openai.DefaultConfig(apiKey)
	if apiEndpoint != "" {
		cfg.BaseURL = apiEndpoint
	}
	return &AIService{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (s *AIService) disabled() bool {
	return s.client == nil || s.model == ""
}

// BuildExtractionPrompt produces the instruction payload for one
// document. Two calls with the same text yield byte-identical output.
func BuildExtractionPrompt(text string) string {
	var b strings.Builder
	b.WriteString(`Extract every multiple-choice question from the source text below.

Respond with JSON of exactly this shape:
{"questions":[{"q1.":"question text","A.":"first option","B.":"second option","C.":"third option","D.":"fourth option","correct":"B"}]}

Rules:
- Include at most 100 questions.
- Only include multiple-choice questions that have exactly four options.
- Keep the keys in the order shown: the numbered question key, then A. B. C. D., then correct.
- "correct" is the letter of the right option (A, B, C or D).
- Do not wrap the JSON in code fences.
- Do not add explanations, notes, or any text outside the JSON object.

-----BEGIN SOURCE-----
`)
	b.WriteString(text)
	b.WriteString("\n-----END SOURCE-----\n")
	return b.String()
}

// ExtractQuestions sends the normalized transcript to the model and
// returns its raw reply, with no guarantee of schema conformance.
func (s *AIService) ExtractQuestions(ctx context.Context, text string) (string, error) {
	if s.disabled() {
		return "", ErrAIUnavailable
	}

	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: extractionSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: BuildExtractionPrompt(text),
			},
		},
		Temperature: 0.1,
		MaxTokens:   8192,
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("request question extraction: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
