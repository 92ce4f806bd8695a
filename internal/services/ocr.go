package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
)

const ocrPrompt = `Transcribe every piece of text visible on this page, top to bottom, ` +
	`exactly as written. Output plain text only, no commentary and no formatting marks.`

// maxConcurrentPages bounds how many page recognitions run at once within
// one request. Pages are independent; order is restored on reassembly.
const maxConcurrentPages = 4

// OCRClient recognizes rasterized pages through a vision-capable
// chat-completions endpoint.
type OCRClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOCRClient returns a client, or nil when no API key is configured
// (the resolver then treats the fallback as unavailable).
func NewOCRClient(apiKey, baseURL, model string) *OCRClient {
	if apiKey == "" {
		return nil
	}
	if baseURL == "" {
		baseURL = "https://open.bigmodel.cn/api/paas/v4/"
	}
	if baseURL[len(baseURL)-1] != '/' {
		baseURL = baseURL + "/"
	}
	if model == "" {
		model = "glm-4.5v"
	}

	return &OCRClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// SetHTTPClient swaps the underlying client; used by tests.
func (c *OCRClient) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

type messageContent struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string           `json:"role"`
	Content []messageContent `json:"content"`
}

type visionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type visionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// RecognizePages runs OCR over every rasterized page concurrently and
// returns the recognized texts in ascending page order.
func (c *OCRClient) RecognizePages(ctx context.Context, pages []PageImage) ([]string, error) {
	texts := make([]string, len(pages))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPages)
	for i, page := range pages {
		i, page := i, page
		g.Go(func() error {
			txt, err := c.RecognizeImageFile(ctx, page.Path)
			if err != nil {
				return fmt.Errorf("recognize page %d: %w", page.PageNumber, err)
			}
			texts[i] = txt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return texts, nil
}

// RecognizeImageFile recognizes the text on a single rendered page image.
func (c *OCRClient) RecognizeImageFile(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read page image: %w", err)
	}
	dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
	return c.recognize(ctx, dataURI)
}

func (c *OCRClient) recognize(ctx context.Context, imageDataURI string) (string, error) {
	request := visionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{
				Role: "user",
				Content: []messageContent{
					{Type: "image_url", ImageURL: &imageURL{URL: imageDataURI}},
					{Type: "text", Text: ocrPrompt},
				},
			},
		},
		Stream:      false,
		Temperature: 0.1,
		MaxTokens:   8192,
	}

	reqBody, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("marshal ocr request: %w", err)
	}

	// Retry transient failures; client errors are final.
	maxRetries := 2
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			slog.Warn("retrying ocr call", "attempt", attempt+1)
			time.Sleep(time.Duration(attempt) * 2 * time.Second)
		}

		url := c.baseURL + "chat/completions"
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
		if err != nil {
			lastErr = fmt.Errorf("create http request: %w", err)
			continue
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("execute ocr request: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read ocr response: %w", err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("ocr api error: status=%d, body=%s", resp.StatusCode, truncate(string(body), 2<<10))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return "", lastErr
			}
			continue
		}

		var vr visionResponse
		if err := json.Unmarshal(body, &vr); err != nil {
			lastErr = fmt.Errorf("unmarshal ocr response: %w", err)
			continue
		}
		if len(vr.Choices) == 0 {
			lastErr = fmt.Errorf("ocr api returned no choices")
			continue
		}

		return vr.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("ocr failed after %d attempts: %w", maxRetries+1, lastErr)
}
