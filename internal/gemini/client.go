// Package gemini is a thin client for the Gemini REST API covering the two
// call shapes this service needs: streamed free-text generation and
// schema-constrained structured generation over image input. Transient
// overload errors are retried under a configurable bounded policy.
package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sintgpt/internal/util"
)

const (
	DefaultBaseURL        = "https://generativelanguage.googleapis.com/v1beta"
	DefaultPoemModel      = "gemini-2.5-pro"
	DefaultAnalysisModel  = "gemini-2.5-flash"
	defaultRequestTimeout = 5 * time.Minute
)

// APIError is a non-2xx provider response. Handlers pass StatusCode and
// Message through to the caller.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini: API error %d (%s): %s", e.StatusCode, e.Status, e.Message)
}

// IsOverloaded reports whether err is the transient "model overloaded"
// condition worth retrying: 503/UNAVAILABLE, 429, or an overload message.
func IsOverloaded(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusServiceUnavailable || apiErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		if apiErr.Status == "UNAVAILABLE" {
			return true
		}
		return strings.Contains(strings.ToLower(apiErr.Message), "overloaded")
	}
	return false
}

// RetryPolicy bounds automatic retries of transient provider failures.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Retryable   func(error) bool
}

// DefaultRetryPolicy retries overload errors three times with a fixed delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: 5 * time.Second, Retryable: IsOverloaded}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable == nil {
		return false
	}
	return p.Retryable(err)
}

// Usage is the token consumption of one provider call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	ThinkingTokens   int
}

func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		ThinkingTokens:   u.ThinkingTokens + other.ThinkingTokens,
	}
}

// EstimateCost converts token counts into dollars at per-million-token rates.
// Thinking tokens are billed at the output rate.
func EstimateCost(u Usage, inputPerMillion, outputPerMillion float64) (inputCost, outputCost, totalCost float64) {
	inputCost = float64(u.PromptTokens) / 1e6 * inputPerMillion
	outputCost = float64(u.CompletionTokens+u.ThinkingTokens) / 1e6 * outputPerMillion
	return inputCost, outputCost, inputCost + outputCost
}

// GenerateOptions tunes a single generation call.
type GenerateOptions struct {
	Temperature     float64
	MaxOutputTokens int
	// ThinkingBudget -1 lets the model decide; 0 disables thinking.
	ThinkingBudget int
}

// StreamEvent is one increment of a streamed generation. Usage is set on the
// final event only.
type StreamEvent struct {
	Delta string
	Usage *Usage
}

// ImagePart is an inline image attached to a structured-extraction call.
type ImagePart struct {
	MIMEType string
	Data     []byte
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Retry   RetryPolicy
}

type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	retry      RetryPolicy
}

func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
		retry:      retry,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// GenerateStream issues a streaming generation call and relays text deltas on
// the returned channel as they arrive. The channel closes after the final
// event, which carries usage metadata. Transient overload failures are
// retried only while no delta has been emitted yet; once relaying has
// started, errors surface on the error channel. Cancelling ctx aborts the
// upstream call.
func (c *Client) GenerateStream(ctx context.Context, prompt string, opts GenerateOptions) (<-chan StreamEvent, <-chan error) {
	events := make(chan StreamEvent, 64)
	errc := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errc)

		if c.apiKey == "" {
			errc <- errors.New("gemini: API key not configured")
			return
		}

		reqBody := geminiRequest{
			Contents: []geminiContent{
				{Role: "user", Parts: []geminiPart{{Text: prompt}}},
			},
			GenerationConfig: geminiGenerationConfig{
				Temperature:     opts.Temperature,
				MaxOutputTokens: opts.MaxOutputTokens,
				ThinkingConfig:  &geminiThinkingConfig{ThinkingBudget: opts.ThinkingBudget},
			},
		}
		url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", c.baseURL, c.model, c.apiKey)

		var lastErr error
		for attempt := 1; attempt <= c.retry.attempts(); attempt++ {
			if attempt > 1 {
				util.LogWarn("Model overloaded, retrying in %v (attempt %d/%d)", c.retry.Delay, attempt, c.retry.attempts())
				select {
				case <-time.After(c.retry.Delay):
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			}

			delivered, err := c.streamOnce(ctx, url, reqBody, events)
			if err == nil {
				return
			}
			if delivered || !c.retry.retryable(err) {
				errc <- err
				return
			}
			lastErr = err
		}
		errc <- lastErr
	}()

	return events, errc
}

// streamOnce performs a single streaming attempt. delivered reports whether
// any delta reached the consumer, which makes the attempt non-retryable.
func (c *Client) streamOnce(ctx context.Context, url string, reqBody geminiRequest, events chan<- StreamEvent) (delivered bool, err error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return false, fmt.Errorf("gemini: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("gemini: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("gemini: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, readAPIError(resp)
	}

	var usage geminiUsageMetadata
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var chunk geminiResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			return delivered, &APIError{StatusCode: chunk.Error.Code, Status: chunk.Error.Status, Message: chunk.Error.Message}
		}
		if chunk.UsageMetadata.TotalTokenCount > 0 {
			usage = chunk.UsageMetadata
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		for _, part := range chunk.Candidates[0].Content.Parts {
			if part.Text == "" {
				continue
			}
			select {
			case events <- StreamEvent{Delta: part.Text}:
				delivered = true
			case <-ctx.Done():
				return delivered, ctx.Err()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return delivered, fmt.Errorf("gemini: stream read: %w", err)
	}

	final := StreamEvent{Usage: &Usage{
		PromptTokens:     usage.PromptTokenCount,
		CompletionTokens: usage.CandidatesTokenCount,
		ThinkingTokens:   usage.ThoughtsTokenCount,
	}}
	select {
	case events <- final:
	case <-ctx.Done():
		return delivered, ctx.Err()
	}
	return delivered, nil
}

// GenerateObject issues a non-streaming call constrained to the given JSON
// schema, optionally with inline images, and unmarshals the response text
// into out. A response that is not valid JSON for out is an error, never
// silently accepted.
func (c *Client) GenerateObject(ctx context.Context, system, prompt string, images []ImagePart, schema map[string]any, opts GenerateOptions, out any) (Usage, error) {
	if c.apiKey == "" {
		return Usage{}, errors.New("gemini: API key not configured")
	}

	parts := []geminiPart{{Text: prompt}}
	for _, img := range images {
		parts = append(parts, geminiPart{InlineData: &geminiBlobPart{
			MIMEType: img.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(img.Data),
		}})
	}

	reqBody := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:      opts.Temperature,
			MaxOutputTokens:  opts.MaxOutputTokens,
			ResponseMimeType: "application/json",
			ResponseSchema:   schema,
		},
	}
	if system != "" {
		reqBody.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)

	var lastErr error
	for attempt := 1; attempt <= c.retry.attempts(); attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(c.retry.Delay):
			case <-ctx.Done():
				return Usage{}, ctx.Err()
			}
		}

		usage, err := c.generateObjectOnce(ctx, url, reqBody, out)
		if err == nil {
			return usage, nil
		}
		if !c.retry.retryable(err) {
			return Usage{}, err
		}
		lastErr = err
	}
	return Usage{}, lastErr
}

func (c *Client) generateObjectOnce(ctx context.Context, url string, reqBody geminiRequest, out any) (Usage, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Usage{}, fmt.Errorf("gemini: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Usage{}, fmt.Errorf("gemini: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Usage{}, fmt.Errorf("gemini: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Usage{}, readAPIError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Usage{}, fmt.Errorf("gemini: read response: %w", err)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Usage{}, fmt.Errorf("gemini: parse response: %w", err)
	}
	if parsed.Error != nil {
		return Usage{}, &APIError{StatusCode: parsed.Error.Code, Status: parsed.Error.Status, Message: parsed.Error.Message}
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return Usage{}, errors.New("gemini: no completion returned")
	}

	var text strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text.String())), out); err != nil {
		return Usage{}, fmt.Errorf("gemini: response does not match schema: %w", err)
	}

	return Usage{
		PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
		CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
		ThinkingTokens:   parsed.UsageMetadata.ThoughtsTokenCount,
	}, nil
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var wrapped struct {
		Error *geminiAPIError `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Error != nil {
		return &APIError{StatusCode: resp.StatusCode, Status: wrapped.Error.Status, Message: wrapped.Error.Message}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}
