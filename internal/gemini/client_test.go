package gemini

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "test-model",
		Retry:   RetryPolicy{MaxAttempts: 3, Delay: 10 * time.Millisecond, Retryable: IsOverloaded},
	})
}

func sseChunk(text string) string {
	return fmt.Sprintf(`data: {"candidates":[{"content":{"parts":[{"text":%q}],"role":"model"}}]}`+"\n\n", text)
}

func collect(t *testing.T, events <-chan StreamEvent, errs <-chan error) ([]string, *Usage, error) {
	t.Helper()
	var deltas []string
	var usage *Usage
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				select {
				case err := <-errs:
					return deltas, usage, err
				case <-time.After(time.Second):
					return deltas, usage, nil
				}
			}
			if ev.Usage != nil {
				usage = ev.Usage
			}
			if ev.Delta != "" {
				deltas = append(deltas, ev.Delta)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for stream")
		}
	}
}

func TestGenerateStreamRelaysDeltasAndUsage(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "streamGenerateContent")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("Hoor wie "))
		fmt.Fprint(w, sseChunk("klopt daar"))
		fmt.Fprint(w, `data: {"candidates":[{"content":{"parts":[{"text":", kinderen"}],"role":"model"},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":120,"candidatesTokenCount":80,"thoughtsTokenCount":40,"totalTokenCount":240}}`+"\n\n")
	})

	events, errs := client.GenerateStream(context.Background(), "prompt", GenerateOptions{Temperature: 2.0, ThinkingBudget: -1})
	deltas, usage, err := collect(t, events, errs)

	require.NoError(t, err)
	assert.Equal(t, []string{"Hoor wie ", "klopt daar", ", kinderen"}, deltas)
	require.NotNil(t, usage)
	assert.Equal(t, 120, usage.PromptTokens)
	assert.Equal(t, 80, usage.CompletionTokens)
	assert.Equal(t, 40, usage.ThinkingTokens)
}

func TestGenerateStreamRetriesOverload(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":{"code":503,"message":"The model is overloaded.","status":"UNAVAILABLE"}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("ok"))
	})

	events, errs := client.GenerateStream(context.Background(), "prompt", GenerateOptions{})
	deltas, _, err := collect(t, events, errs)

	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, deltas)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGenerateStreamGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"code":503,"message":"overloaded","status":"UNAVAILABLE"}}`)
	})

	events, errs := client.GenerateStream(context.Background(), "prompt", GenerateOptions{})
	_, _, err := collect(t, events, errs)

	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGenerateStreamDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":400,"message":"invalid argument","status":"INVALID_ARGUMENT"}}`)
	})

	events, errs := client.GenerateStream(context.Background(), "prompt", GenerateOptions{})
	_, _, err := collect(t, events, errs)

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerateObjectDecodesSchemaResponse(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, ":generateContent")
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"{\"answer\":42}"}],"role":"model"}}],"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":5,"totalTokenCount":15}}`)
	})

	var out struct {
		Answer int `json:"answer"`
	}
	usage, err := client.GenerateObject(context.Background(), "system", "prompt", nil,
		map[string]any{"type": "OBJECT"}, GenerateOptions{}, &out)

	require.NoError(t, err)
	assert.Equal(t, 42, out.Answer)
	assert.Equal(t, 10, usage.PromptTokens)
	assert.Equal(t, 5, usage.CompletionTokens)
}

func TestGenerateObjectSendsExplicitZeroTemperature(t *testing.T) {
	var gotBody []byte
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"{}"}],"role":"model"}}]}`)
	})

	var out struct{}
	_, err := client.GenerateObject(context.Background(), "", "prompt", nil,
		map[string]any{"type": "OBJECT"}, GenerateOptions{Temperature: 0}, &out)

	require.NoError(t, err)
	assert.Contains(t, string(gotBody), `"temperature":0`)
}

func TestGenerateObjectRejectsMalformedJSON(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"not json at all"}],"role":"model"}}]}`)
	})

	var out struct{}
	_, err := client.GenerateObject(context.Background(), "", "prompt", nil, nil, GenerateOptions{}, &out)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match schema")
}

func TestIsOverloadedClassifier(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"503", &APIError{StatusCode: 503}, true},
		{"429", &APIError{StatusCode: 429}, true},
		{"unavailable status", &APIError{StatusCode: 500, Status: "UNAVAILABLE"}, true},
		{"overloaded message", &APIError{StatusCode: 500, Message: "The model is overloaded"}, true},
		{"bad request", &APIError{StatusCode: 400, Status: "INVALID_ARGUMENT"}, false},
		{"plain error", fmt.Errorf("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsOverloaded(tc.err))
		})
	}
}

func TestEstimateCost(t *testing.T) {
	in, out, total := EstimateCost(Usage{PromptTokens: 1_000_000, CompletionTokens: 500_000, ThinkingTokens: 500_000}, 0.4, 1.6)
	assert.InDelta(t, 0.4, in, 1e-9)
	assert.InDelta(t, 1.6, out, 1e-9)
	assert.InDelta(t, 2.0, total, 1e-9)
}
