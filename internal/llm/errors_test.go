package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code      int
		body      string
		transient bool
		policy    bool
	}{
		{http.StatusTooManyRequests, "slow down", true, false},
		{http.StatusServiceUnavailable, "overloaded", true, false},
		{http.StatusGatewayTimeout, "", true, false},
		{http.StatusBadRequest, `{"error":{"code":"content_policy_violation"}}`, false, true},
		{http.StatusBadRequest, "bad json", false, false},
		{http.StatusUnauthorized, "no key", false, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.code), func(t *testing.T) {
			err := classifyStatus("test", tt.code, tt.body)
			if IsTransient(err) != tt.transient {
				t.Errorf("IsTransient = %v, want %v (%v)", IsTransient(err), tt.transient, err)
			}
			if IsContentPolicy(err) != tt.policy {
				t.Errorf("IsContentPolicy = %v, want %v (%v)", IsContentPolicy(err), tt.policy, err)
			}
		})
	}
}

func TestClassifyTransportKeepsCancellation(t *testing.T) {
	if IsTransient(classifyTransport("test", context.Canceled)) {
		t.Error("caller cancellation must not be retried")
	}
	if !IsTransient(classifyTransport("test", context.DeadlineExceeded)) {
		t.Error("deadline exceeded should be transient")
	}
}

func TestTransientErrorUnwraps(t *testing.T) {
	inner := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", &TransientAPIError{Provider: "x", Err: inner})
	if !errors.Is(err, inner) {
		t.Error("expected errors.Is to reach the inner error")
	}
}

func TestOpenAIProviderClassifiesResponses(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		want      string
		transient bool
		policy    bool
	}{
		{"ok", 200, `{"choices":[{"message":{"content":"hello"},"finish_reason":"stop"}]}`, "hello", false, false},
		{"rate limited", 429, `{"error":"rate"}`, "", true, false},
		{"filtered", 200, `{"choices":[{"message":{"content":""},"finish_reason":"content_filter"}]}`, "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") != "Bearer key" {
					t.Errorf("missing auth header")
				}
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			p := &OpenAIProvider{Model: "m", APIKey: "key", BaseURL: srv.URL, client: &http.Client{Timeout: 5 * time.Second}}
			got, err := p.Generate(context.Background(), Request{Prompt: "hi", MaxTokens: 10})
			if tt.want != "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got != tt.want {
					t.Errorf("expected %q, got %q", tt.want, got)
				}
				return
			}
			if IsTransient(err) != tt.transient || IsContentPolicy(err) != tt.policy {
				t.Errorf("unexpected classification for %v", err)
			}
		})
	}
}

func TestOllamaProviderGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"message":{"content":"local answer"}}`)
	}))
	defer srv.Close()

	p := NewOllamaProvider("qwen2.5:7b", srv.URL)
	got, err := p.Generate(context.Background(), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "local answer" {
		t.Errorf("expected 'local answer', got %q", got)
	}
}

type countingProvider struct{ calls int }

func (c *countingProvider) Generate(context.Context, Request) (string, error) {
	c.calls++
	return "ok", nil
}
func (c *countingProvider) IsConfigured() bool { return true }
func (c *countingProvider) Name() string       { return "counting" }

func TestRateLimitedDelegates(t *testing.T) {
	inner := &countingProvider{}
	if NewRateLimited(inner, 0) != Provider(inner) {
		t.Error("expected unlimited wrapper to return the provider unchanged")
	}

	p := NewRateLimited(inner, 6000)
	for i := 0; i < 3; i++ {
		if _, err := p.Generate(context.Background(), Request{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 calls, got %d", inner.calls)
	}
	if p.Name() != "counting" {
		t.Errorf("expected wrapped name, got %q", p.Name())
	}
}
