package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	var gotReq generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/generate" {
			t.Errorf("request = %s %s, want POST /api/generate", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(generateResponse{
			Model:    gotReq.Model,
			Response: "  {\"predicted_folder\":\"Work\"}\n",
			Done:     true,
		})
	}))
	defer server.Close()

	// Trailing slash on the base URL must not produce a double slash.
	c := New(Options{BaseURL: server.URL + "/", Model: "test-model"})

	text, err := c.Generate(context.Background(), "classify this")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != `{"predicted_folder":"Work"}` {
		t.Errorf("text = %q, want trimmed response", text)
	}
	if gotReq.Model != "test-model" || gotReq.Prompt != "classify this" {
		t.Errorf("request = %+v", gotReq)
	}
	if gotReq.Stream {
		t.Error("request asked for streaming")
	}
}

func TestGenerateServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	c := New(Options{BaseURL: server.URL})

	_, err := c.Generate(context.Background(), "prompt")
	if err == nil {
		t.Fatal("Generate should fail on a non-200 status")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "model not found") {
		t.Errorf("error %q should carry the status and body excerpt", err)
	}
}

func TestGenerateEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Response: "   \n", Done: true})
	}))
	defer server.Close()

	c := New(Options{BaseURL: server.URL})

	_, err := c.Generate(context.Background(), "prompt")
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("Generate = %v, want ErrEmptyResponse", err)
	}
}

func TestGenerateMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer server.Close()

	c := New(Options{BaseURL: server.URL})

	if _, err := c.Generate(context.Background(), "prompt"); err == nil {
		t.Fatal("Generate should fail on an undecodable body")
	}
}

func TestGenerateContextDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(generateResponse{Response: "late"})
	}))
	defer server.Close()

	c := New(Options{BaseURL: server.URL})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Generate(ctx, "prompt")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Generate = %v, want DeadlineExceeded", err)
	}
}

func TestGenerateRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Response: "ok"})
	}))
	defer server.Close()

	// One request per 1000 seconds: the burst covers the first call, the
	// second must wait far past the context deadline.
	c := New(Options{BaseURL: server.URL, RequestsPerSec: 0.001})

	if _, err := c.Generate(context.Background(), "first"); err != nil {
		t.Fatalf("first Generate: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Generate(ctx, "second")
	if err == nil {
		t.Fatal("second Generate should fail waiting for the limiter")
	}
	if !strings.Contains(err.Error(), "rate limiter") {
		t.Errorf("error %q should come from the limiter wait", err)
	}
}
