package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStripFencedCodeBlock(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```":  `{"a":1}`,
		"```\n{\"a\":1}\n```":      `{"a":1}`,
		"{\"a\":1}":                `{"a":1}`,
		"  ```json\n[1,2]\n```  ":  `[1,2]`,
	}
	for in, want := range cases {
		if got := StripFencedCodeBlock(in); got != want {
			t.Errorf("StripFencedCodeBlock(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClientCompleteRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body requestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.Prompt == "" {
			t.Fatalf("expected non-empty prompt")
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(responseBody{Response: "```json\n{\"desc\":\"ok\"}\n```"})
	}))
	defer srv.Close()

	c := New(srv.URL, "gpt5")
	out, err := c.Complete(context.Background(), Request{SystemMsg: "sys", Prompt: "hello"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != `{"desc":"ok"}` {
		t.Fatalf("Complete() = %q", out)
	}
}

func TestClientCompleteHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("overloaded"))
	}))
	defer srv.Close()

	c := New(srv.URL, "qwen")
	_, err := c.Complete(context.Background(), Request{Prompt: "hi"})
	if err == nil {
		t.Fatalf("expected error")
	}
	oe, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if !oe.Retryable() {
		t.Fatalf("503 should be retryable")
	}
}
