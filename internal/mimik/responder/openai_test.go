package responder_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mimicry-ai/mimik/internal/mimik/responder"
)

func TestRespond_Success(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "hello back"}},
			},
		})
	}))
	defer srv.Close()

	p := responder.New(responder.Config{APIKey: "test-key", BaseURL: srv.URL, Model: "test-model"})

	reply, err := p.Respond(context.Background(), []responder.Turn{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hello"},
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply != "hello back" {
		t.Errorf("reply: got %q, want hello back", reply)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header: got %q", gotAuth)
	}
	if gotBody["model"] != "test-model" {
		t.Errorf("model: got %v", gotBody["model"])
	}
	msgs, ok := gotBody["messages"].([]any)
	if !ok || len(msgs) != 2 {
		t.Errorf("messages: got %v", gotBody["messages"])
	}
}

func TestRespond_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"type": "rate_limit_exceeded", "message": "slow down"},
		})
	}))
	defer srv.Close()

	p := responder.New(responder.Config{APIKey: "test-key", BaseURL: srv.URL})

	_, err := p.Respond(context.Background(), []responder.Turn{{Role: "user", Content: "hi"}})
	if err == nil {
		t.Fatal("expected error from API failure")
	}
}

func TestRespond_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	p := responder.New(responder.Config{APIKey: "test-key", BaseURL: srv.URL})

	_, err := p.Respond(context.Background(), []responder.Turn{{Role: "user", Content: "hi"}})
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
}
