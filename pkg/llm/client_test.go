package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		if req.Stream {
			t.Error("stream must be false")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "The ferry leaves at 7 AM."}},
			},
		})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL + "/v1/", APIKey: "test-key", Model: "m"})
	reply, err := client.Chat(context.Background(), "You are a tour assistant.", "When does the ferry leave?")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if reply != "The ferry leaves at 7 AM." {
		t.Errorf("reply = %q", reply)
	}
}

func TestChatOmitsEmptySystemPrompt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "ok"}}},
		})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Model: "m"})
	if _, err := client.Chat(context.Background(), "", "hi"); err != nil {
		t.Fatal(err)
	}
}

func TestChatErrors(t *testing.T) {
	t.Run("ProviderError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"message": "model overloaded", "type": "server_error"},
			})
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL, Model: "m"})
		_, err := client.Chat(context.Background(), "", "hi")
		if err == nil || !strings.Contains(err.Error(), "model overloaded") {
			t.Errorf("err = %v, want provider message surfaced", err)
		}
	})

	t.Run("EmptyChoices", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL, Model: "m"})
		if _, err := client.Chat(context.Background(), "", "hi"); err == nil {
			t.Error("expected error for empty choices")
		}
	})

	t.Run("HTTPStatus", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL, Model: "m"})
		if _, err := client.Chat(context.Background(), "", "hi"); err == nil {
			t.Error("expected error for non-200 status")
		}
	})
}
