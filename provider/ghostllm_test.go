package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGhostLLMChatCompletion(t *testing.T) {
	var sessions []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q, want /v1/chat/completions", r.URL.Path)
		}
		sessions = append(sessions, r.Header.Get("X-Session-ID"))
		json.NewEncoder(w).Encode(openaiResponse{
			Model: "auto",
			Choices: []openaiChoice{
				{Message: openaiMessage{Role: "assistant", Content: "gpu answer"}},
			},
		})
	}))
	defer srv.Close()

	client := NewGhostLLMClient(GhostLLMConfig{BaseURL: srv.URL})

	for i := 0; i < 2; i++ {
		resp, err := client.ChatCompletion(context.Background(), &ChatRequest{
			Messages: []Message{{Role: RoleUser, Content: "hi"}},
		})
		if err != nil {
			t.Fatalf("ChatCompletion #%d: %v", i, err)
		}
		if resp.Provider != GhostLLM {
			t.Errorf("Provider = %q", resp.Provider)
		}
	}

	// The same session id keeps conversation affinity across calls.
	if len(sessions) != 2 || sessions[0] == "" || sessions[0] != sessions[1] {
		t.Errorf("session ids = %v, want the same non-empty id twice", sessions)
	}
	if sessions[0] != client.SessionID() {
		t.Errorf("header session %q != client session %q", sessions[0], client.SessionID())
	}
}

func TestGhostLLMHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %q, want /health", r.URL.Path)
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	client := NewGhostLLMClient(GhostLLMConfig{BaseURL: srv.URL})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}
