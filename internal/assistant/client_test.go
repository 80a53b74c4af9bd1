package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"edgechat/internal/domain"
)

func TestHTTPClient_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if req.SessionID != "s1" || req.Content != "hello" {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(chatResponse{
			Messages: []domain.Message{
				{Role: domain.RoleAssistant, Thinking: "t", ToolCalls: []domain.ToolCall{{ID: "tc1", Name: "ping"}}},
				{Role: domain.RoleAssistant, Content: "pong"},
			},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL})
	msgs, err := c.Chat(context.Background(), "s1", "hello")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	// Fragmented records come back verbatim — merging is the display layer's job.
	if len(msgs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(msgs))
	}
	if msgs[0].Thinking != "t" || msgs[1].Content != "pong" {
		t.Errorf("records altered in transit: %+v", msgs)
	}
}

func TestHTTPClient_Chat_BackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL})
	if _, err := c.Chat(context.Background(), "s1", "hello"); err == nil {
		t.Error("expected error on 500")
	}
}

func TestHTTPClient_Chat_ErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse{Error: "model overloaded"})
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL})
	if _, err := c.Chat(context.Background(), "s1", "hello"); err == nil {
		t.Error("expected error when backend reports one")
	}
}

func TestHTTPClient_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/status" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL})
	if err := c.Healthy(context.Background()); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}
}
