package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWebhookSendSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Fatalf("unexpected authorization header %q", auth)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["address"] != "ada@example.com" {
			t.Fatalf("unexpected address %v", payload["address"])
		}
		if payload["kind"] != string(KindInvitationSent) {
			t.Fatalf("unexpected kind %v", payload["kind"])
		}
		if payload["occurred_at"] == "" {
			t.Fatalf("expected occurred_at to be populated")
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sender, err := NewWebhookSender(srv.URL, " secret ", 0, nil)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	msg := Message{Kind: KindInvitationSent, Subject: "Join team Alpha", TeamID: "team-1"}
	if err := sender.Send(context.Background(), "ada@example.com", msg); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestWebhookSendUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	sender, err := NewWebhookSender(srv.URL, "", time.Second, nil)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	err = sender.Send(context.Background(), "ada@example.com", Message{Kind: KindInvitationSent})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
}

func TestWebhookSendRejectsEmptyAddress(t *testing.T) {
	sender, err := NewWebhookSender("https://mailer.example.com/send", "", 0, nil)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	if err := sender.Send(context.Background(), " ", Message{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestNewWebhookSenderRequiresURL(t *testing.T) {
	if _, err := NewWebhookSender("", "", 0, nil); err == nil {
		t.Fatal("expected error for empty url")
	}
}
