package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendInvitationDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/teams/t1/invitations" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected authorization %q", got)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "a@example.com" {
			t.Errorf("unexpected body %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"success":true,"message":"invitation sent","data":{"invitation":{"id":"inv-1","status":"pending"},"link":"https://x/join/abc","warnings":["notification could not be delivered"]},"warnings":["notification could not be delivered"]}`))
	}))
	defer srv.Close()

	cli, err := New(srv.URL)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	result, err := cli.SendInvitation(context.Background(), "tok", "t1", "a@example.com")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.Invitation.ID != "inv-1" || result.Link != "https://x/join/abc" || len(result.Warnings) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestErrorEnvelopeBecomesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"success":false,"message":"team is full"}`))
	}))
	defer srv.Close()

	cli, _ := New(srv.URL)
	_, err := cli.AddMember(context.Background(), "tok", "t1", "u2")
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Message != "team is full" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestNewNormalisesBaseURL(t *testing.T) {
	cli, err := New(" localhost:4000/ ")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if cli.BaseURL() != "http://localhost:4000" {
		t.Fatalf("unexpected base url %q", cli.BaseURL())
	}
}

func TestNewRejectsUnsupportedScheme(t *testing.T) {
	if _, err := New("ftp://files.example"); err == nil {
		t.Fatal("expected an error for a non-http address")
	}
}

func TestSelectProjectIgnoresNullData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/selection" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"success":true,"message":"selection recorded","data":null}`))
	}))
	defer srv.Close()

	cli, _ := New(srv.URL)
	if err := cli.SelectProject(context.Background(), "tok", "p1"); err != nil {
		t.Fatalf("select: %v", err)
	}
}
