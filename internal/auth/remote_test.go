package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRemoteVerifierAcceptsValidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req remoteAuthRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.APIKey != "sb_good" {
			t.Fatalf("expected sb_good, got %q", req.APIKey)
		}
		json.NewEncoder(w).Encode(remoteAuthResponse{
			Valid:       true,
			WorkspaceID: "ws_1",
			APIKeyName:  "remote-bot",
		})
	}))
	defer srv.Close()

	v := NewRemoteVerifier(RemoteVerifierConfig{URL: srv.URL, Timeout: time.Second})
	p := v.Verify(context.Background(), "sb_good")
	if p == nil || !p.Authenticated {
		t.Fatal("expected authenticated principal")
	}
	if p.WorkspaceID != "ws_1" {
		t.Fatalf("expected ws_1, got %q", p.WorkspaceID)
	}
}

func TestRemoteVerifierRejectsInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(remoteAuthResponse{Valid: false})
	}))
	defer srv.Close()

	v := NewRemoteVerifier(RemoteVerifierConfig{URL: srv.URL, Timeout: time.Second})
	if p := v.Verify(context.Background(), "sb_bad"); p != nil {
		t.Fatal("expected nil principal for valid:false response")
	}
}

func TestRemoteVerifierRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	v := NewRemoteVerifier(RemoteVerifierConfig{URL: srv.URL, Timeout: time.Second})
	if p := v.Verify(context.Background(), "sb_key"); p != nil {
		t.Fatal("expected nil principal for non-200 response")
	}
}

func TestRemoteVerifierRejectsUnreachableEndpoint(t *testing.T) {
	v := NewRemoteVerifier(RemoteVerifierConfig{URL: "http://127.0.0.1:1", Timeout: 100 * time.Millisecond})
	if p := v.Verify(context.Background(), "sb_key"); p != nil {
		t.Fatal("expected nil principal when endpoint is unreachable")
	}
}
