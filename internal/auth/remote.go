package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/oriys/nova/internal/domain"
	"github.com/oriys/nova/internal/logging"
)

// RemoteVerifier validates credentials by calling an external HTTP
// endpoint (spec.md §4.1's "remote verifier" variant, grounded on
// original_source's RemoteAuthProvider). Every failure mode — timeout,
// transport error, non-200 status, malformed body, valid:false — is
// folded into a nil Principal; the dispatcher never distinguishes "the
// auth service is down" from "the credential is invalid".
type RemoteVerifier struct {
	url     string
	client  *http.Client
	headers map[string]string
}

// RemoteVerifierConfig configures a RemoteVerifier.
type RemoteVerifierConfig struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
}

// NewRemoteVerifier builds a RemoteVerifier posting to cfg.URL.
func NewRemoteVerifier(cfg RemoteVerifierConfig) *RemoteVerifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logging.Op().Info("remote auth verifier initialized", "url", cfg.URL)
	return &RemoteVerifier{
		url:     cfg.URL,
		client:  &http.Client{Timeout: timeout},
		headers: cfg.Headers,
	}
}

type remoteAuthRequest struct {
	APIKey string `json:"api_key"`
}

type remoteAuthResponse struct {
	Valid         bool                `json:"valid"`
	WorkspaceID   string              `json:"workspace_id"`
	WorkspaceName string              `json:"workspace_name"`
	UserID        *string             `json:"user_id"`
	APIKeyName    string              `json:"api_key_name"`
	Permissions   []domain.Permission `json:"permissions"`
}

// Verify implements Verifier.
func (v *RemoteVerifier) Verify(ctx context.Context, credential string) *domain.Principal {
	body, err := json.Marshal(remoteAuthRequest{APIKey: credential})
	if err != nil {
		logRejected("remote", "encode request", credential)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		logRejected("remote", "build request", credential)
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	for k, val := range v.headers {
		req.Header.Set(k, val)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		logging.Op().Error("remote auth request failed", "url", v.url, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logging.Op().Warn("remote auth returned non-200", "url", v.url, "status", resp.StatusCode)
		return nil
	}

	var data remoteAuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		logging.Op().Error("remote auth response decode failed", "url", v.url, "error", err)
		return nil
	}

	if !data.Valid {
		logRejected("remote", "endpoint reported invalid", credential)
		return nil
	}

	label := data.APIKeyName
	if label == "" {
		label = "remote-key"
	}

	return &domain.Principal{
		Authenticated:   true,
		WorkspaceID:     data.WorkspaceID,
		WorkspaceName:   data.WorkspaceName,
		UserID:          data.UserID,
		CredentialLabel: "apikey:" + label,
		Permissions:     domain.NewPermissionSet(data.Permissions...),
		Metadata:        map[string]any{"source": "remote"},
	}
}

// HealthCheck probes a sibling /health endpoint at the verifier's base
// path, mirroring original_source's RemoteAuthProvider.health_check.
func (v *RemoteVerifier) HealthCheck(ctx context.Context) bool {
	base := v.url
	if idx := bytes.LastIndexByte([]byte(base), '/'); idx >= 0 {
		base = base[:idx]
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
