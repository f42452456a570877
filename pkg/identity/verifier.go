// Package identity validates bearer tokens and yields the stable user id a
// session is bound to. Two modes exist, selected once at process start:
// "remote" delegates to the external verifier service, "hs256" validates
// HS256 JWTs locally against a shared secret.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrInvalidToken covers expired, malformed, wrong-audience and
// signature-invalid tokens. Callers must not distinguish further.
var ErrInvalidToken = errors.New("invalid token")

type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// HTTPVerifier calls the external verifier service.
type HTTPVerifier struct {
	URL        string
	HTTPClient *http.Client
	AuthHeader string
	AuthToken  string
	Timeout    time.Duration
}

func (v *HTTPVerifier) Verify(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}
	client := v.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	timeout := v.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	body, _ := json.Marshal(map[string]string{"token": token})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(v.URL, "/")+"/v1/verify", strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if v.AuthHeader != "" && v.AuthToken != "" {
		req.Header.Set(v.AuthHeader, v.AuthToken)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("verifier request: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", ErrInvalidToken
	default:
		return "", fmt.Errorf("verifier status %d", resp.StatusCode)
	}
	var payload struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode verifier response: %w", err)
	}
	if strings.TrimSpace(payload.UserID) == "" {
		return "", ErrInvalidToken
	}
	return payload.UserID, nil
}
