// Package custody is the HTTP client for the external custodial wallet
// service. Every call carries the deployment's static application
// credentials; privileged RPC calls additionally carry a per-call
// authorization signature computed by the relay.
package custody

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"walletgate/pkg/httpx"
)

// HeaderAuthSignature carries the per-call authorization proof.
const HeaderAuthSignature = "Authorization-Signature"

// HeaderAppID names the calling application; it is part of the signed
// request descriptor.
const HeaderAppID = "X-App-Id"

// Wallet is the custody service's record, referenced here, never owned.
type Wallet struct {
	ID        string `json:"id"`
	Address   string `json:"address"`
	ChainType string `json:"chainType"`
	OwnerRef  string `json:"ownerRef,omitempty"`
}

// UpstreamError carries a non-success custody response so callers can
// surface status and body verbatim.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("custody status %d: %s", e.Status, e.Body)
}

type Client interface {
	LinkedWallets(ctx context.Context, userID, chainType string) ([]Wallet, error)
	CreateWallet(ctx context.Context, chainType, owner string) (Wallet, error)
	ClaimWallet(ctx context.Context, walletID, owner string) error
	// RPC posts a signed wallet operation. The raw status and body are
	// returned so the relay can correlate upstream failures to request ids.
	RPC(ctx context.Context, walletID string, body []byte, authSignature string) (int, []byte, error)
}

type HTTPClient struct {
	BaseURL    string
	HTTPClient *http.Client
	AppID      string
	AppSecret  string
	Retries    int
	RetryDelay time.Duration
}

func NewHTTPClient(baseURL, appID, appSecret string, client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: client,
		AppID:      strings.TrimSpace(appID),
		AppSecret:  strings.TrimSpace(appSecret),
		Retries:    1,
	}
}

// RPCPath derives the upstream path for a wallet operation; the relay
// signs over exactly this value.
func RPCPath(walletID string) string {
	return "/wallets/" + walletID + "/rpc"
}

// PersonalSignBody builds the personal_sign RPC body. The returned bytes
// are sent verbatim, so the same bytes can be bound into the
// authorization proof.
func PersonalSignBody(messageHex string) ([]byte, error) {
	body := struct {
		Method string `json:"method"`
		Params struct {
			Message  string `json:"message"`
			Encoding string `json:"encoding"`
		} `json:"params"`
	}{Method: "personal_sign"}
	body.Params.Message = messageHex
	body.Params.Encoding = "hex"
	return json.Marshal(body)
}

func (c *HTTPClient) LinkedWallets(ctx context.Context, userID, chainType string) ([]Wallet, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/users/"+userID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("linked wallets: %w", err)
	}
	if status != http.StatusOK {
		return nil, &UpstreamError{Status: status, Body: string(body)}
	}
	var payload struct {
		LinkedAccounts []struct {
			Type string `json:"type"`
			Wallet
		} `json:"linkedAccounts"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode linked accounts: %w", err)
	}
	var out []Wallet
	for _, acct := range payload.LinkedAccounts {
		if acct.Type != "wallet" {
			continue
		}
		if chainType != "" && !strings.EqualFold(acct.ChainType, chainType) {
			continue
		}
		out = append(out, acct.Wallet)
	}
	return out, nil
}

func (c *HTTPClient) CreateWallet(ctx context.Context, chainType, owner string) (Wallet, error) {
	reqBody, _ := json.Marshal(map[string]string{"chainType": chainType, "owner": owner})
	status, body, err := c.do(ctx, http.MethodPost, "/wallets", reqBody, nil)
	if err != nil {
		return Wallet{}, fmt.Errorf("create wallet: %w", err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return Wallet{}, &UpstreamError{Status: status, Body: string(body)}
	}
	var wallet Wallet
	if err := json.Unmarshal(body, &wallet); err != nil {
		return Wallet{}, fmt.Errorf("decode wallet: %w", err)
	}
	wallet.ChainType = chainType
	wallet.OwnerRef = owner
	return wallet, nil
}

// ClaimWallet binds an unowned wallet to the given owner. The custody
// service treats this as first-claim-wins; a lost race surfaces as a
// non-2xx which the caller reports like any resolution failure.
func (c *HTTPClient) ClaimWallet(ctx context.Context, walletID, owner string) error {
	reqBody, _ := json.Marshal(map[string]string{"owner": owner})
	status, body, err := c.do(ctx, http.MethodPatch, "/wallets/"+walletID, reqBody, nil)
	if err != nil {
		return fmt.Errorf("claim wallet: %w", err)
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return &UpstreamError{Status: status, Body: string(body)}
	}
	return nil
}

func (c *HTTPClient) RPC(ctx context.Context, walletID string, body []byte, authSignature string) (int, []byte, error) {
	headers := map[string]string{HeaderAuthSignature: authSignature}
	return c.do(ctx, http.MethodPost, RPCPath(walletID), body, headers)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, extra map[string]string) (int, []byte, error) {
	headers := map[string]string{
		"Authorization": httpx.BasicAuth(c.AppID, c.AppSecret),
		HeaderAppID:     c.AppID,
	}
	for k, v := range extra {
		headers[k] = v
	}
	return httpx.RequestJSON(ctx, c.HTTPClient, method, c.BaseURL+path, body, headers, c.Retries, c.RetryDelay)
}
