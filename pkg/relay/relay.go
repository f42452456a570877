// Package relay handles signing requests arriving on an open session:
// validate the envelope, build the canonical upstream descriptor, compute
// the authorization proof, forward to custody, and push the correlated
// result. Every failure mode is a correlated error response; the
// connection is never closed from here.
package relay

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"walletgate/pkg/custody"
	"walletgate/pkg/metrics"
	"walletgate/pkg/models"
	"walletgate/pkg/proof"
	"walletgate/pkg/ratelimit"
	"walletgate/pkg/session"
)

const MethodSignPersonalMessage = "signPersonalMessage"

type Relay struct {
	Custody custody.Client
	// AppID is bound into the signed descriptor's header subset.
	AppID          string
	Limiter        ratelimit.Limiter
	LimitPerWindow int
	Metrics        *metrics.Registry
}

// HandleMessage processes one inbound frame. Messages on one connection
// may be dispatched concurrently; responses correlate by id only.
func (r *Relay) HandleMessage(ctx context.Context, sess *session.Session, raw []byte) {
	var req models.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		sess.Send(models.ErrorNotice("malformed request"))
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		sess.Send(models.ErrorNotice("request id required"))
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("relay: panic handling request %s: %v", req.ID, rec)
			r.Metrics.IncSign("internal_error")
			sess.Send(models.RequestError(req.ID, "internal error"))
		}
	}()
	switch req.Method {
	case MethodSignPersonalMessage:
		r.handleSign(ctx, sess, req)
	default:
		r.Metrics.IncSign("unknown_method")
		sess.Send(models.RequestError(req.ID, "unknown method: "+req.Method))
	}
}

func (r *Relay) handleSign(ctx context.Context, sess *session.Session, req models.Request) {
	walletID, _, ok := sess.Wallet()
	if !ok {
		r.Metrics.IncSign("not_ready")
		sess.Send(models.RequestError(req.ID, "session not initialized"))
		return
	}
	if len(req.Params) < 1 || strings.TrimSpace(req.Params[0]) == "" {
		r.Metrics.IncSign("invalid_payload")
		sess.Send(models.RequestError(req.ID, "missing message parameter"))
		return
	}
	messageHex := strings.TrimSpace(req.Params[0])
	if err := validateHex(messageHex); err != nil {
		r.Metrics.IncSign("invalid_payload")
		sess.Send(models.RequestError(req.ID, "invalid hex payload"))
		return
	}
	if r.Limiter != nil && r.LimitPerWindow > 0 {
		decision := r.Limiter.Allow(ratelimit.Key(sess.Identity(), req.Method), r.LimitPerWindow)
		if !decision.Allowed {
			r.Metrics.IncSign("rate_limited")
			sess.Send(models.RequestError(req.ID, "rate limit exceeded"))
			return
		}
	}

	body, err := custody.PersonalSignBody(messageHex)
	if err != nil {
		r.Metrics.IncSign("internal_error")
		sess.Send(models.RequestError(req.ID, "internal error"))
		return
	}
	descriptor := proof.NewDescriptor(
		http.MethodPost,
		custody.RPCPath(walletID),
		map[string]string{custody.HeaderAppID: r.AppID},
		body,
	)
	authSig, err := sess.Signer.Sign(descriptor)
	if err != nil {
		r.Metrics.IncSign("internal_error")
		sess.Send(models.RequestError(req.ID, "internal error"))
		return
	}

	start := time.Now()
	status, respBody, err := r.Custody.RPC(ctx, walletID, body, authSig)
	r.Metrics.ObserveUpstream(time.Since(start))
	if err != nil {
		r.Metrics.IncSign("upstream_error")
		sess.Send(models.RequestError(req.ID, fmt.Sprintf("upstream request failed: %v", err)))
		return
	}
	if status != http.StatusOK {
		r.Metrics.IncSign("upstream_error")
		sess.Send(models.RequestError(req.ID, fmt.Sprintf("custody status %d: %s", status, strings.TrimSpace(string(respBody)))))
		return
	}
	var result struct {
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil || result.Signature == "" {
		r.Metrics.IncSign("upstream_error")
		sess.Send(models.RequestError(req.ID, "custody response missing signature"))
		return
	}
	r.Metrics.IncSign("ok")
	sess.Send(models.Result(req.ID, result.Signature))
}

func validateHex(payload string) error {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(payload, "0x"), "0X")
	if trimmed == "" {
		return fmt.Errorf("empty payload")
	}
	if _, err := hex.DecodeString(trimmed); err != nil {
		return err
	}
	return nil
}
