package metrics

import (
	"net/http"
	"sync"
	"time"

	"walletgate/pkg/httpx"
)

// Registry collects gateway counters. Everything is in-process and
// snapshotted as JSON on /metrics.
type Registry struct {
	mu             sync.RWMutex
	sessionsOpened int64
	sessionsClosed int64
	activeSessions int64
	resolutions    map[string]int64
	signOutcomes   map[string]int64
	upstream       UpstreamLatencyStat
}

type UpstreamLatencyStat struct {
	Count   int64   `json:"count"`
	TotalMS int64   `json:"total_ms"`
	MaxMS   int64   `json:"max_ms"`
	LastMS  int64   `json:"last_ms"`
	AvgMS   float64 `json:"avg_ms"`
}

type Snapshot struct {
	GeneratedAt       string              `json:"generated_at"`
	SessionsOpened    int64               `json:"sessions_opened_total"`
	SessionsClosed    int64               `json:"sessions_closed_total"`
	ActiveSessions    int64               `json:"active_sessions"`
	Resolutions       map[string]int64    `json:"resolutions"`
	SignOutcomes      map[string]int64    `json:"sign_outcomes"`
	UpstreamLatencyMS UpstreamLatencyStat `json:"upstream_latency_ms"`
}

func NewRegistry() *Registry {
	return &Registry{
		resolutions:  map[string]int64{},
		signOutcomes: map[string]int64{},
	}
}

func (r *Registry) SessionOpened() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.sessionsOpened++
	r.activeSessions++
	r.mu.Unlock()
}

func (r *Registry) SessionClosed() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.sessionsClosed++
	if r.activeSessions > 0 {
		r.activeSessions--
	}
	r.mu.Unlock()
}

// IncResolution counts one wallet-resolution outcome
// (adopted, claimed, created, cached, failed).
func (r *Registry) IncResolution(kind string) {
	if r == nil || kind == "" {
		return
	}
	r.mu.Lock()
	r.resolutions[kind]++
	r.mu.Unlock()
}

// IncSign counts one signing-relay outcome
// (ok, not_ready, invalid_payload, unknown_method, rate_limited, upstream_error, internal_error).
func (r *Registry) IncSign(outcome string) {
	if r == nil || outcome == "" {
		return
	}
	r.mu.Lock()
	r.signOutcomes[outcome]++
	r.mu.Unlock()
}

func (r *Registry) ObserveUpstream(d time.Duration) {
	if r == nil {
		return
	}
	millis := d.Milliseconds()
	r.mu.Lock()
	r.upstream.Count++
	r.upstream.TotalMS += millis
	r.upstream.LastMS = millis
	if millis > r.upstream.MaxMS {
		r.upstream.MaxMS = millis
	}
	r.upstream.AvgMS = float64(r.upstream.TotalMS) / float64(r.upstream.Count)
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	resolutions := make(map[string]int64, len(r.resolutions))
	for k, v := range r.resolutions {
		resolutions[k] = v
	}
	outcomes := make(map[string]int64, len(r.signOutcomes))
	for k, v := range r.signOutcomes {
		outcomes[k] = v
	}
	return Snapshot{
		GeneratedAt:       time.Now().UTC().Format(time.RFC3339Nano),
		SessionsOpened:    r.sessionsOpened,
		SessionsClosed:    r.sessionsClosed,
		ActiveSessions:    r.activeSessions,
		Resolutions:       resolutions,
		SignOutcomes:      outcomes,
		UpstreamLatencyMS: r.upstream,
	}
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, r.Snapshot())
	}
}
