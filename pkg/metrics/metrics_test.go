package metrics

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCounters(t *testing.T) {
	r := NewRegistry()
	r.SessionOpened()
	r.SessionOpened()
	r.SessionClosed()
	r.IncResolution("created")
	r.IncResolution("created")
	r.IncResolution("failed")
	r.IncSign("ok")
	r.IncSign("rate_limited")
	r.ObserveUpstream(40 * time.Millisecond)
	r.ObserveUpstream(20 * time.Millisecond)

	snap := r.Snapshot()
	if snap.SessionsOpened != 2 || snap.SessionsClosed != 1 || snap.ActiveSessions != 1 {
		t.Fatalf("session counters: %+v", snap)
	}
	if snap.Resolutions["created"] != 2 || snap.Resolutions["failed"] != 1 {
		t.Fatalf("resolution counters: %v", snap.Resolutions)
	}
	if snap.SignOutcomes["ok"] != 1 || snap.SignOutcomes["rate_limited"] != 1 {
		t.Fatalf("sign counters: %v", snap.SignOutcomes)
	}
	if snap.UpstreamLatencyMS.Count != 2 || snap.UpstreamLatencyMS.MaxMS != 40 {
		t.Fatalf("latency stat: %+v", snap.UpstreamLatencyMS)
	}
}

func TestActiveSessionsNeverNegative(t *testing.T) {
	r := NewRegistry()
	r.SessionClosed()
	if snap := r.Snapshot(); snap.ActiveSessions != 0 {
		t.Fatalf("active sessions went negative: %d", snap.ActiveSessions)
	}
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	r.SessionOpened()
	r.SessionClosed()
	r.IncResolution("created")
	r.IncSign("ok")
	r.ObserveUpstream(time.Millisecond)
}

func TestHandlerServesSnapshot(t *testing.T) {
	r := NewRegistry()
	r.SessionOpened()

	rec := httptest.NewRecorder()
	r.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status: got %d want 200", rec.Code)
	}
	var snap Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.SessionsOpened != 1 {
		t.Fatalf("snapshot: %+v", snap)
	}
}
