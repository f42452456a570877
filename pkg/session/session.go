// Package session holds the per-connection state: verified identity,
// resolved wallet, signing credential, and the outbound message queue.
// Sessions are ephemeral and in-memory; nothing survives a restart.
package session

import (
	"sync"

	"walletgate/pkg/models"
	"walletgate/pkg/proof"
)

type Phase int

const (
	// PhaseAwaitingWallet: connection open, wallet resolution not yet
	// complete. Signing requests are rejected deterministically.
	PhaseAwaitingWallet Phase = iota
	// PhaseReady: walletId set. The transition is one-way.
	PhaseReady
)

const outboundBuffer = 64

type Session struct {
	// Handle is the opaque connection handle the registry keys on.
	Handle string
	// Signer is the session's proof credential, fixed at creation.
	Signer proof.Signer

	mu             sync.Mutex
	identity       string
	walletID       string
	address        string
	phase          Phase
	resolveStarted bool

	out       chan models.ServerMessage
	done      chan struct{}
	closeOnce sync.Once
}

func New(handle string, signer proof.Signer) *Session {
	return &Session{
		Handle: handle,
		Signer: signer,
		out:    make(chan models.ServerMessage, outboundBuffer),
		done:   make(chan struct{}),
	}
}

// SetIdentity binds the verified user id. First write wins; the identity
// is immutable afterwards.
func (s *Session) SetIdentity(userID string) {
	s.mu.Lock()
	if s.identity == "" {
		s.identity = userID
	}
	s.mu.Unlock()
}

func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// BeginResolve claims the single resolution run for this session.
func (s *Session) BeginResolve() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolveStarted {
		return false
	}
	s.resolveStarted = true
	return true
}

// MarkReady records the resolved wallet and flips the session to
// PhaseReady. Set at most once.
func (s *Session) MarkReady(walletID, address string) {
	s.mu.Lock()
	if s.phase == PhaseAwaitingWallet {
		s.walletID = walletID
		s.address = address
		s.phase = PhaseReady
	}
	s.mu.Unlock()
}

func (s *Session) Wallet() (walletID, address string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseReady {
		return "", "", false
	}
	return s.walletID, s.address, true
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Send queues a message for the connection's writer. Returns false once
// the session is closed; late responses for torn-down sessions are
// silently dropped.
func (s *Session) Send(msg models.ServerMessage) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- msg:
		return true
	case <-s.done:
		return false
	}
}

// Outbound is consumed by exactly one writer goroutine, so frames to one
// connection never interleave.
func (s *Session) Outbound() <-chan models.ServerMessage {
	return s.out
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
