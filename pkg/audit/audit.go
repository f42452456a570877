// Package audit appends wallet lifecycle and session events to postgres.
// Signed payloads and signatures are never recorded. The writer is
// optional; a nil *Writer drops events.
package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type auditDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Writer struct {
	DB auditDB
}

// Event kinds.
const (
	KindSessionOpened = "session_opened"
	KindSessionClosed = "session_closed"
	KindWalletCreated = "wallet_created"
	KindWalletClaimed = "wallet_claimed"
	KindWalletAdopted = "wallet_adopted"
)

type Event struct {
	SessionID string
	Identity  string
	WalletID  string
	Kind      string
	Detail    string
	CreatedAt time.Time
}

func (w *Writer) Append(ctx context.Context, evt Event) error {
	if w == nil || w.DB == nil {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}
	_, err := w.DB.Exec(ctx, `
		INSERT INTO wallet_events
		(session_id, identity, wallet_id, kind, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, evt.SessionID, evt.Identity, evt.WalletID, evt.Kind, evt.Detail, evt.CreatedAt)
	return err
}
