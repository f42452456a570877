package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type fakeDB struct {
	sql  string
	args []any
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql = sql
	f.args = args
	return pgconn.CommandTag{}, nil
}

func TestAppend(t *testing.T) {
	db := &fakeDB{}
	w := &Writer{DB: db}

	err := w.Append(context.Background(), Event{
		SessionID: "h1",
		Identity:  "user-1",
		WalletID:  "w-1",
		Kind:      KindWalletCreated,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if !strings.Contains(db.sql, "INSERT INTO wallet_events") {
		t.Fatalf("unexpected sql: %s", db.sql)
	}
	if len(db.args) != 6 {
		t.Fatalf("arg count: got %d want 6", len(db.args))
	}
	if db.args[0] != "h1" || db.args[1] != "user-1" || db.args[2] != "w-1" || db.args[3] != KindWalletCreated {
		t.Fatalf("unexpected args: %v", db.args)
	}
	createdAt, ok := db.args[5].(time.Time)
	if !ok || createdAt.IsZero() {
		t.Fatalf("created_at not stamped: %v", db.args[5])
	}
}

func TestNilWriterIsNoop(t *testing.T) {
	var w *Writer
	if err := w.Append(context.Background(), Event{Kind: KindSessionOpened}); err != nil {
		t.Fatalf("nil append: %v", err)
	}
	if err := (&Writer{}).Append(context.Background(), Event{Kind: KindSessionOpened}); err != nil {
		t.Fatalf("empty writer append: %v", err)
	}
}
