// Package gateway owns the websocket endpoint: upgrade, bearer-token
// verification, session registration, the per-connection writer, and
// dispatch into the resolver and relay.
package gateway

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"walletgate/pkg/audit"
	"walletgate/pkg/httpx"
	"walletgate/pkg/identity"
	"walletgate/pkg/metrics"
	"walletgate/pkg/models"
	"walletgate/pkg/proof"
	"walletgate/pkg/relay"
	"walletgate/pkg/resolver"
	"walletgate/pkg/session"
)

const (
	defaultReadLimit = 1 << 20
	writeTimeout     = 5 * time.Second
)

type Gateway struct {
	Registry *session.Registry
	Verifier identity.Verifier
	Resolver *resolver.Resolver
	Relay    *relay.Relay
	// NewSigner yields the session's proof credential. In static mode it
	// returns the shared deployment signer; in session mode a fresh
	// keypair per connection.
	NewSigner      func() (proof.Signer, error)
	OriginPatterns []string
	ReadLimit      int64
	Metrics        *metrics.Registry
	Audit          *audit.Writer
}

// HandleWS serves GET /ws. Upgrade and verification are pipelined: the
// socket opens first, and a bad token gets a terminal error envelope on
// the open channel before close. No session is registered for a bad
// token.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if !strings.EqualFold(strings.TrimSpace(r.Header.Get("Upgrade")), "websocket") {
		httpx.Error(w, http.StatusBadRequest, "websocket upgrade required")
		return
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		httpx.Error(w, http.StatusUnauthorized, "token required")
		return
	}
	opts := &websocket.AcceptOptions{}
	if len(g.OriginPatterns) > 0 {
		opts.OriginPatterns = g.OriginPatterns
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}
	readLimit := g.ReadLimit
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	conn.SetReadLimit(readLimit)

	connCtx, cancel := context.WithCancel(r.Context())
	defer cancel()

	userID, err := g.Verifier.Verify(connCtx, token)
	if err != nil {
		msg := "identity verification failed"
		if errors.Is(err, identity.ErrInvalidToken) {
			msg = "invalid token"
		} else {
			log.Printf("gateway: verifier: %v", err)
		}
		g.writeDirect(connCtx, conn, models.ErrorNotice(msg))
		_ = conn.Close(websocket.StatusPolicyViolation, msg)
		return
	}

	signer, err := g.NewSigner()
	if err != nil {
		log.Printf("gateway: signer: %v", err)
		g.writeDirect(connCtx, conn, models.ErrorNotice("internal error"))
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}

	handle := uuid.New().String()
	sess := session.New(handle, signer)
	sess.SetIdentity(userID)
	g.Registry.Add(sess)
	g.Metrics.SessionOpened()
	if err := g.Audit.Append(connCtx, audit.Event{SessionID: handle, Identity: userID, Kind: audit.KindSessionOpened}); err != nil {
		log.Printf("gateway: audit append: %v", err)
	}
	defer func() {
		g.Registry.Remove(handle)
		g.Metrics.SessionClosed()
		if err := g.Audit.Append(context.Background(), audit.Event{SessionID: handle, Identity: userID, Kind: audit.KindSessionClosed}); err != nil {
			log.Printf("gateway: audit append: %v", err)
		}
		_ = conn.Close(websocket.StatusNormalClosure, "closed")
	}()

	go g.writePump(connCtx, cancel, conn, sess)

	// Welcome is queued before resolution starts, so it always precedes
	// any wallet notification.
	sess.Send(models.Welcome(userID))

	// Upstream work is deliberately not bound to the connection context:
	// closing the transport drops eventual responses but does not abort
	// in-flight custody calls.
	go g.Resolver.Resolve(context.Background(), sess)

	for {
		_, raw, err := conn.Read(connCtx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				log.Printf("gateway: session=%s read: %v", handle, err)
			}
			return
		}
		go g.Relay.HandleMessage(context.Background(), sess, raw)
	}
}

func (g *Gateway) writePump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sess *session.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			return
		case msg := <-sess.Outbound():
			writeCtx, cancelWrite := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, msg)
			cancelWrite()
			if err != nil {
				cancel()
				return
			}
		}
	}
}

func (g *Gateway) writeDirect(ctx context.Context, conn *websocket.Conn, msg models.ServerMessage) {
	writeCtx, cancelWrite := context.WithTimeout(ctx, writeTimeout)
	defer cancelWrite()
	_ = wsjson.Write(writeCtx, conn, msg)
}
