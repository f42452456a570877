// Package resolver binds a verified session to exactly one custodial
// wallet per (identity, chain type): reuse a linked wallet, claim an
// unowned one, or create a new one. It runs at most once per session,
// asynchronously, while the connection is already usable.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"walletgate/pkg/audit"
	"walletgate/pkg/custody"
	"walletgate/pkg/metrics"
	"walletgate/pkg/models"
	"walletgate/pkg/session"
	"walletgate/pkg/store"
	"walletgate/pkg/walletbus"
)

type Resolver struct {
	Custody   custody.Client
	ChainType string
	// OwnerFromSigner selects the owner reference for created wallets:
	// the session's public key (session credential mode) or the identity
	// itself (static mode).
	OwnerFromSigner bool
	Cache           store.Cache
	CacheTTL        time.Duration
	Audit           *audit.Writer
	Bus             *walletbus.Publisher
	Metrics         *metrics.Registry
}

// Resolve finds or provisions the session's wallet and pushes the outcome
// to the client. A second call for the same session is a no-op. Upstream
// failures leave the session open with signing disabled; the client may
// reconnect to retry.
func (r *Resolver) Resolve(ctx context.Context, sess *session.Session) {
	if !sess.BeginResolve() {
		return
	}
	identity := sess.Identity()
	if identity == "" {
		r.fail(sess, fmt.Errorf("session has no identity"))
		return
	}

	if wallet, ok := r.cachedWallet(ctx, identity); ok {
		sess.MarkReady(wallet.ID, wallet.Address)
		sess.Send(models.WalletNotice(models.WalletInfo{WalletID: wallet.ID, Address: wallet.Address, IsNew: false}))
		r.Metrics.IncResolution("cached")
		return
	}

	wallets, err := r.Custody.LinkedWallets(ctx, identity, r.ChainType)
	if err != nil {
		r.fail(sess, fmt.Errorf("wallet lookup: %w", err))
		return
	}

	var (
		wallet custody.Wallet
		isNew  bool
		kind   string
	)
	if len(wallets) > 0 {
		// First linked wallet for the chain type is canonical.
		wallet = wallets[0]
		kind = audit.KindWalletAdopted
		if wallet.OwnerRef == "" {
			// First-claim-wins upstream; a concurrent claim by another
			// session is a lost-update race this design accepts.
			if err := r.Custody.ClaimWallet(ctx, wallet.ID, r.ownerRef(sess)); err != nil {
				r.fail(sess, fmt.Errorf("wallet claim: %w", err))
				return
			}
			kind = audit.KindWalletClaimed
		}
	} else {
		wallet, err = r.Custody.CreateWallet(ctx, r.ChainType, r.ownerRef(sess))
		if err != nil {
			r.fail(sess, fmt.Errorf("wallet create: %w", err))
			return
		}
		isNew = true
		kind = audit.KindWalletCreated
	}

	sess.MarkReady(wallet.ID, wallet.Address)
	sess.Send(models.WalletNotice(models.WalletInfo{WalletID: wallet.ID, Address: wallet.Address, IsNew: isNew}))

	switch kind {
	case audit.KindWalletAdopted:
		r.Metrics.IncResolution("adopted")
	case audit.KindWalletClaimed:
		r.Metrics.IncResolution("claimed")
	case audit.KindWalletCreated:
		r.Metrics.IncResolution("created")
	}
	r.storeCached(ctx, identity, wallet)
	if err := r.Audit.Append(ctx, audit.Event{
		SessionID: sess.Handle,
		Identity:  identity,
		WalletID:  wallet.ID,
		Kind:      kind,
	}); err != nil {
		log.Printf("resolver: audit append: %v", err)
	}
	if err := r.Bus.Publish(ctx, walletbus.Event{
		Kind:      kind,
		Identity:  identity,
		WalletID:  wallet.ID,
		Address:   wallet.Address,
		ChainType: r.ChainType,
	}); err != nil {
		log.Printf("resolver: wallet event publish: %v", err)
	}
}

func (r *Resolver) ownerRef(sess *session.Session) string {
	if r.OwnerFromSigner && sess.Signer != nil {
		return sess.Signer.PublicKey()
	}
	return sess.Identity()
}

func (r *Resolver) fail(sess *session.Session, err error) {
	log.Printf("resolver: session=%s %v", sess.Handle, err)
	r.Metrics.IncResolution("failed")
	sess.Send(models.ErrorNotice(fmt.Sprintf("wallet resolution failed: %v", err)))
}

func (r *Resolver) cacheKey(identity string) string {
	return "wg:wallet:" + identity + ":" + r.ChainType
}

func (r *Resolver) cachedWallet(ctx context.Context, identity string) (custody.Wallet, bool) {
	if r.Cache == nil || r.CacheTTL <= 0 {
		return custody.Wallet{}, false
	}
	raw, err := r.Cache.Get(ctx, r.cacheKey(identity))
	if err != nil {
		return custody.Wallet{}, false
	}
	var wallet custody.Wallet
	if err := json.Unmarshal([]byte(raw), &wallet); err != nil || wallet.ID == "" {
		return custody.Wallet{}, false
	}
	return wallet, true
}

func (r *Resolver) storeCached(ctx context.Context, identity string, wallet custody.Wallet) {
	if r.Cache == nil || r.CacheTTL <= 0 {
		return
	}
	raw, err := json.Marshal(wallet)
	if err != nil {
		return
	}
	if err := r.Cache.Set(ctx, r.cacheKey(identity), string(raw), r.CacheTTL); err != nil {
		log.Printf("resolver: cache set: %v", err)
	}
}
