package proof

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"testing"
)

func TestCanonicalDeterministic(t *testing.T) {
	headers := map[string]string{"X-App-Id": "app-1", "Accept": "application/json"}
	d1 := NewDescriptor(http.MethodPost, "/wallets/w1/rpc", headers, []byte(`{"method":"personal_sign"}`))
	d2 := NewDescriptor(http.MethodPost, "/wallets/w1/rpc", map[string]string{"Accept": "application/json", "X-App-Id": "app-1"}, []byte(`{"method":"personal_sign"}`))
	c1, err := d1.Canonical()
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	c2, err := d2.Canonical()
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if !bytes.Equal(c1, c2) {
		t.Fatalf("canonical form not deterministic:\n%s\n%s", c1, c2)
	}
}

func TestCanonicalChangesWithBody(t *testing.T) {
	d1 := NewDescriptor(http.MethodPost, "/wallets/w1/rpc", nil, []byte(`{"a":1}`))
	d2 := NewDescriptor(http.MethodPost, "/wallets/w1/rpc", nil, []byte(`{"a":2}`))
	c1, _ := d1.Canonical()
	c2, _ := d2.Canonical()
	if bytes.Equal(c1, c2) {
		t.Fatalf("different bodies produced identical canonical forms")
	}
}

func TestSessionSignerRoundTrip(t *testing.T) {
	signer, err := NewSessionSigner()
	if err != nil {
		t.Fatalf("new session signer: %v", err)
	}
	d := NewDescriptor(http.MethodPost, "/wallets/w1/rpc", map[string]string{"X-App-Id": "app-1"}, []byte(`{"method":"personal_sign"}`))
	sig, err := signer.Sign(d)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := Verify(signer.PublicKey(), d, sig); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyRejectsTamperedDescriptor(t *testing.T) {
	signer, err := NewSessionSigner()
	if err != nil {
		t.Fatalf("new session signer: %v", err)
	}
	d := NewDescriptor(http.MethodPost, "/wallets/w1/rpc", nil, []byte(`{"a":1}`))
	sig, err := signer.Sign(d)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	tampered := NewDescriptor(http.MethodPost, "/wallets/OTHER/rpc", nil, []byte(`{"a":1}`))
	if err := Verify(signer.PublicKey(), tampered, sig); err == nil {
		t.Fatalf("expected verification failure for tampered path")
	}
}

func TestStaticSigner(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := NewStaticSigner(base64.StdEncoding.EncodeToString(priv))
	if err != nil {
		t.Fatalf("new static signer: %v", err)
	}
	if got, want := signer.PublicKey(), base64.RawURLEncoding.EncodeToString(pub); got != want {
		t.Fatalf("public key mismatch: got %s want %s", got, want)
	}
	d := NewDescriptor(http.MethodPost, "/wallets/w1/rpc", nil, []byte(`{}`))
	sig, err := signer.Sign(d)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := Verify(signer.PublicKey(), d, sig); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestStaticSignerRejectsBadInput(t *testing.T) {
	if _, err := NewStaticSigner("not-base64!!!"); err == nil {
		t.Fatalf("expected error for invalid base64")
	}
	short := base64.StdEncoding.EncodeToString([]byte("too short"))
	if _, err := NewStaticSigner(short); err == nil {
		t.Fatalf("expected error for truncated key")
	}
}

func TestSessionSignersAreDistinct(t *testing.T) {
	a, err := NewSessionSigner()
	if err != nil {
		t.Fatalf("new session signer: %v", err)
	}
	b, err := NewSessionSigner()
	if err != nil {
		t.Fatalf("new session signer: %v", err)
	}
	if a.PublicKey() == b.PublicKey() {
		t.Fatalf("two session signers shared a public key")
	}
}
