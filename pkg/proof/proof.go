// Package proof produces the per-call authorization signature the custody
// service requires for privileged operations. The signature covers a
// canonical descriptor of the exact upstream call about to be made. No
// nonce or timestamp is bound in; whether the custody service enforces
// single use is its own concern.
package proof

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// DescriptorVersion tags the canonical tuple layout.
const DescriptorVersion = "1"

// Descriptor is the canonical tuple describing one upstream call. Field
// order is fixed by the struct and header keys are sorted by the JSON
// encoder, so marshaling is deterministic.
type Descriptor struct {
	Version string            `json:"version"`
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
}

func NewDescriptor(method, path string, headers map[string]string, body []byte) Descriptor {
	return Descriptor{
		Version: DescriptorVersion,
		Method:  method,
		Path:    path,
		Headers: headers,
		Body:    body,
	}
}

func (d Descriptor) Canonical() ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("canonicalize descriptor: %w", err)
	}
	return raw, nil
}

// Signer produces authorization proofs. Exactly one mode is active per
// deployment: per-session generated keys or one static deployment key.
type Signer interface {
	Sign(d Descriptor) (string, error)
	// PublicKey returns the base64url raw public key, registered as the
	// wallet's delegated signer in session mode.
	PublicKey() string
}

type KeySigner struct {
	priv ed25519.PrivateKey
	pub  string
}

// NewSessionSigner generates a fresh keypair for one session's lifetime.
func NewSessionSigner() (*KeySigner, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	return &KeySigner{priv: priv, pub: base64.RawURLEncoding.EncodeToString(pub)}, nil
}

// NewStaticSigner loads the deployment-wide authorization key from its
// base64 encoding.
func NewStaticSigner(privateKeyB64 string) (*KeySigner, error) {
	decoded, err := base64.StdEncoding.DecodeString(privateKeyB64)
	if err != nil {
		return nil, fmt.Errorf("decode private key b64: %w", err)
	}
	if len(decoded) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key length: %d", len(decoded))
	}
	priv := ed25519.PrivateKey(decoded)
	pub := priv.Public().(ed25519.PublicKey)
	return &KeySigner{priv: priv, pub: base64.RawURLEncoding.EncodeToString(pub)}, nil
}

func (s *KeySigner) Sign(d Descriptor) (string, error) {
	payload, err := d.Canonical()
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(s.priv, payload)
	return base64.StdEncoding.EncodeToString(sig), nil
}

func (s *KeySigner) PublicKey() string { return s.pub }

// Verify checks a proof against a descriptor; used by tests and custody
// stubs.
func Verify(publicKeyB64URL string, d Descriptor, signatureB64 string) error {
	pubRaw, err := base64.RawURLEncoding.DecodeString(publicKeyB64URL)
	if err != nil {
		return fmt.Errorf("decode public key: %w", err)
	}
	if len(pubRaw) != ed25519.PublicKeySize {
		return errors.New("invalid public key length")
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	payload, err := d.Canonical()
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(pubRaw), payload, sig) {
		return errors.New("invalid signature")
	}
	return nil
}
