package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

// HS256Verifier validates HS256 JWTs locally. One algorithm, shared
// secret; a JWT library would be overkill here.
type HS256Verifier struct {
	Secret   string
	Issuer   string
	Audience string
	Now      func() time.Time
}

type tokenClaims struct {
	Sub string `json:"sub"`
	Iss string `json:"iss,omitempty"`
	Aud any    `json:"aud,omitempty"`
	Exp int64  `json:"exp"`
	Nbf int64  `json:"nbf,omitempty"`
}

func (v *HS256Verifier) Verify(ctx context.Context, token string) (string, error) {
	if v.Secret == "" {
		return "", ErrInvalidToken
	}
	now := time.Now().UTC()
	if v.Now != nil {
		now = v.Now()
	}
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return "", ErrInvalidToken
	}
	headerRaw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", ErrInvalidToken
	}
	payloadRaw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrInvalidToken
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return "", ErrInvalidToken
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		return "", ErrInvalidToken
	}
	if strings.ToUpper(header.Alg) != "HS256" {
		return "", ErrInvalidToken
	}
	mac := hmac.New(sha256.New, []byte(v.Secret))
	_, _ = mac.Write([]byte(parts[0] + "." + parts[1]))
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return "", ErrInvalidToken
	}
	var claims tokenClaims
	if err := json.Unmarshal(payloadRaw, &claims); err != nil {
		return "", ErrInvalidToken
	}
	if claims.Sub == "" {
		return "", ErrInvalidToken
	}
	if claims.Exp == 0 || now.Unix() >= claims.Exp {
		return "", ErrInvalidToken
	}
	if claims.Nbf != 0 && now.Unix() < claims.Nbf {
		return "", ErrInvalidToken
	}
	if v.Issuer != "" && claims.Iss != v.Issuer {
		return "", ErrInvalidToken
	}
	if v.Audience != "" && !audContains(claims.Aud, v.Audience) {
		return "", ErrInvalidToken
	}
	return claims.Sub, nil
}

func audContains(aud any, expected string) bool {
	switch v := aud.(type) {
	case string:
		return v == expected
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == expected {
				return true
			}
		}
	}
	return false
}
