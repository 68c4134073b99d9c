// Package auth issues and verifies sandbox tokens and extracts caller
// identity from requests.
package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xiaot623/gogo/runhook/internal/signature"
)

var (
	ErrMalformedToken = errors.New("malformed sandbox token")
	ErrInvalidToken   = errors.New("invalid sandbox token signature")
	ErrExpiredToken   = errors.New("sandbox token expired")
)

// Claims identify the run a sandbox is executing.
type Claims struct {
	RunID    string `json:"run_id"`
	OwnerID  string `json:"owner_id"`
	IssuedAt int64  `json:"iat"`
}

// TokenIssuer signs sandbox tokens with an HMAC secret.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue creates a token for the run.
func (i *TokenIssuer) Issue(runID, ownerID string) (string, error) {
	claims := Claims{RunID: runID, OwnerID: ownerID, IssuedAt: i.now().Unix()}
	data, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to marshal claims: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(data)
	return encoded + "." + signature.Sign([]byte(encoded), i.secret, claims.IssuedAt), nil
}

// Parse verifies token and returns its claims.
func (i *TokenIssuer) Parse(token string) (*Claims, error) {
	encoded, sig, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || encoded == "" || sig == "" {
		return nil, ErrMalformedToken
	}
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrMalformedToken
	}
	var claims Claims
	if err := json.Unmarshal(data, &claims); err != nil || claims.RunID == "" {
		return nil, ErrMalformedToken
	}
	if !signature.Verify([]byte(encoded), i.secret, claims.IssuedAt, sig) {
		return nil, ErrInvalidToken
	}
	if i.now().Sub(time.Unix(claims.IssuedAt, 0)) > i.ttl {
		return nil, ErrExpiredToken
	}
	return &claims, nil
}
