// Package signature signs and verifies timestamped webhook payloads with
// HMAC-SHA256.
//
// The signing base string is "{timestamp}.{payload}". Signatures are
// hex-encoded. Freshness is a separate check from signature validity so
// receivers can tell a replayed request from a forged one.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"

	// DefaultMaxAge is the replay window applied when none is configured.
	DefaultMaxAge = 300 * time.Second
)

var (
	ErrMissingHeaders   = errors.New("missing signature headers")
	ErrStaleTimestamp   = errors.New("timestamp outside freshness window")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Sign returns the hex HMAC-SHA256 of "{timestamp}.{payload}" keyed by secret.
func Sign(payload, secret []byte, timestamp int64) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte{'.'})
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches payload, secret and timestamp.
// Comparison is constant time; a length mismatch fails immediately.
func Verify(payload, secret []byte, timestamp int64, signature string) bool {
	expected := Sign(payload, secret, timestamp)
	if len(expected) != len(signature) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// IsFresh reports whether timestamp (unix seconds) is within maxAge of now.
func IsFresh(timestamp int64, maxAge time.Duration) bool {
	return IsFreshAt(timestamp, time.Now(), maxAge)
}

// IsFreshAt is IsFresh against an explicit clock reading.
func IsFreshAt(timestamp int64, now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	// Compared as bounds; a subtraction could overflow for extreme timestamps.
	window := int64(maxAge / time.Second)
	n := now.Unix()
	return timestamp >= n-window && timestamp <= n+window
}

// VerifyRequest checks the signature headers a receiver got alongside body.
// Staleness is reported before signature validity.
func VerifyRequest(body, secret []byte, sigHeader, tsHeader string, now time.Time, maxAge time.Duration) error {
	if sigHeader == "" || tsHeader == "" {
		return ErrMissingHeaders
	}
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if !IsFreshAt(ts, now, maxAge) {
		return ErrStaleTimestamp
	}
	if !Verify(body, secret, ts, sigHeader) {
		return ErrInvalidSignature
	}
	return nil
}
