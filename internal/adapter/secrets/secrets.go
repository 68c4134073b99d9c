// Package secrets encrypts and decrypts small byte strings (callback
// secrets, run secret bindings) with age x25519 keys.
//
// Ciphertext is base64-encoded so it can be stored in TEXT columns.
package secrets

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
)

// Codec encrypts to and decrypts with a single age identity.
type Codec struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// NewCodec parses an AGE-SECRET-KEY-1... identity.
func NewCodec(secretKey string) (*Codec, error) {
	identity, err := age.ParseX25519Identity(strings.TrimSpace(secretKey))
	if err != nil {
		return nil, fmt.Errorf("parsing age identity: %w", err)
	}
	return &Codec{identity: identity, recipient: identity.Recipient()}, nil
}

// NewEphemeralCodec generates a throwaway identity. Ciphertext produced by
// it cannot be read after the process exits.
func NewEphemeralCodec() (*Codec, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age identity: %w", err)
	}
	return &Codec{identity: identity, recipient: identity.Recipient()}, nil
}

// Encrypt returns the base64 age ciphertext of plaintext.
func (c *Codec) Encrypt(plaintext []byte) (string, error) {
	return Encrypt(plaintext, c.recipient)
}

// Decrypt reverses Encrypt.
func (c *Codec) Decrypt(ciphertext string) ([]byte, error) {
	return Decrypt(ciphertext, c.identity)
}

// Encrypt encrypts plaintext to recipient and base64-encodes the result.
func Encrypt(plaintext []byte, recipient age.Recipient) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return "", fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return "", fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing age encryption: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decrypt decodes base64 ciphertext and decrypts it with identity.
func Decrypt(ciphertext string, identity age.Identity) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decoding base64 ciphertext: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting age ciphertext: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	return plaintext, nil
}
