// Package keyseal encrypts payload keys at rest with NaCl secretbox.
//
// A sealed value is base64(nonce || box). The sealer never logs or returns
// plaintext except from Open.
package keyseal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var ErrOpen = errors.New("keyseal: cannot open sealed value")

// Sealer seals and opens short secrets with a single 32-byte key.
type Sealer struct {
	key *[32]byte
}

// New returns a Sealer for key.
func New(key *[32]byte) (*Sealer, error) {
	if key == nil {
		return nil, errors.New("keyseal: nil key")
	}
	return &Sealer{key: key}, nil
}

// NewEphemeral returns a Sealer with a random key. Sealed values do not
// survive a restart; only suitable for memory stores.
func NewEphemeral() (*Sealer, error) {
	var key [32]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return nil, fmt.Errorf("keyseal: generate key: %w", err)
	}
	return &Sealer{key: &key}, nil
}

func (s *Sealer) Seal(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("keyseal: nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, s.key)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (s *Sealer) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrOpen
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, s.key)
	if !ok {
		return "", ErrOpen
	}
	return string(plain), nil
}
