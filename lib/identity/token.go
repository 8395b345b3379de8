// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/zeebo/blake3"
)

// KeySize is the length of a signing key in bytes.
const KeySize = 32

// maxIdentityLength bounds what Mint accepts, keeping tokens short
// enough for a query string.
const maxIdentityLength = 256

// ErrInvalidToken is returned by Verify for malformed tokens and for
// tokens whose MAC does not match.
var ErrInvalidToken = errors.New("identity: invalid token")

// Signer mints and verifies tokens under one key. Safe for concurrent
// use.
type Signer struct {
	key [KeySize]byte
}

// NewSigner returns a Signer for key, which must be KeySize bytes.
func NewSigner(key []byte) (*Signer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("identity: signing key has %d bytes, want %d", len(key), KeySize)
	}
	signer := &Signer{}
	copy(signer.key[:], key)
	return signer, nil
}

// Mint returns a token for identity. The identity must be non-empty
// UTF-8 of at most 256 bytes.
func (s *Signer) Mint(identity string) (string, error) {
	if identity == "" {
		return "", errors.New("identity: empty identity")
	}
	if len(identity) > maxIdentityLength {
		return "", fmt.Errorf("identity: identity is %d bytes, limit %d", len(identity), maxIdentityLength)
	}
	if !utf8.ValidString(identity) {
		return "", errors.New("identity: identity is not valid UTF-8")
	}
	mac, err := s.mac(identity)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString([]byte(identity)) + "." + hex.EncodeToString(mac), nil
}

// Verify checks token and returns the identity it names.
func (s *Signer) Verify(token string) (string, error) {
	encodedIdentity, encodedMAC, found := strings.Cut(token, ".")
	if !found {
		return "", fmt.Errorf("%w: missing separator", ErrInvalidToken)
	}
	rawIdentity, err := base64.RawURLEncoding.DecodeString(encodedIdentity)
	if err != nil || len(rawIdentity) == 0 {
		return "", fmt.Errorf("%w: malformed identity", ErrInvalidToken)
	}
	claimed, err := hex.DecodeString(encodedMAC)
	if err != nil {
		return "", fmt.Errorf("%w: malformed MAC", ErrInvalidToken)
	}
	identity := string(rawIdentity)
	expected, err := s.mac(identity)
	if err != nil {
		return "", err
	}
	if subtle.ConstantTimeCompare(claimed, expected) != 1 {
		return "", fmt.Errorf("%w: MAC mismatch", ErrInvalidToken)
	}
	return identity, nil
}

func (s *Signer) mac(identity string) ([]byte, error) {
	hasher, err := blake3.NewKeyed(s.key[:])
	if err != nil {
		return nil, fmt.Errorf("identity: keyed hash: %w", err)
	}
	hasher.Write([]byte(identity))
	return hasher.Sum(nil), nil
}
