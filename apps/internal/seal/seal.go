// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

// Package seal encrypts small values, such as OAuth tokens, before they are written to disk.
package seal

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the length of a sealing key in bytes.
const KeySize = chacha20poly1305.KeySize

// Sealer seals and opens values with XChaCha20-Poly1305.
type Sealer struct {
	aead cipher.AEAD
}

// New returns a Sealer for a KeySize byte key.
func New(key []byte) (*Sealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("new xchacha20-poly1305: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// ParseKey decodes a standard base64 key, as kept in an environment variable.
func ParseKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode sealing key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("sealing key is %d bytes, want %d", len(key), KeySize)
	}
	return key, nil
}

// Seal encrypts plaintext. The result is nonce || ciphertext. additional is authenticated
// but not encrypted; the same value must be passed to Open.
func (s *Sealer) Seal(plaintext, additional []byte) ([]byte, error) {
	if s == nil || s.aead == nil {
		return nil, errors.New("sealer is not configured")
	}
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, additional), nil
}

// Open decrypts a value returned by Seal.
func (s *Sealer) Open(sealed, additional []byte) ([]byte, error) {
	if s == nil || s.aead == nil {
		return nil, errors.New("sealer is not configured")
	}
	if len(sealed) < s.aead.NonceSize() {
		return nil, errors.New("sealed value is too short")
	}
	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, additional)
	if err != nil {
		return nil, fmt.Errorf("decrypt sealed value: %w", err)
	}
	return plaintext, nil
}
