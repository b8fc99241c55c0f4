// Package secrets covers the two secret-handling needs of the pipeline:
// sealing stored registrar/provider credentials at rest, and generating
// unguessable challenge tokens.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the secretbox key length in bytes.
const KeySize = 32

const nonceSize = 24

// Key is a symmetric sealing key, typically loaded from configuration.
type Key [KeySize]byte

// ParseKey decodes a base64 (raw URL encoding) key string.
func ParseKey(encoded string) (Key, error) {
	var key Key
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return key, fmt.Errorf("decode sealing key: %w", err)
	}
	if len(raw) != KeySize {
		return key, fmt.Errorf("sealing key must be %d bytes, got %d", KeySize, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// Encrypt seals plaintext with a random nonce. The nonce is prepended to the
// returned blob so Decrypt is self-contained.
func Encrypt(key Key, plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	boxed := secretbox.Seal(nonce[:], plaintext, &nonce, (*[KeySize]byte)(&key))
	return boxed, nil
}

// Decrypt opens a blob produced by Encrypt.
func Decrypt(key Key, blob []byte) ([]byte, error) {
	if len(blob) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short: %d bytes", len(blob))
	}
	var nonce [nonceSize]byte
	copy(nonce[:], blob[:nonceSize])
	plaintext, ok := secretbox.Open(nil, blob[nonceSize:], &nonce, (*[KeySize]byte)(&key))
	if !ok {
		return nil, fmt.Errorf("ciphertext authentication failed")
	}
	return plaintext, nil
}

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// tokenByteCeiling is the largest multiple of len(tokenAlphabet) below 256.
// Bytes at or above it are rejected so every alphabet symbol is equally
// likely; reducing a byte modulo 62 directly would skew toward the first
// eight symbols.
const tokenByteCeiling = 248

// Token generates a cryptographically random alphanumeric string of n
// characters via rejection sampling. At 62 symbols per character, 22
// characters clear 128 bits of entropy.
func Token(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("token length must be positive, got %d", n)
	}
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		for _, b := range buf {
			if b >= tokenByteCeiling {
				continue
			}
			out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
