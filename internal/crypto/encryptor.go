package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the exact length of an encryption key
const KeySize = 32

const nonceSize = 24

// ErrDecrypt is returned for ciphertexts that fail authentication
var ErrDecrypt = errors.New("decryption failed")

// Encryptor seals session values before they leave the process
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

type secretboxEncryptor struct {
	key [KeySize]byte
}

// NewEncryptor returns an authenticated encryptor (XSalsa20-Poly1305) keyed
// by a 32 byte secret. Ciphertexts are base64 URL encoded nonce||box.
func NewEncryptor(key []byte) (Encryptor, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be exactly %d bytes, got %d", KeySize, len(key))
	}
	e := &secretboxEncryptor{}
	copy(e.key[:], key)
	return e, nil
}

func (e *secretboxEncryptor) Encrypt(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &e.key)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (e *secretboxEncryptor) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &e.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
