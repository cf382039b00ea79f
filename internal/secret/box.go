// Package secret encrypts S3 credentials at rest with a process-wide master
// key. Envelope format: base64(salt || nonce || ciphertext), AES-256-GCM with
// an scrypt-derived key and a fresh salt and nonce per encryption.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

const (
	saltLen  = 16
	keyLen   = 32
	scryptN  = 1 << 15
	scryptR  = 8
	scryptP  = 1
)

// Box derives per-secret keys from the master key.
type Box struct {
	masterKey []byte
}

// NewBox creates a Box from the process master key.
func NewBox(masterKey string) (*Box, error) {
	if masterKey == "" {
		return nil, fmt.Errorf("master key cannot be empty")
	}
	return &Box{masterKey: []byte(masterKey)}, nil
}

// Encrypt seals plaintext into the base64 envelope.
func (b *Box) Encrypt(plaintext string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	aead, err := b.aead(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)

	envelope := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	envelope = append(envelope, salt...)
	envelope = append(envelope, nonce...)
	envelope = append(envelope, sealed...)
	return base64.StdEncoding.EncodeToString(envelope), nil
}

// Decrypt opens an envelope produced by Encrypt.
func (b *Box) Decrypt(ciphertext string) (string, error) {
	envelope, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("malformed secret envelope: %w", err)
	}
	if len(envelope) < saltLen {
		return "", fmt.Errorf("secret envelope too short")
	}

	salt := envelope[:saltLen]
	aead, err := b.aead(salt)
	if err != nil {
		return "", err
	}
	if len(envelope) < saltLen+aead.NonceSize() {
		return "", fmt.Errorf("secret envelope too short")
	}

	nonce := envelope[saltLen : saltLen+aead.NonceSize()]
	sealed := envelope[saltLen+aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return string(plaintext), nil
}

func (b *Box) aead(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(b.masterKey, salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
