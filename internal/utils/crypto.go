// Package utils holds small helpers shared by the API and the archiver.
package utils

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const KeySize = chacha20poly1305.KeySize

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// GenerateRandomKey returns a fresh 32-byte key.
func GenerateRandomKey() []byte {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return key
}

// Encrypt seals plaintext with XChaCha20-Poly1305 and returns base64 of
// nonce||ciphertext.
func Encrypt(plaintext string, key []byte) (string, error) {
	sealed, err := Seal([]byte(plaintext), key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func Decrypt(ciphertext string, key []byte) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	plain, err := Open(data, key)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func Seal(plaintext, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func Open(data, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	if len(data) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	nonce, sealed := data[:aead.NonceSize()], data[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plain, nil
}

const saltSize = 16

// SealWithPassphrase derives a key from passphrase with Argon2id and returns
// salt||nonce||ciphertext.
func SealWithPassphrase(plaintext []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	sealed, err := Seal(plaintext, deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	return append(salt, sealed...), nil
}

func OpenWithPassphrase(data []byte, passphrase string) ([]byte, error) {
	if len(data) < saltSize {
		return nil, ErrCiphertextTooShort
	}
	return Open(data[saltSize:], deriveKey(passphrase, data[:saltSize]))
}

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, KeySize)
}
