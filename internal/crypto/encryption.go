// Package crypto provides authenticated encryption for sensitive data
// held by the gateway, such as cached responses persisted to external
// stores.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrInvalidKey is returned when the encryption key is not a valid AES size.
	ErrInvalidKey = errors.New("invalid encryption key: must be 16, 24, or 32 bytes")

	// ErrInvalidCiphertext is returned when the ciphertext is malformed.
	ErrInvalidCiphertext = errors.New("invalid ciphertext: too short")

	// ErrDecryptionFailed is returned when authentication fails during decryption.
	ErrDecryptionFailed = errors.New("decryption failed: authentication failed")
)

// Encryptor performs AES-GCM authenticated encryption. The nonce is
// generated per call and prepended to the ciphertext.
type Encryptor struct {
	gcm   cipher.AEAD
	keyID string
}

// New creates an Encryptor from a raw key of 16, 24, or 32 bytes.
func New(key []byte) (*Encryptor, error) {
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	keyHash := sha256.Sum256(key)
	return &Encryptor{
		gcm:   gcm,
		keyID: base64.RawURLEncoding.EncodeToString(keyHash[:8]),
	}, nil
}

// NewFromString creates an Encryptor from a base64-encoded key.
func NewFromString(encodedKey string) (*Encryptor, error) {
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decoding key: %w", err)
	}
	return New(key)
}

// NewFromPassphrase derives an AES-256 key from a passphrase and salt
// using PBKDF2-SHA256 and creates an Encryptor from it.
func NewFromPassphrase(passphrase string, salt []byte, iterations int) (*Encryptor, error) {
	if len(salt) == 0 {
		return nil, errors.New("salt must not be empty")
	}
	if iterations <= 0 {
		iterations = 480000
	}
	key := pbkdf2.Key([]byte(passphrase), salt, iterations, 32, sha256.New)
	return New(key)
}

// Encrypt encrypts plaintext and returns base64-encoded ciphertext.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	ct, err := e.EncryptBytes([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt decrypts base64-encoded ciphertext back to plaintext.
func (e *Encryptor) Decrypt(encodedCiphertext string) (string, error) {
	if encodedCiphertext == "" {
		return "", nil
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encodedCiphertext)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}
	pt, err := e.DecryptBytes(ciphertext)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// EncryptBytes encrypts binary data, prepending the random nonce.
func (e *Encryptor) EncryptBytes(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, nil
	}
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return e.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptBytes decrypts binary data produced by EncryptBytes.
func (e *Encryptor) DecryptBytes(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, nil
	}
	nonceSize := e.gcm.NonceSize()
	if len(ciphertext) < nonceSize+e.gcm.Overhead()+1 {
		return nil, ErrInvalidCiphertext
	}
	plaintext, err := e.gcm.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// KeyID identifies the key for rotation tracking.
func (e *Encryptor) KeyID() string { return e.keyID }

// GenerateKey generates a random key of 16, 24, or 32 bytes.
func GenerateKey(size int) ([]byte, error) {
	if size != 16 && size != 24 && size != 32 {
		return nil, ErrInvalidKey
	}
	key := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return key, nil
}

// GenerateSalt generates a random salt of the given length.
func GenerateSalt(length int) ([]byte, error) {
	if length <= 0 {
		return nil, errors.New("salt length must be positive")
	}
	salt := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}
