// Package cryptoutil encrypts secrets stored at rest, such as Slack webhook URLs.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Encryptor encrypts and decrypts secrets.
type Encryptor interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(ciphertext string) ([]byte, error)
}

const (
	// Versioned prefix so keys or algorithms can rotate without rewriting stored rows.
	prefixV1    = "v1:"
	prefixPlain = "plain:"
)

// ErrUnknownVersion is returned for ciphertexts without a recognised prefix.
var ErrUnknownVersion = errors.New("unknown ciphertext version")

// AESGCMEncryptor implements Encryptor using AES-256-GCM.
type AESGCMEncryptor struct {
	aead cipher.AEAD
}

// NewAESGCMEncryptor constructs an AESGCMEncryptor. key must be 32 bytes.
func NewAESGCMEncryptor(key []byte) (*AESGCMEncryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("aes-gcm key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESGCMEncryptor{aead: aead}, nil
}

// KeyFromString turns a configured secret into a 32 byte key. A 64 character hex string is used as
// is; anything else is hashed with SHA-256.
func KeyFromString(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("encryption key is required")
	}
	if decoded, err := hex.DecodeString(secret); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	sum := sha256.Sum256([]byte(secret))
	return sum[:], nil
}

// Encrypt seals plaintext under a random nonce and returns "v1:" + base64(nonce || ciphertext).
func (e *AESGCMEncryptor) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := e.aead.Seal(nonce, nonce, plaintext, nil)
	return prefixV1 + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Values written by PlainEncryptor are also accepted so
// a deployment can turn encryption on without rewriting existing rows.
func (e *AESGCMEncryptor) Decrypt(ciphertext string) ([]byte, error) {
	if strings.HasPrefix(ciphertext, prefixPlain) {
		return PlainEncryptor{}.Decrypt(ciphertext)
	}
	raw, ok := strings.CutPrefix(ciphertext, prefixV1)
	if !ok {
		return nil, fmt.Errorf("%w (prefix: %s)", ErrUnknownVersion, shortPrefix(ciphertext))
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	nonceSize := e.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	return e.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
}

// PlainEncryptor stores base64 plaintext behind a marker prefix. It is used when no key is
// configured and in tests.
type PlainEncryptor struct{}

// Encrypt implements Encryptor.
func (PlainEncryptor) Encrypt(plaintext []byte) (string, error) {
	return prefixPlain + base64.StdEncoding.EncodeToString(plaintext), nil
}

// Decrypt implements Encryptor.
func (PlainEncryptor) Decrypt(ciphertext string) ([]byte, error) {
	raw, ok := strings.CutPrefix(ciphertext, prefixPlain)
	if !ok {
		return nil, fmt.Errorf("%w (prefix: %s)", ErrUnknownVersion, shortPrefix(ciphertext))
	}
	return base64.StdEncoding.DecodeString(raw)
}

// TextDecryptor adapts an Encryptor for secrets that are UTF-8 strings.
type TextDecryptor struct {
	Enc Encryptor
}

// Decrypt returns the plaintext as a string.
func (d TextDecryptor) Decrypt(ciphertext string) (string, error) {
	if d.Enc == nil {
		return "", errors.New("no encryptor configured")
	}
	pt, err := d.Enc.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

func shortPrefix(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
