// Package crypto provides AES-GCM encryption for credential passwords.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/netraven-io/netraven/pkg/config"
)

// AESKeyLen is the required key length (16 bytes for AES-128).
const AESKeyLen = 16

// Encrypt encrypts plainText with AES-GCM under key. A random nonce is
// generated per call and prefixed to the ciphertext; the result is
// base64-encoded.
func Encrypt(plainText, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nonce, nonce, plainText, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt: decodes base64, splits off the nonce and opens
// the AES-GCM ciphertext.
func Decrypt(ciphertext string, key []byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	plainText, err := gcm.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return nil, err
	}
	return plainText, nil
}

// Cipher encrypts and decrypts credential passwords using the configured
// key. When encryption is disabled in config, values pass through verbatim.
type Cipher struct {
	key     []byte
	enabled bool
}

// NewCipher builds a Cipher from configuration
func NewCipher() (*Cipher, error) {
	if !config.IsCryptoEnabled() {
		return &Cipher{}, nil
	}
	key := config.GetCryptoKey()
	if key == "" {
		return nil, fmt.Errorf("crypto enabled but no key configured")
	}
	if len(key) != AESKeyLen {
		return nil, fmt.Errorf("invalid crypto key, the length must be %d", AESKeyLen)
	}
	return &Cipher{key: []byte(key), enabled: true}, nil
}

// Encrypt encrypts a plaintext password for storage
func (c *Cipher) Encrypt(plainText string) (string, error) {
	if !c.enabled {
		return plainText, nil
	}
	return Encrypt([]byte(plainText), c.key)
}

// Decrypt recovers a plaintext password from its stored form
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	if !c.enabled {
		return ciphertext, nil
	}
	data, err := Decrypt(ciphertext, c.key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
