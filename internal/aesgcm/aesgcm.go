// Package aesgcm decrypts image payloads sealed with AES-GCM.
//
// Payloads use the combined layout: the ciphertext immediately followed by the
// 16 byte authentication tag. The nonce is the IV handed out alongside the key,
// and no additional authenticated data is used.
package aesgcm

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
)

const (
	// IVSize is the only accepted IV length
	IVSize = 12
	// TagSize is the length of the authentication tag appended to the ciphertext
	TagSize = 16
)

// Errors
var (
	ErrTruncated = errors.New("ciphertext shorter than the authentication tag")
	ErrWiped     = errors.New("decryption material has been wiped")
)

// ConfigurationError is returned when the key or iv can not be used
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// DecryptionError is returned when a payload can not be authenticated or decrypted
type DecryptionError struct {
	Err error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("error decrypting image data: %s", e.Err)
}

func (e *DecryptionError) Unwrap() error {
	return e.Err
}

// Cipher holds the decryption material for a payload
type Cipher struct {
	mu    sync.Mutex
	key   []byte
	iv    []byte
	wiped bool
}

// New decodes a base64 key and iv.
// The key must be 16, 24 or 32 bytes long and the iv IVSize bytes long.
func New(key, iv string) (*Cipher, error) {
	rawKey, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, &ConfigurationError{"key", err}
	}

	switch len(rawKey) {
	case 16, 24, 32:
	default:
		return nil, &ConfigurationError{"key", fmt.Errorf("length %d, must be 16, 24 or 32 bytes", len(rawKey))}
	}

	rawIV, err := base64.StdEncoding.DecodeString(iv)
	if err != nil {
		return nil, &ConfigurationError{"iv", err}
	}

	if len(rawIV) != IVSize {
		return nil, &ConfigurationError{"iv", fmt.Errorf("length %d, must be %d bytes", len(rawIV), IVSize)}
	}

	return &Cipher{
		key: rawKey,
		iv:  rawIV,
	}, nil
}

func (c *Cipher) aead() (cipher.AEAD, error) {
	if c.wiped {
		return nil, ErrWiped
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(block)
}

// Decrypt authenticates and decrypts ciphertext into a new buffer.
// The tag comparison is done in constant time by crypto/cipher.
func (c *Cipher) Decrypt(ciphertext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(ciphertext) < TagSize {
		return nil, &DecryptionError{ErrTruncated}
	}

	gcm, err := c.aead()
	if err != nil {
		return nil, &DecryptionError{err}
	}

	plaintext, err := gcm.Open(nil, c.iv, ciphertext, nil)
	if err != nil {
		return nil, &DecryptionError{err}
	}

	return plaintext, nil
}

// Encrypt seals plaintext in the layout Decrypt expects
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	gcm, err := c.aead()
	if err != nil {
		return nil, err
	}

	return gcm.Seal(nil, c.iv, plaintext, nil), nil
}

// Wipe zeroes the key and iv, the Cipher can not be used afterwards
func (c *Cipher) Wipe() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.key {
		c.key[i] = 0
	}

	for i := range c.iv {
		c.iv[i] = 0
	}

	c.wiped = true
}
