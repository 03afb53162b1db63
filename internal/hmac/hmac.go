package hmac

import (
	cryptoHMAC "crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// ErrNoKey is returned when signing without a key
var ErrNoKey = errors.New("hmac key is not configured")

// HMAC signs and verifies request paths, so that only URLs issued by a key holder get processed
type HMAC struct {
	Key []byte
}

// Enabled reports whether a signing key is configured
func (h *HMAC) Enabled() bool {
	return h != nil && len(h.Key) > 0
}

// Create creates a HMAC of the message, encoded as urlsafe base64
func (h *HMAC) Create(message string) (string, error) {
	if !h.Enabled() {
		return "", ErrNoKey
	}

	mac := cryptoHMAC.New(sha256.New, h.Key)
	mac.Write([]byte(message))

	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Validate reports whether mac is the HMAC of the message
func (h *HMAC) Validate(message, mac string) (bool, error) {
	expectedMAC, err := h.Create(message)
	if err != nil {
		return false, err
	}

	return cryptoHMAC.Equal([]byte(mac), []byte(expectedMAC)), nil
}
