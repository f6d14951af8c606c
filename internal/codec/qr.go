// Package codec produces and checks the two invitation credentials: the
// signed QR payload and the short human-enterable code.
package codec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gatepass/access-server/internal/util"
)

const (
	qrPrefix    = "GP1"
	qrSeparator = "."
	qrParts     = 3
	sigHexLen   = 64
)

var (
	ErrMalformed = errors.New("malformed credential")
	ErrTampered  = errors.New("tampered credential")
)

// Codec signs and verifies QR payloads with a server-held secret.
type Codec struct {
	secret string
}

func New(secret string) *Codec {
	return &Codec{secret: secret}
}

// QRPayload returns the QR payload for an invitation id: GP1.<id>.<hmac>.
func (c *Codec) QRPayload(invitationID string) string {
	return qrPrefix + qrSeparator + invitationID + qrSeparator + c.sign(invitationID)
}

// Decode verifies a QR payload and returns the invitation id it carries.
// Errors wrap ErrMalformed or ErrTampered.
func (c *Codec) Decode(payload string) (string, error) {
	parts := strings.Split(strings.TrimSpace(payload), qrSeparator)
	if len(parts) != qrParts {
		return "", fmt.Errorf("%w: expected %d segments, got %d", ErrMalformed, qrParts, len(parts))
	}
	if parts[0] != qrPrefix {
		return "", fmt.Errorf("%w: unknown prefix", ErrMalformed)
	}

	id, sig := parts[1], parts[2]
	if !util.IsValidUUID(id) {
		return "", fmt.Errorf("%w: invalid invitation id", ErrMalformed)
	}
	if !isLowerHex(sig) || len(sig) != sigHexLen {
		return "", fmt.Errorf("%w: invalid signature encoding", ErrMalformed)
	}

	if !util.ConstantTimeEqual(sig, c.sign(id)) {
		return "", ErrTampered
	}
	return id, nil
}

// IsQRPayload reports whether raw has the shape of a QR payload.
func IsQRPayload(raw string) bool {
	return strings.HasPrefix(strings.TrimSpace(raw), qrPrefix+qrSeparator)
}

func (c *Codec) sign(invitationID string) string {
	return util.HmacSHA256(c.secret, qrPrefix+qrSeparator+invitationID)
}

func isLowerHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
