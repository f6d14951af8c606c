package codec

import (
	"fmt"
	"strings"

	"github.com/gatepass/access-server/internal/model"
)

type Kind string

const (
	KindQR        Kind = "qr"
	KindShortCode Kind = "short_code"
)

// Credential is a presented credential whose kind has been resolved once at
// the boundary. Value is the raw QR payload or the normalized short code.
type Credential struct {
	Kind  Kind
	Value string
}

// Method maps the credential kind to the access method recorded in the log.
func (c Credential) Method() model.AccessMethod {
	if c.Kind == KindQR {
		return model.AccessMethodQRScan
	}
	return model.AccessMethodManualCode
}

// ParseCredential classifies raw input. A qr_scan or manual_code hint forces
// the kind; without a hint the QR prefix decides.
func ParseCredential(raw string, hint model.AccessMethod) (Credential, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Credential{}, fmt.Errorf("%w: empty credential", ErrMalformed)
	}

	kind := KindShortCode
	switch hint {
	case model.AccessMethodQRScan:
		kind = KindQR
	case model.AccessMethodManualCode:
		kind = KindShortCode
	case "":
		if IsQRPayload(raw) {
			kind = KindQR
		}
	default:
		return Credential{}, fmt.Errorf("%w: unsupported method %q", ErrMalformed, hint)
	}

	if kind == KindQR {
		return Credential{Kind: KindQR, Value: raw}, nil
	}

	code := NormalizeShortCode(raw)
	if !IsValidShortCode(code) {
		return Credential{}, fmt.Errorf("%w: invalid short code", ErrMalformed)
	}
	return Credential{Kind: KindShortCode, Value: code}, nil
}
