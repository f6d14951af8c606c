package codec

import (
	"errors"

	"github.com/skip2/go-qrcode"
)

const (
	DefaultQRSize = 512
	minQRSize     = 128
	maxQRSize     = 2048
)

// RenderQR renders a QR payload as a PNG image of size x size pixels.
func RenderQR(payload string, size int) ([]byte, error) {
	if size == 0 {
		size = DefaultQRSize
	}
	if size < minQRSize || size > maxQRSize {
		return nil, errors.New("invalid size: must be between 128 and 2048")
	}

	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return nil, err
	}
	qr.DisableBorder = false

	return qr.PNG(size)
}
