package media

import (
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const qrImageSize = 320

// QRCodePNG renders a login code as a PNG image.
func QRCodePNG(content string) ([]byte, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("qr content is required")
	}
	data, err := qrcode.Encode(content, qrcode.Medium, qrImageSize)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return data, nil
}
