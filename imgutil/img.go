// Package imgutil renders URIs as embeddable QR code images.
package imgutil

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// qrSize is the edge length of rendered QR codes in pixels.
const qrSize = 280

// CreateImg renders the given URI as a QR code and returns it as a PNG
// data URI suitable for direct embedding in API responses and web UIs.
func CreateImg(uri string) (string, error) {
	png, err := qrcode.Encode(uri, qrcode.Medium, qrSize)
	if err != nil {
		return "", fmt.Errorf("failed to render QR code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
