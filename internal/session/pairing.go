package session

import (
	"encoding/base64"
	"errors"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const pairingPrefix = "data:image/png;base64,"

// renderPairing encodes a pairing code as a PNG QR data URL.
func renderPairing(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return pairingPrefix + base64.StdEncoding.EncodeToString(png), nil
}

// PairingPNG decodes a payload produced for a session back into PNG bytes.
func PairingPNG(payload string) ([]byte, error) {
	if !strings.HasPrefix(payload, pairingPrefix) {
		return nil, errors.New("pairing payload is not a PNG data URL")
	}
	return base64.StdEncoding.DecodeString(strings.TrimPrefix(payload, pairingPrefix))
}
