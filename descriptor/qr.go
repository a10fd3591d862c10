package descriptor

import (
	"encoding/base64"
	"fmt"

	"github.com/skip2/go-qrcode"
)

// BIP21URI formats a receive address as a "bitcoin:" URI suitable for QR
// encoding.
func BIP21URI(address string) string {
	return fmt.Sprintf("bitcoin:%s", address)
}

// QRPNGBase64 renders uri as a PNG QR code of size x size pixels, base64-encoded.
// Grounded on the PNG branch of pathWalletQRRead in path_wallet_qr.go.
func QRPNGBase64(uri string, size int) (string, error) {
	png, err := qrcode.Encode(uri, qrcode.Medium, size)
	if err != nil {
		return "", fmt.Errorf("generating QR code: %w", err)
	}
	return base64.StdEncoding.EncodeToString(png), nil
}

// QRASCII renders uri as a terminal-displayable ASCII QR code, grounded on
// the ascii branch of pathWalletQRRead in path_wallet_qr.go.
func QRASCII(uri string) (string, error) {
	qr, err := qrcode.New(uri, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("generating QR code: %w", err)
	}
	return qr.ToSmallString(false), nil
}
