package twofactor

import (
	"bytes"
	"encoding/base64"
	"image/png"

	"github.com/pquerna/otp"
	"github.com/samber/oops"
)

const qrSize = 256

// RenderQRCode encodes uri as a PNG QR code and returns it as a data URL.
// The URI is encoded exactly as given.
func RenderQRCode(uri string) (string, error) {
	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return "", oops.Code("TOTP_QR_FAILED").Wrap(err)
	}
	img, err := key.Image(qrSize, qrSize)
	if err != nil {
		return "", oops.Code("TOTP_QR_FAILED").Wrap(err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", oops.Code("TOTP_QR_FAILED").Wrap(err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
