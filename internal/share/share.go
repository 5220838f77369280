// Package share формирует ссылки для распространения реферального кода.
package share

import (
	"fmt"
	"net/url"

	"github.com/skip2/go-qrcode"
)

// QRSize задаёт размер PNG с QR-кодом в пикселях.
const QRSize = 256

// Link возвращает ссылку на оформление заказа с подставленным кодом.
func Link(baseURL, code string) (string, error) {
	if baseURL == "" {
		return "", fmt.Errorf("share base url is not configured")
	}
	if code == "" {
		return "", fmt.Errorf("referral code is empty")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse share base url: %w", err)
	}

	q := u.Query()
	q.Set("ref", code)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// QRCode кодирует ссылку в PNG.
func QRCode(link string) ([]byte, error) {
	png, err := qrcode.Encode(link, qrcode.Medium, QRSize)
	if err != nil {
		return nil, fmt.Errorf("encode qr code: %w", err)
	}
	return png, nil
}
