package session

import (
	"encoding/base64"
	"errors"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

const qrImageSize = 256

var ErrNoChallenge = errors.New("no qr challenge available")
var ErrAlreadyConnected = errors.New("session already connected")

// QRCode renders the current challenge as a base64 PNG. The image is computed
// lazily on first request and memoized until the challenge changes.
func (c *Controller) QRCode() (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == PhaseReady {
		return "", "", ErrAlreadyConnected
	}
	if c.rawChallenge == "" {
		return "", "", ErrNoChallenge
	}
	if c.encodedCache == "" {
		png, err := qrcode.Encode(c.rawChallenge, qrcode.Medium, qrImageSize)
		if err != nil {
			return "", "", fmt.Errorf("encode qr challenge: %w", err)
		}
		c.encodedCache = base64.StdEncoding.EncodeToString(png)
	}
	return c.encodedCache, c.rawChallenge, nil
}
