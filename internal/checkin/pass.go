package checkin

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/skip2/go-qrcode"
)

// ErrInvalidPass is returned for a pass that cannot be decrypted or does not match its booking.
var ErrInvalidPass = errors.New("invalid check-in pass")

// QRSize is the edge length of generated PNGs in pixels.
const QRSize = 256

// Pass is the payload sealed into a check-in QR code.
type Pass struct {
	BookingID string    `json:"bid"`
	MemberID  string    `json:"mid"`
	SessionID string    `json:"sid"`
	IssuedAt  time.Time `json:"iat"`
}

// PassCodec seals passes with AES-GCM so a scanned code can be trusted without a lookup table.
type PassCodec struct {
	aead cipher.AEAD
}

// NewPassCodec takes a 16, 24 or 32 byte key.
func NewPassCodec(secret []byte) (*PassCodec, error) {
	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, fmt.Errorf("check-in secret: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &PassCodec{aead: aead}, nil
}

// Encode returns the URL-safe token printed into the QR code.
func (c *PassCodec) Encode(p Pass) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := c.aead.Seal(nonce, nonce, data, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (c *PassCodec) Decode(token string) (*Pass, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidPass
	}
	if len(raw) < c.aead.NonceSize() {
		return nil, ErrInvalidPass
	}

	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	data, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrInvalidPass
	}

	var p Pass
	if err := json.Unmarshal(data, &p); err != nil || p.BookingID == "" {
		return nil, ErrInvalidPass
	}
	return &p, nil
}

// QR renders the sealed pass as a PNG.
func (c *PassCodec) QR(p Pass) ([]byte, error) {
	token, err := c.Encode(p)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(token, qrcode.Medium, QRSize)
}
