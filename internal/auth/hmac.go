// Package auth signs the user WebSocket channel's subscribe frame.
//
// Grounded on the teacher's internal/exchange/auth.go buildHMAC: same
// multi-encoding secret decode and timestamp+method+path message shape.
// The teacher's L1 EIP-712 wallet signing (used once to derive API keys)
// has no analogue here — the streaming core only ever authenticates with
// an already-derived L2 API key triplet, never a private key.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Credentials is the L2 API key triplet used to authenticate the user
// channel subscribe frame.
type Credentials struct {
	ApiKey     string
	Secret     string
	Passphrase string
}

// Signer builds the HMAC signature Polymarket expects on the user
// channel's subscribe auth payload.
type Signer struct {
	creds Credentials
}

func NewSigner(creds Credentials) *Signer {
	return &Signer{creds: creds}
}

// Sign returns the signature and timestamp to attach to a subscribe
// command on the user channel. message = timestamp + "GET" + "/ws/user".
func (s *Signer) Sign() (signature, timestamp string, err error) {
	timestamp = strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := s.buildHMAC(timestamp, "GET", "/ws/user")
	if err != nil {
		return "", "", fmt.Errorf("sign user channel auth: %w", err)
	}
	return sig, timestamp, nil
}

func (s *Signer) buildHMAC(timestamp, method, path string) (string, error) {
	decoders := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}

	var secretBytes []byte
	var err error
	for _, dec := range decoders {
		secretBytes, err = dec.DecodeString(s.creds.Secret)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}

	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(timestamp + method + path))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}
