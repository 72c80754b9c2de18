package submit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Credentials is the L2 API key triplet used for HMAC-signed trading
// requests, derived once via L1 EIP-712 auth before the process enters its
// steady-state loop.
type Credentials struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// Session holds one process-lifetime authenticated HMAC session. It is
// shared by reference across every symbol coordinator's submissions.
type Session struct {
	address string
	creds   Credentials
}

// NewSession creates a submission session for an address already holding
// derived L2 credentials.
func NewSession(address string, creds Credentials) *Session {
	return &Session{address: address, creds: creds}
}

// Headers returns the authenticated request headers for one HTTP request.
// message = timestamp + method + path [+ body], HMAC-SHA256 signed with the
// base64-decoded secret; if the secret fails every known base64 decoding,
// its raw bytes are used instead.
func (s *Session) Headers(method, path, body string) (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	sig, err := s.sign(timestamp, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	return map[string]string{
		"POLY_ADDRESS":    s.address,
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  timestamp,
		"POLY_API_KEY":    s.creds.ApiKey,
		"POLY_PASSPHRASE": s.creds.Passphrase,
	}, nil
}

func (s *Session) sign(timestamp, method, path, body string) (string, error) {
	secretBytes, err := decodeSecret(s.creds.Secret)
	if err != nil {
		return "", err
	}

	// timestamp+method+path+body, matching the live venue's own HMAC byte
	// order, not method+path+body+timestamp.
	message := timestamp + method + path + body

	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

func decodeSecret(secret string) ([]byte, error) {
	decoders := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}
	for _, dec := range decoders {
		if b, err := dec.DecodeString(secret); err == nil {
			return b, nil
		}
	}
	// Fallback: use raw bytes if no base64 decoding succeeds.
	return []byte(secret), nil
}
