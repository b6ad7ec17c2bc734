package encoding

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// ErrEmptySecret is returned when a Signer is created without a secret.
var ErrEmptySecret = errors.New("encoding: signing secret must not be empty")

// Signer produces tamper-evident checksums over component state and
// rendered HTML.
//
// Checksums are HMAC-SHA256 over the canonical form of the input:
//   - []byte and string inputs are signed as-is
//   - everything else is passed through Dumps first, so two mappings
//     with the same content always produce the same checksum
//
// The digest is truncated to 128 bits and base64url encoded.
type Signer struct {
	key []byte
}

// NewSigner creates a signer keyed with the server secret.
func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Signer{key: key}, nil
}

// Checksum signs data and returns the token.
func (s *Signer) Checksum(data any) (string, error) {
	b, err := canonicalBytes(data)
	if err != nil {
		return "", err
	}
	return s.sign(b), nil
}

// MustChecksum is Checksum for inputs that are known to be encodable,
// such as rendered HTML strings.
func (s *Signer) MustChecksum(data any) string {
	sum, err := s.Checksum(data)
	if err != nil {
		panic("encoding: checksum of unencodable value: " + err.Error())
	}
	return sum
}

// Verify reports whether checksum matches data. Comparison is constant
// time.
func (s *Signer) Verify(data any, checksum string) bool {
	b, err := canonicalBytes(data)
	if err != nil {
		return false
	}
	sig, err := base64.RawURLEncoding.DecodeString(checksum)
	if err != nil {
		return false
	}
	return hmac.Equal(sig, s.digest(b))
}

func (s *Signer) sign(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(s.digest(data))
}

func (s *Signer) digest(data []byte) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(data)
	return mac.Sum(nil)[:16] // 16 bytes = 128 bits
}

func canonicalBytes(data any) ([]byte, error) {
	switch v := data.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	s, err := Dumps(data)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}
