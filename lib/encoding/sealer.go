package encoding

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
)

// Errors returned by Sealer.Open.
var (
	ErrCiphertextTooShort = errors.New("encoding: ciphertext too short")
	ErrDecryptFailed      = errors.New("encoding: decryption failed")
)

// Sealer encrypts cache records of sensitive components with AES-256-GCM,
// so state persisted in a shared backend is opaque to anyone reading it.
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer creates a sealer. Keys shorter than 32 bytes are stretched
// with SHA-256.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		h := sha256.Sum256(key)
		key = h[:]
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Sealer{gcm: gcm}, nil
}

// Seal encrypts data, prefixing the random nonce.
func (s *Sealer) Seal(data []byte) ([]byte, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return s.gcm.Seal(nonce, nonce, data, nil), nil
}

// Open decrypts data produced by Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < s.gcm.NonceSize() {
		return nil, ErrCiphertextTooShort
	}

	nonce := sealed[:s.gcm.NonceSize()]
	out, err := s.gcm.Open(nil, nonce, sealed[s.gcm.NonceSize():], nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return out, nil
}
