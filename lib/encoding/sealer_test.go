package encoding

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealerRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		key  []byte
	}{
		{"32 byte key", bytes.Repeat([]byte{7}, 32)},
		{"short key", []byte("short")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSealer(tt.key)
			if err != nil {
				t.Fatalf("NewSealer() error = %v", err)
			}
			plain := []byte("hunter2")
			sealed, err := s.Seal(plain)
			if err != nil {
				t.Fatalf("Seal() error = %v", err)
			}
			if bytes.Contains(sealed, plain) {
				t.Error("sealed record contains the plaintext")
			}
			again, _ := s.Seal(plain)
			if bytes.Equal(sealed, again) {
				t.Error("Seal() reused a nonce")
			}

			got, err := s.Open(sealed)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if !bytes.Equal(got, plain) {
				t.Errorf("Open() = %q, want %q", got, plain)
			}
		})
	}
}

func TestSealerOpenErrors(t *testing.T) {
	s, _ := NewSealer([]byte("one"))
	other, _ := NewSealer([]byte("two"))
	sealed, err := s.Seal([]byte("state"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Open([]byte{1, 2}); !errors.Is(err, ErrCiphertextTooShort) {
		t.Errorf("Open(short) error = %v, want ErrCiphertextTooShort", err)
	}
	if _, err := other.Open(sealed); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("Open() with another key error = %v, want ErrDecryptFailed", err)
	}
	sealed[len(sealed)-1] ^= 0xff
	if _, err := s.Open(sealed); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("Open(tampered) error = %v, want ErrDecryptFailed", err)
	}
}
