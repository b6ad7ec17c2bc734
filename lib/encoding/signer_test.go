package encoding

import "testing"

func TestChecksumDeterministic(t *testing.T) {
	s, err := NewSigner([]byte("secret"))
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}

	data := map[string]any{"name": "World", "count": 3}
	a := s.MustChecksum(data)
	b := s.MustChecksum(map[string]any{"count": 3, "name": "World"})
	if a != b {
		t.Errorf("Checksum not deterministic: %s != %s", a, b)
	}

	c := s.MustChecksum(map[string]any{"name": "World", "count": 4})
	if a == c {
		t.Error("Checksum did not change with data")
	}
}

func TestChecksumDependsOnSecret(t *testing.T) {
	s1, _ := NewSigner([]byte("one"))
	s2, _ := NewSigner([]byte("two"))

	if s1.MustChecksum("<div></div>") == s2.MustChecksum("<div></div>") {
		t.Error("different secrets produced the same checksum")
	}
}

func TestChecksumInputKinds(t *testing.T) {
	s, _ := NewSigner([]byte("secret"))

	if s.MustChecksum("abc") != s.MustChecksum([]byte("abc")) {
		t.Error("string and bytes checksums differ")
	}
	if s.MustChecksum(map[string]any{"a": 1}) != s.MustChecksum(`{"a":1}`) {
		t.Error("mapping checksum should equal checksum of its canonical JSON")
	}
}

func TestVerify(t *testing.T) {
	s, _ := NewSigner([]byte("secret"))
	data := map[string]any{"a": "b"}
	sum := s.MustChecksum(data)

	if !s.Verify(data, sum) {
		t.Error("Verify() = false for valid checksum")
	}
	if s.Verify(map[string]any{"a": "c"}, sum) {
		t.Error("Verify() = true for tampered data")
	}
	if s.Verify(data, "not base64 !!") {
		t.Error("Verify() = true for malformed checksum")
	}
}

func TestNewSignerEmptySecret(t *testing.T) {
	if _, err := NewSigner(nil); err != ErrEmptySecret {
		t.Errorf("NewSigner(nil) error = %v, want %v", err, ErrEmptySecret)
	}
}
