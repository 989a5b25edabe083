package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: unexpected error: %v", err)
	}
	s, err := NewSealer(key)
	if err != nil {
		t.Fatalf("NewSealer: unexpected error: %v", err)
	}

	tests := []struct {
		name  string
		plain []byte
	}{
		{"token", []byte("voice-gateway-token-abc123")},
		{"empty", []byte{}},
		{"binary", []byte{0, 1, 2, 255, 254}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := s.Seal(tt.plain)
			if err != nil {
				t.Fatalf("Seal: unexpected error: %v", err)
			}
			if bytes.Contains(sealed, tt.plain) && len(tt.plain) > 0 {
				t.Errorf("sealed output contains the plaintext")
			}
			if got, want := len(sealed), len(tt.plain)+s.Overhead(); got != want {
				t.Errorf("sealed length = %d, want %d", got, want)
			}

			plain, err := s.Open(sealed)
			if err != nil {
				t.Fatalf("Open: unexpected error: %v", err)
			}
			if !bytes.Equal(plain, tt.plain) {
				t.Errorf("Open = %q, want %q", plain, tt.plain)
			}
		})
	}
}

func TestSealNoncesDiffer(t *testing.T) {
	key, _ := GenerateKey()
	s, err := NewSealer(key)
	if err != nil {
		t.Fatalf("NewSealer: unexpected error: %v", err)
	}
	a, _ := s.Seal([]byte("same input"))
	b, _ := s.Seal([]byte("same input"))
	if bytes.Equal(a, b) {
		t.Fatal("two seals of the same plaintext are identical")
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	key1, _ := GenerateKey()
	key2, _ := GenerateKey()
	s1, _ := NewSealer(key1)
	s2, _ := NewSealer(key2)

	sealed, err := s1.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("Seal: unexpected error: %v", err)
	}
	if _, err := s2.Open(sealed); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("Open with wrong key = %v, want ErrDecryptionFailed", err)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key, _ := GenerateKey()
	s, _ := NewSealer(key)

	sealed, err := s.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("Seal: unexpected error: %v", err)
	}
	sealed[len(sealed)-1] ^= 0x01
	if _, err := s.Open(sealed); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("Open of tampered ciphertext = %v, want ErrDecryptionFailed", err)
	}

	if _, err := s.Open([]byte("short")); !errors.Is(err, ErrInvalidCiphertext) {
		t.Fatalf("Open of truncated input = %v, want ErrInvalidCiphertext", err)
	}
}

func TestNewSealerRejectsBadKeyLength(t *testing.T) {
	if _, err := NewSealer(make([]byte, 16)); err == nil {
		t.Fatal("expected error for 16-byte key")
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: unexpected error: %v", err)
	}

	k1 := DeriveKey("passphrase", salt)
	k2 := DeriveKey("passphrase", salt)
	if !bytes.Equal(k1, k2) {
		t.Error("same passphrase and salt derived different keys")
	}
	if len(k1) != KeySize {
		t.Errorf("derived key length = %d, want %d", len(k1), KeySize)
	}

	other, _ := GenerateSalt()
	if bytes.Equal(k1, DeriveKey("passphrase", other)) {
		t.Error("different salts derived the same key")
	}
	if bytes.Equal(k1, DeriveKey("different", salt)) {
		t.Error("different passphrases derived the same key")
	}
}
