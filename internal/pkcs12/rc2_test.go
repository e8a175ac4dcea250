package pkcs12

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestRC2_RFC2268Vectors(t *testing.T) {
	// WHY: RC2 has no maintained public Go implementation; the RFC 2268
	// section 5 vectors pin the key schedule, including effective key
	// lengths that differ from the raw key length.
	t.Parallel()

	tests := []struct {
		key        string
		bits       int
		plaintext  string
		ciphertext string
	}{
		{"0000000000000000", 63, "0000000000000000", "ebb773f993278eff"},
		{"ffffffffffffffff", 64, "ffffffffffffffff", "278b27e42e2f0d49"},
		{"3000000000000000", 64, "1000000000000001", "30649edf9be7d2c2"},
		{"88", 64, "0000000000000000", "61a8a244adacccf0"},
		{"88bca90e90875a", 64, "0000000000000000", "6ccf4308974c267f"},
		{"88bca90e90875a7f0f79c384627bafb2", 64, "0000000000000000", "1a807d272bbe5db1"},
		{"88bca90e90875a7f0f79c384627bafb2", 128, "0000000000000000", "2269552ab0f85ca6"},
		{"88bca90e90875a7f0f79c384627bafb216f80a6f85920584c42fceb0be255daf1e", 129, "0000000000000000", "5b78d3a43dfff1f1"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"/"+tt.ciphertext, func(t *testing.T) {
			t.Parallel()
			key, _ := hex.DecodeString(tt.key)
			pt, _ := hex.DecodeString(tt.plaintext)
			want, _ := hex.DecodeString(tt.ciphertext)

			c, err := newRC2Cipher(key, tt.bits)
			if err != nil {
				t.Fatal(err)
			}
			got := make([]byte, rc2BlockSize)
			c.Encrypt(got, pt)
			if !bytes.Equal(got, want) {
				t.Fatalf("Encrypt = %x, want %x", got, want)
			}
			back := make([]byte, rc2BlockSize)
			c.Decrypt(back, got)
			if !bytes.Equal(back, pt) {
				t.Fatalf("Decrypt = %x, want %x", back, pt)
			}
		})
	}
}

func TestNewRC2Cipher_InvalidParameters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		key  []byte
		bits int
	}{
		{"empty key", nil, 40},
		{"key too long", make([]byte, 129), 128},
		{"zero effective bits", []byte{1}, 0},
		{"effective bits too large", []byte{1}, 1025},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := newRC2Cipher(tt.key, tt.bits); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
