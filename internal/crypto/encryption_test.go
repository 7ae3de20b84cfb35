package crypto

import (
	"testing"
)

func TestEncryptDecrypt(t *testing.T) {
	key, err := GenerateKey(32)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	enc, err := New(key)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	t.Run("round trip", func(t *testing.T) {
		plaintext := "cached response body with unicode: 日本語"

		ciphertext, err := enc.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		if ciphertext == plaintext {
			t.Error("ciphertext should differ from plaintext")
		}

		decrypted, err := enc.Decrypt(ciphertext)
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if decrypted != plaintext {
			t.Errorf("round trip mismatch: got %q", decrypted)
		}
	})

	t.Run("empty string passthrough", func(t *testing.T) {
		ct, err := enc.Encrypt("")
		if err != nil || ct != "" {
			t.Errorf("Encrypt(\"\") = (%q, %v), want (\"\", nil)", ct, err)
		}
		pt, err := enc.Decrypt("")
		if err != nil || pt != "" {
			t.Errorf("Decrypt(\"\") = (%q, %v), want (\"\", nil)", pt, err)
		}
	})

	t.Run("nonces differ per call", func(t *testing.T) {
		a, _ := enc.Encrypt("same input")
		b, _ := enc.Encrypt("same input")
		if a == b {
			t.Error("repeated encryption should produce distinct ciphertexts")
		}
	})

	t.Run("wrong key fails", func(t *testing.T) {
		ciphertext, _ := enc.Encrypt("secret")

		otherKey, _ := GenerateKey(32)
		other, _ := New(otherKey)
		if _, err := other.Decrypt(ciphertext); err != ErrDecryptionFailed {
			t.Errorf("expected ErrDecryptionFailed, got %v", err)
		}
	})

	t.Run("malformed ciphertext", func(t *testing.T) {
		if _, err := enc.Decrypt("not-base64!!!"); err == nil {
			t.Error("expected error for invalid base64")
		}
		if _, err := enc.Decrypt("YWJj"); err != ErrInvalidCiphertext {
			t.Errorf("expected ErrInvalidCiphertext for short input, got %v", err)
		}
	})
}

func TestEncryptDecryptBytes(t *testing.T) {
	key, _ := GenerateKey(16)
	enc, _ := New(key)

	plaintext := []byte{0x00, 0x01, 0xFF, 0xFE, 0x7F}
	ciphertext, err := enc.EncryptBytes(plaintext)
	if err != nil {
		t.Fatalf("EncryptBytes failed: %v", err)
	}
	decrypted, err := enc.DecryptBytes(ciphertext)
	if err != nil {
		t.Fatalf("DecryptBytes failed: %v", err)
	}
	if string(decrypted) != string(plaintext) {
		t.Error("byte round trip mismatch")
	}

	t.Run("nil passthrough", func(t *testing.T) {
		ct, err := enc.EncryptBytes(nil)
		if err != nil || ct != nil {
			t.Error("EncryptBytes(nil) should return nil, nil")
		}
	})
}

func TestKeySizes(t *testing.T) {
	t.Run("valid sizes", func(t *testing.T) {
		for _, size := range []int{16, 24, 32} {
			key := make([]byte, size)
			if _, err := New(key); err != nil {
				t.Errorf("New with %d-byte key failed: %v", size, err)
			}
		}
	})

	t.Run("invalid sizes", func(t *testing.T) {
		for _, size := range []int{0, 8, 15, 33, 64} {
			key := make([]byte, size)
			if _, err := New(key); err != ErrInvalidKey {
				t.Errorf("New with %d-byte key: expected ErrInvalidKey, got %v", size, err)
			}
		}
	})

	t.Run("generate rejects invalid sizes", func(t *testing.T) {
		if _, err := GenerateKey(20); err != ErrInvalidKey {
			t.Errorf("expected ErrInvalidKey, got %v", err)
		}
	})
}

func TestNewFromPassphrase(t *testing.T) {
	salt, err := GenerateSalt(16)
	if err != nil {
		t.Fatal(err)
	}

	enc1, err := NewFromPassphrase("correct horse battery staple", salt, 1000)
	if err != nil {
		t.Fatalf("NewFromPassphrase failed: %v", err)
	}
	enc2, err := NewFromPassphrase("correct horse battery staple", salt, 1000)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("same passphrase and salt derive the same key", func(t *testing.T) {
		if enc1.KeyID() != enc2.KeyID() {
			t.Error("key ids should match for identical derivation inputs")
		}
		ct, _ := enc1.Encrypt("payload")
		pt, err := enc2.Decrypt(ct)
		if err != nil || pt != "payload" {
			t.Errorf("cross-decrypt = (%q, %v)", pt, err)
		}
	})

	t.Run("different salt derives a different key", func(t *testing.T) {
		otherSalt, _ := GenerateSalt(16)
		enc3, err := NewFromPassphrase("correct horse battery staple", otherSalt, 1000)
		if err != nil {
			t.Fatal(err)
		}
		if enc3.KeyID() == enc1.KeyID() {
			t.Error("different salts should derive different keys")
		}
	})

	t.Run("empty salt rejected", func(t *testing.T) {
		if _, err := NewFromPassphrase("p", nil, 1000); err == nil {
			t.Error("expected error for empty salt")
		}
	})
}

func TestKeyID(t *testing.T) {
	k1, _ := GenerateKey(32)
	k2, _ := GenerateKey(32)
	e1, _ := New(k1)
	e2, _ := New(k2)

	if e1.KeyID() == "" {
		t.Error("KeyID should not be empty")
	}
	if e1.KeyID() == e2.KeyID() {
		t.Error("different keys should have different ids")
	}
	e1b, _ := New(k1)
	if e1.KeyID() != e1b.KeyID() {
		t.Error("same key should have the same id")
	}
}
