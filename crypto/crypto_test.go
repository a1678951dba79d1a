package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"testing"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestNewAESEncryptorKeyValidation(t *testing.T) {
	if _, err := NewAESEncryptor(""); err == nil {
		t.Error("empty key accepted")
	}
	if _, err := NewAESEncryptor("not base64!!!"); err == nil {
		t.Error("invalid base64 accepted")
	}
	short := base64.StdEncoding.EncodeToString([]byte("too short"))
	if _, err := NewAESEncryptor(short); err == nil {
		t.Error("short key accepted")
	}
	if _, err := NewAESEncryptor(testKey(t)); err != nil {
		t.Errorf("valid key rejected: %v", err)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("NewAESEncryptor: %v", err)
	}

	plaintext := "oauth-refresh-token-abc123"
	ciphertext, err := EncryptString(enc, plaintext)
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	if ciphertext == plaintext {
		t.Fatal("ciphertext equals plaintext")
	}
	got, err := DecryptString(enc, ciphertext)
	if err != nil {
		t.Fatalf("DecryptString: %v", err)
	}
	if got != plaintext {
		t.Fatalf("round trip = %q, want %q", got, plaintext)
	}

	// Same plaintext encrypts to different ciphertexts (random nonce).
	other, err := EncryptString(enc, plaintext)
	if err != nil {
		t.Fatalf("EncryptString (second): %v", err)
	}
	if other == ciphertext {
		t.Error("nonce reuse: identical ciphertexts")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("NewAESEncryptor: %v", err)
	}
	ciphertext, err := enc.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	ciphertext[len(ciphertext)-1] ^= 0xff
	if _, err := enc.Decrypt(ciphertext); err == nil {
		t.Fatal("tampered ciphertext decrypted")
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	enc1, _ := NewAESEncryptor(testKey(t))
	enc2, _ := NewAESEncryptor(testKey(t))
	ciphertext, err := EncryptString(enc1, "secret")
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	if _, err := DecryptString(enc2, ciphertext); err == nil {
		t.Fatal("ciphertext decrypted with the wrong key")
	}
}

func TestEmptyStringPassthrough(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(t))
	if got, err := EncryptString(enc, ""); err != nil || got != "" {
		t.Errorf("EncryptString(\"\") = %q, %v", got, err)
	}
	if got, err := DecryptString(enc, ""); err != nil || got != "" {
		t.Errorf("DecryptString(\"\") = %q, %v", got, err)
	}
}
