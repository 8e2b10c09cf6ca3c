package security

import (
	"bytes"
	"testing"
)

func TestGenerateSalt(t *testing.T) {
	salt1, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt failed: %v", err)
	}

	if len(salt1) != SaltSize {
		t.Errorf("salt size: got %d, want %d", len(salt1), SaltSize)
	}

	// Salts should be unique
	salt2, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt failed: %v", err)
	}

	if bytes.Equal(salt1, salt2) {
		t.Error("salts should be unique")
	}
}

func TestDeriveKey(t *testing.T) {
	masterKey := []byte("test-master-key")
	salt := []byte("1234567890123456") // 16 bytes

	key := DeriveKey(masterKey, salt)

	if len(key) != KeySizeAES {
		t.Errorf("key size: got %d, want %d", len(key), KeySizeAES)
	}

	// Same master key + salt should produce same key
	key2 := DeriveKey(masterKey, salt)
	if !bytes.Equal(key, key2) {
		t.Error("same inputs should produce same key")
	}

	// Different master key should produce different key
	key3 := DeriveKey([]byte("different"), salt)
	if bytes.Equal(key, key3) {
		t.Error("different master key should produce different key")
	}

	// Different salt should produce different key
	key4 := DeriveKey(masterKey, []byte("6543210987654321"))
	if bytes.Equal(key, key4) {
		t.Error("different salt should produce different key")
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		plaintext string
		masterKey string
	}{
		{"webhook config", `{"url":"https://hooks.internal/spanlight","secret":"s3cret"}`, "master-key-123"},
		{"empty config", "", "master-key-123"},
		{"large config", string(make([]byte, 10000)), "master-key-123"},
		{"unicode", "ä½ å¥½ä¸–ç•ŒðŸŒ", "ÐºÐ»ÑŽÑ‡"},
		{"binary data", string([]byte{0, 1, 2, 255, 254, 253}), "key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plaintext := []byte(tt.plaintext)
			masterKey := []byte(tt.masterKey)

			encrypted, err := Encrypt(plaintext, masterKey)
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}

			if encrypted == nil {
				t.Fatal("encrypted data is nil")
			}

			if len(encrypted.Salt) != SaltSize {
				t.Errorf("salt size: got %d, want %d", len(encrypted.Salt), SaltSize)
			}

			if len(encrypted.Nonce) != NonceSize {
				t.Errorf("nonce size: got %d, want %d", len(encrypted.Nonce), NonceSize)
			}

			decrypted, err := Decrypt(encrypted, masterKey)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}

			if !bytes.Equal(decrypted, plaintext) {
				t.Errorf("decrypted != plaintext")
			}
		})
	}
}

func TestEncrypt_FreshSaltPerRecord(t *testing.T) {
	plaintext := []byte(`{"url":"https://hooks.internal/spanlight"}`)
	masterKey := []byte("master-key")

	first, err := Encrypt(plaintext, masterKey)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	second, err := Encrypt(plaintext, masterKey)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	// Identical configs must not produce identical rows.
	if bytes.Equal(first.Salt, second.Salt) {
		t.Error("two encryptions reused a salt")
	}
	if bytes.Equal(first.Ciphertext, second.Ciphertext) {
		t.Error("two encryptions of the same plaintext produced the same ciphertext")
	}
}

func TestDecrypt_WrongMasterKey(t *testing.T) {
	plaintext := []byte("secret data")
	masterKey := []byte("correct-master-key")

	encrypted, err := Encrypt(plaintext, masterKey)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	_, err = Decrypt(encrypted, []byte("wrong-master-key"))
	if err == nil {
		t.Error("Decrypt should fail with wrong master key")
	}
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	plaintext := []byte("secret data")
	masterKey := []byte("master-key")

	encrypted, err := Encrypt(plaintext, masterKey)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	// Tamper with ciphertext
	if len(encrypted.Ciphertext) > 0 {
		encrypted.Ciphertext[0] ^= 0xFF
	}

	_, err = Decrypt(encrypted, masterKey)
	if err == nil {
		t.Error("Decrypt should fail with tampered ciphertext")
	}
}

func TestDecrypt_TamperedNonce(t *testing.T) {
	plaintext := []byte("secret data")
	masterKey := []byte("master-key")

	encrypted, err := Encrypt(plaintext, masterKey)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	// Tamper with nonce
	encrypted.Nonce[0] ^= 0xFF

	_, err = Decrypt(encrypted, masterKey)
	if err == nil {
		t.Error("Decrypt should fail with tampered nonce")
	}
}

func TestDecrypt_InvalidSaltSize(t *testing.T) {
	data := &EncryptedData{
		Salt:       []byte("short"),
		Nonce:      make([]byte, NonceSize),
		Ciphertext: []byte("data"),
	}

	_, err := Decrypt(data, []byte("master-key"))
	if err == nil {
		t.Error("Decrypt should fail with invalid salt size")
	}
}

func TestDecrypt_InvalidNonceSize(t *testing.T) {
	data := &EncryptedData{
		Salt:       make([]byte, SaltSize),
		Nonce:      []byte("short"),
		Ciphertext: []byte("data"),
	}

	_, err := Decrypt(data, []byte("master-key"))
	if err == nil {
		t.Error("Decrypt should fail with invalid nonce size")
	}
}

func TestDecrypt_NilData(t *testing.T) {
	_, err := Decrypt(nil, []byte("master-key"))
	if err == nil {
		t.Error("Decrypt should fail with nil data")
	}
}
