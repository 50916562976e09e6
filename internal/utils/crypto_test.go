package utils

import (
	"bytes"
	"testing"
)

func TestEncryptRoundTrip(t *testing.T) {
	key := GenerateRandomKey()
	ct, err := Encrypt("webhook-secret", key)
	if err != nil {
		t.Fatal(err)
	}
	if ct == "webhook-secret" {
		t.Fatal("ciphertext equals plaintext")
	}
	pt, err := Decrypt(ct, key)
	if err != nil {
		t.Fatal(err)
	}
	if pt != "webhook-secret" {
		t.Errorf("got %q", pt)
	}

	if _, err := Decrypt(ct, GenerateRandomKey()); err == nil {
		t.Error("decrypting with another key should fail")
	}
	if _, err := Decrypt("c2hvcnQ=", key); err != ErrCiphertextTooShort {
		t.Errorf("expected ErrCiphertextTooShort, got %v", err)
	}
}

func TestEncryptIsRandomized(t *testing.T) {
	key := GenerateRandomKey()
	a, _ := Encrypt("same", key)
	b, _ := Encrypt("same", key)
	if a == b {
		t.Error("two encryptions of the same plaintext should differ")
	}
}

func TestPassphraseSealing(t *testing.T) {
	data := []byte("archive contents")
	sealed, err := SealWithPassphrase(data, "correct horse")
	if err != nil {
		t.Fatal(err)
	}
	opened, err := OpenWithPassphrase(sealed, "correct horse")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(opened, data) {
		t.Errorf("got %q", opened)
	}
	if _, err := OpenWithPassphrase(sealed, "wrong"); err == nil {
		t.Error("wrong passphrase should fail")
	}
}
