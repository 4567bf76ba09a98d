package secrets

import (
	"bytes"
	"errors"
	"testing"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestSealOpen_RoundTrip(t *testing.T) {
	box, err := NewBox(testKey())
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}

	sealed, err := box.Seal("hg_live_abc123")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if sealed == "hg_live_abc123" {
		t.Fatal("ciphertext equals plaintext")
	}

	opened, err := box.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opened != "hg_live_abc123" {
		t.Errorf("opened = %q", opened)
	}
}

func TestSeal_NonDeterministic(t *testing.T) {
	box, _ := NewBox(testKey())

	a, _ := box.Seal("same")
	b, _ := box.Seal("same")
	if a == b {
		t.Error("two seals of the same plaintext are identical")
	}
}

func TestOpen_RejectsTamperedAndGarbage(t *testing.T) {
	box, _ := NewBox(testKey())

	sealed, _ := box.Seal("secret")
	tampered := sealed[:len(sealed)-4] + "AAAA"
	if _, err := box.Open(tampered); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("tampered: %v, want ErrInvalidCiphertext", err)
	}

	if _, err := box.Open("not base64 at all %%%"); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("garbage: %v, want ErrInvalidCiphertext", err)
	}
	if _, err := box.Open("AAAA"); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("too short: %v, want ErrInvalidCiphertext", err)
	}
}

func TestOpen_WrongKeyFails(t *testing.T) {
	box1, _ := NewBox(testKey())
	box2, _ := NewBox(bytes.Repeat([]byte{0x24}, 32))

	sealed, _ := box1.Seal("secret")
	if _, err := box2.Open(sealed); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("wrong key: %v, want ErrInvalidCiphertext", err)
	}
}

func TestNewBox_RejectsBadKeySize(t *testing.T) {
	if _, err := NewBox([]byte("short")); err == nil {
		t.Error("short key accepted")
	}
	if _, err := NewBox(bytes.Repeat([]byte{1}, 16)); err == nil {
		t.Error("AES-128 key accepted")
	}
}
