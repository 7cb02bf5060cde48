package encryption

import (
	"context"
	"errors"
	"testing"

	"neighborly-auth/internal/config"
)

func newLocalManager() *Manager {
	return NewManager(&config.Config{}, nil)
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	m := newLocalManager()
	ctx := context.Background()

	field, err := m.EncryptField(ctx, "9876543210")
	if err != nil {
		t.Fatalf("EncryptField: %v", err)
	}
	if field.Ciphertext == "" || field.EncryptedDEK == "" || field.KeyID == "" {
		t.Fatalf("incomplete field: %+v", field)
	}
	if field.Ciphertext == "9876543210" {
		t.Fatal("plaintext stored as-is")
	}

	got, err := m.DecryptField(ctx, field)
	if err != nil {
		t.Fatalf("DecryptField: %v", err)
	}
	if got != "9876543210" {
		t.Errorf("got %q", got)
	}
}

func TestDecryptSurvivesColdCache(t *testing.T) {
	// A row written before a restart must still open: decrypt on a manager
	// that never saw the data key.
	writer := newLocalManager()
	reader := newLocalManager()

	field, err := writer.EncryptField(context.Background(), "9876543210")
	if err != nil {
		t.Fatalf("EncryptField: %v", err)
	}

	got, err := reader.DecryptField(context.Background(), field)
	if err != nil {
		t.Fatalf("DecryptField: %v", err)
	}
	if got != "9876543210" {
		t.Errorf("got %q", got)
	}
}

func TestEachFieldGetsFreshKey(t *testing.T) {
	m := newLocalManager()
	ctx := context.Background()

	a, err := m.EncryptField(ctx, "9876543210")
	if err != nil {
		t.Fatalf("EncryptField: %v", err)
	}
	b, err := m.EncryptField(ctx, "9876543210")
	if err != nil {
		t.Fatalf("EncryptField: %v", err)
	}

	if a.EncryptedDEK == b.EncryptedDEK {
		t.Error("two fields shared a data key")
	}
	if a.Ciphertext == b.Ciphertext {
		t.Error("identical ciphertext for separate encryptions")
	}
}

func TestDecryptRejectsTamperedField(t *testing.T) {
	m := newLocalManager()
	ctx := context.Background()

	field, err := m.EncryptField(ctx, "9876543210")
	if err != nil {
		t.Fatalf("EncryptField: %v", err)
	}

	tampered := *field
	tampered.Ciphertext = "AAAA" + tampered.Ciphertext[4:]
	m.ClearCache()
	if _, err := m.DecryptField(ctx, &tampered); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("got %v, want ErrDecryptionFailed", err)
	}

	badDEK := *field
	badDEK.EncryptedDEK = "!!not base64!!"
	if _, err := m.DecryptField(ctx, &badDEK); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("got %v, want ErrDecryptionFailed", err)
	}
}
