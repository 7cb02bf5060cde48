package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/google/uuid"

	"neighborly-auth/internal/config"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// EncryptedField is what lands in storage for a protected value: the
// AES-GCM ciphertext plus the KMS-wrapped data key needed to open it.
type EncryptedField struct {
	Ciphertext   string
	EncryptedDEK string
	KeyID        string
}

// Manager does envelope encryption of sensitive fields (the phone number).
// With KMS disabled the data key is only base64-wrapped, which is fine for
// local development and nothing else.
type Manager struct {
	kmsClient *kms.Client
	config    *config.Config
	keyCache  sync.Map // encrypted DEK -> plaintext DEK
}

func NewManager(cfg *config.Config, kmsClient *kms.Client) *Manager {
	return &Manager{
		kmsClient: kmsClient,
		config:    cfg,
	}
}

type dataKey struct {
	plaintext  []byte
	ciphertext []byte
	keyID      string
}

func (m *Manager) generateDataKey(ctx context.Context) (*dataKey, error) {
	if !m.config.KMS.Enabled {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
		}
		// Local fallback: the "wrapped" key is the key itself, so the
		// stored base64 decodes straight back to it.
		return &dataKey{
			plaintext:  key,
			ciphertext: key,
			keyID:      uuid.New().String(),
		}, nil
	}

	result, err := m.kmsClient.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(m.config.KMS.KeyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}

	return &dataKey{
		plaintext:  result.Plaintext,
		ciphertext: result.CiphertextBlob,
		keyID:      m.config.KMS.KeyID,
	}, nil
}

// EncryptField seals plaintext under a fresh data key.
func (m *Manager) EncryptField(ctx context.Context, plaintext string) (*EncryptedField, error) {
	dk, err := m.generateDataKey(ctx)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(dk.plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	encryptedDEK := base64.StdEncoding.EncodeToString(dk.ciphertext)
	m.keyCache.Store(encryptedDEK, dk.plaintext)

	return &EncryptedField{
		Ciphertext:   base64.StdEncoding.EncodeToString(sealed),
		EncryptedDEK: encryptedDEK,
		KeyID:        dk.keyID,
	}, nil
}

// DecryptField opens a stored field, unwrapping the data key through KMS
// (or the local fallback) on cache miss.
func (m *Manager) DecryptField(ctx context.Context, field *EncryptedField) (string, error) {
	if cached, ok := m.keyCache.Load(field.EncryptedDEK); ok {
		return m.open(field.Ciphertext, cached.([]byte))
	}

	var plaintextDEK []byte
	if m.config.KMS.Enabled {
		blob, err := base64.StdEncoding.DecodeString(field.EncryptedDEK)
		if err != nil {
			return "", fmt.Errorf("%w: invalid DEK format", ErrDecryptionFailed)
		}
		result, err := m.kmsClient.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
		if err != nil {
			return "", fmt.Errorf("%w: failed to decrypt DEK: %v", ErrDecryptionFailed, err)
		}
		plaintextDEK = result.Plaintext
	} else {
		var err error
		plaintextDEK, err = base64.StdEncoding.DecodeString(field.EncryptedDEK)
		if err != nil {
			return "", fmt.Errorf("%w: invalid local DEK", ErrDecryptionFailed)
		}
	}

	m.keyCache.Store(field.EncryptedDEK, plaintextDEK)

	return m.open(field.Ciphertext, plaintextDEK)
}

func (m *Manager) open(ciphertext string, key []byte) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return string(plaintext), nil
}

// ClearCache drops all cached data keys.
func (m *Manager) ClearCache() {
	m.keyCache.Range(func(key, _ interface{}) bool {
		m.keyCache.Delete(key)
		return true
	})
}
