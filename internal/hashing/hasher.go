package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"

	"neighborly-auth/internal/config"
)

var ErrInvalidHash = errors.New("invalid hash format")

const algorithmID = "argon2id-v1"

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher produces argon2id hashes of OTP codes. The pepper comes from
// configuration so hashes stay verifiable across restarts; rows record the
// pepper version they were hashed under so the pepper can be rotated by
// deploying a new version alongside the old one.
type Hasher struct {
	params  Argon2Params
	peppers map[int]string
	current int
}

type HashResult struct {
	Hash          string `json:"hash"`
	Salt          string `json:"salt"`
	PepperVersion int    `json:"pepper_version"`
	Algorithm     string `json:"algorithm"`
}

func NewHasher(cfg *config.Config) *Hasher {
	pepper := cfg.Hashing.Pepper
	if pepper == "" {
		// Development convenience; Validate rejects an empty pepper in production.
		pepper = "dev-pepper"
	}

	return &Hasher{
		params: Argon2Params{
			Memory:      cfg.Hashing.Memory,
			Iterations:  cfg.Hashing.Iterations,
			Parallelism: cfg.Hashing.Parallelism,
			SaltLength:  32,
			KeyLength:   32,
		},
		peppers: map[int]string{1: pepper},
		current: 1,
	}
}

// HashOTP hashes a code with a fresh random salt.
func (h *Hasher) HashOTP(code string) (*HashResult, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey(
		h.peppered(code, h.current),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return &HashResult{
		Hash:          base64.RawURLEncoding.EncodeToString(hash),
		Salt:          base64.RawURLEncoding.EncodeToString(salt),
		PepperVersion: h.current,
		Algorithm:     algorithmID,
	}, nil
}

// VerifyOTP recomputes the hash under the row's pepper version and compares
// in constant time.
func (h *Hasher) VerifyOTP(code string, stored *HashResult) (bool, error) {
	if _, ok := h.peppers[stored.PepperVersion]; !ok {
		return false, fmt.Errorf("pepper version %d not available", stored.PepperVersion)
	}

	salt, err := base64.RawURLEncoding.DecodeString(stored.Salt)
	if err != nil {
		return false, ErrInvalidHash
	}
	expected, err := base64.RawURLEncoding.DecodeString(stored.Hash)
	if err != nil {
		return false, ErrInvalidHash
	}

	computed := argon2.IDKey(
		h.peppered(code, stored.PepperVersion),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		uint32(len(expected)),
	)

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

// peppered binds the hash to the otp purpose so the same digits hashed for
// another credential type would never collide.
func (h *Hasher) peppered(code string, version int) []byte {
	return []byte(code + h.peppers[version] + "otp")
}
