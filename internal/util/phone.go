package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizePhone strips formatting noise and a leading country prefix so the
// same number always produces the same storage key. Format validation proper
// happens at the HTTP edge via ValidatePhone.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	// Accept +91XXXXXXXXXX and 0XXXXXXXXXX spellings of a 10-digit number.
	if len(digits) == 12 && strings.HasPrefix(digits, "91") {
		digits = digits[2:]
	} else if len(digits) == 11 && strings.HasPrefix(digits, "0") {
		digits = digits[1:]
	}

	return digits
}

// ValidatePhone reports whether phone is a 10-digit Indian mobile number
// (first digit 6-9). Expects NormalizePhone output.
func ValidatePhone(phone string) bool {
	if len(phone) != 10 {
		return false
	}
	if phone[0] < '6' || phone[0] > '9' {
		return false
	}
	for i := 0; i < len(phone); i++ {
		if phone[i] < '0' || phone[i] > '9' {
			return false
		}
	}
	return true
}

// HashPhone returns the hex SHA-256 of a normalized phone number. Stored
// rows are keyed by this hash; the clear phone never lands in a partition
// key or an index.
func HashPhone(phone string) string {
	sum := sha256.Sum256([]byte(phone))
	return hex.EncodeToString(sum[:])
}

// MaskPhone keeps the last four digits for log lines.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "******"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
