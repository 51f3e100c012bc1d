package authgate

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"strings"
)

type secondFactorKind int

const (
	secondFactorUnknown secondFactorKind = iota
	secondFactorTOTP
	secondFactorBackupCode
)

// Backup codes use an unambiguous uppercase alphabet. No 0/O or 1/I/L,
// so codes survive being read aloud or written down.
const backupCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// classifySecondFactorCode decides whether a submitted code is a TOTP
// code or a backup code by shape. A 6-digit numeric string is TOTP;
// an 8-character alphanumeric string is a backup code.
func classifySecondFactorCode(code string, totpDigits, backupLength int) secondFactorKind {
	trimmed := strings.TrimSpace(code)

	if len(trimmed) == totpDigits && isNumericString(trimmed) {
		return secondFactorTOTP
	}
	if len(trimmed) == backupLength && isBackupCodeString(trimmed) {
		return secondFactorBackupCode
	}
	return secondFactorUnknown
}

func isBackupCodeString(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(backupCodeAlphabet, r) {
			return false
		}
	}
	return true
}

func generateBackupCodes(count, length int) ([]string, error) {
	codes := make([]string, 0, count)

	for i := 0; i < count; i++ {
		raw := make([]byte, length)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("backup code generation: %w", err)
		}

		var b strings.Builder
		b.Grow(length)
		for _, v := range raw {
			b.WriteByte(backupCodeAlphabet[int(v)%len(backupCodeAlphabet)])
		}
		codes = append(codes, b.String())
	}

	return codes, nil
}

func hashBackupCode(code string) [32]byte {
	return sha256.Sum256([]byte(strings.ToUpper(strings.TrimSpace(code))))
}
