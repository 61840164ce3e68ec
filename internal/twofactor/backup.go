// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package twofactor

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// backupAlphabet has 32 symbols without I and O, so a random byte masked to
// five bits indexes it without bias.
const backupAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const backupCodeLen = 8

// generateBackupCodes returns n codes formatted XXXX-XXXX and their hashes.
func generateBackupCodes(n int) ([]string, []BackupCode, error) {
	plain := make([]string, 0, n)
	stored := make([]BackupCode, 0, n)

	buf := make([]byte, backupCodeLen)
	for len(plain) < n {
		if _, err := rand.Read(buf); err != nil {
			return nil, nil, fmt.Errorf("generate backup code: %w", err)
		}
		raw := make([]byte, backupCodeLen)
		for i, b := range buf {
			raw[i] = backupAlphabet[b&31]
		}
		code := string(raw)
		plain = append(plain, code[:4]+"-"+code[4:])
		stored = append(stored, BackupCode{Hash: hashBackupCode(code)})
	}
	return plain, stored, nil
}

// normalizeBackupCode accepts any case with or without separators. It returns
// false for input that cannot be a backup code.
func normalizeBackupCode(input string) (string, bool) {
	var b strings.Builder
	for _, r := range strings.ToUpper(input) {
		switch {
		case r == '-' || r == ' ':
			continue
		case strings.ContainsRune(backupAlphabet, r):
			b.WriteRune(r)
		default:
			return "", false
		}
	}
	if b.Len() != backupCodeLen {
		return "", false
	}
	return b.String(), true
}

func hashBackupCode(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
