package util

import (
	"net/mail"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var walletAddressRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// IsValidUUID accepts the canonical hyphenated form only.
func IsValidUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

func IsValidWalletAddress(s string) bool {
	return walletAddressRegex.MatchString(s)
}

// IsValidEmail reports whether s is a bare address such as a@b.co, without a
// display name.
func IsValidEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndex(s, "@")
	return at > 0 && strings.Contains(s[at+1:], ".")
}

// NormalizeEmail trims and lowercases an address for storage and lookup.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func IsValidEnum(value string, validValues []string) bool {
	if value == "" {
		return true
	}
	for _, v := range validValues {
		if value == v {
			return true
		}
	}
	return false
}
