// Package email derives display data from email addresses.
package email

import (
	"strings"
	"unicode"
)

// DisplayName builds a human name from the local part of address:
// "jane.doe@court.example" becomes "Jane Doe". Plus-tags are dropped. An
// address with no usable local part yields fallback.
func DisplayName(address, fallback string) string {
	local, _, _ := strings.Cut(strings.TrimSpace(address), "@")
	local, _, _ = strings.Cut(local, "+")

	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
	if len(parts) == 0 {
		return fallback
	}
	for i, p := range parts {
		parts[i] = capitalize(p)
	}
	return strings.Join(parts, " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}

	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
