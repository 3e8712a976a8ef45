package util

import "strings"

// SanitizeText drops invalid UTF-8 and NUL bytes and normalises line endings
// to "\n". Loaded documents pass through here before chunking so rune offsets
// stay stable across platforms.
func SanitizeText(value string) string {
	if value == "" {
		return value
	}

	sanitized := strings.ToValidUTF8(value, "")
	sanitized = strings.ReplaceAll(sanitized, "\x00", "")
	sanitized = strings.ReplaceAll(sanitized, "\r\n", "\n")
	return strings.ReplaceAll(sanitized, "\r", "\n")
}
