package registry

import (
	"regexp"
	"strings"
)

var nonHex = regexp.MustCompile(`[^0-9a-fA-F]`)

// NormalizeMAC strips everything that is not a hex digit and lowercases the
// rest, so "AA:BB:CC:DD:EE:FF" and "aabb.ccdd.eeff" share one key.
func NormalizeMAC(raw string) string {
	return strings.ToLower(nonHex.ReplaceAllString(raw, ""))
}

// ValidMAC reports whether a normalized address has exactly 12 hex digits.
func ValidMAC(mac string) bool {
	return len(mac) == 12 && !nonHex.MatchString(mac)
}

// FormatMAC renders a normalized address as colon-separated octets.
// Malformed input is returned unchanged.
func FormatMAC(mac string) string {
	if !ValidMAC(mac) {
		return mac
	}
	var b strings.Builder
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(mac[i : i+2])
	}
	return b.String()
}
