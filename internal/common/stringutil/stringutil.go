// Package stringutil provides string helpers shared by the delivery surfaces.
package stringutil

// TruncateRunes truncates a string to at most maxRunes runes, appending "..."
// when anything was cut. Byte truncation can split a UTF-8 sequence, which
// outbound chat transports reject; rune truncation never does.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}
