package enrollment

import "strings"

// DefaultCodeLength is the length of mailed codes.
const DefaultCodeLength = 6

// NormalizeCode trims and upper-cases a code as typed or linked.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether a normalized code is exactly length
// letters or digits.
func ValidCode(code string, length int) bool {
	if len(code) != length {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if !(c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
