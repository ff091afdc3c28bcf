package kis

import "strings"

// NormalizeSymbol canonicalizes a free-form ticker into the six-digit numeric
// code KIS expects. All non-digit characters are stripped; the result is
// truncated to the first six digits or left-padded with zeros. An input with
// no digits at all normalizes to "000000".
//
// "5930" -> "005930", "005930.KS" -> "005930", "0056789" -> "005678".
func NormalizeSymbol(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	digits := b.String()
	if len(digits) >= 6 {
		return digits[:6]
	}
	return strings.Repeat("0", 6-len(digits)) + digits
}
