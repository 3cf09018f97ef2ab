package phone

import (
	"fmt"
	"strings"
)

// NormalizeE164 canonicalizes a phone number to +<countrycode><number>.
// Spaces, dashes, dots and parentheses are stripped; a leading "00" prefix
// is rewritten to "+". The result must be 8-15 digits after the plus.
func NormalizeE164(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("phone number is empty")
	}

	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
			// separators are ignored
		default:
			return "", fmt.Errorf("phone number contains invalid character %q", r)
		}
	}

	normalized := b.String()
	if strings.HasPrefix(normalized, "00") {
		normalized = "+" + normalized[2:]
	}
	if !strings.HasPrefix(normalized, "+") {
		return "", fmt.Errorf("phone number must carry a country code")
	}

	digits := len(normalized) - 1
	if digits < 8 || digits > 15 {
		return "", fmt.Errorf("phone number has %d digits, want 8-15", digits)
	}
	if normalized[1] == '0' {
		return "", fmt.Errorf("country code must not start with 0")
	}

	return normalized, nil
}
