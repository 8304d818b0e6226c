package payment

import (
	"strings"
)

// NormalizePhone converts a Kenyan subscriber number to the
// international digits format the provider requires (2547XXXXXXXX or
// 2541XXXXXXXX). The local trunk prefix 0 is replaced by the country
// code. Anything else is rejected with ErrInvalidPhone.
func NormalizePhone(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "+")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "-", "")

	for _, r := range s {
		if r < '0' || r > '9' {
			return "", ErrInvalidPhone
		}
	}

	switch {
	case len(s) == 12 && strings.HasPrefix(s, "254"):
	case len(s) == 10 && strings.HasPrefix(s, "0"):
		s = "254" + s[1:]
	case len(s) == 9:
		s = "254" + s
	default:
		return "", ErrInvalidPhone
	}

	// Only mobile ranges (7xx, 1xx) can receive an STK push.
	if s[3] != '7' && s[3] != '1' {
		return "", ErrInvalidPhone
	}
	return s, nil
}
