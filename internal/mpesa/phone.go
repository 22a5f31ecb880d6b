package mpesa

import (
	"strings"

	"github.com/JOMO418/furniture-hub-backend/internal/domain"
)

const countryCode = "254"

// NormalizePhone converts customer phone input into the 12-digit 2547XXXXXXXX
// form the gateway requires. A leading 0 is replaced with the country code and
// bare local numbers get it prepended. Anything that does not normalize to
// exactly 12 digits is rejected.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '+':
			// stripped
		default:
			return "", domain.ErrInvalidPhoneNumber
		}
	}

	s := b.String()
	if s == "" {
		return "", domain.ErrInvalidPhoneNumber
	}

	switch {
	case strings.HasPrefix(s, "0"):
		s = countryCode + s[1:]
	case !strings.HasPrefix(s, countryCode):
		s = countryCode + s
	}

	if len(s) != 12 {
		return "", domain.ErrInvalidPhoneNumber
	}

	return s, nil
}
