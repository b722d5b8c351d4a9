package models

import "strings"

// NormalizePhone strips everything but digits and prefixes the country code
// for local numbers (10 or 11 digits).
func NormalizePhone(phone, countryCode string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	if len(digits) == 10 || len(digits) == 11 {
		digits = countryCode + digits
	}
	return digits
}

// ValidPhone reports whether a normalized phone has a plausible length.
func ValidPhone(normalized string) bool {
	return len(normalized) >= 10 && len(normalized) <= 15
}
