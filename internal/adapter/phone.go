package adapter

import (
	"regexp"
	"strings"
)

var nonDigits = regexp.MustCompile(`\D`)
var normalizedPhone = regexp.MustCompile(`^7\d{10}$`)

// NormalizePhone reduces a phone number to the canonical 11-digit form
// starting with 7. It returns "" when the input cannot be a Russian mobile
// number.
func NormalizePhone(input string) string {
	digits := nonDigits.ReplaceAllString(input, "")
	switch {
	case digits == "":
		return ""
	case len(digits) == 11 && strings.HasPrefix(digits, "8"):
		return "7" + digits[1:]
	case len(digits) == 11 && strings.HasPrefix(digits, "7"):
		return digits
	case len(digits) == 10:
		return "7" + digits
	default:
		return ""
	}
}

// FormatPhone renders a normalized phone for display.
func FormatPhone(phone string) string {
	if phone == "" {
		return "—"
	}
	if normalizedPhone.MatchString(phone) {
		return "+" + phone
	}
	return phone
}
