// Package validate implements instrument validation for card and UPI
// payment methods.
package validate

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	vpaPattern    = regexp.MustCompile(`^[a-zA-Z0-9._-]+@[a-zA-Z0-9]+$`)
	digitsPattern = regexp.MustCompile(`^[0-9]+$`)
)

// Luhn reports whether number passes the Luhn checksum. Spaces and dashes
// are stripped first; any other non-digit fails.
func Luhn(number string) bool {
	number = strings.NewReplacer(" ", "", "-", "").Replace(number)
	if len(number) < 13 || len(number) > 19 || !digitsPattern.MatchString(number) {
		return false
	}
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// CardNetwork identifies the issuing network from the number prefix.
// Returns "unknown" when the prefix does not match a supported network.
func CardNetwork(number string) string {
	number = strings.NewReplacer(" ", "", "-", "").Replace(number)
	switch {
	case strings.HasPrefix(number, "4"):
		return "visa"
	case len(number) >= 2 && number[0] == '5' && number[1] >= '1' && number[1] <= '5':
		return "mastercard"
	case strings.HasPrefix(number, "34") || strings.HasPrefix(number, "37"):
		return "amex"
	case strings.HasPrefix(number, "60") || strings.HasPrefix(number, "65"):
		return "rupay"
	case len(number) >= 2 && number[0] == '8' && number[1] >= '1' && number[1] <= '9':
		return "rupay"
	default:
		return "unknown"
	}
}

// ExpiryValid reports whether month/year name the current month or later.
// Two digit years are interpreted in the 2000s.
func ExpiryValid(month, year string, now time.Time) bool {
	m, err := strconv.Atoi(strings.TrimSpace(month))
	if err != nil || m < 1 || m > 12 {
		return false
	}
	y, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil || y < 0 {
		return false
	}
	if y < 100 {
		y += 2000
	}
	if y > now.Year() {
		return true
	}
	return y == now.Year() && m >= int(now.Month())
}

// VPAValid reports whether addr looks like a UPI virtual payment address.
func VPAValid(addr string) bool {
	return vpaPattern.MatchString(addr)
}
