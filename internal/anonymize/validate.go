package anonymize

import "strings"

// ValidRUT reports whether s is a Chilean RUT whose check digit matches its body under
// the modulo-11 scheme. Dots, spaces and inner hyphens are ignored.
func ValidRUT(s string) bool {
	s = strings.NewReplacer(".", "", " ", "").Replace(s)
	dash := strings.LastIndexByte(s, '-')
	if dash <= 0 || dash != len(s)-2 {
		return false
	}
	body := strings.ReplaceAll(s[:dash], "-", "")
	if len(body) < 7 || len(body) > 8 {
		return false
	}
	sum, factor := 0, 2
	for i := len(body) - 1; i >= 0; i-- {
		c := body[i]
		if c < '0' || c > '9' {
			return false
		}
		sum += int(c-'0') * factor
		factor++
		if factor > 7 {
			factor = 2
		}
	}
	var want byte
	switch r := 11 - sum%11; r {
	case 11:
		want = '0'
	case 10:
		want = 'K'
	default:
		want = byte('0' + r)
	}
	got := s[len(s)-1]
	if got == 'k' {
		got = 'K'
	}
	return got == want
}

// ValidLuhn reports whether s holds 13 to 19 digits passing the Luhn checksum.
// Spaces and hyphens are ignored.
func ValidLuhn(s string) bool {
	digits := make([]int, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			digits = append(digits, int(c-'0'))
		case c == ' ' || c == '-':
		default:
			return false
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
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
