package ocr

import (
	"fmt"
	"strconv"
	"strings"
)

// Amount is a money value in grosze (1/100 PLN). Sums of Amounts are exact and
// independent of the order regions complete in.
type Amount int64

func (a Amount) String() string {
	sign := ""
	if a < 0 {
		sign, a = "-", -a
	}
	return fmt.Sprintf("%s%d.%02d", sign, a/100, a%100)
}

// Float64 returns the amount in whole currency units.
func (a Amount) Float64() float64 {
	return float64(a) / 100
}

// ParseDecimal parses a number that may use ',' or '.' as decimal and thousands
// separators. The last separator on the string is the decimal point and every
// other separator is dropped; whitespace (including NBSP) is ignored. More than two
// fractional digits are truncated.
func ParseDecimal(s string) (Amount, bool) {
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\u00a0' || r == '\t' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
	intPart, frac := s, ""
	if i := strings.LastIndexAny(s, ".,"); i >= 0 {
		intPart, frac = s[:i], s[i+1:]
	}
	intDigits, fracDigits := OnlyDigits(intPart), OnlyDigits(frac)
	if intDigits == "" && fracDigits == "" {
		return 0, false
	}
	if intDigits == "" {
		intDigits = "0"
	}
	fracDigits = (fracDigits + "00")[:2]
	return parseCents(intDigits, fracDigits)
}

// forcedCents reads a digit string with its last two digits as cents. It needs at
// least two digits.
func forcedCents(digits string) (Amount, bool) {
	if len(digits) < 2 {
		return 0, false
	}
	major := digits[:len(digits)-2]
	if major == "" {
		major = "0"
	}
	return parseCents(major, digits[len(digits)-2:])
}

func parseCents(major, minor string) (Amount, bool) {
	m, err := strconv.ParseInt(major, 10, 64)
	if err != nil || m > (1<<62)/100 {
		return 0, false
	}
	c, err := strconv.ParseInt(minor, 10, 64)
	if err != nil {
		return 0, false
	}
	return Amount(m*100 + c), true
}
