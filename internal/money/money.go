// Package money parses printed amounts as they appear on bills.
package money

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrFormat is returned for strings that do not read as an amount.
var ErrFormat = errors.New("invalid amount")

var stripper = strings.NewReplacer("$", "", "USD", "", "usd", "", ",", "", " ", "", "\t", "", "\u00a0", "")

// ParseCents parses s into cents. Currency symbols, thousands separators and
// whitespace are ignored; "(x)" and a leading or trailing minus mean negative.
func ParseCents(s string) (int64, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return 0, fmt.Errorf("%w: empty", ErrFormat)
	}

	negative := false
	if strings.HasPrefix(v, "(") && strings.HasSuffix(v, ")") {
		negative = true
		v = v[1 : len(v)-1]
	}
	v = stripper.Replace(v)
	switch {
	case strings.HasPrefix(v, "-"):
		negative = !negative
		v = v[1:]
	case strings.HasSuffix(v, "-"):
		negative = !negative
		v = v[:len(v)-1]
	case strings.HasSuffix(strings.ToUpper(v), "CR"):
		negative = !negative
		v = v[:len(v)-2]
	}
	if v == "" || strings.ContainsAny(v, "+-eEnN") {
		return 0, fmt.Errorf("%w: %q", ErrFormat, s)
	}

	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrFormat, s)
	}

	cents := int64(math.Round(f * 100))
	if negative {
		cents = -cents
	}
	return cents, nil
}

// Format renders cents as "$1234.56", with a leading minus when negative.
func Format(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
