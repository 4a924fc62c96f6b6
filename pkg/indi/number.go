package indi

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultNumberFormat is written on outgoing number elements that carry no
// format of their own.
const DefaultNumberFormat = "%f"

// ParseNumber decodes the text of a number element. Hex formats (%x, %X)
// decode as integers; everything else accepts plain decimal or the
// sexagesimal shorthand d:m or d:m:s, where the sign applies to the whole
// value: "-4:30" is -4.5.
func ParseNumber(text, format string) (float64, error) {
	s := strings.TrimSpace(text)

	if isHexFormat(format) {
		digits := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
		n, err := strconv.ParseInt(digits, 16, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, text)
		}
		return float64(n), nil
	}

	v, ok := parseSexagesimal(s)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, text)
	}
	return v, nil
}

func parseSexagesimal(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}

	neg := false
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		neg = true
		s = s[1:]
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, false
	}

	var value float64
	for i, part := range parts {
		// Only a bare decimal may carry an exponent.
		if !isUnsignedDecimal(part, len(parts) == 1) {
			return 0, false
		}
		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return 0, false
		}
		switch i {
		case 0:
			value = f
		case 1:
			value += f / 60
		case 2:
			value += f / 3600
		}
	}

	if neg {
		value = -value
	}
	return value, true
}

// isUnsignedDecimal accepts digits with an optional fraction and, when
// allowed, an exponent. It rejects the inf/nan/hex-float spellings that
// strconv.ParseFloat would otherwise let through.
func isUnsignedDecimal(s string, allowExp bool) bool {
	i, digits := 0, 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
			digits++
		}
	}
	if digits == 0 {
		return false
	}
	if allowExp && i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		i++
		if i < len(s) && (s[i] == '+' || s[i] == '-') {
			i++
		}
		exp := 0
		for i < len(s) && isDigit(s[i]) {
			i++
			exp++
		}
		if exp == 0 {
			return false
		}
	}
	return i == len(s)
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func isHexFormat(format string) bool {
	if format == "x" || format == "X" {
		return true
	}
	return strings.HasPrefix(format, "%") && (strings.HasSuffix(format, "x") || strings.HasSuffix(format, "X"))
}

// FormatNumber renders v according to an INDI number format: printf style
// (%f, %g, %e, %d, %x with flags and widths) or the sexagesimal %<w>.<f>m
// form, where f selects the precision of the fractional part:
//
//	9 -> :mm:ss.ss
//	8 -> :mm:ss.s
//	6 -> :mm:ss
//	5 -> :mm.m
//	3 -> :mm
func FormatNumber(v float64, format string) string {
	switch {
	case format == "":
		return strconv.FormatFloat(v, 'f', -1, 64)
	case strings.HasPrefix(format, "%") && strings.HasSuffix(format, "m"):
		if width, frac, ok := parseSexagesimalFormat(format); ok {
			return formatSexagesimal(v, width, frac)
		}
	case isHexFormat(format):
		if !strings.HasPrefix(format, "%") {
			format = "%" + format
		}
		return fmt.Sprintf(format, int64(v))
	case strings.HasSuffix(format, "d"):
		return fmt.Sprintf(format, int64(math.Round(v)))
	case strings.HasSuffix(format, "i"):
		return fmt.Sprintf(strings.TrimSuffix(format, "i")+"d", int64(math.Round(v)))
	}

	out := fmt.Sprintf(format, v)
	if strings.Contains(out, "%!") {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return out
}

func parseSexagesimalFormat(format string) (width, frac int, ok bool) {
	spec := strings.TrimSuffix(strings.TrimPrefix(format, "%"), "m")
	w, f, found := strings.Cut(spec, ".")
	if !found {
		return 0, 0, false
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return 0, 0, false
	}
	frac, err = strconv.Atoi(f)
	if err != nil {
		return 0, 0, false
	}
	return width, frac, true
}

func formatSexagesimal(v float64, width, frac int) string {
	var fracBase int64
	switch frac {
	case 9:
		fracBase = 360000
	case 8:
		fracBase = 36000
	case 6:
		fracBase = 3600
	case 5:
		fracBase = 600
	default:
		fracBase = 60
	}

	neg := v < 0
	a := math.Abs(v)
	n := int64(a*float64(fracBase) + 0.5)
	d := n / fracBase
	f := n % fracBase

	whole := strconv.FormatInt(d, 10)
	if neg {
		whole = "-" + whole
	}
	out := fmt.Sprintf("%*s", width-frac, whole)

	switch fracBase {
	case 60:
		out += fmt.Sprintf(":%02d", f)
	case 600:
		out += fmt.Sprintf(":%02d.%1d", f/10, f%10)
	case 3600:
		out += fmt.Sprintf(":%02d:%02d", f/60, f%60)
	case 36000:
		out += fmt.Sprintf(":%02d:%02d.%1d", f/600, (f%600)/10, f%10)
	case 360000:
		out += fmt.Sprintf(":%02d:%02d.%02d", f/6000, (f%6000)/100, f%100)
	}
	return out
}
