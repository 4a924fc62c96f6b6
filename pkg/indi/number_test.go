package indi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		format      string
		expected    float64
		expectError bool
	}{
		{name: "Plain decimal", text: "12.5", expected: 12.5},
		{name: "Surrounding whitespace", text: "  3.25\n", expected: 3.25},
		{name: "Exponent", text: "1.5e3", expected: 1500},
		{name: "Explicit plus sign", text: "+7", expected: 7},
		{name: "Degrees and minutes", text: "10:30", expected: 10.5},
		{name: "Degrees minutes seconds", text: "12:30:15", expected: 12 + 30.0/60 + 15.0/3600},
		{name: "Fractional seconds", text: "0:0:1.8", expected: 0.0005},
		{name: "Negative sexagesimal", text: "-4:0:0", expected: -4},
		{name: "Sign applies to whole value", text: "-4:30", expected: -4.5},
		{name: "Hex format", text: "ff", format: "%x", expected: 255},
		{name: "Hex with prefix", text: "0x1A", format: "%X", expected: 26},
		{name: "Empty", text: "", expectError: true},
		{name: "Garbage", text: "abc", expectError: true},
		{name: "Too many fields", text: "1:2:3:4", expectError: true},
		{name: "Empty field", text: "1::3", expectError: true},
		{name: "Exponent in sexagesimal field", text: "1:2e1", expectError: true},
		{name: "Infinity spelling", text: "inf", expectError: true},
		{name: "Bad hex", text: "zz", format: "%x", expectError: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v, err := ParseNumber(tc.text, tc.format)
			if tc.expectError {
				assert.ErrorIs(t, err, ErrInvalidNumber, "expected error for input: %s", tc.text)
				return
			}
			assert.NoError(t, err)
			assert.InDelta(t, tc.expected, v, 1e-9)
		})
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		format   string
		expected string
	}{
		{name: "No format", value: 1.25, expected: "1.25"},
		{name: "Printf float", value: 1.5, format: "%.2f", expected: "1.50"},
		{name: "Printf general", value: 0.5, format: "%g", expected: "0.5"},
		{name: "Integer rounds", value: 2.6, format: "%d", expected: "3"},
		{name: "Legacy integer verb", value: 4, format: "%3i", expected: "  4"},
		{name: "Hex", value: 255, format: "%x", expected: "ff"},
		{name: "Sexagesimal seconds", value: 12.5041666667, format: "%9.6m", expected: " 12:30:15"},
		{name: "Sexagesimal minutes", value: 10.5, format: "%6.3m", expected: " 10:30"},
		{name: "Sexagesimal tenth minutes", value: 10.5, format: "%7.5m", expected: "10:30.0"},
		{name: "Sexagesimal hundredth seconds", value: 1.0005, format: "%11.9m", expected: " 1:00:01.80"},
		{name: "Negative sexagesimal", value: -4.5, format: "%6.3m", expected: " -4:30"},
		{name: "Malformed verb falls back", value: 1.5, format: "%q", expected: "1.5"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, FormatNumber(tc.value, tc.format))
		})
	}
}

func TestFormatParseSexagesimalRoundTrip(t *testing.T) {
	for _, v := range []float64{0, 5.75, 23.9999, -45.25} {
		out := FormatNumber(v, "%10.6m")
		back, err := ParseNumber(out, "%10.6m")
		assert.NoError(t, err)
		assert.InDelta(t, v, back, 1.0/3600, "value %v formatted as %q", v, out)
	}
}
