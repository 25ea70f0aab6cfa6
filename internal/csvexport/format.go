package csvexport

import (
	"math"
	"strconv"
	"strings"
)

// FormatFloat renders v the way sensor readings are shown elsewhere in the
// app: shortest round-trip digits with at least one fractional digit,
// scientific notation below 1e-3 and from 1e7 up.
//
//	1      -> 1.0
//	9.81   -> 9.81
//	1e7    -> 1.0E7
//	0.0001 -> 1.0E-4
func FormatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	}

	abs := math.Abs(v)
	if abs == 0 || (abs >= 1e-3 && abs < 1e7) {
		s := strconv.FormatFloat(v, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}

	// 'E' gives "1.2345E+07"; trim the exponent's sign and padding.
	s := strconv.FormatFloat(v, 'E', -1, 64)
	mant, exp, _ := strings.Cut(s, "E")
	if !strings.Contains(mant, ".") {
		mant += ".0"
	}
	n, err := strconv.Atoi(exp)
	if err != nil {
		return s
	}
	return mant + "E" + strconv.Itoa(n)
}
