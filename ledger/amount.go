package ledger

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/teranos/nexus/errors"
)

// Amount is a signed monetary value in ten-thousandths of a unit.
// All ledger arithmetic is integer; floats never touch money.
type Amount int64

// Scale is the number of Amount units per whole currency unit
const Scale = 10000

const fractionDigits = 4

// ErrInvalidAmount marks unparseable or out-of-range amounts
var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmount parses a decimal string such as "120.50" or "-20".
// At most four fractional digits are accepted; nothing is rounded.
func ParseAmount(s string) (Amount, error) {
	in := strings.TrimSpace(s)
	if in == "" {
		return 0, errors.Wrap(ErrInvalidAmount, "empty")
	}

	neg := false
	switch in[0] {
	case '-':
		neg = true
		in = in[1:]
	case '+':
		in = in[1:]
	}

	whole, frac, hasPoint := strings.Cut(in, ".")
	if whole == "" && frac == "" {
		return 0, errors.Wrapf(ErrInvalidAmount, "%q", s)
	}
	if hasPoint && frac == "" {
		return 0, errors.Wrapf(ErrInvalidAmount, "%q: missing digits after decimal point", s)
	}
	if len(frac) > fractionDigits {
		return 0, errors.Wrapf(ErrInvalidAmount, "%q: more than %d decimal places", s, fractionDigits)
	}
	if !allDigits(whole) || !allDigits(frac) {
		return 0, errors.Wrapf(ErrInvalidAmount, "%q", s)
	}

	var units uint64
	if whole != "" {
		w, err := strconv.ParseUint(whole, 10, 64)
		if err != nil || w > math.MaxInt64/Scale {
			return 0, errors.Wrapf(ErrInvalidAmount, "%q: out of range", s)
		}
		units = w * Scale
	}
	if frac != "" {
		f, _ := strconv.ParseUint(frac+strings.Repeat("0", fractionDigits-len(frac)), 10, 64)
		units += f
	}
	if units > math.MaxInt64 {
		return 0, errors.Wrapf(ErrInvalidAmount, "%q: out of range", s)
	}

	if neg {
		return -Amount(units), nil
	}
	return Amount(units), nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// MustParseAmount is ParseAmount for constants and tests
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String renders the amount with at least two decimal places: 100.50, -20.00, 0.0125
func (a Amount) String() string {
	u := uint64(a)
	sign := ""
	if a < 0 {
		sign = "-"
		u = uint64(-a) // MinInt64 wraps to its own magnitude as uint64
	}

	whole := u / Scale
	frac := strconv.FormatUint(u%Scale+Scale, 10)[1:] // zero-padded to 4 digits
	frac = strings.TrimRight(frac, "0")
	for len(frac) < 2 {
		frac += "0"
	}
	return sign + strconv.FormatUint(whole, 10) + "." + frac
}

// IsZero reports whether a is exactly zero
func (a Amount) IsZero() bool { return a == 0 }

// Neg returns -a
func (a Amount) Neg() Amount { return -a }

// Add returns a+b, failing instead of wrapping on overflow
func (a Amount) Add(b Amount) (Amount, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, errors.Wrapf(ErrInvalidAmount, "%s + %s overflows", a, b)
	}
	return sum, nil
}

// Sum adds amounts, failing on overflow
func Sum(amounts ...Amount) (Amount, error) {
	var total Amount
	for _, a := range amounts {
		var err error
		if total, err = total.Add(a); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// MarshalJSON encodes the amount as a decimal string to keep full precision in JS clients
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(a.String())), nil
}

// UnmarshalJSON accepts a decimal string or a bare number literal.
// Number literals are parsed from their text, never through float64.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return errors.Wrap(ErrInvalidAmount, "null")
	}

	text := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &text); err != nil {
			return errors.Wrap(ErrInvalidAmount, err.Error())
		}
	} else if strings.ContainsAny(text, "eE") {
		return errors.Wrapf(ErrInvalidAmount, "%s: exponent notation not supported", text)
	}

	parsed, err := ParseAmount(text)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
