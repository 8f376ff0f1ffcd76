package xic

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Unit of a mass tolerance
type Unit int

// Supported tolerance units
const (
	PPM Unit = iota
	Da
)

func (u Unit) String() string {
	if u == Da {
		return "da"
	}
	return "ppm"
}

// ErrTolerance is returned for unparsable tolerance specifications
var ErrTolerance = errors.New("invalid tolerance")

// Tolerance is the maximum deviation allowed when matching m/z values
type Tolerance struct {
	Value float64
	Unit  Unit
}

// DefaultTolerance is 10 ppm
var DefaultTolerance = Tolerance{Value: 10, Unit: PPM}

// ParseUnit parses "ppm" or "da" (case insensitive)
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ppm", "":
		return PPM, nil
	case "da", "th", "mz":
		return Da, nil
	}
	return PPM, fmt.Errorf("%w: unknown unit %q", ErrTolerance, s)
}

// ParseTolerance parses strings like "10", "10ppm", "0.5 da"
func ParseTolerance(s string) (Tolerance, error) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.' && r != 'e' && r != 'E' && r != '+' && r != '-'
	})
	num, unit := s, ""
	if i >= 0 {
		num, unit = s[:i], s[i:]
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil {
		return Tolerance{}, fmt.Errorf("%w %q", ErrTolerance, s)
	}
	if v < 0 {
		return Tolerance{}, fmt.Errorf("%w %q: negative value", ErrTolerance, s)
	}
	u, err := ParseUnit(unit)
	if err != nil {
		return Tolerance{}, err
	}
	return Tolerance{Value: v, Unit: u}, nil
}

func (t Tolerance) String() string {
	return strconv.FormatFloat(t.Value, 'f', -1, 64) + t.Unit.String()
}

// Delta returns the absolute tolerance around mz
func (t Tolerance) Delta(mz float64) float64 {
	if t.Unit == Da {
		return t.Value
	}
	return t.Value * mz / 1000000.0
}

// Window returns the m/z window around mz
func (t Tolerance) Window(mz float64) (float64, float64) {
	d := t.Delta(mz)
	return mz - d, mz + d
}

// Match reports whether measured is within tolerance of the target m/z
func (t Tolerance) Match(target, measured float64) bool {
	d := measured - target
	if d < 0 {
		d = -d
	}
	return d <= t.Delta(target)
}
