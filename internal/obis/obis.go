// Package obis parses and formats COSEM OBIS codes: the six-field object
// identification scheme (A-B:C.D.E*F) that addresses a logical device's
// interface objects, per IEC 62056-61.
package obis

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Code is a six-field OBIS identifier. F is conventionally 255 when the
// canonical string form omits it (no billing-period selector).
type Code struct {
	A, B, C, D, E, F byte
}

// ErrMalformed is returned when a string does not match the A-B:C.D.E[*F]
// grammar.
var ErrMalformed = errors.New("obis: malformed code")

// Parse decodes a canonical OBIS string such as "1-0:1.8.0*255" or the
// common short form "1-0:1.8.0" (F implied as 255).
func Parse(s string) (Code, error) {
	dash := strings.IndexByte(s, '-')
	colon := strings.IndexByte(s, ':')
	if dash < 0 || colon < 0 || colon < dash {
		return Code{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}

	aPart := s[:dash]
	bPart := s[dash+1 : colon]
	rest := s[colon+1:]

	fields := strings.Split(rest, ".")
	if len(fields) != 3 {
		return Code{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}

	ePart := fields[2]
	fPart := "255"
	if star := strings.IndexByte(ePart, '*'); star >= 0 {
		fPart = ePart[star+1:]
		ePart = ePart[:star]
	}

	vals := make([]byte, 0, 6)
	for _, p := range []string{aPart, bPart, fields[0], fields[1], ePart, fPart} {
		n, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return Code{}, fmt.Errorf("%w: %q", ErrMalformed, s)
		}
		vals = append(vals, byte(n))
	}

	return Code{A: vals[0], B: vals[1], C: vals[2], D: vals[3], E: vals[4], F: vals[5]}, nil
}

// MustParse is Parse, panicking on error. Intended for static OBIS literals
// in code, not for parsing configuration or network input.
func MustParse(s string) Code {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// String renders the canonical A-B:C.D.E*F form.
func (c Code) String() string {
	return fmt.Sprintf("%d-%d:%d.%d.%d*%d", c.A, c.B, c.C, c.D, c.E, c.F)
}

// Short renders A-B:C.D.E, omitting F when it is the default 255.
func (c Code) Short() string {
	if c.F == 255 {
		return fmt.Sprintf("%d-%d:%d.%d.%d", c.A, c.B, c.C, c.D, c.E)
	}
	return c.String()
}

// Bytes returns the six-byte wire encoding used by COSEM logical names.
func (c Code) Bytes() [6]byte {
	return [6]byte{c.A, c.B, c.C, c.D, c.E, c.F}
}

// FromBytes builds a Code from a six-byte COSEM logical name.
func FromBytes(b [6]byte) Code {
	return Code{A: b[0], B: b[1], C: b[2], D: b[3], E: b[4], F: b[5]}
}
