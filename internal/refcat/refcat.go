// Package refcat sanitizes cadastral references ("referencia catastral").
package refcat

import (
	"strings"

	"github.com/rotisserie/eris"
)

const (
	// MinLength is the length of a parcel-only reference.
	MinLength = 14
	// MaxLength is the length of a full reference including the
	// building number and check characters.
	MaxLength = 20
)

// ErrInvalid is returned when a reference does not have a usable shape.
var ErrInvalid = eris.New("invalid cadastral reference")

// Sanitize strips every character outside [A-Za-z0-9] and uppercases the
// rest. The result must be between MinLength and MaxLength characters.
func Sanitize(raw string) (string, error) {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	rc := b.String()

	if rc == "" {
		return "", eris.Wrap(ErrInvalid, "reference is empty")
	}
	if len(rc) < MinLength || len(rc) > MaxLength {
		return "", eris.Wrapf(ErrInvalid, "reference must have between %d and %d characters, got %d", MinLength, MaxLength, len(rc))
	}
	return rc, nil
}

// Parts are the positional fields of a sanitized reference.
type Parts struct {
	Parcel   string // pc1, 7 chars
	Sheet    string // pc2, 7 chars
	Building string // car, 4 chars
	Control1 string // cc1
	Control2 string // cc2
}

// Split breaks a sanitized reference into its positional parts. Missing
// trailing parts are left empty.
func Split(rc string) Parts {
	cut := func(from, to int) string {
		if from >= len(rc) {
			return ""
		}
		if to > len(rc) {
			to = len(rc)
		}
		return rc[from:to]
	}
	return Parts{
		Parcel:   cut(0, 7),
		Sheet:    cut(7, 14),
		Building: cut(14, 18),
		Control1: cut(18, 19),
		Control2: cut(19, 20),
	}
}

// Parcel14 returns the 14-character parcel reference (pc1+pc2).
func (p Parts) Parcel14() string {
	return p.Parcel + p.Sheet
}
