// Package strictness maps the four per-request strictness controls onto
// retrieval tolerances and natural-language generation instructions.
//
// Each control is a [Level]. Rhythm and rhyme select how tightly the
// structural retriever and the output validator match syllables and rhyme
// tokens. Meaning gates the semantic retriever. Fragment adherence only
// changes the instruction text handed to the language model.
package strictness

import (
	"errors"
	"fmt"
	"strings"
)

// Level is a three-valued strictness control. The zero value is unset and
// invalid; requests must name every level explicitly.
type Level int

const (
	// Off disables the dimension.
	Off Level = iota + 1

	// Loose tolerates near matches.
	Loose

	// Strict requires exact matches.
	Strict
)

// ErrInvalidLevel is returned for unset or unknown levels.
var ErrInvalidLevel = errors.New("strictness: invalid level")

// ParseLevel parses "off", "loose" or "strict", case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off":
		return Off, nil
	case "loose":
		return Loose, nil
	case "strict":
		return Strict, nil
	default:
		return 0, fmt.Errorf("%w: %q (want off, loose or strict)", ErrInvalidLevel, s)
	}
}

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case Off:
		return "off"
	case Loose:
		return "loose"
	case Strict:
		return "strict"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// Valid reports whether l is one of Off, Loose or Strict.
func (l Level) Valid() bool {
	return l >= Off && l <= Strict
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLevel, int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	v, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Settings are the per-request generation controls.
type Settings struct {
	FragmentAdherence Level `json:"fragment_adherence" yaml:"fragment_adherence"`
	Rhythm            Level `json:"rhythm"             yaml:"rhythm"`
	Rhyme             Level `json:"rhyme"              yaml:"rhyme"`
	Meaning           Level `json:"meaning"            yaml:"meaning"`

	// Theme and Steer are optional free text passed through to generation.
	Theme string `json:"theme,omitempty" yaml:"theme,omitempty"`
	Steer string `json:"steer,omitempty" yaml:"steer,omitempty"`
}

// Validate reports every unset or unknown level.
func (s Settings) Validate() error {
	var errs []error
	for _, f := range []struct {
		name  string
		level Level
	}{
		{"fragment_adherence", s.FragmentAdherence},
		{"rhythm", s.Rhythm},
		{"rhyme", s.Rhyme},
		{"meaning", s.Meaning},
	} {
		if !f.level.Valid() {
			errs = append(errs, fmt.Errorf("%s: %w", f.name, ErrInvalidLevel))
		}
	}
	return errors.Join(errs...)
}
