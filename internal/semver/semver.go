package semver

import (
	"errors"
	"fmt"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

// ErrIncompatible is returned when an engine version does not satisfy an
// extension's declared constraint.
var ErrIncompatible = errors.New("incompatible engine version")

// Version is the engine API version extensions are checked against.
//
// This is a thin wrapper around github.com/Masterminds/semver/v3.
type Version struct {
	v *mm.Version
}

// Constraint is what an extension declares it can run on.
//
// Examples:
// - ">=1.2.0 <2.0.0"
// - "^1.0.0"
// - "~1.4"
type Constraint struct {
	raw string
	c   *mm.Constraints
}

func ParseVersion(raw string) (Version, error) {
	v, err := mm.NewVersion(strings.TrimSpace(raw))
	if err != nil {
		return Version{}, fmt.Errorf("semver: parse version %q: %w", raw, err)
	}
	return Version{v: v}, nil
}

func MustParseVersion(raw string) Version {
	v, err := ParseVersion(raw)
	if err != nil {
		panic(err)
	}
	return v
}

// ParseConstraint parses raw. An empty constraint accepts every version.
func ParseConstraint(raw string) (Constraint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "*"
	}
	c, err := mm.NewConstraint(raw)
	if err != nil {
		return Constraint{}, fmt.Errorf("semver: parse constraint %q: %w", raw, err)
	}
	return Constraint{raw: raw, c: c}, nil
}

func (v Version) String() string {
	if v.v == nil {
		return ""
	}
	return v.v.String()
}

func Satisfies(v Version, c Constraint) bool {
	if v.v == nil || c.c == nil {
		return false
	}
	return c.c.Check(v.v)
}

// Check returns nil when engine satisfies the raw constraint, ErrIncompatible
// (wrapped) when it does not, and a parse error when the constraint is malformed.
func Check(engine Version, rawConstraint string) error {
	c, err := ParseConstraint(rawConstraint)
	if err != nil {
		return err
	}
	if !Satisfies(engine, c) {
		return fmt.Errorf("%w: %s does not satisfy %q", ErrIncompatible, engine.String(), c.raw)
	}
	return nil
}
