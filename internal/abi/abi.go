// Package abi stamps every stats report and controller instance with a
// semantic version, using *semver.Version/*semver.Constraints to reason
// about compatibility between a build and a caller's constraint.
package abi

import "github.com/Masterminds/semver/v3"

// CurrentVersion is the ABI of the block layout and stats report shape
// produced by this build. Bump the minor version for additive report
// fields, the major version for a boundary-tag layout change.
var CurrentVersion = semver.MustParse("1.0.0")

// Tag wraps the current ABI version for embedding in reports.
type Tag struct {
	version *semver.Version
}

// Current returns a Tag for CurrentVersion.
func Current() Tag {
	return Tag{version: CurrentVersion}
}

// String returns the ABI version, e.g. "1.0.0".
func (t Tag) String() string {
	if t.version == nil {
		return CurrentVersion.String()
	}

	return t.version.String()
}

// Satisfies reports whether this Tag's version satisfies a semver
// constraint string such as ">= 1.0.0, < 2.0.0", letting a long-lived
// caller pin a minimum compatible ABI for the stats it consumes.
func (t Tag) Satisfies(constraint string) (bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, err
	}

	v := t.version
	if v == nil {
		v = CurrentVersion
	}

	return c.Check(v), nil
}
