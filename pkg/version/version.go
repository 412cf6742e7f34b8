// Package version provides the backbone version and version comparison.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Current is the version reported by the backbone for the "v" command.
const Current = "1.0.0"

// Version is a parsed "major.minor[.patch]" version.
type Version struct {
	Major uint16
	Minor uint16
	Patch uint16
}

// Parse parses a "major.minor" or "major.minor.patch" version string. A
// leading "v" is accepted.
func Parse(s string) (Version, error) {
	parts := strings.Split(strings.TrimPrefix(s, "v"), ".")
	if len(parts) != 2 && len(parts) != 3 {
		return Version{}, fmt.Errorf("invalid version %q: expected major.minor[.patch]", s)
	}

	var nums [3]uint16
	names := [3]string{"major", "minor", "patch"}
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil || p == "" {
			return Version{}, fmt.Errorf("invalid version %q: bad %s component", s, names[i])
		}
		nums[i] = uint16(n)
	}

	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the version as "major.minor.patch".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or 1 when v is older than, equal to or newer
// than other.
func (v Version) Compare(other Version) int {
	a := [3]uint16{v.Major, v.Minor, v.Patch}
	b := [3]uint16{other.Major, other.Minor, other.Patch}
	for i := range a {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}

// Compatible returns true if the other version has the same major version.
func (v Version) Compatible(other Version) bool {
	return v.Major == other.Major
}

// CheckRemote parses a version reported by a backbone and reports whether
// it is compatible with Current.
func CheckRemote(reported string) (Version, error) {
	remote, err := Parse(strings.TrimSpace(reported))
	if err != nil {
		return Version{}, err
	}
	if !MustParse(Current).Compatible(remote) {
		return remote, fmt.Errorf("backbone version %s is incompatible with %s", remote, Current)
	}
	return remote, nil
}
