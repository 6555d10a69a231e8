// Package regversion defines the ordered version value used to compare what the
// registry reports as installed against what a manifest requires.
//
// Comparison rules:
//   - Versions are dot-separated numeric segments compared left to right as
//     integers, so "10.0" is greater than "9.9".
//   - Missing trailing segments count as zero: "1.2" equals "1.2.0".
//   - Registry DWORD/QWORD values are single-segment versions ("528040").
//   - Pre-release suffixes ("1.2.0-beta") sort before the release.
//   - The zero Version sorts below every parsed version.
package regversion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// Version is an immutable, comparable version value.
type Version struct {
	v       *goversion.Version
	raw     string
	numeric bool
}

// Parse parses a dotted version string such as "14.38.33130.0" or "528040".
func Parse(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, errors.New("empty version")
	}
	v, err := goversion.NewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("parsing version %q: %w", s, err)
	}
	return Version{v: v, raw: s}, nil
}

// MustParse is Parse for constants; it panics on malformed input.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FromInteger builds a single-segment version from a registry integer value.
// Segments are signed 64-bit, so QWORD values of 2^63 and above are rejected.
func FromInteger(n uint64) (Version, error) {
	raw := strconv.FormatUint(n, 10)
	v, err := goversion.NewVersion(raw)
	if err != nil {
		return Version{}, fmt.Errorf("parsing integer version %s: %w", raw, err)
	}
	return Version{v: v, raw: raw, numeric: true}, nil
}

// MustFromInteger is like FromInteger but panics on error.
func MustFromInteger(n uint64) Version {
	v, err := FromInteger(n)
	if err != nil {
		panic(err)
	}
	return v
}

// IsZero reports whether v was never set.
func (v Version) IsZero() bool {
	return v.v == nil
}

// String returns the version as it was written.
func (v Version) String() string {
	return v.raw
}

// Compare returns -1, 0 or +1 depending on whether v is less than, equal to,
// or greater than o.
func (v Version) Compare(o Version) int {
	switch {
	case v.v == nil && o.v == nil:
		return 0
	case v.v == nil:
		return -1
	case o.v == nil:
		return 1
	}
	return v.v.Compare(o.v)
}

// LessThan reports whether v sorts strictly before o.
func (v Version) LessThan(o Version) bool {
	return v.Compare(o) < 0
}

// Equal reports whether v and o compare equal; "1.2" equals "1.2.0".
func (v Version) Equal(o Version) bool {
	return v.Compare(o) == 0
}

// MarshalJSON writes numbers back as JSON numbers and everything else as strings.
func (v Version) MarshalJSON() ([]byte, error) {
	if v.v == nil {
		return []byte("null"), nil
	}
	if v.numeric {
		return []byte(v.raw), nil
	}
	return json.Marshal(v.raw)
}

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (v *Version) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return errors.New("version must not be null")
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := Parse(s)
		if err != nil {
			return err
		}
		*v = parsed
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("version must be a string or a number: %w", err)
	}
	parsed, err := Parse(n.String())
	if err != nil {
		return err
	}
	parsed.numeric = true
	*v = parsed
	return nil
}
