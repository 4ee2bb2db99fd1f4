package schema

import (
	"fmt"
	"sort"
)

// CurrentVersion is the format version produced by the writer.
const CurrentVersion = "1.52"

// Rules is the set of decoding rules of a format version. The rules are
// selected once, when the header is decoded.
type Rules struct {
	Version string
	// CaptureID reports whether CaptureInfo carries the capture ULID.
	CaptureID bool
	// TimerType reports whether Timer records carry the type tag.
	// Timers of older formats are of TimerTypeNone.
	TimerType bool
}

var versions = map[string]Rules{
	"1.50": {Version: "1.50"},
	"1.51": {Version: "1.51"},
	"1.52": {Version: "1.52", CaptureID: true, TimerType: true},
}

// CurrentRules are the rules of CurrentVersion.
var CurrentRules = versions[CurrentVersion]

// LookupVersion returns the decoding rules of the format version.
func LookupVersion(v string) (Rules, error) {
	r, ok := versions[v]
	if !ok {
		return Rules{}, fmt.Errorf("%w: %q", ErrUnsupportedVersion, v)
	}
	return r, nil
}

// SupportedVersions returns the known format versions in ascending order.
func SupportedVersions() []string {
	s := make([]string, 0, len(versions))
	for v := range versions {
		s = append(s, v)
	}
	sort.Strings(s)
	return s
}
