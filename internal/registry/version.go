package registry

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/Masterminds/semver/v3"
)

var (
	versionToken = regexp.MustCompile(`v(\d+)\.(\d+)\.(\d+)`)
	plainVersion = regexp.MustCompile(`^v?(\d+)\.(\d+)\.(\d+)$`)
)

// ParseVersion parses a version string such as "1.2.0". Plain
// major.minor.patch components may carry leading zeros ("1.02.0").
func ParseVersion(s string) (*semver.Version, error) {
	if m := plainVersion.FindStringSubmatch(s); m != nil {
		var parts [3]uint64
		for i := range parts {
			n, err := strconv.ParseUint(m[i+1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid version %q: %w", s, err)
			}
			parts[i] = n
		}
		return semver.New(parts[0], parts[1], parts[2], "", ""), nil
	}
	v, err := semver.NewVersion(s)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return v, nil
}

// UpToDate reports whether device is at or beyond current.
func UpToDate(device, current *semver.Version) bool {
	return !device.LessThan(current)
}

// VersionToken is a version string embedded in a firmware image, kept as
// the raw digit strings so filenames reproduce them exactly.
type VersionToken struct {
	Major, Minor, Patch string
}

// String returns "major.minor.patch".
func (t VersionToken) String() string {
	return t.Major + "." + t.Minor + "." + t.Patch
}

// Filename returns the stored binary name for platform at this version.
func (t VersionToken) Filename(platform string) string {
	return fmt.Sprintf("%s_%s_%s_%s.bin", platform, t.Major, t.Minor, t.Patch)
}

// FindVersionToken returns the first v<major>.<minor>.<patch> in blob.
func FindVersionToken(blob []byte) (VersionToken, bool) {
	m := versionToken.FindSubmatch(blob)
	if m == nil {
		return VersionToken{}, false
	}
	return VersionToken{Major: string(m[1]), Minor: string(m[2]), Patch: string(m[3])}, true
}
