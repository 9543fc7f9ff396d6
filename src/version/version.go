package version

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Flag contains extra info about the version. It is helpul for tracking
// versions while developing. It should always by empty on the master branch.
const Flag = ""

var (
	// Version is The full version string
	Version = "0.2.0"

	// GitCommit is set with --ldflags "-X main.gitCommit=$(git rev-parse HEAD)"
	GitCommit string
)

func init() {
	if Flag != "" {
		Version += "-" + Flag
	}

	if GitCommit != "" {
		Version += "-" + GitCommit[:8]
	}
}

// SoftwareVersionSize is the length of the binary form of a SoftwareVersion.
const SoftwareVersionSize = 12

// SoftwareVersion is the version every event is stamped with. Nodes compare it
// to pick the address book that signed the event, and exchange it during the
// connection handshake.
type SoftwareVersion struct {
	Major uint32
	Minor uint32
	Patch uint32
}

// Current is the SoftwareVersion of this build.
func Current() SoftwareVersion {
	v, err := Parse(Version)
	if err != nil {
		panic(err)
	}
	return v
}

// Parse reads a "major.minor.patch" string. Anything after a '-' is ignored.
func Parse(s string) (SoftwareVersion, error) {
	if i := strings.IndexByte(s, '-'); i >= 0 {
		s = s[:i]
	}

	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return SoftwareVersion{}, fmt.Errorf("version %q should have 3 parts", s)
	}

	var nums [3]uint32
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return SoftwareVersion{}, fmt.Errorf("version %q: %s", s, err)
		}
		nums[i] = uint32(n)
	}

	return SoftwareVersion{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// Compare returns -1, 0 or 1 when v is lower than, equal to, or higher than o.
func (v SoftwareVersion) Compare(o SoftwareVersion) int {
	for _, p := range [][2]uint32{{v.Major, o.Major}, {v.Minor, o.Minor}, {v.Patch, o.Patch}} {
		if p[0] < p[1] {
			return -1
		}
		if p[0] > p[1] {
			return 1
		}
	}
	return 0
}

// MarshalBinary encodes the version as three big-endian uint32s.
func (v SoftwareVersion) MarshalBinary() ([]byte, error) {
	b := make([]byte, SoftwareVersionSize)
	binary.BigEndian.PutUint32(b[0:4], v.Major)
	binary.BigEndian.PutUint32(b[4:8], v.Minor)
	binary.BigEndian.PutUint32(b[8:12], v.Patch)
	return b, nil
}

// UnmarshalBinary decodes the output of MarshalBinary.
func (v *SoftwareVersion) UnmarshalBinary(b []byte) error {
	if len(b) != SoftwareVersionSize {
		return fmt.Errorf("software version should be %d bytes, got %d", SoftwareVersionSize, len(b))
	}
	v.Major = binary.BigEndian.Uint32(b[0:4])
	v.Minor = binary.BigEndian.Uint32(b[4:8])
	v.Patch = binary.BigEndian.Uint32(b[8:12])
	return nil
}

func (v SoftwareVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}
