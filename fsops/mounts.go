package fsops

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// MountsPath is the kernel's live mount table.
const MountsPath = "/proc/mounts"

// MountPoints parses MountsPath line-oriented: "source target fstype
// options freq passno". Lines that don't have at least 4 fields are
// skipped rather than erroring the whole read, since /proc/mounts is
// kernel-produced and never malformed in practice but a defensive parser
// costs nothing.
func MountPoints() ([]MountPoint, error) {
	f, err := os.Open(MountsPath)
	if err != nil {
		return nil, fmt.Errorf("fsops: mount_points: %w", err)
	}
	defer f.Close()
	return parseMounts(f)
}

// ParseMounts parses /proc/mounts-formatted text from an arbitrary
// reader; exported so tests (and callers on non-Linux build hosts) can
// exercise the parser against a fixture instead of the real mount table.
func ParseMounts(r io.Reader) ([]MountPoint, error) {
	return parseMounts(r)
}

func parseMounts(r io.Reader) ([]MountPoint, error) {
	var points []MountPoint
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		points = append(points, MountPoint{
			Source:  fields[0],
			Target:  fields[1],
			FSType:  fields[2],
			Options: strings.Split(fields[3], ","),
		})
	}
	if err := scanner.Err(); err != nil {
		return points, fmt.Errorf("fsops: mount_points: %w", err)
	}
	return points, nil
}
