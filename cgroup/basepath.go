package cgroup

import (
	"errors"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/yxcT-T/lrun/fsops"
	"github.com/yxcT-T/lrun/internal/lrunerr"
)

// DefaultMountPath is where lrun mounts its own private cgroup v1
// hierarchy when none carrying the required controllers already exists
// and the caller opted into create_on_need. Of the two well-known
// candidates ("/sys/fs/cgroup/lrun" or "/cgroup/lrun"), this repo picks
// the former since it is where modern distributions already keep
// cgroupfs.
const DefaultMountPath = "/sys/fs/cgroup/lrun"

// requiredControllers are joined into one mount, matching the original
// lrun's single combined hierarchy rather than the separate
// per-controller hierarchies some distributions set up by default.
const requiredControllers = "memory,cpuacct,devices"

var errNoCgroupMount = errors.New("cgroup: no mounted hierarchy carries memory+cpuacct and create_on_need is false")

var (
	basePathOnce sync.Once
	basePathVal  string
	basePathErr  error
)

// BasePath returns the process-wide cgroup v1 base mount path, discovered
// once and memoized for the process lifetime. If createOnNeed is true
// and no suitable mount exists, BasePath mounts a
// private one at DefaultMountPath; a failure to do so is setup-fatal.
func BasePath(createOnNeed bool) (string, error) {
	basePathOnce.Do(func() {
		basePathVal, basePathErr = discoverBasePath(createOnNeed)
	})
	return basePathVal, basePathErr
}

// ResetBasePathForTest clears the memoized base path so tests can exercise
// discovery more than once within a single test binary. Production code
// never calls this — the memoization is intentionally for-process-lifetime.
func ResetBasePathForTest() {
	basePathOnce = sync.Once{}
	basePathVal = ""
	basePathErr = nil
}

func discoverBasePath(createOnNeed bool) (string, error) {
	if points, err := fsops.MountPoints(); err == nil {
		for _, p := range points {
			if p.FSType != "cgroup" {
				continue
			}
			if p.HasOption("memory") && p.HasOption("cpuacct") {
				return p.Target, nil
			}
		}
	}

	if !createOnNeed {
		return "", lrunerr.New(lrunerr.KindSetupFatal, "cgroup.base_path", errNoCgroupMount)
	}

	if _, err := fsops.MkdirAllCounted(DefaultMountPath, 0755); err != nil {
		return "", lrunerr.New(lrunerr.KindSetupFatal, "cgroup.base_path", err)
	}
	if err := unix.Mount("cgroup", DefaultMountPath, "cgroup", 0, requiredControllers); err != nil {
		return "", lrunerr.New(lrunerr.KindSetupFatal, "cgroup.base_path", err)
	}
	return DefaultMountPath, nil
}
