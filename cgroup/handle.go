// Package cgroup represents one cgroup v1 directory and the operations a
// sandbox needs on it: creation, control-file read/write, task attachment,
// typed memory/cpu/device helpers, and teardown.
package cgroup

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/yxcT-T/lrun/fsops"
	"github.com/yxcT-T/lrun/internal/lrunerr"
)

var (
	errInvalidHandle = errors.New("cgroup: handle is invalid (destroyed or never created)")
	errUnavailable   = errors.New("cgroup: property unavailable")
)

// killallMaxRounds and killallSleep bound how long Killall will loop
// before giving up, so a stuck teardown retries a bounded number of
// times rather than looping forever. Declared as vars, not consts, so
// tests can shrink them.
var (
	killallMaxRounds      = 1000
	killallSleep          = 10 * time.Millisecond
	killallStagnantRounds = 50
)

// destroyRmdirRetries and destroyRmdirDelay bound Destroy's rmdir retry
// loop for a cgroup directory the kernel still considers busy.
var (
	destroyRmdirRetries = 20
	destroyRmdirDelay   = 25 * time.Millisecond
)

// Handle carries the absolute path of one cgroup directory. The zero
// value is not valid; construct one with Create. Handle does not own the
// processes inside it — attached pids may come and go independently.
type Handle struct {
	path string
}

// Create ensures the base controller path exists (mounting one if
// createOnNeed) and creates base/name if absent, returning a handle to
// it. Creation is idempotent: two callers racing to create the same name
// both end up with valid handles to the same directory.
func Create(name string, createOnNeed bool) (*Handle, error) {
	base, err := BasePath(createOnNeed)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(base, name)
	if _, err := fsops.MkdirAllCounted(dir, 0755); err != nil {
		return nil, lrunerr.New(lrunerr.KindSetupFatal, "cgroup.create", err)
	}
	return &Handle{path: dir}, nil
}

// Exists reports whether base/name already exists as a directory.
func Exists(name string, createOnNeed bool) bool {
	base, err := BasePath(createOnNeed)
	if err != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(base, name))
	return err == nil && info.IsDir()
}

// Path returns the handle's absolute directory, or "" once Destroy has
// invalidated it.
func (h *Handle) Path() string { return h.path }

func (h *Handle) valid() bool { return h.path != "" }

// Set writes value to the control file named prop.
func (h *Handle) Set(prop, value string) error {
	if !h.valid() {
		return lrunerr.New(lrunerr.KindLimitApply, "cgroup.set", errInvalidHandle)
	}
	if err := fsops.Write(filepath.Join(h.path, prop), value); err != nil {
		return lrunerr.New(lrunerr.KindLimitApply, "cgroup.set", err)
	}
	return nil
}

// Get reads up to maxLength bytes from the control file named prop,
// returning "" on any failure — callers of the typed helpers below
// distinguish "unreadable" from "read as zero" themselves.
func (h *Handle) Get(prop string, maxLength int) string {
	if !h.valid() {
		return ""
	}
	return fsops.Read(filepath.Join(h.path, prop), maxLength)
}

// Inherit copies prop's value from the parent cgroup directory into this
// one. Used for properties like cpuset.cpus/cpuset.mems that must be
// populated before any task can attach.
func (h *Handle) Inherit(prop string) error {
	if !h.valid() {
		return lrunerr.New(lrunerr.KindLimitApply, "cgroup.inherit", errInvalidHandle)
	}
	parentValue := fsops.Read(filepath.Join(filepath.Dir(h.path), prop), 4096)
	return h.Set(prop, strings.TrimSpace(parentValue))
}

// InheritCpuset populates cpuset.cpus then cpuset.mems from the parent
// cgroup. cgroup v1 requires both non-empty before any task can attach to
// a cpuset-controlled hierarchy.
func (h *Handle) InheritCpuset() error {
	if err := h.Inherit(propCpusetCpus); err != nil {
		return err
	}
	return h.Inherit(propCpusetMems)
}

// Attach writes pid to the cgroup's tasks file.
func (h *Handle) Attach(pid int) error {
	return h.Set(propTasks, strconv.Itoa(pid))
}

// SetMemoryLimit writes memory.limit_in_bytes. bytes <= 0 writes the
// kernel's unlimited sentinel.
func (h *Handle) SetMemoryLimit(bytes int64) error {
	value := memoryUnlimited
	if bytes > 0 {
		value = strconv.FormatInt(bytes, 10)
	}
	return h.Set(propMemoryLimitInBytes, value)
}

// MemoryLimit reads memory.limit_in_bytes.
func (h *Handle) MemoryLimit() (int64, error) {
	s := strings.TrimSpace(h.Get(propMemoryLimitInBytes, 64))
	if s == "" {
		return 0, lrunerr.New(lrunerr.KindMeasurement, "cgroup.memory_limit", errUnavailable)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, lrunerr.New(lrunerr.KindMeasurement, "cgroup.memory_limit", err)
	}
	return n, nil
}

// MemoryUsage reads memory.memsw.max_usage_in_bytes if the swap-accounting
// file exists, else falls back to memory.max_usage_in_bytes.
func (h *Handle) MemoryUsage() (int64, error) {
	for _, prop := range []string{propMemswMaxUsageInBytes, propMemoryMaxUsageInBytes} {
		s := strings.TrimSpace(h.Get(prop, 64))
		if s == "" {
			continue
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, lrunerr.New(lrunerr.KindMeasurement, "cgroup.memory_usage", errUnavailable)
}

// CPUUsageSeconds reads cpuacct.usage (nanoseconds) and returns seconds.
func (h *Handle) CPUUsageSeconds() (float64, error) {
	s := strings.TrimSpace(h.Get(propCpuacctUsage, 64))
	if s == "" {
		return 0, lrunerr.New(lrunerr.KindMeasurement, "cgroup.cpu_usage", errUnavailable)
	}
	ns, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, lrunerr.New(lrunerr.KindMeasurement, "cgroup.cpu_usage", err)
	}
	return float64(ns) / 1e9, nil
}

// ResetUsages zeroes memory.max_usage_in_bytes and cpuacct.usage. Both
// writes are attempted even if one fails; if both fail the second error
// is surfaced (arbitrary but deterministic — callers treat any non-nil
// return the same way).
func (h *Handle) ResetUsages() error {
	errMem := h.Set(propMemoryMaxUsageInBytes, "0")
	errCPU := h.Set(propCpuacctUsage, "0")
	if errCPU != nil {
		return errCPU
	}
	return errMem
}

// LimitDevices denies all device access then explicitly allows the five
// pseudo-devices a sandboxed process needs. Order matters: deny-all must
// land before the allow entries or the allows have nothing to narrow.
func (h *Handle) LimitDevices() error {
	if err := h.Set(propDevicesDeny, "a"); err != nil {
		return err
	}
	for _, rule := range deviceWhitelist {
		if err := h.Set(propDevicesAllow, rule); err != nil {
			return err
		}
	}
	return nil
}

// tasks reads and parses the tasks file into pids.
func (h *Handle) tasks() []int {
	raw := h.Get(propTasks, 1<<20)
	fields := strings.Fields(raw)
	pids := make([]int, 0, len(fields))
	for _, f := range fields {
		if pid, err := strconv.Atoi(f); err == nil {
			pids = append(pids, pid)
		}
	}
	return pids
}

// Killall repeatedly reads tasks and SIGKILLs every pid found until the
// file is empty, returning the total number of kill signals issued.
// Kernels re-parent exiting children to init, so tasks that appear after
// a round starts are caught on the next round. Killall gives up and
// returns a TeardownBestEffort error if killallStagnantRounds consecutive
// rounds fail to shrink the task count, or if killallMaxRounds is
// exceeded outright.
func (h *Handle) Killall() (int, error) {
	total := 0
	stagnant := 0
	prevCount := -1

	for round := 0; round < killallMaxRounds; round++ {
		pids := h.tasks()
		if len(pids) == 0 {
			return total, nil
		}
		for _, pid := range pids {
			if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
				// a kill failing for a reason other than "already gone"
				// is unusual but not fatal to the loop — the next round
				// will see whether the pid is still attached.
				continue
			}
			total++
		}

		if len(pids) >= prevCount && prevCount >= 0 {
			stagnant++
			if stagnant >= killallStagnantRounds {
				return total, lrunerr.New(lrunerr.KindTeardownBestEffort, "cgroup.killall", errors.New("no progress emptying tasks"))
			}
		} else {
			stagnant = 0
		}
		prevCount = len(pids)

		time.Sleep(killallSleep)
	}
	return total, lrunerr.New(lrunerr.KindTeardownBestEffort, "cgroup.killall", errors.New("exceeded bounded iteration count"))
}

// Destroy kills every task in the cgroup and removes its directory.
// It deliberately does not unmount anything beneath the cgroup's task
// tree — mount points installed by a prior spawn are the caller's
// responsibility to unmount first, since they may lie outside the
// cgroup's own concerns. Destroy returns nil iff the directory is gone
// afterward; the handle is invalidated either way once this returns nil.
func (h *Handle) Destroy() error {
	if !h.valid() {
		return nil
	}

	if _, err := h.Killall(); err != nil {
		return err
	}

	path := h.path
	var lastErr error
	for attempt := 0; attempt < destroyRmdirRetries; attempt++ {
		err := os.Remove(path)
		if err == nil || os.IsNotExist(err) {
			h.path = ""
			return nil
		}
		lastErr = err
		time.Sleep(destroyRmdirDelay)
	}
	return lrunerr.New(lrunerr.KindTeardownBestEffort, "cgroup.destroy", lastErr)
}
