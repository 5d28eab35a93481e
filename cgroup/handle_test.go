package cgroup

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yxcT-T/lrun/internal/lrunerr"
)

// newTestHandle builds a Handle over a plain temp directory standing in
// for a kernel cgroup directory. Set/Get only ever do ordinary file I/O,
// so the typed helpers are fully exercisable without a real cgroup v1
// mount or root privileges.
func newTestHandle(t *testing.T) *Handle {
	t.Helper()
	dir := t.TempDir()
	return &Handle{path: dir}
}

func TestSetGetRoundTrip(t *testing.T) {
	h := newTestHandle(t)
	require.NoError(t, h.Set("memory.limit_in_bytes", "4194304"))
	assert.Equal(t, "4194304", h.Get("memory.limit_in_bytes", 64))
}

func TestGetOnInvalidHandleReturnsEmpty(t *testing.T) {
	h := &Handle{}
	assert.Equal(t, "", h.Get("tasks", 64))
}

func TestSetOnInvalidHandleFails(t *testing.T) {
	h := &Handle{}
	err := h.Set("tasks", "1")
	require.Error(t, err)
	assert.True(t, lrunerr.Is(err, lrunerr.KindLimitApply))
}

func TestSetMemoryLimitUnlimitedSentinel(t *testing.T) {
	h := newTestHandle(t)
	require.NoError(t, h.SetMemoryLimit(0))
	assert.Equal(t, memoryUnlimited, h.Get(propMemoryLimitInBytes, 64))

	require.NoError(t, h.SetMemoryLimit(1024))
	assert.Equal(t, "1024", h.Get(propMemoryLimitInBytes, 64))
}

func TestMemoryUsagePrefersMemsw(t *testing.T) {
	h := newTestHandle(t)
	require.NoError(t, h.Set(propMemswMaxUsageInBytes, "2048"))
	require.NoError(t, h.Set(propMemoryMaxUsageInBytes, "1024"))

	usage, err := h.MemoryUsage()
	require.NoError(t, err)
	assert.Equal(t, int64(2048), usage)
}

func TestMemoryUsageFallsBackWithoutMemsw(t *testing.T) {
	h := newTestHandle(t)
	require.NoError(t, h.Set(propMemoryMaxUsageInBytes, "1024"))

	usage, err := h.MemoryUsage()
	require.NoError(t, err)
	assert.Equal(t, int64(1024), usage)
}

func TestMemoryUsageUnavailableIsMeasurementKind(t *testing.T) {
	h := newTestHandle(t)
	_, err := h.MemoryUsage()
	require.Error(t, err)
	assert.True(t, lrunerr.Is(err, lrunerr.KindMeasurement))
}

func TestCPUUsageSecondsConvertsFromNanoseconds(t *testing.T) {
	h := newTestHandle(t)
	require.NoError(t, h.Set(propCpuacctUsage, "2500000000"))

	secs, err := h.CPUUsageSeconds()
	require.NoError(t, err)
	assert.InDelta(t, 2.5, secs, 0.0001)
}

func TestResetUsagesAttemptsBothEvenIfOneFails(t *testing.T) {
	h := newTestHandle(t)
	// make the memory property unwritable to force the first half to fail:
	// a directory in its place cannot be opened for writing, even by root
	memPath := filepath.Join(h.path, propMemoryMaxUsageInBytes)
	require.NoError(t, os.Mkdir(memPath, 0755))
	require.NoError(t, h.Set(propCpuacctUsage, "2500000000"))

	err := h.ResetUsages()
	require.Error(t, err)

	// cpuacct.usage was still reset even though the memory write failed
	assert.Equal(t, "0", h.Get(propCpuacctUsage, 64))
}

func TestLimitDevicesDeniesBeforeAllowing(t *testing.T) {
	h := newTestHandle(t)
	require.NoError(t, h.LimitDevices())

	deny := h.Get(propDevicesDeny, 64)
	assert.Equal(t, "a", deny)

	allow := h.Get(propDevicesAllow, 4096)
	assert.Contains(t, allow, "c 1:3 rwm")
	assert.Contains(t, allow, "c 1:9 rwm")
}

func TestInheritCpusetCopiesBothProperties(t *testing.T) {
	dir := t.TempDir()
	parent := filepath.Join(dir, "parent")
	child := filepath.Join(dir, "parent", "child")
	require.NoError(t, os.MkdirAll(child, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "cpuset.cpus"), []byte("0-3\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "cpuset.mems"), []byte("0\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(child, "cpuset.cpus"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(child, "cpuset.mems"), []byte(""), 0644))

	h := &Handle{path: child}
	require.NoError(t, h.InheritCpuset())

	assert.Equal(t, "0-3", h.Get("cpuset.cpus", 64))
	assert.Equal(t, "0", h.Get("cpuset.mems", 64))
}

func TestKillallEmptiesTasksAcrossRounds(t *testing.T) {
	// shrink the bounds so the test doesn't wait a full production-sized
	// loop; still exercises the real round-trip logic.
	oldMax, oldSleep, oldStagnant := killallMaxRounds, killallSleep, killallStagnantRounds
	killallMaxRounds, killallSleep, killallStagnantRounds = 20, time.Millisecond, 5
	defer func() { killallMaxRounds, killallSleep, killallStagnantRounds = oldMax, oldSleep, oldStagnant }()

	h := newTestHandle(t)

	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	defer cmd.Process.Kill()
	defer cmd.Wait()

	require.NoError(t, h.Set(propTasks, strconv.Itoa(pid)))

	// the fixture's "tasks" file is a flat file, not a live kernel view:
	// writing it once means Killall will see the same pid every round
	// until the process actually exits and we clear it out ourselves to
	// simulate the kernel noticing.
	go func() {
		time.Sleep(5 * time.Millisecond)
		os.WriteFile(filepath.Join(h.path, propTasks), []byte(""), 0644)
	}()

	killed, err := h.Killall()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, killed, 1)
}

func TestKillallGivesUpOnNoProgress(t *testing.T) {
	oldMax, oldSleep, oldStagnant := killallMaxRounds, killallSleep, killallStagnantRounds
	killallMaxRounds, killallSleep, killallStagnantRounds = 10, time.Millisecond, 3
	defer func() { killallMaxRounds, killallSleep, killallStagnantRounds = oldMax, oldSleep, oldStagnant }()

	h := newTestHandle(t)
	// a pid that is already gone: Kill returns ESRCH harmlessly every
	// round, and the fixture file never empties itself, so Killall must
	// detect non-progress and give up within the bound.
	require.NoError(t, h.Set(propTasks, "999999"))

	_, err := h.Killall()
	require.Error(t, err)
	assert.True(t, lrunerr.Is(err, lrunerr.KindTeardownBestEffort))
}

func TestDestroyInvalidatesHandle(t *testing.T) {
	h := newTestHandle(t)
	require.NoError(t, h.Destroy())
	assert.Equal(t, "", h.Path())

	// Destroy on an already-destroyed handle is a no-op, not an error.
	require.NoError(t, h.Destroy())
}
