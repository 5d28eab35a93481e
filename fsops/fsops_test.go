package fsops

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prop")

	require.NoError(t, Write(path, "1048576"))
	assert.Equal(t, "1048576", Read(path, 64))
}

func TestReadMissingFileReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", Read(filepath.Join(t.TempDir(), "missing"), 64))
}

func TestWriteMissingDirReturnsOpenErr(t *testing.T) {
	err := Write(filepath.Join(t.TempDir(), "no-such-dir", "prop"), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestMkdirAllCountedCreatesOnlyMissingComponents(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a", "b", "c")

	created, err := MkdirAllCounted(target, 0755)
	require.NoError(t, err)
	assert.Equal(t, 3, created)

	_, err = os.Stat(target)
	require.NoError(t, err)

	// idempotent: calling again over the same tree creates nothing
	created, err = MkdirAllCounted(target, 0755)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
}

func TestRemoveAllRemovesTree(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "x", "y")
	require.NoError(t, os.MkdirAll(nested, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "f"), []byte("hi"), 0644))

	require.NoError(t, RemoveAll(dir))
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestParseMountsExtractsCgroupLines(t *testing.T) {
	fixture := strings.NewReader(strings.Join([]string{
		"sysfs /sys sysfs rw,nosuid,nodev,noexec,relatime 0 0",
		"cgroup /sys/fs/cgroup/memory cgroup rw,nosuid,nodev,noexec,relatime,memory 0 0",
		"cgroup /sys/fs/cgroup/cpuacct cgroup rw,nosuid,nodev,noexec,relatime,cpuacct,cpu 0 0",
		"tmpfs /run tmpfs rw,nosuid,size=1631440k,mode=755 0 0",
	}, "\n") + "\n")

	points, err := ParseMounts(fixture)
	require.NoError(t, err)
	require.Len(t, points, 4)

	var cgroupMemory *MountPoint
	for i := range points {
		if points[i].FSType == "cgroup" && points[i].HasOption("memory") {
			cgroupMemory = &points[i]
		}
	}
	require.NotNil(t, cgroupMemory)
	assert.Equal(t, "/sys/fs/cgroup/memory", cgroupMemory.Target)
	assert.True(t, cgroupMemory.HasOption("nosuid"))
	assert.False(t, cgroupMemory.HasOption("cpuacct"))
}

func TestParseMountsSkipsMalformedLines(t *testing.T) {
	fixture := strings.NewReader("short line\ncgroup /mnt cgroup rw,memory 0 0\n")
	points, err := ParseMounts(fixture)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "/mnt", points[0].Target)
}
