// Package fsops is the thin procedural surface over the host filesystem
// and mount table that every other package in this module goes through:
// every control-file interaction and every namespace mount is one of
// these calls, so they return precise, distinguishable failure codes —
// spawn switches on them.
package fsops

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// Sentinel errors distinguished by the spawn protocol and by callers of
// the typed cgroup helpers. Wrapped with %w so errors.Is still works
// after fsops adds path/op context.
var (
	ErrOpen            = errors.New("fsops: open failed")
	ErrShortWrite      = errors.New("fsops: short write")
	ErrBindMount       = errors.New("fsops: bind mount failed")
	ErrReadonlyRemount = errors.New("fsops: readonly remount failed")
)

// Write writes content to path, truncating/creating as needed. It
// distinguishes "could not open" from "wrote fewer bytes than given".
func Write(path, content string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrOpen, path, err)
	}
	defer f.Close()

	n, err := f.WriteString(content)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrShortWrite, path, err)
	}
	if n != len(content) {
		return fmt.Errorf("%w: %s: wrote %d of %d bytes", ErrShortWrite, path, n, len(content))
	}
	return nil
}

// Read reads up to maxLength bytes from path. It returns the empty string
// on any failure — never a partial read with an error attached. Typed
// callers (cgroup's memory/cpu helpers) distinguish "empty because
// unreadable" from "empty because the kernel reported 0" themselves.
func Read(path string, maxLength int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	buf := make([]byte, maxLength)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return ""
	}
	return string(buf[:n])
}

// MkdirAllCounted is mkdir -p, returning the count of directories it
// actually created (0 if the leaf already existed).
func MkdirAllCounted(dir string, mode os.FileMode) (int, error) {
	created := 0
	// walk from the root down, creating missing path components so the
	// count is accurate rather than just "did MkdirAll succeed".
	dir = filepath.Clean(dir)
	parts := splitAll(dir)
	cur := string(filepath.Separator)
	for _, p := range parts {
		cur = filepath.Join(cur, p)
		if _, err := os.Stat(cur); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return created, fmt.Errorf("fsops: mkdir_p: stat %s: %w", cur, err)
		}
		if err := os.Mkdir(cur, mode); err != nil && !os.IsExist(err) {
			return created, fmt.Errorf("fsops: mkdir_p: mkdir %s: %w", cur, err)
		}
		created++
	}
	return created, nil
}

func splitAll(path string) []string {
	var parts []string
	for {
		dir, file := filepath.Split(path)
		if file != "" {
			parts = append([]string{file}, parts...)
		}
		dir = filepath.Clean(dir)
		if dir == path || dir == "." || dir == string(filepath.Separator) {
			break
		}
		path = dir
	}
	return parts
}

// RemoveAll unlinks path and everything beneath it, regardless of file
// type. Callers are responsible for unmounting anything mounted beneath
// path first — RemoveAll does not detect or refuse to descend into
// mount points, it will simply fail (or, worse, silently remove
// directory entries) if asked to.
func RemoveAll(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("fsops: rm_rf: %s: %w", path, err)
	}
	return nil
}

// Chmod changes path's mode.
func Chmod(path string, mode os.FileMode) error {
	if err := os.Chmod(path, mode); err != nil {
		return fmt.Errorf("fsops: chmod: %s: %w", path, err)
	}
	return nil
}

// MountBind bind-mounts src at dest then remounts the bind read-only with
// nosuid. The two failure modes are distinguished so spawn can report
// which half failed.
func MountBind(src, dest string) error {
	if err := unix.Mount(src, dest, "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("%w: %s -> %s: %v", ErrBindMount, src, dest, err)
	}
	flags := uintptr(unix.MS_BIND | unix.MS_REMOUNT | unix.MS_RDONLY | unix.MS_NOSUID)
	if err := unix.Mount(src, dest, "", flags, ""); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrReadonlyRemount, dest, err)
	}
	return nil
}

// MountTmpfs mounts a size-capped tmpfs at dest, nosuid, with the given
// mode. size is in bytes; the kernel may round up to a block-size
// multiple.
func MountTmpfs(dest string, size int64, mode os.FileMode) error {
	data := fmt.Sprintf("size=%d,mode=%s", size, strconv.FormatInt(int64(mode.Perm()), 8))
	if err := unix.Mount("tmpfs", dest, "tmpfs", unix.MS_NOSUID, data); err != nil {
		return fmt.Errorf("fsops: mount_tmpfs: %s: %w", dest, err)
	}
	return nil
}

// Umount unmounts dest. lazy selects MNT_DETACH semantics so busy mounts
// still succeed (the mount disappears from the namespace immediately;
// the underlying device is freed once the last reference drops).
func Umount(dest string, lazy bool) error {
	var flags int
	if lazy {
		flags = unix.MNT_DETACH
	}
	if err := unix.Unmount(dest, flags); err != nil {
		return fmt.Errorf("fsops: umount: %s: %w", dest, err)
	}
	return nil
}

// MountPoint is one parsed line of /proc/mounts.
type MountPoint struct {
	Source  string
	Target  string
	FSType  string
	Options []string
}

// HasOption reports whether name appears among the mount's comma-separated
// options, e.g. a controller name within a cgroup v1 mount's option list.
func (m MountPoint) HasOption(name string) bool {
	for _, o := range m.Options {
		if o == name {
			return true
		}
	}
	return false
}
