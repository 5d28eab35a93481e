package spawn

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/yxcT-T/lrun/internal/lrunerr"
)

// ChildInitArg is the hidden argv[1] cmd/lrun recognizes to dispatch into
// RunChildInit instead of the normal CLI parse. Never documented in
// --help; only Spawn itself ever constructs a command line containing it.
const ChildInitArg = "__lrun_child__"

// CtrlFD and SyncFD are the fixed file descriptor numbers the re-exec'd
// child finds its two ends on: os/exec always maps fds 0-2 to
// stdin/stdout/stderr before appending ExtraFiles starting at fd 3, and
// Spawn always passes the control pipe first, the sync socket second.
const (
	CtrlFD = 3
	SyncFD = 4
)

// baseCloneFlags are the namespace bits always present on every spawn,
// regardless of what the caller additionally requested.
const baseCloneFlags = unix.CLONE_NEWPID | unix.CLONE_NEWUTS | unix.CLONE_NEWNS | unix.CLONE_NEWNET | unix.CLONE_NEWIPC

// Attacher is the one cgroup operation Spawn needs: attaching the freshly
// forked child before it does anything memory-consuming. Accepting an
// interface instead of *cgroup.Handle keeps this package free of an
// import cycle with cgroup and lets tests fake attachment.
type Attacher interface {
	Attach(pid int) error
}

// Spawn brings req.Argv from fork to exec under full confinement,
// synchronizing with the re-exec'd child over a private control pipe and
// sync socket pair (see doc.go). It attaches the child to cg immediately
// after fork, before releasing it into the state machine, so the child
// is already accounted for before it can do anything memory-consuming.
// On success it returns the child's pid without waiting for exit; on
// any handshake failure it kills and reaps the child and returns a
// negative pid with a *lrunerr.Error of KindSpawnAbort.
func Spawn(req *Request, cg Attacher) (int, error) {
	selfExe, err := os.Executable()
	if err != nil {
		return -1, lrunerr.New(lrunerr.KindSpawnAbort, "spawn.self_exe", err)
	}

	ctrlRead, ctrlWrite, err := os.Pipe()
	if err != nil {
		return -1, lrunerr.New(lrunerr.KindSpawnAbort, "spawn.ctrl_pipe", err)
	}

	syncFDs, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		ctrlRead.Close()
		ctrlWrite.Close()
		return -1, lrunerr.New(lrunerr.KindSpawnAbort, "spawn.socketpair", err)
	}
	parentSync := os.NewFile(uintptr(syncFDs[0]), "lrun-sync-parent")
	childSync := os.NewFile(uintptr(syncFDs[1]), "lrun-sync-child")

	cmd := &exec.Cmd{
		Path:       selfExe,
		Args:       []string{selfExe, ChildInitArg},
		ExtraFiles: []*os.File{ctrlRead, childSync},
		Stdin:      os.Stdin,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		SysProcAttr: &syscall.SysProcAttr{
			Cloneflags: uintptr(baseCloneFlags) | req.CloneFlags,
		},
	}

	if err := cmd.Start(); err != nil {
		ctrlRead.Close()
		ctrlWrite.Close()
		parentSync.Close()
		childSync.Close()
		return -1, lrunerr.New(lrunerr.KindSpawnAbort, "spawn.fork", err)
	}

	// the child inherited its own copies across the clone; the parent
	// closes its references to the child's ends immediately so EOF/ECONNRESET
	// behave correctly if the child dies unexpectedly.
	ctrlRead.Close()
	childSync.Close()
	defer parentSync.Close()

	payload, err := encodeRequest(req)
	if err != nil {
		ctrlWrite.Close()
		killAndReap(cmd)
		return -1, lrunerr.New(lrunerr.KindSpawnAbort, "spawn.encode_request", err)
	}
	if _, err := ctrlWrite.Write(payload); err != nil {
		ctrlWrite.Close()
		killAndReap(cmd)
		return -1, lrunerr.New(lrunerr.KindSpawnAbort, "spawn.send_request", err)
	}
	ctrlWrite.Close()

	if err := cg.Attach(cmd.Process.Pid); err != nil {
		killAndReap(cmd)
		return -1, lrunerr.New(lrunerr.KindSpawnAbort, "spawn.attach", err)
	}

	for step := 1; step <= 4; step++ {
		if err := sendMsg(parentSync, goMsgs[step]); err != nil {
			killAndReap(cmd)
			return -1, lrunerr.New(lrunerr.KindSpawnAbort, fmt.Sprintf("spawn.s%d.send", step), err)
		}
		reply, err := recvMsg(parentSync)
		if err != nil {
			killAndReap(cmd)
			return -1, lrunerr.New(lrunerr.KindSpawnAbort, fmt.Sprintf("spawn.s%d.recv", step), err)
		}
		if reply != okMsgs[step] {
			killAndReap(cmd)
			return -1, lrunerr.New(lrunerr.KindSpawnAbort, fmt.Sprintf("spawn.s%d", step), fmt.Errorf("child reported failure (msg %d)", reply))
		}
	}

	if err := sendMsg(parentSync, msgGoExec); err != nil {
		killAndReap(cmd)
		return -1, lrunerr.New(lrunerr.KindSpawnAbort, "spawn.go_exec", err)
	}

	return cmd.Process.Pid, nil
}

// killAndReap is the parent's uniform failure-path cleanup: SIGKILL the
// child and reap it so it doesn't linger as a zombie. Partially applied
// cgroup/mount state is deliberately not torn down here — that's the
// caller's Destroy(), since the cgroup may be intentionally reused
// across spawns.
func killAndReap(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
	_, _ = cmd.Process.Wait()
}
