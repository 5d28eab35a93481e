package spawn

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/yxcT-T/lrun/fsops"
	"github.com/yxcT-T/lrun/internal/logging"
)

var errZeroCredential = errors.New("spawn: uid and gid must both be non-zero")

// RunChildInit is the entry point cmd/lrun's hidden subcommand calls. It
// reads the Request off ctrlFD, then drives states S1 through S4 of the
// handshake over syncFD, replying OK_Sn/FAIL_Sn at each step, and
// finally execs the requested command. It returns only if something
// failed before exec could even be attempted; a successful run never
// returns (syscall.Exec replaces the process image).
func RunChildInit(ctrlFD, syncFD uintptr) int {
	ctrl := os.NewFile(ctrlFD, "lrun-ctrl")
	sync := os.NewFile(syncFD, "lrun-sync")

	payload, err := io.ReadAll(ctrl)
	if err != nil {
		logging.Error("spawn.child.read_request", err, "reading control channel")
		return 1
	}
	ctrl.Close()

	req, err := decodeRequest(payload)
	if err != nil {
		logging.Error("spawn.child.decode_request", err, "decoding control payload")
		return 1
	}

	steps := []struct {
		n  int
		fn func(*Request) error
	}{
		{1, func(r *Request) error { return applyBindMounts(r.BindFS) }},
		{2, func(r *Request) error { return applyChroot(r.ChrootPath) }},
		{3, func(r *Request) error { return applyTmpfs(r.Tmpfs) }},
		{4, applyCredentialsAndLimits},
	}

	for _, step := range steps {
		msg, err := recvMsg(sync)
		if err != nil {
			logging.Error(fmt.Sprintf("spawn.child.s%d.recv", step.n), err, "")
			return 1
		}
		if msg != goMsgs[step.n] {
			logging.Error(fmt.Sprintf("spawn.child.s%d", step.n), nil, "unexpected message %d", msg)
			return 1
		}
		if err := step.fn(req); err != nil {
			logging.Error(fmt.Sprintf("spawn.child.s%d", step.n), err, "")
			sendMsg(sync, failMsgs[step.n])
			return 1
		}
		if err := sendMsg(sync, okMsgs[step.n]); err != nil {
			logging.Error(fmt.Sprintf("spawn.child.s%d.reply", step.n), err, "")
			return 1
		}
	}

	msg, err := recvMsg(sync)
	if err != nil || msg != msgGoExec {
		logging.Error("spawn.child.exec_ready", err, "did not receive go-ahead to exec")
		return 1
	}

	resetSignals()

	argv := req.Argv
	envp := os.Environ()
	if err := syscall.Exec(argv[0], argv, envp); err != nil {
		sendMsg(sync, msgFailExec)
		logging.Error("spawn.child.exec", err, "exec %q failed", argv[0])
		os.Exit(127)
	}
	return 0 // unreachable: a successful Exec never returns
}

// applyBindMounts mounts each (dest, src) pair in list order, before
// chroot, interpreted relative to the pre-chroot root.
func applyBindMounts(mounts []BindMount) error {
	for _, m := range mounts {
		if err := fsops.MountBind(m.Src, m.Dest); err != nil {
			return err
		}
	}
	return nil
}

// applyChroot chroots and chdirs to "/". An empty path is a no-op: the
// child simply skips S2's action while still replying OK_S2, since the
// parent's handshake always drives all four states regardless of what
// the request contains.
func applyChroot(path string) error {
	if path == "" {
		return nil
	}
	if err := unix.Chroot(path); err != nil {
		return fmt.Errorf("chroot %s: %w", path, err)
	}
	if err := unix.Chdir("/"); err != nil {
		return fmt.Errorf("chdir / after chroot: %w", err)
	}
	return nil
}

// applyTmpfs mounts each (dest, bytes) pair in list order, after chroot,
// interpreted relative to the post-chroot root.
func applyTmpfs(mounts []TmpfsMount) error {
	for _, m := range mounts {
		if err := fsops.MountTmpfs(m.Dest, m.Bytes, 0777); err != nil {
			return err
		}
	}
	return nil
}

// applyCredentialsAndLimits is the S4 "caps-drop" step: it clears
// supplementary groups, drops gid before uid, applies nice (non-fatal),
// sets rlimits, and applies the environment policy, in that order.
func applyCredentialsAndLimits(req *Request) error {
	if req.UID == 0 || req.GID == 0 {
		return errZeroCredential
	}

	if err := unix.Setgroups(nil); err != nil {
		return fmt.Errorf("clearing supplementary groups: %w", err)
	}
	if err := unix.Setresgid(int(req.GID), int(req.GID), int(req.GID)); err != nil {
		return fmt.Errorf("setresgid %d: %w", req.GID, err)
	}
	if err := unix.Setresuid(int(req.UID), int(req.UID), int(req.UID)); err != nil {
		return fmt.Errorf("setresuid %d: %w", req.UID, err)
	}

	if req.Nice != 0 {
		if err := unix.Setpriority(unix.PRIO_PROCESS, 0, req.Nice); err != nil {
			logging.Warning("spawn.child.nice", err, "setpriority(%d) failed, continuing", req.Nice)
		}
	}

	for resource, lim := range normalizeRlimits(req.Rlimits) {
		limCopy := lim
		if err := unix.Setrlimit(resource, &limCopy); err != nil {
			return fmt.Errorf("setrlimit %d: %w", resource, err)
		}
	}

	if req.ResetEnv {
		os.Clearenv()
	}
	for _, e := range req.EnvWhitelist {
		if err := os.Setenv(e.Name, e.Value); err != nil {
			return fmt.Errorf("setenv %s: %w", e.Name, err)
		}
	}

	return nil
}

// resetSignals restores default dispositions and unblocks every signal
// before exec. It locks the calling goroutine to its OS thread first
// since the unblock must land on the thread that actually calls exec
// (the same constraint ptrace-style runners document).
func resetSignals() {
	runtime.LockOSThread()
	signal.Reset()

	var empty unix.Sigset_t
	if err := unix.PthreadSigmask(unix.SIG_SETMASK, &empty, nil); err != nil {
		logging.Warning("spawn.child.sigprocmask", err, "failed to unblock signals before exec")
	}
}
