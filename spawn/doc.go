package spawn

// This package's child side of the handshake is not a continuation of
// the parent's process image. Go cannot safely run arbitrary Go code in
// the window between a raw fork() and exec() (no goroutine scheduler,
// no safe allocation), so rather than attempting that, the parent
// re-execs its own binary as a hidden subcommand (ChildInitArg) with the
// requested namespace flags on the clone — the familiar
// exec.Command("/proc/self/exe", "init") + cmd.ExtraFiles pattern
// containerization tools use for their init process, generalized from
// one pipe carrying a command string to two: a control channel (the
// JSON-encoded Request) and a sync channel (an AF_UNIX SOCK_SEQPACKET
// pair, the private socket pair the handshake runs over).
//
// By the time RunChildInit's caller (cmd/lrun's hidden subcommand) is
// running, it is a freshly loaded process image with its own Go runtime,
// already inside the new namespaces — free to do ordinary allocation,
// logging, and error handling while it drives states S1-S5. The
// async-signal-safety constraint this implies binds only to the narrow
// window os/exec itself manages internally doing the underlying
// clone+execve, not to any code in this package.
