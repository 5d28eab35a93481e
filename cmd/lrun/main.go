// Command lrun runs a single command inside a freshly provisioned cgroup
// + namespace sandbox and reports its resource usage and exit status.
// This file is the CLI front end: it parses flags, drives one
// spawn.Spawn to completion, and prints the accounting summary. None of
// its logic participates in the provisioning invariants the core
// packages (fsops, cgroup, spawn) enforce.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yxcT-T/lrun/cgroup"
	"github.com/yxcT-T/lrun/internal/logging"
	"github.com/yxcT-T/lrun/internal/report"
	"github.com/yxcT-T/lrun/spawn"
)

func main() {
	// The hidden re-exec entry point is dispatched before urfave/cli ever
	// sees argv: it is not part of the public CLI surface and has its own
	// fixed fd-based calling convention (see spawn.CtrlFD/SyncFD).
	if len(os.Args) > 1 && os.Args[1] == spawn.ChildInitArg {
		os.Exit(spawn.RunChildInit(spawn.CtrlFD, spawn.SyncFD))
	}

	if err := buildApp().Run(os.Args); err != nil {
		logging.Fatal("cli", err, "lrun failed")
	}
}

func buildApp() *cli.App {
	return &cli.App{
		Name:      "lrun",
		Usage:     "run a command inside a fresh cgroup + namespace sandbox",
		UsageText: "lrun [options] -- command [args...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "max-cpu-time", Usage: "cpu time limit, e.g. 5s"},
			&cli.StringFlag{Name: "max-real-time", Usage: "wall clock limit, e.g. 10s"},
			&cli.Int64Flag{Name: "max-memory", Usage: "memory limit in bytes"},
			&cli.UintFlag{Name: "uid", Usage: "uid to drop to before exec", Value: 65534},
			&cli.UintFlag{Name: "gid", Usage: "gid to drop to before exec", Value: 65534},
			&cli.IntFlag{Name: "nice", Usage: "scheduling niceness to apply before exec"},
			&cli.StringFlag{Name: "chroot", Usage: "new filesystem root for the child"},
			&cli.StringSliceFlag{Name: "bind", Usage: "dest:src bind mount, applied before chroot, repeatable"},
			&cli.StringSliceFlag{Name: "tmpfs", Usage: "dest:bytes tmpfs mount, applied after chroot, repeatable"},
			&cli.BoolFlag{Name: "reset-env", Usage: "start the child from an empty environment"},
			&cli.StringSliceFlag{Name: "env", Usage: "name=value to set in the child environment, repeatable"},
			&cli.BoolFlag{Name: "limit-devices", Usage: "restrict /dev to null, zero, full, random, urandom"},
			&cli.BoolFlag{Name: "inherit-cpuset", Usage: "inherit cpuset.cpus/cpuset.mems from the parent cgroup"},
			&cli.StringFlag{Name: "cgroup-name", Value: "default", Usage: "cgroup directory name beneath the lrun base path"},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	argv := c.Args().Slice()
	if len(argv) == 0 {
		return cli.Exit("missing command to run (pass it after --)", 2)
	}

	req, err := requestFromFlags(c, argv)
	if err != nil {
		return err
	}

	cg, err := cgroup.Create(c.String("cgroup-name"), true)
	if err != nil {
		return cli.Exit(fmt.Sprintf("creating cgroup: %v", err), 1)
	}
	defer func() {
		if err := cg.Destroy(); err != nil {
			logging.Warning("cli.destroy", err, "cgroup teardown incomplete")
		}
	}()

	limits := cgroup.Limits{
		MemoryBytes:   c.Int64("max-memory"),
		LimitDevices:  c.Bool("limit-devices"),
		InheritCpuset: c.Bool("inherit-cpuset"),
	}
	if err := limits.Apply(cg); err != nil {
		return cli.Exit(fmt.Sprintf("applying limits: %v", err), 1)
	}

	start := time.Now()
	pid, err := spawn.Spawn(req, cg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("spawn failed: %v", err), 1)
	}

	if s := c.String("max-real-time"); s != "" {
		wall, err := time.ParseDuration(s)
		if err != nil {
			return cli.Exit(fmt.Sprintf("invalid --max-real-time %q: %v", s, err), 2)
		}
		timer := time.AfterFunc(wall, func() {
			_ = syscall.Kill(pid, syscall.SIGKILL)
		})
		defer timer.Stop()
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return cli.Exit(fmt.Sprintf("finding child process: %v", err), 1)
	}
	state, err := proc.Wait()
	if err != nil {
		return cli.Exit(fmt.Sprintf("waiting for child: %v", err), 1)
	}

	summary := report.Summarize(cg, state, time.Since(start))
	fmt.Fprintln(os.Stderr, summary.String())

	if !state.Success() {
		os.Exit(1)
	}
	return nil
}

func requestFromFlags(c *cli.Context, argv []string) (*spawn.Request, error) {
	req := &spawn.Request{
		Argv:       argv,
		UID:        uint32(c.Uint("uid")),
		GID:        uint32(c.Uint("gid")),
		Nice:       c.Int("nice"),
		ChrootPath: c.String("chroot"),
		ResetEnv:   c.Bool("reset-env"),
	}

	for _, b := range c.StringSlice("bind") {
		dest, src, ok := strings.Cut(b, ":")
		if !ok {
			return nil, cli.Exit(fmt.Sprintf("invalid --bind %q, want dest:src", b), 2)
		}
		req.BindFS = append(req.BindFS, spawn.BindMount{Dest: dest, Src: src})
	}

	for _, t := range c.StringSlice("tmpfs") {
		dest, sizeStr, ok := strings.Cut(t, ":")
		if !ok {
			return nil, cli.Exit(fmt.Sprintf("invalid --tmpfs %q, want dest:bytes", t), 2)
		}
		size, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil {
			return nil, cli.Exit(fmt.Sprintf("invalid --tmpfs size %q: %v", sizeStr, err), 2)
		}
		req.Tmpfs = append(req.Tmpfs, spawn.TmpfsMount{Dest: dest, Bytes: size})
	}

	for _, e := range c.StringSlice("env") {
		name, value, ok := strings.Cut(e, "=")
		if !ok {
			return nil, cli.Exit(fmt.Sprintf("invalid --env %q, want name=value", e), 2)
		}
		req.EnvWhitelist = append(req.EnvWhitelist, spawn.EnvVar{Name: name, Value: value})
	}

	if s := c.String("max-cpu-time"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, cli.Exit(fmt.Sprintf("invalid --max-cpu-time %q: %v", s, err), 2)
		}
		secs := uint64(d.Seconds())
		req.Rlimits = append(req.Rlimits, spawn.RlimitSetting{Resource: "cpu", Soft: secs, Hard: secs})
	}

	return req, nil
}
