// Package report renders the resource accounting summary a sandbox run
// prints after its child exits.
package report

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/yxcT-T/lrun/cgroup"
)

// Summary is the final accounting record for one spawn: how much memory
// and CPU the child's cgroup saw, how long the whole run took on the
// wall clock, and how the child ended.
type Summary struct {
	ExitCode    int
	Signaled    bool
	Signal      int
	MemoryBytes int64
	CPUSeconds  float64
	RealSeconds float64
}

// Summarize reads memory and cpu usage from cg and combines it with the
// child's wait status and the caller-measured wall clock duration. Any
// counter that failed to read (cg already destroyed, controller absent)
// is left at zero rather than propagated as an error — an accounting
// summary is best-effort by nature, not a correctness gate.
func Summarize(cg *cgroup.Handle, state *os.ProcessState, wall time.Duration) Summary {
	s := Summary{RealSeconds: wall.Seconds()}

	if mem, err := cg.MemoryUsage(); err == nil {
		s.MemoryBytes = mem
	}
	if cpu, err := cg.CPUUsageSeconds(); err == nil {
		s.CPUSeconds = cpu
	}

	if state != nil {
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			s.Signaled = true
			s.Signal = int(ws.Signal())
		} else {
			s.ExitCode = state.ExitCode()
		}
	}

	return s
}

// String renders the MEMORY/CPU/REAL/STATUS block lrun prints to stderr
// after a run completes.
func (s Summary) String() string {
	status := fmt.Sprintf("EXITED, code %d", s.ExitCode)
	if s.Signaled {
		status = fmt.Sprintf("SIGNALED, signal %d", s.Signal)
	}
	return fmt.Sprintf(
		"MEMORY %d bytes\nCPU %.3f s\nREAL %.3f s\nSTATUS %s",
		s.MemoryBytes, s.CPUSeconds, s.RealSeconds, status,
	)
}
