package cgroup

// Limits is the caller-facing configuration bundle applied to a Handle
// before spawn: memory ceiling, device whitelist on/off, and whether to
// inherit the parent's cpuset. This generalizes the familiar
// --m/--cpushare/--cpuset-style CLI flags into one settings struct a
// Handle can apply in a single call.
type Limits struct {
	MemoryBytes   int64
	LimitDevices  bool
	InheritCpuset bool
}

// Apply configures h according to the limits. A zero-value Limits is a
// no-op, so callers that never set any limit don't need to special-case
// "no limits requested".
func (l Limits) Apply(h *Handle) error {
	if l.MemoryBytes != 0 {
		if err := h.SetMemoryLimit(l.MemoryBytes); err != nil {
			return err
		}
	}
	if l.LimitDevices {
		if err := h.LimitDevices(); err != nil {
			return err
		}
	}
	if l.InheritCpuset {
		if err := h.InheritCpuset(); err != nil {
			return err
		}
	}
	return nil
}
