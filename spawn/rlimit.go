package spawn

import "golang.org/x/sys/unix"

// rlimitByName maps the CLI/wire resource names to the platform RLIMIT_*
// constant. Keeping the wire format name-based (rather than the raw int)
// means the JSON payload doesn't depend on these values staying stable
// across kernels/archs.
var rlimitByName = map[string]int{
	"as":      unix.RLIMIT_AS,
	"core":    unix.RLIMIT_CORE,
	"cpu":     unix.RLIMIT_CPU,
	"data":    unix.RLIMIT_DATA,
	"fsize":   unix.RLIMIT_FSIZE,
	"memlock": unix.RLIMIT_MEMLOCK,
	"nofile":  unix.RLIMIT_NOFILE,
	"nproc":   unix.RLIMIT_NPROC,
	"rss":     unix.RLIMIT_RSS,
	"stack":   unix.RLIMIT_STACK,
}

// normalizeRlimits turns the caller's resource-name settings into the
// unix.RLIMIT_* keyed map applied in the child, forcing RLIMIT_CORE to 0
// unless the caller explicitly set it, so core dumps stay off by default.
// Unknown resource names are silently skipped rather than failing the
// whole spawn on a typo from an older client; a production CLI validates
// names before ever constructing a Request.
func normalizeRlimits(settings []RlimitSetting) map[int]unix.Rlimit {
	out := make(map[int]unix.Rlimit, len(settings)+1)
	for _, s := range settings {
		resource, ok := rlimitByName[s.Resource]
		if !ok {
			continue
		}
		out[resource] = unix.Rlimit{Cur: s.Soft, Max: s.Hard}
	}
	if _, ok := out[unix.RLIMIT_CORE]; !ok {
		out[unix.RLIMIT_CORE] = unix.Rlimit{Cur: 0, Max: 0}
	}
	return out
}
