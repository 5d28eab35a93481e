package cgroup

// Control file names used across the typed helpers. Kept as named
// constants rather than inline literals since several of them are shared
// between Set/Get call sites and the inherit pairing cpuset needs.
const (
	propTasks                  = "tasks"
	propMemoryLimitInBytes     = "memory.limit_in_bytes"
	propMemswLimitInBytes      = "memory.memsw.limit_in_bytes"
	propMemoryMaxUsageInBytes  = "memory.max_usage_in_bytes"
	propMemswMaxUsageInBytes   = "memory.memsw.max_usage_in_bytes"
	propCpuacctUsage           = "cpuacct.usage"
	propDevicesDeny            = "devices.deny"
	propDevicesAllow           = "devices.allow"
	propCpusetCpus             = "cpuset.cpus"
	propCpusetMems             = "cpuset.mems"
)

// memoryUnlimited is the string form the kernel's memory controller
// accepts as its "no limit" sentinel.
const memoryUnlimited = "-1"

// deviceWhitelist restricts /dev to the five pseudo-devices a sandboxed
// process legitimately needs: null, zero, full, random, urandom. "a"
// denies everything first; order matters.
var deviceWhitelist = []string{
	"c 1:3 rwm", // null
	"c 1:5 rwm", // zero
	"c 1:7 rwm", // full
	"c 1:8 rwm", // random
	"c 1:9 rwm", // urandom
}
