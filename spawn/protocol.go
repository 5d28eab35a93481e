// Package spawn implements the fork/exec choreography that brings a
// child process from creation to exec under full confinement: namespaces,
// filesystem layout, credentials, rlimits, and environment, synchronized
// with the parent over a private socket pair.
package spawn

import "encoding/json"

// BindMount is one (dest, src) entry applied before chroot, interpreted
// relative to the pre-chroot root.
type BindMount struct {
	Dest string `json:"dest"`
	Src  string `json:"src"`
}

// TmpfsMount is one (dest, bytes) entry applied after chroot, interpreted
// relative to the post-chroot root.
type TmpfsMount struct {
	Dest  string `json:"dest"`
	Bytes int64  `json:"bytes"`
}

// EnvVar is one (name, value) pair to set in the child's environment.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RlimitSetting names a resource by the CLI-facing name used in
// rlimitByName (see rlimit.go) rather than the raw RLIMIT_* constant, so
// the wire format doesn't depend on platform-specific constant values.
type RlimitSetting struct {
	Resource string `json:"resource"`
	Soft     uint64 `json:"soft"`
	Hard     uint64 `json:"hard"`
}

// Request is the immutable record a caller builds and hands to Spawn.
// It is JSON-encoded across the control channel to the re-exec'd child
// (see doc.go for why this package re-execs instead of forking in place).
type Request struct {
	CloneFlags   uintptr         `json:"clone_flags"`
	Argv         []string        `json:"argv"`
	UID          uint32          `json:"uid"`
	GID          uint32          `json:"gid"`
	Nice         int             `json:"nice"`
	ChrootPath   string          `json:"chroot_path"`
	BindFS       []BindMount     `json:"bindfs"`
	Tmpfs        []TmpfsMount    `json:"tmpfs"`
	Rlimits      []RlimitSetting `json:"rlimits"`
	ResetEnv     bool            `json:"reset_env"`
	EnvWhitelist []EnvVar        `json:"env_whitelist"`
}

func encodeRequest(r *Request) ([]byte, error) {
	return json.Marshal(r)
}

func decodeRequest(b []byte) (*Request, error) {
	var r Request
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
