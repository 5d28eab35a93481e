package spawn

import (
	"fmt"
	"io"
	"os"
)

// message is a single byte exchanged over the sync channel. Its value
// distinguishes step-success from step-failure.
type message byte

const (
	msgGoS1 message = iota + 1
	msgOkS1
	msgFailS1
	msgGoS2
	msgOkS2
	msgFailS2
	msgGoS3
	msgOkS3
	msgFailS3
	msgGoS4
	msgOkS4
	msgFailS4
	msgGoExec
	msgFailExec
)

// goMsgs/okMsgs/failMsgs index the per-step messages by state number
// (1 = pre-chroot-fs, 2 = chroot, 3 = post-chroot-fs, 4 = caps-drop).
var (
	goMsgs   = map[int]message{1: msgGoS1, 2: msgGoS2, 3: msgGoS3, 4: msgGoS4}
	okMsgs   = map[int]message{1: msgOkS1, 2: msgOkS2, 3: msgOkS3, 4: msgOkS4}
	failMsgs = map[int]message{1: msgFailS1, 2: msgFailS2, 3: msgFailS3, 4: msgFailS4}
)

func sendMsg(f *os.File, m message) error {
	_, err := f.Write([]byte{byte(m)})
	return err
}

func recvMsg(f *os.File) (message, error) {
	buf := make([]byte, 1)
	n, err := f.Read(buf)
	if err != nil {
		return 0, err
	}
	if n != 1 {
		return 0, fmt.Errorf("spawn: short read on sync channel: %w", io.ErrUnexpectedEOF)
	}
	return message(buf[0]), nil
}
