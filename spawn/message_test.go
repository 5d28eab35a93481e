package spawn

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (*os.File, *os.File) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	require.NoError(t, err)
	a := os.NewFile(uintptr(fds[0]), "a")
	b := os.NewFile(uintptr(fds[1]), "b")
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestSendRecvMsgRoundTrip(t *testing.T) {
	a, b := socketPair(t)

	require.NoError(t, sendMsg(a, msgGoS1))
	got, err := recvMsg(b)
	require.NoError(t, err)
	assert.Equal(t, msgGoS1, got)
}

func TestGoOkFailMsgsIndexedByStep(t *testing.T) {
	for step := 1; step <= 4; step++ {
		assert.Contains(t, goMsgs, step)
		assert.Contains(t, okMsgs, step)
		assert.Contains(t, failMsgs, step)
	}
	assert.NotEqual(t, goMsgs[1], goMsgs[2])
	assert.NotEqual(t, okMsgs[1], failMsgs[1])
}

func TestRecvMsgOnClosedSocketErrors(t *testing.T) {
	a, b := socketPair(t)
	b.Close()

	_, err := recvMsg(a)
	assert.Error(t, err)
}
