package server

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/netshell/kernel/cache"
	"github.com/nmxmxh/netshell/kernel/utils"
)

func quietLogger() *utils.Logger {
	return utils.NewLogger(utils.LoggerConfig{Level: utils.ERROR, Output: io.Discard})
}

func startShell(t *testing.T, attr cache.Attr) (*Shell, net.Conn) {
	t.Helper()

	c, err := cache.Create(filepath.Join(t.TempDir(), "cache.mmap"), attr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Destroy() })

	shell, err := NewShell(c, 0, "127.0.0.1", quietLogger())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- shell.Run() }()
	t.Cleanup(func() {
		shell.Stop()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Error("event loop did not stop")
		}
		shell.Close()
	})

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", shell.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return shell, conn
}

func expectLine(t *testing.T, r *bufio.Reader, want string) {
	t.Helper()
	buf := make([]byte, len(want))
	_, err := io.ReadFull(r, buf)
	require.NoError(t, err)
	assert.Equal(t, want, string(buf))
}

func TestShellEndToEnd(t *testing.T) {
	_, conn := startShell(t, serverAttr())
	r := bufio.NewReader(conn)

	_, err := fmt.Fprintf(conn, "get missing\r\n")
	require.NoError(t, err)
	expectLine(t, r, "END\r\n")

	_, err = fmt.Fprintf(conn, "set k 7 0 5\r\nhello\r\n")
	require.NoError(t, err)
	expectLine(t, r, "STORED\r\n")

	_, err = fmt.Fprintf(conn, "get k\r\n")
	require.NoError(t, err)
	expectLine(t, r, "VALUE k 7 5\r\nhello\r\nEND\r\n")
}

func TestShellServesConnectionsSequentially(t *testing.T) {
	shell, conn := startShell(t, serverAttr())
	r := bufio.NewReader(conn)

	second, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", shell.Port()))
	require.NoError(t, err)
	defer second.Close()
	r2 := bufio.NewReader(second)

	_, err = fmt.Fprintf(conn, "set shared 0 0 4\r\ndata\r\n")
	require.NoError(t, err)
	expectLine(t, r, "STORED\r\n")

	_, err = fmt.Fprintf(second, "get shared\r\n")
	require.NoError(t, err)
	expectLine(t, r2, "VALUE shared 0 4\r\ndata\r\nEND\r\n")
}

func TestShellQuit(t *testing.T) {
	_, conn := startShell(t, serverAttr())

	_, err := fmt.Fprintf(conn, "quit\r\n")
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 16)
	_, err = conn.Read(buf)
	assert.Equal(t, io.EOF, err)
}

func TestEventMgrTimerTicks(t *testing.T) {
	em, err := NewEventMgr(16, quietLogger())
	require.NoError(t, err)
	defer em.Close()

	var ticks atomic.Int64
	em.SetTimer(func() { ticks.Add(1) })

	done := make(chan error, 1)
	go func() { done <- em.Run() }()

	// Idle wakeups fire the timer every wait interval.
	time.Sleep(1200 * time.Millisecond)
	em.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("event loop did not stop")
	}

	assert.GreaterOrEqual(t, ticks.Load(), int64(2))
}
