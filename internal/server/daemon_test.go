package server

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ianremillard/termix/internal/config"
	"github.com/ianremillard/termix/internal/proto"
)

// startTestDaemon runs a Daemon in-process on a temp Unix socket and
// returns it along with the socket path. Shutdown is registered with
// t.Cleanup.
func startTestDaemon(t *testing.T) (*Daemon, string) {
	t.Helper()
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "termix.sock")

	d := New(config.Profile{Shell: "/bin/sh"})
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(sockPath, filepath.Join(dir, "termix.pid")) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(sockPath); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Cleanup(func() {
		d.Shutdown()
		select {
		case <-errCh:
		case <-time.After(time.Second):
		}
	})

	return d, sockPath
}

func dial(t *testing.T, sockPath string, cols, rows uint16) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("unix", sockPath, time.Second)
	require.NoError(t, err)
	_, err = conn.Write(proto.EncodeIdentify(cols, rows).Encode())
	require.NoError(t, err)
	return conn
}

func readOneMessage(t *testing.T, conn net.Conn, timeout time.Duration) *proto.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	var buf []byte
	tmp := make([]byte, 8192)
	for {
		n, err := conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			msg, _, derr := proto.Decode(buf)
			require.NoError(t, derr)
			if msg != nil {
				return msg
			}
		}
		if err != nil {
			t.Fatalf("readOneMessage: %v", err)
		}
	}
}

func TestNewSessionThenAttachReplaysSnapshotBeforeSessionInfo(t *testing.T) {
	_, sockPath := startTestDaemon(t)

	creator := dial(t, sockPath, 80, 24)
	defer creator.Close()
	_, err := creator.Write(proto.EncodeNewSession("work").Encode())
	require.NoError(t, err)
	created := readOneMessage(t, creator, 2*time.Second)
	require.Equal(t, proto.SessionInfo, created.Type)
	info, err := proto.DecodeSessionInfo(created.Payload)
	require.NoError(t, err)

	// Give the shell a moment to print its prompt so there's something to
	// replay on attach.
	time.Sleep(200 * time.Millisecond)

	viewer := dial(t, sockPath, 80, 24)
	defer viewer.Close()
	_, err = viewer.Write(proto.EncodeAttach(info.SessionID).Encode())
	require.NoError(t, err)

	first := readOneMessage(t, viewer, 2*time.Second)
	require.Equal(t, proto.Output, first.Type, "attach replay must arrive as OUTPUT before SESSION_INFO")
}

func TestListSessionsReturnsCreatedSession(t *testing.T) {
	_, sockPath := startTestDaemon(t)

	creator := dial(t, sockPath, 80, 24)
	defer creator.Close()
	_, err := creator.Write(proto.EncodeNewSession("listed").Encode())
	require.NoError(t, err)
	readOneMessage(t, creator, 2*time.Second)

	lister := dial(t, sockPath, 80, 24)
	defer lister.Close()
	_, err = lister.Write(proto.EncodeListSessions().Encode())
	require.NoError(t, err)

	msg := readOneMessage(t, lister, 2*time.Second)
	require.Equal(t, proto.SessionInfo, msg.Type)
	info, err := proto.DecodeSessionInfo(msg.Payload)
	require.NoError(t, err)
	require.Equal(t, "listed", info.Name)
}
