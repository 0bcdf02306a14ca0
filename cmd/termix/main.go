// termix is the interactive client for a termixd session: a thin RPC
// client that ensures a daemon is running, creates or attaches to a
// session, and then relays a raw terminal to it over the wire protocol.
//
// Usage:
//
//	termix [new-session [-s NAME]]
//	termix attach-session [-t NAME_OR_ID]   (aliases: attach, a)
//	termix list-sessions                    (alias: ls)
//	termix kill-session -t NAME_OR_ID
//	termix kill-server
package main

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/ianremillard/termix/internal/paths"
	"github.com/ianremillard/termix/internal/proto"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		cmdNewSession(nil)
		return
	}

	switch args[0] {
	case "new-session", "new":
		cmdNewSession(args[1:])
	case "attach-session", "attach", "a":
		cmdAttach(args[1:])
	case "list-sessions", "ls":
		cmdListSessions()
	case "kill-session":
		cmdKillSession(args[1:])
	case "kill-server":
		cmdKillServer()
	default:
		fmt.Fprintf(os.Stderr, "termix: unknown command %q\n", args[0])
		os.Exit(1)
	}
}

// ─── daemon discovery ──────────────────────────────────────────────────────

// isDaemonRunning probes the socket with a short connect timeout, matching
// cli.py's is_server_running.
func isDaemonRunning(socketPath string) bool {
	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// ensureDaemon spawns termixd in the background if it isn't already
// listening, and polls for readiness for up to ~5s, matching both the
// teacher's ensureDaemon and cli.py's ensure_server_running.
func ensureDaemon(socketPath string) error {
	if isDaemonRunning(socketPath) {
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("termix: resolve executable: %w", err)
	}
	daemonBin := filepath.Join(filepath.Dir(exe), "termixd")
	if _, err := os.Stat(daemonBin); err != nil {
		daemonBin = "termixd"
	}

	cmd := exec.Command(daemonBin, "--daemon")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("termix: spawn daemon: %w", err)
	}

	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if isDaemonRunning(socketPath) {
			return nil
		}
	}
	return fmt.Errorf("termix: daemon did not become ready")
}

// ─── wire helpers ──────────────────────────────────────────────────────────

// sendIdentifyAndRequests opens a connection, sends IDENTIFY with the
// current terminal size followed by msgs, in order.
func sendIdentifyAndRequests(socketPath string, msgs ...proto.Message) (net.Conn, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("termix: cannot connect to daemon: %w", err)
	}

	cols, rows := 80, 24
	if c, r, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		cols, rows = c, r
	}
	if _, err := conn.Write(proto.EncodeIdentify(uint16(cols), uint16(rows)).Encode()); err != nil {
		conn.Close()
		return nil, err
	}
	for _, m := range msgs {
		if _, err := conn.Write(m.Encode()); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

// readSessionInfos reads frames until timeout elapses with nothing new
// arriving, matching cli.py's send_and_receive: 0.5s for a listing that
// may contain many frames and no terminator, 5s for a single expected
// reply.
func readSessionInfos(conn net.Conn, expectMultiple bool) ([]proto.SessionInfoFields, error) {
	timeout := 5 * time.Second
	if expectMultiple {
		timeout = 500 * time.Millisecond
	}

	var results []proto.SessionInfoFields
	var buf []byte
	tmp := make([]byte, 4096)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
		n, err := conn.Read(tmp)
		if n == 0 && err != nil {
			break
		}
		buf = append(buf, tmp[:n]...)

		for {
			msg, rest, derr := proto.Decode(buf)
			if derr != nil {
				return results, derr
			}
			if msg == nil {
				buf = rest
				break
			}
			buf = rest

			switch msg.Type {
			case proto.SessionInfo:
				info, err := proto.DecodeSessionInfo(msg.Payload)
				if err != nil {
					return results, err
				}
				results = append(results, info)
				if !expectMultiple {
					return results, nil
				}
			case proto.Error:
				errMsg, _ := proto.DecodeError(msg.Payload)
				return results, fmt.Errorf("termix: %s", errMsg)
			}
		}
	}
	return results, nil
}

func listSessions(socketPath string) ([]proto.SessionInfoFields, error) {
	conn, err := sendIdentifyAndRequests(socketPath, proto.EncodeListSessions())
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return readSessionInfos(conn, true)
}

func findSession(socketPath, target string) (proto.SessionInfoFields, error) {
	sessions, err := listSessions(socketPath)
	if err != nil {
		return proto.SessionInfoFields{}, err
	}
	if len(sessions) == 0 {
		return proto.SessionInfoFields{}, fmt.Errorf("termix: no sessions found")
	}

	if id, err := strconv.Atoi(target); err == nil {
		for _, s := range sessions {
			if s.SessionID == uint32(id) {
				return s, nil
			}
		}
		return proto.SessionInfoFields{}, fmt.Errorf("termix: session %d not found", id)
	}
	for _, s := range sessions {
		if s.Name == target {
			return s, nil
		}
	}
	return proto.SessionInfoFields{}, fmt.Errorf("termix: session %q not found", target)
}

// ─── subcommands ───────────────────────────────────────────────────────────

func cmdNewSession(args []string) {
	name := ""
	for i := 0; i < len(args); i++ {
		if (args[i] == "-s" || args[i] == "--name") && i+1 < len(args) {
			name = args[i+1]
			i++
		}
	}

	socketPath := paths.SocketPath()
	if err := ensureDaemon(socketPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	conn, err := sendIdentifyAndRequests(socketPath, proto.EncodeNewSession(name))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	results, err := readSessionInfos(conn, false)
	if err != nil || len(results) == 0 {
		conn.Close()
		fmt.Fprintf(os.Stderr, "termix: create session failed: %v\n", err)
		os.Exit(1)
	}

	runAttachLoop(conn, results[0])
}

func cmdAttach(args []string) {
	var target string
	for i := 0; i < len(args); i++ {
		if (args[i] == "-t" || args[i] == "--target") && i+1 < len(args) {
			target = args[i+1]
			i++
		}
	}

	socketPath := paths.SocketPath()
	if !isDaemonRunning(socketPath) {
		fmt.Fprintln(os.Stderr, "termix: no daemon running")
		os.Exit(1)
	}

	var info proto.SessionInfoFields
	if target == "" {
		sessions, err := listSessions(socketPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if len(sessions) == 0 {
			fmt.Fprintln(os.Stderr, "termix: no sessions")
			os.Exit(1)
		}
		if len(sessions) > 1 {
			fmt.Fprintln(os.Stderr, "termix: multiple sessions exist, use -t to specify target:")
			for _, s := range sessions {
				fmt.Fprintf(os.Stderr, "  %d: %s\n", s.SessionID, s.Name)
			}
			os.Exit(1)
		}
		info = sessions[0]
	} else {
		found, err := findSession(socketPath, target)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		info = found
	}

	conn, err := sendIdentifyAndRequests(socketPath, proto.EncodeAttach(info.SessionID))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	runAttachLoop(conn, info)
}

func cmdListSessions() {
	socketPath := paths.SocketPath()
	if !isDaemonRunning(socketPath) {
		fmt.Fprintln(os.Stderr, "termix: no daemon running")
		os.Exit(1)
	}

	sessions, err := listSessions(socketPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(sessions) == 0 {
		fmt.Println("no sessions")
		return
	}

	fmt.Printf("%-6s  %-16s  %-16s  %-8s  %-9s  %s\n", "ID", "NAME", "CREATED", "ATTACHED", "SIZE", "PID")
	for _, s := range sessions {
		created := time.Unix(int64(s.CreatedAt), 0).Format("2006-01-02 15:04")
		fmt.Printf("%-6d  %-16s  %-16s  %-8d  %dx%-6d  %d\n",
			s.SessionID, s.Name, created, s.AttachedCount, s.Cols, s.Rows, s.PID)
	}
}

func cmdKillSession(args []string) {
	var target string
	for i := 0; i < len(args); i++ {
		if (args[i] == "-t" || args[i] == "--target") && i+1 < len(args) {
			target = args[i+1]
			i++
		}
	}
	if target == "" {
		fmt.Fprintln(os.Stderr, "usage: termix kill-session -t NAME_OR_ID")
		os.Exit(1)
	}

	socketPath := paths.SocketPath()
	info, err := findSession(socketPath, target)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	conn, err := sendIdentifyAndRequests(socketPath, proto.EncodeKillSession(info.SessionID))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 4096)
	if n, err := conn.Read(buf); err == nil && n > 0 {
		if msg, _, derr := proto.Decode(buf[:n]); derr == nil && msg != nil && msg.Type == proto.Error {
			errMsg, _ := proto.DecodeError(msg.Payload)
			fmt.Fprintf(os.Stderr, "termix: %s\n", errMsg)
			os.Exit(1)
		}
	}
}

func cmdKillServer() {
	socketPath := paths.SocketPath()
	pidPath := paths.PIDFilePath(socketPath)

	data, err := os.ReadFile(pidPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "termix: no server running (no PID file)")
		os.Exit(1)
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		fmt.Fprintln(os.Stderr, "termix: malformed PID file")
		os.Exit(1)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintln(os.Stderr, "termix: server not running")
		os.Exit(1)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		fmt.Fprintf(os.Stderr, "termix: server not running (stale PID file for %d)\n", pid)
		os.Remove(pidPath)
		os.Exit(1)
	}
	fmt.Printf("sent SIGTERM to server (PID %d)\n", pid)
}

// ─── attach loop ────────────────────────────────────────────────────────────

// runAttachLoop puts the terminal in raw mode, relays INPUT/OUTPUT between
// stdio and conn, forwards SIGWINCH as RESIZE, and returns once the
// connection closes or the user presses the Ctrl-] detach chord.
func runAttachLoop(conn net.Conn, info proto.SessionInfoFields) {
	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "termix: cannot set raw mode: %v\n", err)
		conn.Close()
		os.Exit(1)
	}
	defer term.Restore(fd, oldState)

	fmt.Fprintf(os.Stdout, "\r\n[termix] attached to %s (detach: Ctrl-])\r\n", info.Name)

	done := make(chan struct{}, 1)
	signalDone := func() {
		select {
		case done <- struct{}{}:
		default:
		}
	}

	go func() {
		var carry []byte
		tmp := make([]byte, 4096)
		for {
			n, err := conn.Read(tmp)
			if n > 0 {
				carry = append(carry, tmp[:n]...)
				carry = writeOutputFrames(os.Stdout, carry)
			}
			if err != nil {
				signalDone()
				return
			}
		}
	}()

	go func() {
		buf := make([]byte, 256)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				for i := 0; i < n; i++ {
					if buf[i] == 0x1D {
						_, _ = conn.Write(proto.EncodeDetach().Encode())
						signalDone()
						return
					}
				}
				_, _ = conn.Write(proto.EncodeInput(buf[:n]).Encode())
			}
			if err != nil {
				signalDone()
				return
			}
		}
	}()

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	sendResize := func() {
		if cols, rows, err := term.GetSize(fd); err == nil {
			_, _ = conn.Write(proto.EncodeResize(uint16(cols), uint16(rows)).Encode())
		}
	}
	go func() {
		for range winch {
			sendResize()
		}
	}()
	sendResize()

	<-done
	conn.Close()
	fmt.Fprintf(os.Stdout, "\n[termix] detached from %s\n", info.Name)
}

// writeOutputFrames decodes and renders as many complete OUTPUT/
// SHELL_EXITED/ERROR frames as buf holds, and returns the unconsumed tail
// so the caller can prepend the next read to it — mirroring the daemon's
// own decode loop in conn.go, since frames can split across reads.
func writeOutputFrames(w *os.File, buf []byte) []byte {
	for {
		msg, rest, err := proto.Decode(buf)
		if err != nil {
			return nil
		}
		if msg == nil {
			return buf
		}
		switch msg.Type {
		case proto.Output:
			w.Write(msg.Payload)
		case proto.ShellExited:
			fmt.Fprintf(w, "\r\n[termix] shell exited\r\n")
		case proto.Error:
			errMsg, _ := proto.DecodeError(msg.Payload)
			fmt.Fprintf(w, "\r\n[termix] error: %s\r\n", errMsg)
		}
		buf = rest
	}
}
