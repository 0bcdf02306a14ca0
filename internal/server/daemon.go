// Package server implements the daemon side of termix: the connection
// handler (C5), the per-session PTY fan-out pump (C6), and the daemon's
// startup/shutdown lifecycle (C7).
package server

import (
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/ianremillard/termix/internal/config"
	"github.com/ianremillard/termix/internal/registry"
)

// Daemon is the process-wide supervisor: it owns the registry, the set of
// live client connections, and one fan-out pump per session with an
// active attachment history.
type Daemon struct {
	reg      *registry.Registry
	profile  config.Profile
	listener net.Listener

	socketPath string
	pidPath    string

	mu        sync.Mutex
	conns     map[uint64]net.Conn
	nextConn  uint64
	pumps     map[uint32]*pump
	stopping  bool
}

// New creates a Daemon that will spawn session shells using profile.
func New(profile config.Profile) *Daemon {
	return &Daemon{
		reg:     registry.New(),
		profile: profile,
		conns:   make(map[uint64]net.Conn),
		pumps:   make(map[uint32]*pump),
	}
}

// shellCommand resolves what to exec for a freshly-created pane: the
// daemon's configured profile if one names a shell, otherwise $SHELL with
// a /bin/sh fallback. TERM is always set to a 256-color value regardless
// of the invoking environment, per spec §6.
func (d *Daemon) shellCommand() (shell string, args []string, env []string) {
	shell = d.profile.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}

	env = os.Environ()
	for k, v := range d.profile.Env {
		env = append(env, k+"="+v)
	}
	env = append(env, "TERM=xterm-256color")

	return shell, d.profile.Args, env
}

// Run binds the socket and serves connections until Shutdown is called or
// the listener otherwise closes. It implements C7 steps 3-7: create the
// socket directory, unlink a stale socket, bind+listen, chmod 0600, then
// accept in a loop.
func (d *Daemon) Run(socketPath, pidPath string) error {
	d.socketPath = socketPath
	d.pidPath = pidPath

	if err := os.MkdirAll(parentDir(socketPath), 0o700); err != nil {
		return fmt.Errorf("server: create socket dir: %w", err)
	}
	_ = os.Remove(socketPath)

	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		l.Close()
		return fmt.Errorf("server: chmod socket: %w", err)
	}
	d.listener = l

	log.Printf("termixd listening on %s", socketPath)

	for {
		conn, err := l.Accept()
		if err != nil {
			d.mu.Lock()
			stopping := d.stopping
			d.mu.Unlock()
			if stopping {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		go d.handleConn(conn)
	}
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

// Shutdown performs the ordered teardown from spec §4.7: stop accepting,
// SIGKILL every child shell, briefly wait, cancel every pump, destroy
// every session (closing PTY fds), close every client connection, then
// remove the socket and PID files. Killing children before cancelling
// pumps prevents a pump from racing a child that hasn't yet seen its
// signal.
func (d *Daemon) Shutdown() {
	d.mu.Lock()
	d.stopping = true
	if d.listener != nil {
		d.listener.Close()
	}
	d.mu.Unlock()

	for _, session := range d.reg.All() {
		for _, pane := range session.Panes {
			if proc, err := os.FindProcess(pane.PID); err == nil {
				_ = proc.Kill()
			}
		}
	}

	time.Sleep(100 * time.Millisecond)

	d.mu.Lock()
	pumps := make([]*pump, 0, len(d.pumps))
	for _, p := range d.pumps {
		pumps = append(pumps, p)
	}
	d.pumps = make(map[uint32]*pump)
	d.mu.Unlock()
	for _, p := range pumps {
		p.cancel()
	}

	for _, session := range d.reg.All() {
		if err := d.reg.DestroySession(registry.ByID(session.ID)); err != nil {
			log.Printf("termixd: destroy session %d during shutdown: %v", session.ID, err)
		}
	}

	d.mu.Lock()
	conns := make([]net.Conn, 0, len(d.conns))
	for _, c := range d.conns {
		conns = append(conns, c)
	}
	d.conns = make(map[uint64]net.Conn)
	d.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}

	if d.socketPath != "" {
		_ = os.Remove(d.socketPath)
	}
	if d.pidPath != "" {
		_ = os.Remove(d.pidPath)
	}
}
