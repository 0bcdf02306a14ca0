// Package pty spawns shells under a pseudo-terminal and adjusts their
// window size. It is a thin wrapper over github.com/creack/pty: the
// returned *os.File is the PTY master and callers use its ordinary
// Read/Write/Close methods directly, matching how the teacher's
// daemon drives inst.ptm.
package pty

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// Shell starts the given shell command attached to a new PTY and returns
// the PTY master, the child's pid, and any start error.
//
// pty.Start sets Setsid on the child, giving it its own session and
// process group (pgid == pid). Do not also set Setpgid: calling setpgid()
// on a session leader after setsid() returns EPERM on macOS, and the new
// session group already gives callers kill(-pid, signal) semantics for
// tearing down the whole process tree.
func Shell(shellPath string, args []string, dir string, env []string, cols, rows uint16) (master *os.File, pid int, err error) {
	cmd := exec.Command(shellPath, args...)
	cmd.Dir = dir
	cmd.Env = env

	size := &pty.Winsize{Cols: cols, Rows: rows}
	master, err = pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, 0, fmt.Errorf("pty: start %s: %w", shellPath, err)
	}
	return master, cmd.Process.Pid, nil
}

// SetSize applies new terminal dimensions to an open PTY master via TIOCSWINSZ.
func SetSize(master *os.File, cols, rows uint16) error {
	if err := pty.Setsize(master, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return fmt.Errorf("pty: setsize %dx%d: %w", cols, rows, err)
	}
	return nil
}
