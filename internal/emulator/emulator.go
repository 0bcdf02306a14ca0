// Package emulator implements the per-pane virtual terminal: it interprets
// raw PTY bytes into a styled screen grid, keeps a bounded scrollback of
// lines that scroll off the top, and can render a snapshot that
// reproduces the visible screen plus scrollback as a single ANSI byte
// stream for replay on attach.
package emulator

import (
	"fmt"
	"strings"
	"sync"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/vt"
)

// MaxScrollback bounds how many lines of history a pane retains once they
// scroll off the top of the screen.
const MaxScrollback = 2000

// Emulator is a single pane's virtual terminal: VT interpretation plus a
// ring-buffer scrollback. It is safe for concurrent use; the pump
// goroutine feeds it while a client-handling goroutine may snapshot it.
type Emulator struct {
	mu sync.Mutex

	emu        *vt.Emulator
	cols, rows int

	scrollback []string
	sbHead     int
	sbLen      int

	altScreen    bool
	cursorHidden bool

	dead     bool
	exitCode int
}

// New creates an Emulator sized to cols x rows.
func New(cols, rows int) *Emulator {
	e := &Emulator{
		emu:        vt.NewEmulator(cols, rows),
		cols:       cols,
		rows:       rows,
		scrollback: make([]string, MaxScrollback),
	}
	e.emu.SetCallbacks(vt.Callbacks{
		ScrollOut: func(lines []uv.Line) {
			if e.altScreen {
				return
			}
			for _, line := range lines {
				e.pushScrollback(line.Render())
			}
		},
		ScrollbackClear: func() {
			for i := range e.scrollback {
				e.scrollback[i] = ""
			}
			e.sbHead, e.sbLen = 0, 0
		},
		AltScreen: func(on bool) {
			e.altScreen = on
		},
		CursorVisibility: func(visible bool) {
			e.cursorHidden = !visible
		},
	})
	return e
}

// pushScrollback appends a rendered line to the ring buffer, evicting the
// oldest entry once the buffer is full. Must be called with mu held (it is
// always invoked from inside Feed, which holds the lock across emu.Write).
func (e *Emulator) pushScrollback(rendered string) {
	if e.sbLen == len(e.scrollback) {
		e.scrollback[e.sbHead] = ""
	}
	e.scrollback[e.sbHead] = rendered
	e.sbHead = (e.sbHead + 1) % len(e.scrollback)
	if e.sbLen < len(e.scrollback) {
		e.sbLen++
	}
}

// Feed interprets raw PTY output, advancing cursor position, screen
// contents, and scrollback. It is fed unconditionally, even when no
// client is attached, so a late attacher still sees history.
func (e *Emulator) Feed(p []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, _ = e.emu.Write(p)
}

// Resize changes the screen's dimensions, reflowing the live grid. It does
// not touch scrollback already captured at the prior width.
func (e *Emulator) Resize(cols, rows int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emu.Resize(cols, rows)
	e.cols, e.rows = cols, rows
}

// Snapshot renders scrollback followed by the live screen as one ANSI byte
// stream: scrollback lines each terminated by CRLF, then a home-cursor
// move and a repaint where every row is placed with its own absolute
// "move to row, column 1" sequence before its text, then the pane's real
// cursor position and visibility. Per-row positioning (rather than a bulk
// write separated by newlines) keeps a receiving terminal from scrolling
// mid-repaint, which would corrupt its own scrollback and cursor state.
func (e *Emulator) Snapshot() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()

	var buf strings.Builder

	for _, line := range e.scrollbackLines() {
		buf.WriteString(line)
		buf.WriteString("\r\n")
	}

	buf.WriteString("\x1b[m\x1b[H")
	rows := strings.Split(e.emu.Render(), "\n")
	for row := 0; row < e.rows; row++ {
		var line string
		if row < len(rows) {
			line = strings.TrimRight(rows[row], "\r")
		}
		fmt.Fprintf(&buf, "\x1b[%d;1H", row+1)
		buf.WriteString(line)
	}

	pos := e.emu.CursorPosition()
	fmt.Fprintf(&buf, "\x1b[%d;%dH", pos.Y+1, pos.X+1)

	if e.cursorHidden {
		buf.WriteString("\x1b[?25l")
	} else {
		buf.WriteString("\x1b[?25h")
	}

	return []byte(buf.String())
}

// scrollbackLines returns all retained scrollback lines, oldest first.
// Must be called with mu held.
func (e *Emulator) scrollbackLines() []string {
	if e.sbLen == 0 {
		return nil
	}
	lines := make([]string, e.sbLen)
	start := (e.sbHead - e.sbLen + len(e.scrollback)) % len(e.scrollback)
	for i := 0; i < e.sbLen; i++ {
		lines[i] = e.scrollback[(start+i)%len(e.scrollback)]
	}
	return lines
}

// ScrollbackLen reports how many scrollback lines are currently retained.
func (e *Emulator) ScrollbackLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sbLen
}

// MarkDead records that the pane's shell has exited, and with what code.
// A dead emulator still answers Snapshot with its final screen: the
// daemon does not erase a dead pane's state, only KILL_SESSION does.
func (e *Emulator) MarkDead(exitCode int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dead = true
	e.exitCode = exitCode
}

// IsDead reports whether MarkDead has been called.
func (e *Emulator) IsDead() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dead
}

// ExitCode returns the exit code recorded by MarkDead. It is meaningless
// before IsDead reports true.
func (e *Emulator) ExitCode() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exitCode
}

// Close releases the underlying VT emulator's resources.
func (e *Emulator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emu.Close()
}
