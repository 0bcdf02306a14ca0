// Package registry owns every session and pane the daemon knows about. It
// is the single serialization point for all session/pane mutation, so the
// rest of the daemon (connection handlers, fan-out pumps) never has to
// reason about concurrent structural changes to this state directly.
package registry

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/ianremillard/termix/internal/emulator"
	"github.com/ianremillard/termix/internal/pty"
)

// Pane is one PTY-backed terminal inside a session.
type Pane struct {
	ID   uint32
	PID  int
	Cols uint16
	Rows uint16

	master *os.File
	Term   *emulator.Emulator
}

// Master returns the pane's PTY master file, for the fan-out pump to read
// and for INPUT frames to write to.
func (p *Pane) Master() *os.File { return p.master }

// Session is a named collection of panes sharing a lifetime.
type Session struct {
	ID            uint32
	Name          string
	CreatedAt     time.Time
	Panes         map[uint32]*Pane
	ActivePaneID  uint32
	attachedConns map[uint64]struct{}
}

// ActivePane returns the session's currently-active pane.
func (s *Session) ActivePane() *Pane { return s.Panes[s.ActivePaneID] }

// Ref names a session by exactly one of id or name, replacing the
// Python original's "pass one, get a runtime error if you pass neither or
// both" find() call with a value that can't be constructed invalidly.
type Ref struct {
	id     uint32
	name   string
	byName bool
}

// ByID builds a Ref that looks a session up by id.
func ByID(id uint32) Ref { return Ref{id: id} }

// ByName builds a Ref that looks a session up by name.
func ByName(name string) Ref { return Ref{name: name, byName: true} }

// NotFoundError reports that an operation referenced a session or pane
// that doesn't exist in the registry.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string { return e.What + " not found" }

// NameInUseError reports a CreateSession call with an already-used name.
type NameInUseError struct {
	Name string
}

func (e *NameInUseError) Error() string { return fmt.Sprintf("session name %q already in use", e.Name) }

// Registry indexes sessions by id and by name, and tracks per-session
// client attachment. All methods are safe for concurrent use.
type Registry struct {
	mu sync.Mutex

	byID   map[uint32]*Session
	byName map[string]*Session

	nextSessionID uint32
	nextPaneID    uint32
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byID:   make(map[uint32]*Session),
		byName: make(map[string]*Session),
	}
}

// CreateSession spawns a shell under a new pane and registers a new
// session containing just that pane. name must already have had the
// default-name policy applied by the caller; CreateSession itself only
// rejects a name already in use.
func (r *Registry) CreateSession(name, shellPath string, args []string, env []string, cols, rows uint16) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return nil, &NameInUseError{Name: name}
	}

	pane, err := r.newPaneLocked(shellPath, args, env, cols, rows)
	if err != nil {
		return nil, err
	}

	sessionID := r.nextSessionID
	r.nextSessionID++

	session := &Session{
		ID:            sessionID,
		Name:          name,
		CreatedAt:     time.Now(),
		Panes:         map[uint32]*Pane{pane.ID: pane},
		ActivePaneID:  pane.ID,
		attachedConns: make(map[uint64]struct{}),
	}
	r.byID[sessionID] = session
	r.byName[name] = session
	return session, nil
}

// newPaneLocked spawns a shell and wraps it in a Pane. Caller must hold mu.
func (r *Registry) newPaneLocked(shellPath string, args []string, env []string, cols, rows uint16) (*Pane, error) {
	master, pid, err := pty.Shell(shellPath, args, "", env, cols, rows)
	if err != nil {
		return nil, err
	}

	paneID := r.nextPaneID
	r.nextPaneID++

	return &Pane{
		ID:     paneID,
		PID:    pid,
		Cols:   cols,
		Rows:   rows,
		master: master,
		Term:   emulator.New(int(cols), int(rows)),
	}, nil
}

// CreatePane adds a new pane to an existing session, running shellPath in
// a fresh PTY. It does not change the session's active pane.
func (r *Registry) CreatePane(ref Ref, shellPath string, args []string, env []string, cols, rows uint16) (*Pane, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, err := r.findLocked(ref)
	if err != nil {
		return nil, err
	}

	pane, err := r.newPaneLocked(shellPath, args, env, cols, rows)
	if err != nil {
		return nil, err
	}
	session.Panes[pane.ID] = pane
	return pane, nil
}

// DestroyPane removes a pane from its session, closing its PTY fd and
// terminating its shell. Destroying the last pane of a session is
// rejected; destroy the session instead. Destroying the active pane
// deterministically promotes the lowest remaining pane id to active.
func (r *Registry) DestroyPane(sessionID, paneID uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.byID[sessionID]
	if !ok {
		return &NotFoundError{What: "session"}
	}
	pane, ok := session.Panes[paneID]
	if !ok {
		return &NotFoundError{What: "pane"}
	}
	if len(session.Panes) == 1 {
		return fmt.Errorf("registry: cannot destroy last pane in session %d", sessionID)
	}

	killPane(pane)
	delete(session.Panes, paneID)

	if session.ActivePaneID == paneID {
		session.ActivePaneID = lowestPaneID(session.Panes)
	}
	return nil
}

// lowestPaneID returns the smallest key in panes. Callers only invoke this
// when panes is non-empty (DestroyPane refuses to empty a session).
func lowestPaneID(panes map[uint32]*Pane) uint32 {
	ids := make([]uint32, 0, len(panes))
	for id := range panes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids[0]
}

// DestroySession tears down every pane of a session (closing PTY fds and
// signalling child shells) and removes it from both indices. The
// attachment set is dropped; callers are responsible for notifying
// whichever clients were attached.
func (r *Registry) DestroySession(ref Ref) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, err := r.findLocked(ref)
	if err != nil {
		return err
	}

	for _, pane := range session.Panes {
		killPane(pane)
	}

	delete(r.byID, session.ID)
	delete(r.byName, session.Name)
	return nil
}

// killPane closes the PTY master and best-effort delivers the terminate
// signal to the child, giving the shell a chance to clean up (SIGKILL is
// reserved for the daemon's own shutdown path). Reaping happens
// asynchronously via the daemon's SIGCHLD handler; ESRCH (process already
// gone) is not an error here.
func killPane(pane *Pane) {
	_ = pane.master.Close()
	if proc, err := os.FindProcess(pane.PID); err == nil {
		_ = proc.Signal(syscall.SIGTERM)
	}
}

// Find looks up a session by id or by name.
func (r *Registry) Find(ref Ref) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(ref)
}

func (r *Registry) findLocked(ref Ref) (*Session, error) {
	var (
		session *Session
		ok      bool
	)
	if ref.byName {
		session, ok = r.byName[ref.name]
	} else {
		session, ok = r.byID[ref.id]
	}
	if !ok {
		return nil, &NotFoundError{What: "session"}
	}
	return session, nil
}

// SessionSummary is a read-only snapshot of a session's listing fields.
type SessionSummary struct {
	ID            uint32
	Name          string
	PaneID        uint32
	PID           int
	Cols, Rows    uint16
	CreatedAt     time.Time
	AttachedCount int
}

// List returns a summary of every session, in id order.
func (r *Registry) List() []SessionSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]SessionSummary, 0, len(r.byID))
	for _, session := range r.byID {
		pane := session.ActivePane()
		out = append(out, SessionSummary{
			ID:            session.ID,
			Name:          session.Name,
			PaneID:        pane.ID,
			PID:           pane.PID,
			Cols:          pane.Cols,
			Rows:          pane.Rows,
			CreatedAt:     session.CreatedAt,
			AttachedCount: len(session.attachedConns),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Names returns the set of session names currently in use, for default
// name selection (internal/paths).
func (r *Registry) Names() map[string]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make(map[string]struct{}, len(r.byName))
	for name := range r.byName {
		names[name] = struct{}{}
	}
	return names
}

// Attach records that connID is watching ref's session.
func (r *Registry) Attach(ref Ref, connID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, err := r.findLocked(ref)
	if err != nil {
		return err
	}
	session.attachedConns[connID] = struct{}{}
	return nil
}

// Detach removes connID from ref's session's attachment set. Detaching a
// connection that wasn't attached is a no-op.
func (r *Registry) Detach(ref Ref, connID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, err := r.findLocked(ref)
	if err != nil {
		return err
	}
	delete(session.attachedConns, connID)
	return nil
}

// Attached returns the set of connection ids currently attached to ref's
// session.
func (r *Registry) Attached(ref Ref) (map[uint64]struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, err := r.findLocked(ref)
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]struct{}, len(session.attachedConns))
	for id := range session.attachedConns {
		out[id] = struct{}{}
	}
	return out, nil
}

// All returns every live session, for shutdown teardown.
func (r *Registry) All() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}
