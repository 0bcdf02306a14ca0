package server

import (
	"net"

	"github.com/ianremillard/termix/internal/paths"
	"github.com/ianremillard/termix/internal/proto"
	"github.com/ianremillard/termix/internal/pty"
	"github.com/ianremillard/termix/internal/registry"
)

// clientConn holds per-connection state: declared dimensions and the at
// most one session this connection is currently attached to, matching
// spec §4.5's "State" paragraph.
type clientConn struct {
	id         uint64
	c          net.Conn
	d          *Daemon
	cols, rows uint16
	identified bool
	attached   *uint32 // session id, nil if not attached
}

func (d *Daemon) handleConn(c net.Conn) {
	d.mu.Lock()
	id := d.nextConn
	d.nextConn++
	d.conns[id] = c
	d.mu.Unlock()

	cc := &clientConn{id: id, c: c, d: d}

	defer func() {
		if cc.attached != nil {
			_ = d.reg.Detach(registry.ByID(*cc.attached), id)
		}
		d.mu.Lock()
		delete(d.conns, id)
		d.mu.Unlock()
		c.Close()
	}()

	var buf []byte
	tmp := make([]byte, 4096)
	for {
		n, err := c.Read(tmp)
		if err != nil {
			return
		}
		buf = append(buf, tmp[:n]...)

		for {
			msg, rest, err := proto.Decode(buf)
			if err != nil {
				_, _ = c.Write(proto.EncodeError(err.Error()).Encode())
				return
			}
			if msg == nil {
				buf = rest
				break
			}
			buf = rest

			if err := cc.dispatch(*msg); err != nil {
				_, _ = c.Write(proto.EncodeError(err.Error()).Encode())
				return
			}
		}
	}
}

// dispatch handles one decoded message per spec §4.5's per-type rules.
func (cc *clientConn) dispatch(msg proto.Message) error {
	switch msg.Type {
	case proto.Identify:
		cols, rows, err := proto.DecodeIdentify(msg.Payload)
		if err != nil {
			return err
		}
		cc.cols, cc.rows = cols, rows
		cc.identified = true
		return nil

	case proto.ListSessions:
		return cc.handleListSessions()

	case proto.NewSession:
		return cc.handleNewSession(msg.Payload)

	case proto.Attach:
		return cc.handleAttach(msg.Payload)

	case proto.Input:
		return cc.handleInput(msg.Payload)

	case proto.Resize:
		return cc.handleResize(msg.Payload)

	case proto.Detach:
		return cc.handleDetach()

	case proto.KillSession:
		return cc.handleKillSession(msg.Payload)

	default:
		return errUnhandled(msg.Type)
	}
}

func (cc *clientConn) handleListSessions() error {
	for _, s := range cc.d.reg.List() {
		frame := proto.EncodeSessionInfo(summaryToWire(s)).Encode()
		if _, err := cc.c.Write(frame); err != nil {
			return nil // client already gone; nothing left to report
		}
	}
	return nil
}

func (cc *clientConn) handleNewSession(payload []byte) error {
	if !cc.identified {
		return errNotIdentified
	}
	name, err := proto.DecodeNewSession(payload)
	if err != nil {
		return err
	}
	if name == "" {
		name = paths.DefaultSessionName(cc.d.reg.Names())
	}

	shell, args, env := cc.d.shellCommand()
	session, err := cc.d.reg.CreateSession(name, shell, args, env, cc.cols, cc.rows)
	if err != nil {
		return err
	}

	if err := cc.d.reg.Attach(registry.ByID(session.ID), cc.id); err != nil {
		return err
	}
	sid := session.ID
	cc.attached = &sid
	cc.d.startPump(session.ID, session.ActivePane())

	info := sessionInfoFor(session, cc.d.reg)
	_, err = cc.c.Write(proto.EncodeSessionInfo(info).Encode())
	return err
}

func (cc *clientConn) handleAttach(payload []byte) error {
	sessionID, err := proto.DecodeAttach(payload)
	if err != nil {
		return err
	}
	session, err := cc.d.reg.Find(registry.ByID(sessionID))
	if err != nil {
		return err
	}

	pane := session.ActivePane()
	if pane.Term.IsDead() {
		_, err := cc.c.Write(proto.EncodeShellExited(session.ID, pane.ID).Encode())
		return err
	}

	// Snapshot precedes attachment and pump start so the client's view
	// stays consistent: no live OUTPUT can arrive before the replay.
	if _, err := cc.c.Write(proto.EncodeOutput(pane.Term.Snapshot()).Encode()); err != nil {
		return err
	}

	if err := cc.d.reg.Attach(registry.ByID(session.ID), cc.id); err != nil {
		return err
	}
	sid := session.ID
	cc.attached = &sid
	cc.d.startPump(session.ID, pane)

	info := sessionInfoFor(session, cc.d.reg)
	_, err = cc.c.Write(proto.EncodeSessionInfo(info).Encode())
	return err
}

func (cc *clientConn) handleInput(payload []byte) error {
	if cc.attached == nil {
		return errNotAttached
	}
	session, err := cc.d.reg.Find(registry.ByID(*cc.attached))
	if err != nil {
		return err
	}
	_, err = session.ActivePane().Master().Write(payload)
	return err
}

func (cc *clientConn) handleResize(payload []byte) error {
	if cc.attached == nil {
		return errNotAttached
	}
	cols, rows, err := proto.DecodeResize(payload)
	if err != nil {
		return err
	}
	session, err := cc.d.reg.Find(registry.ByID(*cc.attached))
	if err != nil {
		return err
	}
	pane := session.ActivePane()
	if err := pty.SetSize(pane.Master(), cols, rows); err != nil {
		return err
	}
	pane.Cols, pane.Rows = cols, rows
	pane.Term.Resize(int(cols), int(rows))
	return nil
}

func (cc *clientConn) handleDetach() error {
	if cc.attached == nil {
		return nil
	}
	err := cc.d.reg.Detach(registry.ByID(*cc.attached), cc.id)
	cc.attached = nil
	return err
}

func (cc *clientConn) handleKillSession(payload []byte) error {
	sessionID, err := proto.DecodeKillSession(payload)
	if err != nil {
		return err
	}
	ref := registry.ByID(sessionID)

	connIDs, err := cc.d.reg.Attached(ref)
	if err != nil {
		return err
	}
	for connID := range connIDs {
		_ = cc.d.reg.Detach(ref, connID)
	}

	cc.d.stopPump(sessionID)

	return cc.d.reg.DestroySession(ref)
}

func errUnhandled(t proto.Type) error { return &protocolError{"unhandled message type: " + t.String()} }

var (
	errNotIdentified = &protocolError{"IDENTIFY required before NEW_SESSION"}
	errNotAttached   = &protocolError{"client not attached to any session"}
)

type protocolError struct{ msg string }

func (e *protocolError) Error() string { return e.msg }

func sessionInfoFor(s *registry.Session, reg *registry.Registry) proto.SessionInfoFields {
	pane := s.ActivePane()
	attached, _ := reg.Attached(registry.ByID(s.ID))
	return proto.SessionInfoFields{
		SessionID:     s.ID,
		Name:          s.Name,
		PaneID:        pane.ID,
		PID:           uint32(pane.PID),
		Cols:          pane.Cols,
		Rows:          pane.Rows,
		CreatedAt:     float64(s.CreatedAt.UnixNano()) / 1e9,
		AttachedCount: uint32(len(attached)),
	}
}

func summaryToWire(s registry.SessionSummary) proto.SessionInfoFields {
	return proto.SessionInfoFields{
		SessionID:     s.ID,
		Name:          s.Name,
		PaneID:        s.PaneID,
		PID:           uint32(s.PID),
		Cols:          s.Cols,
		Rows:          s.Rows,
		CreatedAt:     float64(s.CreatedAt.UnixNano()) / 1e9,
		AttachedCount: uint32(s.AttachedCount),
	}
}
