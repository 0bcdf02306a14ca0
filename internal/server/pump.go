package server

import (
	"net"
	"sort"
	"time"

	"github.com/ianremillard/termix/internal/proto"
	"github.com/ianremillard/termix/internal/registry"
)

// readChunk is the size of each PTY read, matching the teacher's
// ptyReader loop and spec §4.6's "e.g., 4096" guidance.
const readChunk = 4096

// writeTimeout bounds how long the pump will wait on one client's write
// before giving up on it. This is the decided answer to spec §9's open
// backpressure question: a client that can't keep up gets disconnected
// rather than being allowed to stall every other attached client, or
// buffered into unbounded memory.
const writeTimeout = 2 * time.Second

// pump is the per-session fan-out task: it owns reading one session's
// active pane PTY master and broadcasting the bytes to every attached
// client, feeding the emulator unconditionally along the way.
type pump struct {
	sessionID uint32
	pane      *registry.Pane
	d         *Daemon
	done      chan struct{}
}

// startPump is idempotent: if a pump already exists for sessionID it is a
// no-op, matching spec §4.6's "started lazily... idempotent" contract.
func (d *Daemon) startPump(sessionID uint32, pane *registry.Pane) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, running := d.pumps[sessionID]; running {
		return
	}
	p := &pump{sessionID: sessionID, pane: pane, d: d, done: make(chan struct{})}
	d.pumps[sessionID] = p
	go p.run()
}

// stopPump cancels and forgets sessionID's pump, if one is running.
func (d *Daemon) stopPump(sessionID uint32) {
	d.mu.Lock()
	p, ok := d.pumps[sessionID]
	if ok {
		delete(d.pumps, sessionID)
	}
	d.mu.Unlock()
	if ok {
		p.cancel()
	}
}

func (p *pump) cancel() {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
}

func (p *pump) run() {
	buf := make([]byte, readChunk)
	for {
		select {
		case <-p.done:
			return
		default:
		}

		n, err := p.pane.Master().Read(buf)
		if err != nil || n == 0 {
			p.pane.Term.MarkDead(0)
			p.broadcast(proto.EncodeShellExited(p.sessionID, p.pane.ID).Encode())
			return
		}

		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		p.pane.Term.Feed(chunk)
		p.broadcast(proto.EncodeOutput(chunk).Encode())
	}
}

// broadcast writes frame to every client attached to this pump's session,
// one at a time in ascending connection-id order: this preserves
// per-client PTY ordering and bounds memory at the cost of a slow client
// slowing delivery to everyone else on the session, per spec §4.6. A
// client whose write doesn't complete within writeTimeout is detached and
// disconnected rather than allowed to stall the pump indefinitely.
func (p *pump) broadcast(frame []byte) {
	for _, connID := range p.attachedConnIDsSorted() {
		c, ok := p.conn(connID)
		if !ok {
			continue
		}
		_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := c.Write(frame); err != nil {
			_ = p.d.reg.Detach(registry.ByID(p.sessionID), connID)
			_ = c.Close()
		}
	}
}

func (p *pump) attachedConnIDsSorted() []uint64 {
	ids, err := p.d.reg.Attached(registry.ByID(p.sessionID))
	if err != nil {
		return nil
	}
	out := make([]uint64, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p *pump) conn(id uint64) (net.Conn, bool) {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	c, ok := p.d.conns[id]
	return c, ok
}
