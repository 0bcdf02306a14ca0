// Package proto defines the length-prefixed binary message protocol shared
// by termixd (daemon) and termix (client) over a Unix domain socket.
//
// Every message is an 8-byte header (message type, payload length; both
// big-endian uint32) followed by the payload. Decode is a pure function: it
// never blocks and never retains state between calls, so the same buffer
// can be grown across reads and re-decoded from the start each time.
package proto

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Type identifies a message's wire format.
type Type uint32

const (
	Identify Type = iota
	NewSession
	Attach
	Detach
	ListSessions
	Resize
	Input
	KillSession
	Output
	SessionInfo
	ShellExited
	Error
)

func (t Type) String() string {
	switch t {
	case Identify:
		return "IDENTIFY"
	case NewSession:
		return "NEW_SESSION"
	case Attach:
		return "ATTACH"
	case Detach:
		return "DETACH"
	case ListSessions:
		return "LIST_SESSIONS"
	case Resize:
		return "RESIZE"
	case Input:
		return "INPUT"
	case KillSession:
		return "KILL_SESSION"
	case Output:
		return "OUTPUT"
	case SessionInfo:
		return "SESSION_INFO"
	case ShellExited:
		return "SHELL_EXITED"
	case Error:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint32(t))
	}
}

func (t Type) valid() bool { return t <= Error }

const headerSize = 8

// maxPayload caps a single frame at 16 MiB so a corrupt length field fails
// fast instead of stalling the decoder waiting for gigabytes to arrive.
const maxPayload = 16 << 20

// Message is a decoded frame: a type plus its raw payload bytes.
type Message struct {
	Type    Type
	Payload []byte
}

// Encode serializes m as header+payload.
func (m Message) Encode() []byte {
	buf := make([]byte, headerSize+len(m.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(m.Type))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(m.Payload)))
	copy(buf[headerSize:], m.Payload)
	return buf
}

// Decode parses a single message from the front of buf.
//
// It returns (nil, buf, nil) when buf holds an incomplete message — fewer
// than 8 bytes, or fewer than 8+payload-length bytes — "incomplete, nothing
// consumed" per the codec contract. On a complete message it returns the
// message and the unconsumed tail. An unknown type value or a payload
// length beyond maxPayload is a hard decode error; callers must not retry a
// buffer that produced one — the connection should be torn down instead.
func Decode(buf []byte) (*Message, []byte, error) {
	if len(buf) < headerSize {
		return nil, buf, nil
	}

	typ := Type(binary.BigEndian.Uint32(buf[0:4]))
	if !typ.valid() {
		return nil, buf, fmt.Errorf("proto: unknown message type %d", uint32(typ))
	}

	payloadLen := binary.BigEndian.Uint32(buf[4:8])
	if payloadLen > maxPayload {
		return nil, buf, fmt.Errorf("proto: payload too large: %d bytes", payloadLen)
	}

	total := headerSize + int(payloadLen)
	if len(buf) < total {
		return nil, buf, nil
	}

	payload := make([]byte, payloadLen)
	copy(payload, buf[headerSize:total])
	return &Message{Type: typ, Payload: payload}, buf[total:], nil
}

// ── Typed payload helpers ───────────────────────────────────────────────────
//
// These wrap Message for each message's specific payload shape so callers
// never hand-roll binary.BigEndian offsets at the call site.

// EncodeIdentify builds an IDENTIFY message announcing terminal dimensions.
func EncodeIdentify(cols, rows uint16) Message {
	p := make([]byte, 4)
	binary.BigEndian.PutUint16(p[0:2], cols)
	binary.BigEndian.PutUint16(p[2:4], rows)
	return Message{Type: Identify, Payload: p}
}

// DecodeIdentify extracts (cols, rows) from an IDENTIFY payload.
func DecodeIdentify(p []byte) (cols, rows uint16, err error) {
	if len(p) != 4 {
		return 0, 0, fmt.Errorf("proto: malformed IDENTIFY payload: %d bytes", len(p))
	}
	return binary.BigEndian.Uint16(p[0:2]), binary.BigEndian.Uint16(p[2:4]), nil
}

// EncodeNewSession builds a NEW_SESSION message. An empty name requests the
// daemon's default-name policy.
func EncodeNewSession(name string) Message {
	nb := []byte(name)
	p := make([]byte, 4+len(nb))
	binary.BigEndian.PutUint32(p[0:4], uint32(len(nb)))
	copy(p[4:], nb)
	return Message{Type: NewSession, Payload: p}
}

// DecodeNewSession extracts the requested session name.
func DecodeNewSession(p []byte) (name string, err error) {
	if len(p) < 4 {
		return "", fmt.Errorf("proto: malformed NEW_SESSION payload: %d bytes", len(p))
	}
	n := binary.BigEndian.Uint32(p[0:4])
	if uint32(len(p)-4) != n {
		return "", fmt.Errorf("proto: NEW_SESSION name length mismatch: declared %d, have %d", n, len(p)-4)
	}
	return string(p[4 : 4+n]), nil
}

// EncodeAttach builds an ATTACH message targeting a session id.
func EncodeAttach(sessionID uint32) Message {
	p := make([]byte, 4)
	binary.BigEndian.PutUint32(p, sessionID)
	return Message{Type: Attach, Payload: p}
}

// DecodeAttach extracts the target session id.
func DecodeAttach(p []byte) (sessionID uint32, err error) {
	if len(p) != 4 {
		return 0, fmt.Errorf("proto: malformed ATTACH payload: %d bytes", len(p))
	}
	return binary.BigEndian.Uint32(p), nil
}

// EncodeDetach builds a DETACH message (empty payload).
func EncodeDetach() Message { return Message{Type: Detach} }

// EncodeListSessions builds a LIST_SESSIONS message (empty payload).
func EncodeListSessions() Message { return Message{Type: ListSessions} }

// EncodeResize builds a RESIZE message.
func EncodeResize(cols, rows uint16) Message {
	p := make([]byte, 4)
	binary.BigEndian.PutUint16(p[0:2], cols)
	binary.BigEndian.PutUint16(p[2:4], rows)
	return Message{Type: Resize, Payload: p}
}

// DecodeResize extracts (cols, rows) from a RESIZE payload.
func DecodeResize(p []byte) (cols, rows uint16, err error) {
	if len(p) != 4 {
		return 0, 0, fmt.Errorf("proto: malformed RESIZE payload: %d bytes", len(p))
	}
	return binary.BigEndian.Uint16(p[0:2]), binary.BigEndian.Uint16(p[2:4]), nil
}

// EncodeInput builds an INPUT message carrying raw keystroke bytes.
func EncodeInput(data []byte) Message { return Message{Type: Input, Payload: data} }

// EncodeOutput builds an OUTPUT message carrying raw PTY bytes.
func EncodeOutput(data []byte) Message { return Message{Type: Output, Payload: data} }

// EncodeKillSession builds a KILL_SESSION message.
func EncodeKillSession(sessionID uint32) Message {
	p := make([]byte, 4)
	binary.BigEndian.PutUint32(p, sessionID)
	return Message{Type: KillSession, Payload: p}
}

// DecodeKillSession extracts the target session id.
func DecodeKillSession(p []byte) (sessionID uint32, err error) {
	if len(p) != 4 {
		return 0, fmt.Errorf("proto: malformed KILL_SESSION payload: %d bytes", len(p))
	}
	return binary.BigEndian.Uint32(p), nil
}

// EncodeError builds an ERROR message carrying a human-readable string.
func EncodeError(msg string) Message {
	mb := []byte(msg)
	p := make([]byte, 4+len(mb))
	binary.BigEndian.PutUint32(p[0:4], uint32(len(mb)))
	copy(p[4:], mb)
	return Message{Type: Error, Payload: p}
}

// DecodeError extracts the error string.
func DecodeError(p []byte) (msg string, err error) {
	if len(p) < 4 {
		return "", fmt.Errorf("proto: malformed ERROR payload: %d bytes", len(p))
	}
	n := binary.BigEndian.Uint32(p[0:4])
	if uint32(len(p)-4) != n {
		return "", fmt.Errorf("proto: ERROR message length mismatch: declared %d, have %d", n, len(p)-4)
	}
	return string(p[4 : 4+n]), nil
}

// SessionInfoFields is the decoded form of a SESSION_INFO payload.
type SessionInfoFields struct {
	SessionID     uint32
	Name          string
	PaneID        uint32
	PID           uint32
	Cols, Rows    uint16
	CreatedAt     float64
	AttachedCount uint32
}

// EncodeSessionInfo builds a SESSION_INFO message.
func EncodeSessionInfo(f SessionInfoFields) Message {
	nb := []byte(f.Name)
	p := make([]byte, 4+4+len(nb)+4+4+2+2+8+4)
	off := 0
	binary.BigEndian.PutUint32(p[off:], f.SessionID)
	off += 4
	binary.BigEndian.PutUint32(p[off:], uint32(len(nb)))
	off += 4
	copy(p[off:], nb)
	off += len(nb)
	binary.BigEndian.PutUint32(p[off:], f.PaneID)
	off += 4
	binary.BigEndian.PutUint32(p[off:], f.PID)
	off += 4
	binary.BigEndian.PutUint16(p[off:], f.Cols)
	off += 2
	binary.BigEndian.PutUint16(p[off:], f.Rows)
	off += 2
	binary.BigEndian.PutUint64(p[off:], math.Float64bits(f.CreatedAt))
	off += 8
	binary.BigEndian.PutUint32(p[off:], f.AttachedCount)
	return Message{Type: SessionInfo, Payload: p}
}

// DecodeSessionInfo parses a SESSION_INFO payload.
func DecodeSessionInfo(p []byte) (SessionInfoFields, error) {
	var f SessionInfoFields
	const fixedTail = 4 + 4 + 2 + 2 + 8 + 4 // paneID+pid+cols+rows+createdAt+attached
	if len(p) < 4 {
		return f, fmt.Errorf("proto: malformed SESSION_INFO payload: %d bytes", len(p))
	}
	off := 0
	f.SessionID = binary.BigEndian.Uint32(p[off:])
	off += 4
	if len(p) < off+4 {
		return f, fmt.Errorf("proto: truncated SESSION_INFO payload")
	}
	nameLen := binary.BigEndian.Uint32(p[off:])
	off += 4
	if uint32(len(p)-off) < nameLen+fixedTail {
		return f, fmt.Errorf("proto: truncated SESSION_INFO payload")
	}
	f.Name = string(p[off : off+int(nameLen)])
	off += int(nameLen)
	f.PaneID = binary.BigEndian.Uint32(p[off:])
	off += 4
	f.PID = binary.BigEndian.Uint32(p[off:])
	off += 4
	f.Cols = binary.BigEndian.Uint16(p[off:])
	off += 2
	f.Rows = binary.BigEndian.Uint16(p[off:])
	off += 2
	f.CreatedAt = math.Float64frombits(binary.BigEndian.Uint64(p[off:]))
	off += 8
	f.AttachedCount = binary.BigEndian.Uint32(p[off:])
	return f, nil
}

// EncodeShellExited builds a SHELL_EXITED message.
func EncodeShellExited(sessionID, paneID uint32) Message {
	p := make([]byte, 8)
	binary.BigEndian.PutUint32(p[0:4], sessionID)
	binary.BigEndian.PutUint32(p[4:8], paneID)
	return Message{Type: ShellExited, Payload: p}
}

// DecodeShellExited extracts (sessionID, paneID).
func DecodeShellExited(p []byte) (sessionID, paneID uint32, err error) {
	if len(p) != 8 {
		return 0, 0, fmt.Errorf("proto: malformed SHELL_EXITED payload: %d bytes", len(p))
	}
	return binary.BigEndian.Uint32(p[0:4]), binary.BigEndian.Uint32(p[4:8]), nil
}
