package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Message{
		EncodeIdentify(80, 24),
		EncodeNewSession("main"),
		EncodeNewSession(""),
		EncodeAttach(7),
		EncodeDetach(),
		EncodeListSessions(),
		EncodeResize(132, 43),
		EncodeInput([]byte("ls -la\n")),
		EncodeOutput([]byte("\x1b[2J\x1b[Hhello")),
		EncodeKillSession(3),
		EncodeError("session not found"),
		EncodeShellExited(1, 2),
		EncodeSessionInfo(SessionInfoFields{
			SessionID: 1, Name: "main", PaneID: 1, PID: 4242,
			Cols: 80, Rows: 24, CreatedAt: 1700000000.5, AttachedCount: 2,
		}),
	}

	for _, m := range cases {
		buf := m.Encode()
		got, rest, err := Decode(buf)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Empty(t, rest)
		assert.Equal(t, m.Type, got.Type)
		assert.Equal(t, m.Payload, got.Payload)
	}
}

func TestDecodeIncompleteHeaderReturnsNilUnchanged(t *testing.T) {
	buf := []byte{0, 0, 0, 1, 0} // 5 bytes, header needs 8
	msg, rest, err := Decode(buf)
	assert.Nil(t, msg)
	assert.NoError(t, err)
	assert.Equal(t, buf, rest)
}

func TestDecodeIncompletePayloadReturnsNilUnchanged(t *testing.T) {
	full := EncodeInput([]byte("hello world")).Encode()
	partial := full[:len(full)-3]
	msg, rest, err := Decode(partial)
	assert.Nil(t, msg)
	assert.NoError(t, err)
	assert.Equal(t, partial, rest)
}

func TestDecodeUnknownTypeIsHardError(t *testing.T) {
	buf := make([]byte, headerSize)
	buf[3] = 0xFF // type 255, well past Error
	_, _, err := Decode(buf)
	assert.Error(t, err)
}

func TestDecodeOversizedPayloadIsHardError(t *testing.T) {
	buf := make([]byte, headerSize)
	buf[3] = byte(Input)
	buf[4] = 0xFF // payload length byte, pushes declared length over maxPayload
	_, _, err := Decode(buf)
	assert.Error(t, err)
}

func TestDecodeStreamingEquivalence(t *testing.T) {
	var whole []byte
	whole = append(whole, EncodeInput([]byte("a")).Encode()...)
	whole = append(whole, EncodeOutput([]byte("bb")).Encode()...)
	whole = append(whole, EncodeDetach().Encode()...)

	var oneShot []*Message
	buf := whole
	for {
		msg, rest, err := Decode(buf)
		require.NoError(t, err)
		if msg == nil {
			break
		}
		oneShot = append(oneShot, msg)
		buf = rest
	}
	require.Empty(t, buf)

	var streamed []*Message
	var carry []byte
	for _, b := range whole {
		carry = append(carry, b)
		for {
			msg, rest, err := Decode(carry)
			require.NoError(t, err)
			if msg == nil {
				carry = rest
				break
			}
			streamed = append(streamed, msg)
			carry = rest
		}
	}

	require.Len(t, streamed, len(oneShot))
	for i := range oneShot {
		assert.Equal(t, oneShot[i].Type, streamed[i].Type)
		assert.Equal(t, oneShot[i].Payload, streamed[i].Payload)
	}
}

func TestEncodeInputOutputBinarySafe(t *testing.T) {
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	msg, rest, err := Decode(EncodeInput(data).Encode())
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, data, msg.Payload)
}

func TestNewSessionUTF8Name(t *testing.T) {
	name := "会议-étage"
	got, err := DecodeNewSession(EncodeNewSession(name).Payload)
	require.NoError(t, err)
	assert.Equal(t, name, got)
}

func TestSessionInfoFieldsRoundTrip(t *testing.T) {
	f := SessionInfoFields{
		SessionID: 9, Name: "会議", PaneID: 2, PID: 123,
		Cols: 200, Rows: 55, CreatedAt: 1732000000.123456, AttachedCount: 3,
	}
	got, err := DecodeSessionInfo(EncodeSessionInfo(f).Payload)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "IDENTIFY", Identify.String())
	assert.Equal(t, "ERROR", Error.String())
	assert.Contains(t, Type(999).String(), "UNKNOWN")
}
