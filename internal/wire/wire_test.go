package wire

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdbgsuite/vdbg/internal/device"
)

func TestCommandRoundTrip(t *testing.T) {
	cmds := []Command{
		StepCmd{},
		StepForceCmd{},
		SetBreakpointCmd{Addr: 0x1234},
		ClearBreakpointCmd{Addr: 0xffff},
		RequestDumpCmd{},
		InputKeyCmd{Key: 'x'},
		InputKeyCmd{Key: KeyEscape},
		InputStringCmd{Text: "hello"},
		InputStringCmd{Text: strings.Repeat("a", 600)},
		RequestMemoryCmd{From: 0x0100, To: 0x01ff},
		RequestStackCmd{},
		SetMemoryCmd{Addr: 0x0042, Data: []byte{1, 2, 3}},
		SetRegisterCmd{Reg: device.RegAcc, Value: 0x7f},
		SetRegisterCmd{Reg: device.RegPC, Value: 0xbeef},
		StopCmd{},
	}
	for _, cmd := range cmds {
		buf := AppendCommand(nil, cmd)
		got, n, err := DecodeCommand(buf)
		require.NoError(t, err, "%T", cmd)
		assert.Equal(t, len(buf), n, "%T must consume its whole encoding", cmd)
		assert.Equal(t, cmd, got)
	}
}

func TestEventRoundTrip(t *testing.T) {
	events := []Event{
		OutputEvent{Text: "hi"},
		OutputEvent{Text: strings.Repeat("x", 511)},
		ErrorOutputEvent{Text: "boom"},
		BreakpointHitEvent{Addr: 0x00ff},
		DumpResultEvent{Text: `{"pc":0}`},
		MemoryResultEvent{Data: []byte{0xde, 0xad}},
		StackResultEvent{Data: []byte{1}},
		KeyRequestedEvent{},
		StringRequestedEvent{},
		EndOfProgramEvent{},
		CrashedEvent{},
	}
	for _, ev := range events {
		buf := AppendEvent(nil, ev)
		got, n, err := DecodeEvent(buf)
		require.NoError(t, err, "%T", ev)
		assert.Equal(t, len(buf), n)
		assert.Equal(t, ev, got)
	}
}

func TestBigEndianAddresses(t *testing.T) {
	buf := AppendCommand(nil, SetBreakpointCmd{Addr: 0x1234})
	require.Equal(t, []byte{'b', 0x12, 0x34}, buf)
}

func TestChunkFrameCounts(t *testing.T) {
	frameCount := func(buf []byte, prefix byte) int {
		count := 0
		for len(buf) > 0 {
			if buf[0] != prefix {
				t.Fatalf("unexpected prefix %q", buf[0])
			}
			n := int(buf[1])
			buf = buf[2+n:]
			count++
		}
		return count
	}

	cases := []struct {
		length int
		frames int
	}{
		{0, 1},
		{1, 1},
		{254, 1},
		{255, 2}, // exact multiple: terminated by an empty chunk
		{256, 2},
		{510, 3},
		{511, 3},
	}
	for _, tc := range cases {
		text := strings.Repeat("z", tc.length)
		buf := AppendEvent(nil, OutputEvent{Text: text})
		assert.Equal(t, tc.frames, frameCount(buf, 'o'), "length %d", tc.length)

		got, n, err := DecodeEvent(buf)
		require.NoError(t, err)
		require.Equal(t, len(buf), n)
		assert.Equal(t, text, got.(OutputEvent).Text, "length %d", tc.length)
	}
}

func TestDecodeShortFrames(t *testing.T) {
	partials := [][]byte{
		{},
		{'b'},
		{'b', 0x01},
		{'i'},
		{'m', 0, 1, 0},
		{'n', 0, 0, 3, 1, 2},
		{'r', byte(device.RegPC), 0xbe},
		{'t', 255}, // chunk header promises more than is present
	}
	for _, buf := range partials {
		_, _, err := DecodeCommand(buf)
		assert.ErrorIs(t, err, ErrShortFrame, "% x", buf)
	}
}

func TestDecodeUnknownPrefix(t *testing.T) {
	_, _, err := DecodeCommand([]byte{'z'})
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, byte('z'), de.Prefix)
}

func TestDecodeBadKey(t *testing.T) {
	_, _, err := DecodeCommand([]byte{'i', 0x00})
	var de *DecodeError
	require.ErrorAs(t, err, &de)
}

func TestDecodeBadRegisterID(t *testing.T) {
	_, _, err := DecodeCommand([]byte{'r', 0x63, 0x01})
	var de *DecodeError
	require.ErrorAs(t, err, &de)
}

func TestAppendRejectsOversizedSetMemory(t *testing.T) {
	big := SetMemoryCmd{Addr: 0, Data: make([]byte, MaxChunk+1)}
	assert.Panics(t, func() { AppendCommand(nil, big) },
		"the length byte cannot represent %d bytes", MaxChunk+1)

	// The boundary payload still encodes and round-trips.
	full := SetMemoryCmd{Addr: 0x0100, Data: bytes.Repeat([]byte{7}, MaxChunk)}
	buf := AppendCommand(nil, full)
	got, n, err := DecodeCommand(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, full, got)
}

func TestRegisterValueWidths(t *testing.T) {
	narrow := AppendCommand(nil, SetRegisterCmd{Reg: device.RegD2, Value: 0xab})
	assert.Equal(t, []byte{'r', byte(device.RegD2), 0xab}, narrow)

	wide := AppendCommand(nil, SetRegisterCmd{Reg: device.RegSP, Value: 0xfffe})
	assert.Equal(t, []byte{'r', byte(device.RegSP), 0xff, 0xfe}, wide)
}

func TestValidKey(t *testing.T) {
	for _, b := range []byte{'a', 'Z', '0', '9', '!', '~', '?', KeySpace, KeyReturn, KeyTab, KeyEscape, KeyBackspace} {
		assert.True(t, ValidKey(b), "0x%02x", b)
	}
	for _, b := range []byte{0x00, 0x07, 0x0a, 0x7f, 0x80, 0xff} {
		assert.False(t, ValidKey(b), "0x%02x", b)
	}
}

func TestCommandReaderResync(t *testing.T) {
	var buf []byte
	buf = append(buf, 'z') // junk byte
	buf = AppendCommand(buf, StepCmd{})

	cr := NewCommandReader(bytes.NewReader(buf))

	_, err := cr.Next()
	var de *DecodeError
	require.ErrorAs(t, err, &de, "first read reports the junk byte")

	cmd, err := cr.Next()
	require.NoError(t, err, "decoding resumes at the next byte")
	assert.Equal(t, StepCmd{}, cmd)
}

func TestCommandReaderReassemblesAcrossReads(t *testing.T) {
	text := strings.Repeat("q", 300)
	encoded := AppendCommand(nil, InputStringCmd{Text: text})

	// One byte per Read call: every frame arrives in pieces.
	cr := NewCommandReader(&oneByteReader{data: encoded})
	cmd, err := cr.Next()
	require.NoError(t, err)
	assert.Equal(t, InputStringCmd{Text: text}, cmd)
}

type oneByteReader struct {
	data []byte
	pos  int
}

func (r *oneByteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, bytes.ErrTooLarge
	}
	p[0] = r.data[r.pos]
	r.pos++
	return 1, nil
}

func TestEventWriterSingleWritePerEvent(t *testing.T) {
	w := &writeCounter{}
	ew := NewEventWriter(w)
	require.NoError(t, ew.Emit(OutputEvent{Text: strings.Repeat("a", 300)}))
	assert.Equal(t, 1, w.calls, "all frames of one event go out in one write")
}

type writeCounter struct {
	calls int
	buf   bytes.Buffer
}

func (w *writeCounter) Write(p []byte) (int, error) {
	w.calls++
	return w.buf.Write(p)
}
