package iobridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdbgsuite/vdbg/internal/device"
	"github.com/vdbgsuite/vdbg/internal/wire"
)

type recordingSink struct {
	events []wire.Event
}

func (s *recordingSink) Emit(ev wire.Event) error {
	s.events = append(s.events, ev)
	return nil
}

type stubDevice struct {
	device.Device // panic on anything the bridge should not touch
	keys          []byte
	strs          []string
	completion    device.StepResult
}

func (d *stubDevice) ProvideKey(key byte) device.StepResult {
	d.keys = append(d.keys, key)
	return d.completion
}

func (d *stubDevice) ProvideString(text string) device.StepResult {
	d.strs = append(d.strs, text)
	return d.completion
}

func TestForwardPreservesOrder(t *testing.T) {
	sink := &recordingSink{}
	b := New(&stubDevice{}, sink)

	require.NoError(t, b.Forward(device.StepResult{Output: "out", ErrText: "err"}))
	require.Equal(t, []wire.Event{
		wire.OutputEvent{Text: "out"},
		wire.ErrorOutputEvent{Text: "err"},
	}, sink.events)
}

func TestForwardSkipsEmptyStreams(t *testing.T) {
	sink := &recordingSink{}
	b := New(&stubDevice{}, sink)
	require.NoError(t, b.Forward(device.StepResult{}))
	assert.Empty(t, sink.events)
}

func TestKeyRequestLifecycle(t *testing.T) {
	sink := &recordingSink{}
	dev := &stubDevice{completion: device.StepResult{Output: "done"}}
	b := New(dev, sink)

	require.NoError(t, b.RequireKey())
	assert.Equal(t, PendingKey, b.Pending())
	assert.Equal(t, []wire.Event{wire.KeyRequestedEvent{}}, sink.events)

	res, err := b.ResolveKey('x')
	require.NoError(t, err)
	assert.Equal(t, "done", res.Output)
	assert.Equal(t, []byte{'x'}, dev.keys)
	assert.Equal(t, PendingNone, b.Pending())
}

func TestStringRequestLifecycle(t *testing.T) {
	sink := &recordingSink{}
	dev := &stubDevice{}
	b := New(dev, sink)

	require.NoError(t, b.RequireString())
	assert.Equal(t, PendingString, b.Pending())
	assert.Equal(t, []wire.Event{wire.StringRequestedEvent{}}, sink.events)

	_, err := b.ResolveString("hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, dev.strs)
	assert.Equal(t, PendingNone, b.Pending())
}

func TestWrongKindLeavesRequestPending(t *testing.T) {
	dev := &stubDevice{}
	b := New(dev, &recordingSink{})
	require.NoError(t, b.RequireString())

	_, err := b.ResolveKey('x')
	assert.ErrorIs(t, err, ErrWrongKind)
	assert.Equal(t, PendingString, b.Pending(), "pending request unchanged")
	assert.Empty(t, dev.keys, "nothing delivered to the device")

	_, err = b.ResolveString("still works")
	assert.NoError(t, err)
}

func TestResolveWithoutRequest(t *testing.T) {
	b := New(&stubDevice{}, &recordingSink{})
	_, err := b.ResolveKey('x')
	assert.ErrorIs(t, err, ErrNoRequest)
	_, err = b.ResolveString("x")
	assert.ErrorIs(t, err, ErrNoRequest)
}

func TestResolveRejectsUnsupportedKey(t *testing.T) {
	dev := &stubDevice{}
	b := New(dev, &recordingSink{})
	require.NoError(t, b.RequireKey())

	_, err := b.ResolveKey(0x00)
	assert.ErrorIs(t, err, ErrBadKey)
	assert.Equal(t, PendingKey, b.Pending(), "request survives the bad key")
	assert.Empty(t, dev.keys)
}
