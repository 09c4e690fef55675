// Package iobridge mediates the device program's interactive I/O: its
// output and error streams become Output/ErrorOutput events, and its
// key/string requests become the single-slot pending request the
// session suspends on.
package iobridge

import (
	"errors"
	"fmt"

	"github.com/vdbgsuite/vdbg/internal/device"
	"github.com/vdbgsuite/vdbg/internal/wire"
)

var (
	// ErrNoRequest: input arrived while the device was not waiting.
	ErrNoRequest = errors.New("iobridge: no pending input request")
	// ErrWrongKind: a key arrived while a string was pending, or vice
	// versa. The pending request is left unchanged.
	ErrWrongKind = errors.New("iobridge: input does not match pending request")
	// ErrBadKey: the key byte is outside the supported character set.
	ErrBadKey = errors.New("iobridge: unsupported key")
)

// Pending is the kind of input the device is currently blocked on.
type Pending int

const (
	PendingNone Pending = iota
	PendingKey
	PendingString
)

// Sink receives outbound events. *wire.EventWriter satisfies it.
type Sink interface {
	Emit(wire.Event) error
}

// Bridge owns the pending-request slot for one device and forwards
// its output to the event sink.
type Bridge struct {
	sink    Sink
	dev     device.Device
	pending Pending
}

func New(dev device.Device, sink Sink) *Bridge {
	return &Bridge{sink: sink, dev: dev}
}

func (b *Bridge) Pending() Pending {
	return b.pending
}

// Forward emits the output and error text one step produced, in
// order. The codec splits long strings into 255-byte frames.
func (b *Bridge) Forward(res device.StepResult) error {
	if res.Output != "" {
		if err := b.sink.Emit(wire.OutputEvent{Text: res.Output}); err != nil {
			return err
		}
	}
	if res.ErrText != "" {
		if err := b.sink.Emit(wire.ErrorOutputEvent{Text: res.ErrText}); err != nil {
			return err
		}
	}
	return nil
}

// RequireKey records that the device blocked on a key press and tells
// the controller.
func (b *Bridge) RequireKey() error {
	b.pending = PendingKey
	return b.sink.Emit(wire.KeyRequestedEvent{})
}

// RequireString records that the device blocked on a string and tells
// the controller.
func (b *Bridge) RequireString() error {
	b.pending = PendingString
	return b.sink.Emit(wire.StringRequestedEvent{})
}

// ResolveKey delivers a key press to the device, completing the
// suspended instruction. The returned StepResult is the completion of
// that instruction.
func (b *Bridge) ResolveKey(key byte) (device.StepResult, error) {
	switch b.pending {
	case PendingNone:
		return device.StepResult{}, ErrNoRequest
	case PendingString:
		return device.StepResult{}, ErrWrongKind
	}
	if !wire.ValidKey(key) {
		return device.StepResult{}, fmt.Errorf("%w: 0x%02x", ErrBadKey, key)
	}
	b.pending = PendingNone
	return b.dev.ProvideKey(key), nil
}

// ResolveString delivers a string to the device, completing the
// suspended instruction.
func (b *Bridge) ResolveString(text string) (device.StepResult, error) {
	switch b.pending {
	case PendingNone:
		return device.StepResult{}, ErrNoRequest
	case PendingKey:
		return device.StepResult{}, ErrWrongKind
	}
	b.pending = PendingNone
	return b.dev.ProvideString(text), nil
}
