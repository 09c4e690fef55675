package wire

import (
	"io"
	"sync"
)

// frameBuffer accumulates raw bytes from a stream until a decode
// function can consume a whole logical frame chain. Partial frames
// block; they are never dropped.
type frameBuffer struct {
	r   io.Reader
	buf []byte
}

func (f *frameBuffer) fill() error {
	chunk := make([]byte, 512)
	n, err := f.r.Read(chunk)
	if n > 0 {
		f.buf = append(f.buf, chunk[:n]...)
		return nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return err
}

func (f *frameBuffer) consume(n int) {
	f.buf = f.buf[n:]
}

// CommandReader decodes inbound commands from a byte stream. Next
// blocks until a full command (including every chunk of a split
// string) is available.
type CommandReader struct {
	fb frameBuffer
}

func NewCommandReader(r io.Reader) *CommandReader {
	return &CommandReader{fb: frameBuffer{r: r}}
}

// Next returns the next command. On a *DecodeError the offending byte
// has been skipped, so the caller can report the error and call Next
// again to resynchronize at the following byte.
func (cr *CommandReader) Next() (Command, error) {
	for {
		cmd, n, err := DecodeCommand(cr.fb.buf)
		if err == nil {
			cr.fb.consume(n)
			return cmd, nil
		}
		if err == ErrShortFrame {
			if ferr := cr.fb.fill(); ferr != nil {
				return nil, ferr
			}
			continue
		}
		cr.fb.consume(1)
		return nil, err
	}
}

// EventReader is the controller-side mirror of CommandReader.
type EventReader struct {
	fb frameBuffer
}

func NewEventReader(r io.Reader) *EventReader {
	return &EventReader{fb: frameBuffer{r: r}}
}

func (er *EventReader) Next() (Event, error) {
	for {
		ev, n, err := DecodeEvent(er.fb.buf)
		if err == nil {
			er.fb.consume(n)
			return ev, nil
		}
		if err == ErrShortFrame {
			if ferr := er.fb.fill(); ferr != nil {
				return nil, ferr
			}
			continue
		}
		er.fb.consume(1)
		return nil, err
	}
}

// EventWriter encodes outbound events. Every event is written with a
// single Write call so a consumer never observes interleaved partial
// frames.
type EventWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewEventWriter(w io.Writer) *EventWriter {
	return &EventWriter{w: w}
}

func (ew *EventWriter) Emit(ev Event) error {
	buf := AppendEvent(nil, ev)
	ew.mu.Lock()
	defer ew.mu.Unlock()
	_, err := ew.w.Write(buf)
	return err
}

// CommandWriter is the controller-side mirror of EventWriter.
type CommandWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewCommandWriter(w io.Writer) *CommandWriter {
	return &CommandWriter{w: w}
}

func (cw *CommandWriter) Send(cmd Command) error {
	buf := AppendCommand(nil, cmd)
	cw.mu.Lock()
	defer cw.mu.Unlock()
	_, err := cw.w.Write(buf)
	return err
}
