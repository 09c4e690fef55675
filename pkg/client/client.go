// Package client is the controller side of the debug protocol: it
// encodes commands and decodes the event stream, over either a plain
// byte-stream transport (e.g. a piped subprocess) or a websocket
// session on a vdbg server.
package client

import (
	"fmt"
	"io"
	"log"
	"net/url"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/vdbgsuite/vdbg/internal/device"
	"github.com/vdbgsuite/vdbg/internal/wire"
)

// Client drives one debug session. Events arrive, fully reassembled,
// on the Events channel; the channel closes when the session's event
// stream ends.
type Client struct {
	cmds   *wire.CommandWriter
	events *wire.EventReader
	out    chan wire.Event
	done   chan struct{}
	closer io.Closer
	closed atomic.Bool
}

// New wraps an established byte-stream transport: rw's reader carries
// events, its writer carries commands.
func New(rw io.ReadWriter) *Client {
	c := &Client{
		cmds:   wire.NewCommandWriter(rw),
		events: wire.NewEventReader(rw),
		out:    make(chan wire.Event, 64),
		done:   make(chan struct{}),
	}
	if closer, ok := rw.(io.Closer); ok {
		c.closer = closer
	}
	return c
}

// Dial connects to a vdbg websocket server. An empty sessionID starts
// a new session; a non-empty one joins an existing session as an
// observer.
func Dial(serverAddr, sessionID string) (*Client, error) {
	u := url.URL{Scheme: "ws", Host: serverAddr, Path: "/ws/"}
	if sessionID != "" {
		u.RawQuery = "session=" + url.QueryEscape(sessionID)
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}
	return New(&wsStream{conn: conn}), nil
}

// Run starts the event read pump.
func (c *Client) Run() {
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		close(c.out)
		close(c.done)
	}()
	for {
		ev, err := c.events.Next()
		if err != nil {
			if !c.closed.Load() && err != io.EOF {
				log.Printf("[Client] Event stream error: %v", err)
			}
			return
		}
		c.out <- ev
	}
}

// Events returns the decoded event stream.
func (c *Client) Events() <-chan wire.Event {
	return c.out
}

// Done closes when the event stream has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) send(cmd wire.Command) error {
	return c.cmds.Send(cmd)
}

// Step executes one instruction, honoring breakpoints.
func (c *Client) Step() error { return c.send(wire.StepCmd{}) }

// StepForce executes one instruction, skipping the breakpoint check.
func (c *Client) StepForce() error { return c.send(wire.StepForceCmd{}) }

func (c *Client) SetBreakpoint(addr uint16) error {
	return c.send(wire.SetBreakpointCmd{Addr: addr})
}

func (c *Client) ClearBreakpoint(addr uint16) error {
	return c.send(wire.ClearBreakpointCmd{Addr: addr})
}

// Dump requests a state snapshot; the DumpResult event follows on the
// event stream.
func (c *Client) Dump() error { return c.send(wire.RequestDumpCmd{}) }

func (c *Client) Memory(from, to uint16) error {
	return c.send(wire.RequestMemoryCmd{From: from, To: to})
}

func (c *Client) Stack() error { return c.send(wire.RequestStackCmd{}) }

func (c *Client) SendKey(key byte) error {
	if !wire.ValidKey(key) {
		return fmt.Errorf("unsupported key byte 0x%02x", key)
	}
	return c.send(wire.InputKeyCmd{Key: key})
}

func (c *Client) SendString(text string) error {
	return c.send(wire.InputStringCmd{Text: text})
}

func (c *Client) SetMemory(addr uint16, data []byte) error {
	if len(data) > wire.MaxChunk {
		return fmt.Errorf("SetMemory carries at most %d bytes per command", wire.MaxChunk)
	}
	return c.send(wire.SetMemoryCmd{Addr: addr, Data: data})
}

func (c *Client) SetRegister(reg device.RegisterID, value uint16) error {
	if !reg.Valid() {
		return fmt.Errorf("unknown register id %d", reg)
	}
	return c.send(wire.SetRegisterCmd{Reg: reg, Value: value})
}

// Stop ends the session. Always accepted by the device.
func (c *Client) Stop() error { return c.send(wire.StopCmd{}) }

func (c *Client) Close() error {
	c.closed.Store(true)
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

// wsStream adapts a websocket connection to the io.ReadWriter the
// codec expects. Binary messages carry raw frames.
type wsStream struct {
	conn *websocket.Conn
	r    io.Reader
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.r == nil {
			kind, r, err := s.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if kind != websocket.BinaryMessage {
				continue
			}
			s.r = r
		}
		n, err := s.r.Read(p)
		if err == io.EOF {
			s.r = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}
