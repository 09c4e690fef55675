package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/peterh/liner"

	"github.com/vdbgsuite/vdbg/internal/device"
	"github.com/vdbgsuite/vdbg/internal/wire"
	"github.com/vdbgsuite/vdbg/pkg/client"
)

func main() {
	server := flag.String("server", "localhost:8080", "vdbg websocket server host:port")
	session := flag.String("session", "", "existing session ID to observe (optional)")
	execImage := flag.String("exec", "", "spawn 'vdbg run --piped <image>' locally instead of dialing a server")
	vdbgBin := flag.String("vdbg", "vdbg", "vdbg binary used with --exec")
	flag.Parse()

	var (
		c   *client.Client
		err error
	)
	if *execImage != "" {
		c, err = spawn(*vdbgBin, *execImage)
	} else {
		s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.Suffix = " Connecting to vdbg server..."
		s.Start()
		c, err = client.Dial(*server, *session)
		s.Stop()
	}
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	c.Run()

	go printEvents(c)

	fmt.Println("Connected. Commands: step (s), force (f), break <addr>, clear <addr>, dump (d), mem <from> <to>, stack, key <k>, str <text>, set <reg> <val>, poke <addr> <hex>, stop, quit")

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	for {
		line, err := ln.Prompt("(vdbg) ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				break
			}
			log.Printf("Prompt error: %v", err)
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ln.AppendHistory(line)
		if quit := dispatch(c, line); quit {
			break
		}
	}
	_ = c.Close()
}

// spawn launches the device as a local subprocess in piped mode and
// speaks the protocol over its stdio.
func spawn(bin, image string) (*client.Client, error) {
	cmd := exec.Command(bin, "run", "--piped", image)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", bin, err)
	}
	return client.New(&procStream{r: stdout, w: stdin, cmd: cmd}), nil
}

type procStream struct {
	r   io.ReadCloser
	w   io.WriteCloser
	cmd *exec.Cmd
}

func (p *procStream) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *procStream) Write(b []byte) (int, error) { return p.w.Write(b) }

func (p *procStream) Close() error {
	_ = p.w.Close()
	_ = p.r.Close()
	return p.cmd.Wait()
}

func dispatch(c *client.Client, line string) (quit bool) {
	fields := strings.Fields(line)
	var err error
	switch strings.ToLower(fields[0]) {
	case "s", "step":
		err = c.Step()
	case "f", "force":
		err = c.StepForce()
	case "b", "break":
		err = withAddr(fields, c.SetBreakpoint)
	case "cl", "clear":
		err = withAddr(fields, c.ClearBreakpoint)
	case "d", "dump":
		err = c.Dump()
	case "m", "mem":
		if len(fields) != 3 {
			err = fmt.Errorf("usage: mem <from> <to>")
			break
		}
		var from, to uint16
		if from, err = parseAddr(fields[1]); err != nil {
			break
		}
		if to, err = parseAddr(fields[2]); err != nil {
			break
		}
		err = c.Memory(from, to)
	case "stack":
		err = c.Stack()
	case "k", "key":
		if len(fields) != 2 {
			err = fmt.Errorf("usage: key <char|space|return|tab|escape|backspace>")
			break
		}
		var key byte
		if key, err = parseKey(fields[1]); err != nil {
			break
		}
		err = c.SendKey(key)
	case "str":
		err = c.SendString(strings.TrimSpace(strings.TrimPrefix(line, fields[0])))
	case "set":
		if len(fields) != 3 {
			err = fmt.Errorf("usage: set <reg> <value>")
			break
		}
		reg, ok := device.ParseRegister(strings.ToLower(fields[1]))
		if !ok {
			err = fmt.Errorf("unknown register %q", fields[1])
			break
		}
		var val uint64
		if val, err = strconv.ParseUint(fields[2], 0, 16); err != nil {
			break
		}
		err = c.SetRegister(reg, uint16(val))
	case "poke":
		if len(fields) != 3 {
			err = fmt.Errorf("usage: poke <addr> <hexbytes>")
			break
		}
		var addr uint16
		if addr, err = parseAddr(fields[1]); err != nil {
			break
		}
		var data []byte
		if data, err = hex.DecodeString(fields[2]); err != nil {
			break
		}
		err = c.SetMemory(addr, data)
	case "stop":
		err = c.Stop()
	case "q", "quit", "exit":
		_ = c.Stop()
		return true
	default:
		err = fmt.Errorf("unknown command %q", fields[0])
	}
	if err != nil {
		fmt.Println(err.Error())
	}
	return false
}

func withAddr(fields []string, fn func(uint16) error) error {
	if len(fields) != 2 {
		return fmt.Errorf("usage: %s <addr>", fields[0])
	}
	addr, err := parseAddr(fields[1])
	if err != nil {
		return err
	}
	return fn(addr)
}

func parseAddr(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return uint16(v), nil
}

func parseKey(s string) (byte, error) {
	switch strings.ToLower(s) {
	case "space":
		return wire.KeySpace, nil
	case "return", "enter":
		return wire.KeyReturn, nil
	case "tab":
		return wire.KeyTab, nil
	case "escape", "esc":
		return wire.KeyEscape, nil
	case "backspace":
		return wire.KeyBackspace, nil
	}
	if len(s) == 1 && wire.ValidKey(s[0]) {
		return s[0], nil
	}
	return 0, fmt.Errorf("unsupported key %q", s)
}

func printEvents(c *client.Client) {
	for ev := range c.Events() {
		switch e := ev.(type) {
		case wire.OutputEvent:
			fmt.Printf("[out] %s\n", e.Text)
		case wire.ErrorOutputEvent:
			fmt.Printf("[err] %s\n", e.Text)
		case wire.BreakpointHitEvent:
			fmt.Printf("[brk] hit at 0x%04x\n", e.Addr)
		case wire.DumpResultEvent:
			fmt.Printf("[dmp] %s\n", e.Text)
		case wire.MemoryResultEvent:
			fmt.Printf("[mem] % x\n", e.Data)
		case wire.StackResultEvent:
			fmt.Printf("[stk] % x\n", e.Data)
		case wire.KeyRequestedEvent:
			fmt.Println("[inp] program waits for a key (use: key <k>)")
		case wire.StringRequestedEvent:
			fmt.Println("[inp] program waits for a string (use: str <text>)")
		case wire.EndOfProgramEvent:
			fmt.Println("[end] program finished")
		case wire.CrashedEvent:
			fmt.Println("[end] program crashed")
		default:
			fmt.Printf("[???] %#v\n", ev)
		}
	}
	fmt.Println("[session closed]")
}
