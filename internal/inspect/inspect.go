// Package inspect serializes device state for the controller: dumps,
// memory and stack reads, and the write-side mutations.
package inspect

import (
	"encoding/json"
	"fmt"

	"github.com/vdbgsuite/vdbg/internal/device"
)

// Inspector reads and writes the state of one device. Snapshots are
// taken at call time, never cached.
type Inspector struct {
	dev device.Device
}

func New(dev device.Device) *Inspector {
	return &Inspector{dev: dev}
}

// Dump serializes the current register and flag state. Field names
// and order are fixed by the dump payload contract.
func (i *Inspector) Dump() (string, error) {
	data, err := json.Marshal(i.dev.Snapshot())
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	return string(data), nil
}

func (i *Inspector) ReadMemory(from, to uint16) ([]byte, error) {
	return i.dev.ReadMemory(from, to)
}

func (i *Inspector) ReadStack() []byte {
	return i.dev.ReadStack()
}

func (i *Inspector) WriteMemory(addr uint16, data []byte) error {
	return i.dev.WriteMemory(addr, data)
}

func (i *Inspector) WriteRegister(id device.RegisterID, value uint16) error {
	if !id.Valid() {
		return fmt.Errorf("%w: %d", device.ErrBadRegister, id)
	}
	return i.dev.WriteRegister(id, value)
}
