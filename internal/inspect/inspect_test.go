package inspect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdbgsuite/vdbg/internal/device"
)

func TestDumpFieldOrder(t *testing.T) {
	m := device.NewMachine()
	require.NoError(t, m.WriteRegister(device.RegAcc, 7))
	require.NoError(t, m.WriteRegister(device.RegD1, 9))
	require.NoError(t, m.WriteRegister(device.RegA1, 0x0102))
	require.NoError(t, m.WriteRegister(device.RegPC, 3))

	text, err := New(m).Dump()
	require.NoError(t, err)

	// Field names, order and cardinality are part of the contract.
	assert.Equal(t,
		`{"pc":3,"acc":7,"sp":65535,"fp":65535,"data_reg":[0,9,0,0],"addr_reg":[0,258],"overflowed":false}`,
		text)
}

func TestDumpNotCached(t *testing.T) {
	m := device.NewMachine()
	insp := New(m)

	first, err := insp.Dump()
	require.NoError(t, err)

	require.NoError(t, m.WriteRegister(device.RegAcc, 200))
	second, err := insp.Dump()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Contains(t, second, `"acc":200`)
}

func TestWriteRegisterValidation(t *testing.T) {
	insp := New(device.NewMachine())
	assert.ErrorIs(t, insp.WriteRegister(device.RegisterID(42), 1), device.ErrBadRegister)
	assert.NoError(t, insp.WriteRegister(device.RegFP, 0x1000))
}

func TestMemoryPassThrough(t *testing.T) {
	m := device.NewMachine()
	insp := New(m)

	require.NoError(t, insp.WriteMemory(0x20, []byte{5, 6, 7}))
	data, err := insp.ReadMemory(0x20, 0x23)
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 6, 7}, data)

	_, err = insp.ReadMemory(0x23, 0x20)
	assert.ErrorIs(t, err, device.ErrOutOfRange)
}
