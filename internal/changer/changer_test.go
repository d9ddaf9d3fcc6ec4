package changer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSimulatedChangerLoadUnload(t *testing.T) {
	c := NewSimulatedChanger(4, 2)
	require.NoError(t, c.FillSlot(1, "Vol-0001"))

	require.ErrorIs(t, c.Load(2, 0), ErrSlotEmpty)
	require.NoError(t, c.Load(1, 0))

	status := c.Status()
	require.Equal(t, 1, status.DriveSlot[0])

	require.NoError(t, c.Unload(0, 1))
	status = c.Status()
	require.Equal(t, -1, status.DriveSlot[0])
}

func TestSimulatedChangerDriveOccupied(t *testing.T) {
	c := NewSimulatedChanger(4, 1)
	require.NoError(t, c.FillSlot(1, "Vol-0001"))
	require.NoError(t, c.FillSlot(2, "Vol-0002"))
	require.NoError(t, c.Load(1, 0))
	require.ErrorIs(t, c.Load(2, 0), ErrDriveOccupied)
}

func TestDriveBinding(t *testing.T) {
	c := NewSimulatedChanger(2, 1)
	require.NoError(t, c.FillSlot(1, "Vol-0001"))
	b := DriveBinding{Changer: c, Drive: 0}
	require.NoError(t, b.Load(1))
	require.NoError(t, b.Unload())
}
