package volume

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tapevault/bstored/internal/device"
)

type fakeHolder struct {
	dev *device.Device
}

func (f fakeHolder) TargetDevice() *device.Device { return f.dev }

func TestReserveVolumeCreatesAndReuses(t *testing.T) {
	m := NewManager()
	dev := device.New("Drive-0", device.NewVTapeBackend(), 64*1024, 1024*1024)
	h := fakeHolder{dev}

	v1 := m.ReserveVolume(h, "Vol-0001")
	require.Equal(t, 1, v1.RefCount())
	require.Equal(t, dev, v1.Device)

	v2 := m.ReserveVolume(h, "Vol-0001")
	require.Same(t, v1, v2)
	require.Equal(t, 2, v2.RefCount())
}

func TestReserveVolumeStealMarksSwapping(t *testing.T) {
	m := NewManager()
	dev1 := device.New("Drive-0", device.NewVTapeBackend(), 64*1024, 1024*1024)
	dev2 := device.New("Drive-1", device.NewVTapeBackend(), 64*1024, 1024*1024)

	m.ReserveVolume(fakeHolder{dev1}, "Vol-0001")
	v := m.ReserveVolume(fakeHolder{dev2}, "Vol-0001")
	require.True(t, v.Swapping)
	require.Equal(t, dev1, v.Device)
}

func TestCanIUseVolume(t *testing.T) {
	m := NewManager()
	dev1 := device.New("Drive-0", device.NewVTapeBackend(), 64*1024, 1024*1024)
	dev2 := device.New("Drive-1", device.NewVTapeBackend(), 64*1024, 1024*1024)

	require.True(t, m.CanIUseVolume(fakeHolder{dev1}, "Vol-0001"))
	m.ReserveVolume(fakeHolder{dev1}, "Vol-0001")
	require.True(t, m.CanIUseVolume(fakeHolder{dev1}, "Vol-0001"))
	require.False(t, m.CanIUseVolume(fakeHolder{dev2}, "Vol-0001"))

	m.VolumeUnused(fakeHolder{dev1})
	require.True(t, m.CanIUseVolume(fakeHolder{dev2}, "Vol-0001"))
}

func TestFreeVolumeAndRelease(t *testing.T) {
	m := NewManager()
	dev := device.New("Drive-0", device.NewVTapeBackend(), 64*1024, 1024*1024)
	h := fakeHolder{dev}

	m.ReserveVolume(h, "Vol-0001")
	m.FreeVolume(dev)
	v, ok := m.Lookup("Vol-0001")
	require.True(t, ok)
	require.Nil(t, v.Device)

	m.Release("Vol-0001")
	_, ok = m.Lookup("Vol-0001")
	require.False(t, ok)
}

func TestForeachVolOrder(t *testing.T) {
	m := NewManager()
	dev := device.New("Drive-0", device.NewVTapeBackend(), 64*1024, 1024*1024)
	h := fakeHolder{dev}
	m.ReserveVolume(h, "Vol-0001")
	m.ReserveVolume(h, "Vol-0002")

	var names []string
	m.ForeachVol(func(v *Volume) bool {
		names = append(names, v.Name)
		return true
	})
	require.Equal(t, []string{"Vol-0001", "Vol-0002"}, names)
}
