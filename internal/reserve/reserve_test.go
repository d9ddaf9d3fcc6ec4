package reserve

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tapevault/bstored/internal/config"
	"github.com/tapevault/bstored/internal/dcr"
	"github.com/tapevault/bstored/internal/device"
	"github.com/tapevault/bstored/internal/volume"
)

func newTestDevice(name, mediaType string) *device.Device {
	backend := device.NewVTapeBackend()
	_ = backend.Open(device.CreateReadWrite)
	d := device.New(name, backend, 1024, 65536)
	d.MediaType = mediaType
	return d
}

func TestReservePrefersUnmountedDevice(t *testing.T) {
	d1 := newTestDevice("Drive-0", "LTO8")
	d1.MountedVolume = "Vol-0001"
	d2 := newTestDevice("Drive-1", "LTO8")

	cfg := config.Defaults()
	eng := NewEngine([]*device.Device{d1, d2}, volume.NewManager(), cfg)

	req := Request{JobID: "job-1", MediaType: "LTO8", Append: true}
	job := dcr.NewJob("job-1", dcr.JobTypeBackup, dcr.LevelFull)
	d, err := eng.Reserve(req, job)
	require.NoError(t, err)
	require.Equal(t, "Drive-1", d.Device.Name)
	require.True(t, d.Reserved)
}

func TestReserveFiltersByMediaType(t *testing.T) {
	d1 := newTestDevice("Drive-0", "LTO8")
	d2 := newTestDevice("Drive-1", "DiskPool")

	cfg := config.Defaults()
	eng := NewEngine([]*device.Device{d1, d2}, volume.NewManager(), cfg)

	req := Request{JobID: "job-2", MediaType: "DiskPool", Append: true}
	job := dcr.NewJob("job-2", dcr.JobTypeBackup, dcr.LevelFull)
	d, err := eng.Reserve(req, job)
	require.NoError(t, err)
	require.Equal(t, "Drive-1", d.Device.Name)
}

func TestReserveFailsWhenNoCandidates(t *testing.T) {
	d1 := newTestDevice("Drive-0", "LTO8")

	cfg := config.Defaults()
	cfg.ReservationRetryPasses = 1
	cfg.ReservationRetryDelay = 0
	eng := NewEngine([]*device.Device{d1}, volume.NewManager(), cfg)

	req := Request{JobID: "job-3", MediaType: "DiskPool", Append: true}
	job := dcr.NewJob("job-3", dcr.JobTypeBackup, dcr.LevelFull)
	_, err := eng.Reserve(req, job)
	require.Error(t, err)
}

func TestReserveRespectsMaxConcurrentJobs(t *testing.T) {
	d1 := newTestDevice("Drive-0", "LTO8")
	d1.MaxConcurrentJobs = 1
	d1.IncWriters()

	cfg := config.Defaults()
	cfg.ReservationRetryPasses = 1
	cfg.ReservationRetryDelay = 0
	eng := NewEngine([]*device.Device{d1}, volume.NewManager(), cfg)

	req := Request{JobID: "job-4", MediaType: "LTO8", Append: true}
	job := dcr.NewJob("job-4", dcr.JobTypeBackup, dcr.LevelFull)
	_, err := eng.Reserve(req, job)
	require.Error(t, err)
}

func TestMountWithoutLabelReaderReportsOK(t *testing.T) {
	d1 := newTestDevice("Drive-0", "LTO8")
	cfg := config.Defaults()
	eng := NewEngine([]*device.Device{d1}, volume.NewManager(), cfg)

	job := dcr.NewJob("job-5", dcr.JobTypeBackup, dcr.LevelFull)
	dc := dcr.New(1, job, d1)

	state, err := eng.Mount(dc, 0)
	require.NoError(t, err)
	require.Equal(t, VolOK, state)
}

func TestReleaseClearsReservationAndVolume(t *testing.T) {
	d1 := newTestDevice("Drive-0", "LTO8")
	cfg := config.Defaults()
	vols := volume.NewManager()
	eng := NewEngine([]*device.Device{d1}, vols, cfg)

	job := dcr.NewJob("job-6", dcr.JobTypeBackup, dcr.LevelFull)
	dc := dcr.New(2, job, d1)
	dc.SetReserved()
	vols.ReserveVolume(dc, "Vol-0001")

	eng.Release(dc)

	require.False(t, dc.Reserved)
	w, reserved, r := d1.Snapshot()
	require.Equal(t, 0, w)
	require.Equal(t, 0, reserved)
	require.Equal(t, 0, r)

	v, ok := vols.Lookup("Vol-0001")
	require.True(t, ok)
	require.Nil(t, v.Device)
}
