package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tapevault/bstored/internal/dcr"
	"github.com/tapevault/bstored/internal/device"
	"github.com/tapevault/bstored/internal/volume"
)

func TestParseQuery(t *testing.T) {
	kw, err := ParseQuery(".status devices")
	require.NoError(t, err)
	require.Equal(t, KeywordDevices, kw)

	_, err = ParseQuery(".status bogus")
	require.Error(t, err)

	_, err = ParseQuery("devices")
	require.Error(t, err)
}

func TestResponderDevicesAndRunning(t *testing.T) {
	dev := device.New("Drive-0", device.NewVTapeBackend(), 64*1024, 1024*1024)
	dev.IncWriters()
	volMgr := volume.NewManager()

	job := dcr.NewJob("job-1", dcr.JobTypeBackup, dcr.LevelFull)
	job.Status = dcr.JobRunning

	r := NewResponder("1.0", []*device.Device{dev}, volMgr,
		func() []*dcr.Job { return []*dcr.Job{job} },
		func() []JobWait { return []JobWait{{JobID: "job-2", Waiting: 5 * time.Second}} },
	)

	lines, err := r.Answer(KeywordDevices)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "Drive-0")

	lines, err = r.Answer(KeywordRunning)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "job-1")

	header, err := r.Answer(KeywordHeader)
	require.NoError(t, err)
	require.NotEmpty(t, header)
}
