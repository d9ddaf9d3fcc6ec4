package record

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tapevault/bstored/internal/block"
	"github.com/tapevault/bstored/internal/dcr"
	"github.com/tapevault/bstored/internal/device"
)

// scriptedUpstream replays a fixed sequence of stream headers and their
// data chunks, then reports end-of-data.
type scriptedUpstream struct {
	headers []StreamHeader
	chunks  [][][]byte
	hi, di  int
}

func (u *scriptedUpstream) NextHeader() (StreamHeader, bool, error) {
	if u.hi >= len(u.headers) {
		return StreamHeader{}, false, nil
	}
	h := u.headers[u.hi]
	u.hi++
	u.di = 0
	return h, true, nil
}

func (u *scriptedUpstream) NextData(hdr StreamHeader) ([]byte, bool, error) {
	chunks := u.chunks[u.hi-1]
	if u.di >= len(chunks) {
		return nil, false, nil
	}
	d := chunks[u.di]
	u.di++
	return d, true, nil
}

type collectingDownstream struct {
	records []*block.Record
}

func (c *collectingDownstream) DeliverRecord(rec *block.Record) error {
	c.records = append(c.records, rec.Clone())
	return nil
}

func newTestDCR(id uint64, jobType dcr.JobType) (*dcr.DCR, *device.Device) {
	backend := device.NewVTapeBackend()
	_ = backend.Open(device.CreateReadWrite)
	dev := device.New("Drive-0", backend, 1024, 65536)
	job := dcr.NewJob("job-1", jobType, dcr.LevelFull)
	d := dcr.New(id, job, dev)
	return d, dev
}

func TestAppendSessionBasicWrite(t *testing.T) {
	d, dev := newTestDCR(1, dcr.JobTypeBackup)
	up := &scriptedUpstream{
		headers: []StreamHeader{{FileIndex: 1, StreamID: 1}},
		chunks:  [][][]byte{{[]byte("hello world")}},
	}

	s := NewAppendSession(d, nil, nil, nil)
	err := s.Run(up)
	require.NoError(t, err)
	require.Equal(t, dcr.JobTerminated, d.Job.Status)
	require.Greater(t, dev.Catalog.Bytes, uint64(0))
	require.EqualValues(t, 1, dev.Catalog.Files)
	require.Greater(t, s.JobBytes(), uint64(0))
}

func TestAppendSessionEBusyRetrySucceeds(t *testing.T) {
	d, dev := newTestDCR(2, dcr.JobTypeBackup)
	backend := dev.Backend.(*device.VTapeBackend)
	backend.SimulateBusy(1)

	up := &scriptedUpstream{
		headers: []StreamHeader{{FileIndex: 1, StreamID: 1}},
		chunks:  [][][]byte{{[]byte("retry me")}},
	}

	s := NewAppendSession(d, nil, nil, nil)
	s.RetryAttempts = 3
	s.RetryDelay = 0
	err := s.Run(up)
	require.NoError(t, err)
	require.Equal(t, dcr.JobTerminated, d.Job.Status)
}

func TestAppendSessionEndOfMediumMountsSuccessor(t *testing.T) {
	d, _ := newTestDCR(3, dcr.JobTypeBackup)
	up := &scriptedUpstream{
		headers: []StreamHeader{{FileIndex: 1, StreamID: 1}, {FileIndex: 2, StreamID: 1}},
		chunks: [][][]byte{
			{make([]byte, 200)},
			{make([]byte, 200)},
		},
	}

	mounted := false
	s := NewAppendSession(d, nil, nil, func(dcr *dcr.DCR) error {
		mounted = true
		return nil
	})
	s.MaxVolumeSize = 256 // the session's one padded 1024-byte block exceeds this, so the final flush rolls over

	err := s.Run(up)
	require.NoError(t, err)
	require.True(t, mounted)
	require.Equal(t, dcr.JobTerminated, d.Job.Status)
}

func TestAppendSessionFailsWithoutMountOnEndOfMedium(t *testing.T) {
	d, _ := newTestDCR(4, dcr.JobTypeBackup)
	up := &scriptedUpstream{
		headers: []StreamHeader{{FileIndex: 1, StreamID: 1}},
		chunks:  [][][]byte{{make([]byte, 400)}},
	}

	s := NewAppendSession(d, nil, nil, nil)
	s.MaxVolumeSize = 128

	err := s.Run(up)
	require.Error(t, err)
	require.Equal(t, dcr.JobErrorTerminated, d.Job.Status)
}

func TestReadSessionRoundTrip(t *testing.T) {
	d, dev := newTestDCR(5, dcr.JobTypeBackup)
	up := &scriptedUpstream{
		headers: []StreamHeader{{FileIndex: 1, StreamID: 1}, {FileIndex: 2, StreamID: 2}},
		chunks: [][][]byte{
			{[]byte("first record payload")},
			{[]byte("second record payload")},
		},
	}
	appendSess := NewAppendSession(d, nil, nil, nil)
	require.NoError(t, appendSess.Run(up))

	backend := dev.Backend.(*device.VTapeBackend)
	require.NoError(t, backend.Rewind())

	readJob := dcr.NewJob("job-1", dcr.JobTypeRestore, dcr.LevelFull)
	readDCR := dcr.New(6, readJob, dev)
	down := &collectingDownstream{}

	readSess := NewReadSession(readDCR, nil, nil, down)
	require.NoError(t, readSess.Run())

	require.Len(t, down.records, 2)
	require.Equal(t, "first record payload", string(down.records[0].Data))
	require.Equal(t, "second record payload", string(down.records[1].Data))
	require.Equal(t, dcr.JobTerminated, readJob.Status)
}

func TestReadSessionCancellation(t *testing.T) {
	d, _ := newTestDCR(7, dcr.JobTypeRestore)
	d.Job.Cancel()
	down := &collectingDownstream{}
	readSess := NewReadSession(d, nil, nil, down)
	err := readSess.Run()
	require.Error(t, err)
	require.Equal(t, dcr.JobCanceled, d.Job.Status)
}
