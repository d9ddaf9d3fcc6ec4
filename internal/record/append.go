// Package record drives the block codec against a device: the append
// pipeline (spec.md §4.2) and the read pipeline (spec.md §4.3). Both are
// new code without a direct teacher analog — the teacher is a read-only
// single-threaded explorer with nothing resembling a concurrent
// append/read state machine — built from spec.md and cross-checked
// against original_source/src/stored/append.c for ambiguous ordering
// details (JobMedia-emit vs. position-reset at rollover, "increment
// block_number only after a successful write").
package record

import (
	"time"

	"github.com/juju/clock"
	jujuerrors "github.com/juju/errors"
	"github.com/juju/retry"

	"github.com/tapevault/bstored/internal/block"
	"github.com/tapevault/bstored/internal/dcr"
	"github.com/tapevault/bstored/internal/device"
	"github.com/tapevault/bstored/internal/plugin"
	"github.com/tapevault/bstored/internal/sderrors"
)

// StreamHeader is one (file_index, stream_id) pair from the upstream
// file-side agent; info is intentionally not modeled (spec.md §4.2 "info
// is ignored by the engine").
type StreamHeader struct {
	FileIndex int32
	StreamID  int32
}

// Upstream is the source of stream headers and their data messages. A
// false second return from either method means "no more", matching the
// (stream-header, data*, EOD) triple shape (spec.md §4.2).
type Upstream interface {
	NextHeader() (StreamHeader, bool, error)
	NextData(hdr StreamHeader) ([]byte, bool, error)
}

// MountNextVolumeFunc hands control to the mount subsystem (internal/
// reserve) to obtain a successor volume after end-of-medium.
type MountNextVolumeFunc func(d *dcr.DCR) error

// AppendSession drives one job's write session against its reserved DCR.
// It holds no state shared across sessions; create one per session.
type AppendSession struct {
	DCR       *dcr.DCR
	Hooks     plugin.Hooks
	JobMedia  JobMediaSink
	MountNext MountNextVolumeFunc

	RetryAttempts int
	RetryDelay    time.Duration

	MaxVolumeSize int64
	MaxFileSize   int64

	jobBytes      uint64
	fileSize      int64
	fileCount     uint32
	prevFileIndex int32
	haveFileIndex bool
	startTime     time.Time
}

// JobBytes returns the data-record byte count accumulated so far (spec.md
// §4.2 "job_bytes incremented only after a successful write_record_to_block
// for data records").
func (s *AppendSession) JobBytes() uint64 { return s.jobBytes }

// NewAppendSession creates a session with the retry defaults spec.md §5
// names (3 attempts, 5s delay for EBUSY). MaxVolumeSize/MaxFileSize default
// to the device's configured caps (spec.md §6.7 "max_volume_size"/
// "max_file_size"), falling back to an effectively unbounded 1<<40 only
// when the operator left a cap unset; callers may still override either
// field on the returned session before calling Run.
func NewAppendSession(d *dcr.DCR, hooks plugin.Hooks, sink JobMediaSink, mountNext MountNextVolumeFunc) *AppendSession {
	if hooks == nil {
		hooks = plugin.NopHooks{}
	}
	maxVolume := d.Device.MaxVolumeSize
	if maxVolume <= 0 {
		maxVolume = 1 << 40
	}
	maxFile := d.Device.MaxFileSize
	if maxFile <= 0 {
		maxFile = 1 << 40
	}
	return &AppendSession{
		DCR:           d,
		Hooks:         hooks,
		JobMedia:      sink,
		MountNext:     mountNext,
		RetryAttempts: 3,
		RetryDelay:    5 * time.Second,
		MaxVolumeSize: maxVolume,
		MaxFileSize:   maxFile,
	}
}

// Run executes the full append contract: acquire, SOS, stream-header
// loop, EOS, release (spec.md §4.2 steps 1-7).
func (s *AppendSession) Run(up Upstream) error {
	d := s.DCR
	d.MLock()
	defer d.MUnlock()
	d.Device.AcquireForAppend()
	defer d.Device.ReleaseAppend()
	d.Device.IncWriters()
	defer d.Device.DecWriters()

	d.FirstFileIndex, d.LastFileIndex = 0, 0
	s.startTime = time.Now()
	s.fileCount = 1
	d.WillWrite = true

	if d.Block == nil {
		d.Block = block.NewBlock(deviceBlockSize(d.Device), block.FormatVersion2, true)
		d.Block.VolSessionID = sessionIDFromDCR(d)
		d.Block.VolSessionTime = uint32(s.startTime.Unix())
		d.Block.Reset()
	}

	s.Hooks.OnJobStart(d.Job.ID)

	sos := &block.Record{
		VolSessionID:   d.Block.VolSessionID,
		VolSessionTime: d.Block.VolSessionTime,
		FileIndex:      block.FileIndexSOS,
		StreamID:       0,
		Data:           []byte(d.Job.ID),
	}
	if err := s.writeRecord(sos); err != nil {
		return s.fail(err)
	}

	sessionFirstHeader := true
	for {
		if d.Job.Canceled() {
			return s.cancel()
		}

		hdr, ok, err := up.NextHeader()
		if err != nil {
			return s.fail(jujuerrors.Annotate(err, "reading stream header"))
		}
		if !ok {
			break
		}

		if err := s.validateSequencing(hdr, sessionFirstHeader); err != nil {
			d.Job.Status = dcr.JobIncomplete
			s.Hooks.OnJobEnd(d.Job.ID, d.Job.Status.String())
			return err
		}
		sessionFirstHeader = false
		s.prevFileIndex = hdr.FileIndex
		s.haveFileIndex = true

		for {
			data, ok, err := up.NextData(hdr)
			if err != nil {
				return s.fail(jujuerrors.Annotate(err, "reading stream data"))
			}
			if !ok {
				break
			}
			rec := &block.Record{
				VolSessionID:   d.Block.VolSessionID,
				VolSessionTime: d.Block.VolSessionTime,
				FileIndex:      hdr.FileIndex,
				StreamID:       hdr.StreamID,
				Data:           data,
			}
			if err := s.writeRecord(rec); err != nil {
				return s.fail(err)
			}
			if err := s.Hooks.OnWriteRecord(d.Job.ID, rec); err != nil {
				return s.fail(err)
			}
		}
	}

	eos := &block.Record{
		VolSessionID:   d.Block.VolSessionID,
		VolSessionTime: d.Block.VolSessionTime,
		FileIndex:      block.FileIndexEOS,
		StreamID:       0,
		Data:           []byte(d.Job.ID),
	}
	if err := s.writeRecord(eos); err != nil {
		return s.fail(err)
	}
	if err := s.flushBlock(); err != nil {
		return s.fail(err)
	}

	d.Device.Catalog.Files = s.fileCount
	d.Job.Status = dcr.JobTerminated
	s.Hooks.OnJobEnd(d.Job.ID, d.Job.Status.String())
	return nil
}

func (s *AppendSession) fail(err error) error {
	s.DCR.Job.Status = dcr.JobErrorTerminated
	s.Hooks.OnJobEnd(s.DCR.Job.ID, s.DCR.Job.Status.String())
	return err
}

// cancel terminates the session with JobCanceled, distinct from fail's
// JobErrorTerminated (spec.md §3 JOB "canceled is not an error").
func (s *AppendSession) cancel() error {
	s.DCR.Job.Status = dcr.JobCanceled
	s.Hooks.OnJobEnd(s.DCR.Job.ID, s.DCR.Job.Status.String())
	return sderrors.New(sderrors.KindCancellation, "job canceled")
}

func (s *AppendSession) validateSequencing(hdr StreamHeader, firstHeader bool) error {
	if firstHeader && s.DCR.Job.Rerun.Rerunning {
		return nil
	}
	if hdr.FileIndex < s.prevFileIndex || hdr.FileIndex > s.prevFileIndex+1 {
		return sderrors.New(sderrors.KindDataIntegrity, "stream header file_index out of sequence")
	}
	return nil
}

// writeRecord implements write_record(record): append into the current
// block, flushing (and mounting a successor volume on end-of-medium) as
// many times as needed to place the whole record (spec.md §4.2).
func (s *AppendSession) writeRecord(rec *block.Record) error {
	d := s.DCR

	for block.SerializeRecordHeader(d.Block, rec) == block.NeedMoreSpace {
		if err := s.flushAndContinue(rec, false); err != nil {
			return err
		}
	}

	for {
		outcome := block.WriteRecordPayloadSlice(d.Block, rec)
		if outcome == block.Complete {
			break
		}
		if err := s.flushAndContinue(rec, true); err != nil {
			return err
		}
	}

	if !rec.IsLabel() {
		s.jobBytes += uint64(rec.DataLen())
	}
	return nil
}

// flushAndContinue flushes the current block and, if continuation is
// true, writes a continuation header for rec into the fresh block before
// returning (spec.md §4.2 "the first block on the successor volume is the
// continuation block for this record").
func (s *AppendSession) flushAndContinue(rec *block.Record, continuation bool) error {
	if err := s.flushBlock(); err != nil {
		return err
	}
	if continuation {
		if block.SerializeRecordContinuation(s.DCR.Block, rec) == block.NeedMoreSpace {
			return sderrors.New(sderrors.KindDataIntegrity, "continuation header does not fit in a fresh block")
		}
	}
	return nil
}

func deviceBlockSize(dev *device.Device) int {
	if dev.MaxBlockSize > 0 {
		return dev.MaxBlockSize
	}
	return 64 * 1024
}

func sessionIDFromDCR(d *dcr.DCR) uint32 {
	return uint32(d.ID)
}
