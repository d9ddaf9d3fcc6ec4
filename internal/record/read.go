package record

import (
	"errors"
	"io"

	jujuerrors "github.com/juju/errors"

	"github.com/tapevault/bstored/internal/block"
	"github.com/tapevault/bstored/internal/bsr"
	"github.com/tapevault/bstored/internal/dcr"
	"github.com/tapevault/bstored/internal/device"
	"github.com/tapevault/bstored/internal/plugin"
	"github.com/tapevault/bstored/internal/sderrors"
)

// Downstream receives records the read pipeline has decided to deliver,
// after BSR filtering (spec.md §4.3).
type Downstream interface {
	DeliverRecord(rec *block.Record) error
}

// ReadSession drives one job's restore/verify session against its reserved
// DCR. A nil Filter reads every record on the volume (spec.md §4.3 "a
// session with no BSR reads everything").
type ReadSession struct {
	DCR      *dcr.DCR
	Hooks    plugin.Hooks
	Filter   *bsr.BSR
	Down     Downstream

	inFlight map[block.Key]*block.Record
	curFile  uint32
	curBlock uint32
}

// NewReadSession creates a session ready to run. Filter may be nil.
func NewReadSession(d *dcr.DCR, hooks plugin.Hooks, filter *bsr.BSR, down Downstream) *ReadSession {
	if hooks == nil {
		hooks = plugin.NopHooks{}
	}
	return &ReadSession{
		DCR:      d,
		Hooks:    hooks,
		Filter:   filter,
		Down:     down,
		inFlight: make(map[block.Key]*block.Record),
	}
}

// Run executes the read contract: position, block loop, record loop, BSR
// filtering and exhaustion, forge_on-gated damage tolerance (spec.md §4.3).
func (s *ReadSession) Run() error {
	d := s.DCR
	d.MLock()
	defer d.MUnlock()
	d.Device.AcquireForRead()
	defer d.Device.ReleaseRead()
	d.Device.IncReaders()
	defer d.Device.DecReaders()

	s.Hooks.OnJobStart(d.Job.ID)

	if err := s.positionFromFilter(); err != nil {
		return s.fail(err)
	}

	if d.Block == nil {
		d.Block = block.NewBlock(deviceBlockSize(d.Device), block.FormatVersion2, true)
	}

	for {
		if d.Job.Canceled() {
			return s.cancel()
		}

		outcome, err := s.readNextBlock()
		if err == errRestoreDone {
			break
		}
		if err != nil {
			return s.fail(err)
		}
		if outcome == blockSkip {
			continue
		}
		if outcome == blockExhausted {
			break
		}

		done, err := s.drainRecords()
		if err != nil {
			return s.fail(err)
		}
		if done {
			break
		}
	}

	d.Job.Status = dcr.JobTerminated
	s.Hooks.OnJobEnd(d.Job.ID, d.Job.Status.String())
	return nil
}

func (s *ReadSession) fail(err error) error {
	s.DCR.Job.Status = dcr.JobErrorTerminated
	s.Hooks.OnJobEnd(s.DCR.Job.ID, s.DCR.Job.Status.String())
	return err
}

// cancel terminates the session with JobCanceled, distinct from fail's
// JobErrorTerminated (spec.md §3 JOB "canceled is not an error").
func (s *ReadSession) cancel() error {
	s.DCR.Job.Status = dcr.JobCanceled
	s.Hooks.OnJobEnd(s.DCR.Job.ID, s.DCR.Job.Status.String())
	return sderrors.New(sderrors.KindCancellation, "job canceled")
}

// positionFromFilter seeks to the active BSR interval's declared start
// address, if a filter is configured; without one, reading begins wherever
// the device is currently positioned (typically just after the label, per
// the mount protocol).
func (s *ReadSession) positionFromFilter() error {
	if s.Filter == nil {
		return nil
	}
	file, blockNum, ok := s.Filter.GetBsrStartAddr()
	if !ok {
		return nil
	}
	dev := s.DCR.Device
	if !dev.Backend.Capabilities().Has(device.CapBSR) {
		return nil
	}
	return dev.Backend.Seek(device.Addr(file, blockNum))
}

type blockOutcome int

const (
	blockHasRecords blockOutcome = iota
	blockSkip
	blockExhausted
)

var errRestoreDone = jujuerrors.New("restore session complete")

// readNextBlock reads and parses one physical block, handling end-of-file/
// end-of-medium markers, short/damaged blocks (gated by ForgeOn), and the
// legacy ANSI/IBM label skip, then applies the cheap block-level BSR
// pre-filter (spec.md §4.3, §4.4).
func (s *ReadSession) readNextBlock() (blockOutcome, error) {
	d := s.DCR
	dev := d.Device
	blk := d.Block

	n, err := dev.Backend.Read(blk.Buf)
	if errors.Is(err, device.ErrUnsupportedOp) && n > len(blk.Buf) {
		// the physical block is larger than the current buffer; grow and
		// retry the same read position (spec.md §4.3 auto-sizing).
		grown := make([]byte, n)
		blk.Buf = grown
		n, err = dev.Backend.Read(blk.Buf)
	}
	if err != nil {
		return s.classifyReadError(err)
	}
	if n == 0 {
		return blockExhausted, errRestoreDone
	}

	if looksLikeANSILabel(blk.Buf[:n]) {
		// legacy ANSI/IBM 80-byte tape label block; not part of the
		// engine's own framing, skip it and read the next physical block.
		return blockSkip, nil
	}

	result := block.ParseBlockHeader(blk, n, true, d.Job.Recovery.ForgeOn, false, nil)
	switch result {
	case block.ParseSanityFailed:
		if blk.Used > len(blk.Buf) {
			// reported block_len exceeds the current buffer; reallocate
			// and let the caller retry the read at the same position.
			grown := make([]byte, blk.Used)
			blk.Buf = grown
			if err := dev.Backend.BackwardSpaceRecord(1); err != nil {
				return blockExhausted, jujuerrors.Annotate(err, "backspacing to re-read an oversized block")
			}
			return blockSkip, nil
		}
		if d.Job.Recovery.ContinueOnShortBlock {
			return blockSkip, nil
		}
		return blockExhausted, sderrors.New(sderrors.KindDataIntegrity, "short or malformed block")
	case block.ParseInvalidMagic:
		return blockExhausted, sderrors.New(sderrors.KindDataIntegrity, "invalid block magic")
	case block.ParseChecksumMismatch:
		return blockExhausted, sderrors.New(sderrors.KindDataIntegrity, "block checksum mismatch")
	}

	pos := dev.Backend.Position()
	s.curFile, s.curBlock = pos.File, pos.Block
	blk.ResetReadCursor()

	if s.Filter != nil {
		if s.Filter.MatchBlock(blk, s.curFile, s.curBlock) == bsr.BlockNoMatch {
			return blockSkip, nil
		}
	}
	return blockHasRecords, nil
}

// classifyReadError maps a backend I/O error to the corresponding read
// policy: EOF marks advance past a file boundary and keep reading, EOM/EOT
// end the session cleanly, anything else is fatal unless ContinueOnShortBlock.
func (s *ReadSession) classifyReadError(err error) (blockOutcome, error) {
	d := s.DCR
	switch {
	case errors.Is(err, io.EOF):
		return blockExhausted, errRestoreDone
	case errors.Is(err, device.ErrEndOfFile):
		// a file mark mid-stream, surfaced by ForwardSpace* rather than
		// Read itself on this backend; treat as a boundary and continue.
		return blockSkip, nil
	case errors.Is(err, device.ErrEndOfMedium), sderrors.Is(err, sderrors.KindEndOfMedium):
		return blockExhausted, errRestoreDone
	case d.Job.Recovery.ContinueOnShortBlock:
		return blockSkip, nil
	default:
		return blockExhausted, jujuerrors.Annotate(err, "reading block")
	}
}

// looksLikeANSILabel applies the heuristic original_source's label.c uses
// to skip foreign ANSI/IBM 80-byte tape labels ("VOL1"/"HDR1" at offset 0,
// fixed 80-byte records) that sometimes precede the engine's own volume
// label on media written by other tools.
func looksLikeANSILabel(buf []byte) bool {
	if len(buf) != 80 {
		return false
	}
	prefix := string(buf[0:4])
	return prefix == "VOL1" || prefix == "HDR1" || prefix == "EOF1" || prefix == "EOV1"
}

// drainRecords parses every record out of the current block, applying BSR
// filtering and continuation tracking, until the block is exhausted or the
// BSR signals the whole read is done.
func (s *ReadSession) drainRecords() (bool, error) {
	blk := s.DCR.Block
	for {
		rec := s.currentRecordFor(blk)
		outcome := block.ParseRecordFromBlock(blk, rec)
		switch outcome {
		case block.NeedMoreBlock:
			s.stashInFlight(rec)
			return false, nil
		case block.NoMatch:
			return false, sderrors.New(sderrors.KindDataIntegrity, "continuation record session mismatch")
		}

		delete(s.inFlight, rec.Key())

		if rec.IsLabel() {
			if err := s.handleLabel(rec); err != nil {
				return false, err
			}
			continue
		}

		deliver := true
		if s.Filter != nil {
			switch s.Filter.MatchRecord(rec, s.DCR.VolumeName, s.curFile, s.curBlock) {
			case bsr.NoMatch:
				deliver = false
			case bsr.Exhausted:
				return true, nil
			}
		}
		if deliver {
			if s.Down != nil {
				if err := s.Down.DeliverRecord(rec); err != nil {
					return false, jujuerrors.Annotate(err, "delivering record")
				}
			}
			if err := s.Hooks.OnReadRecord(s.DCR.Job.ID, rec); err != nil {
				return false, err
			}
			if s.Filter != nil && s.Filter.IsThisBsrDone(rec, s.curFile, s.curBlock) {
				s.Filter.Advance()
				if s.Filter.Done() {
					return true, nil
				}
			}
		}
	}
}

// currentRecordFor returns the in-flight Record a continuation header in
// blk should append to, or a fresh Record for a new header.
func (s *ReadSession) currentRecordFor(blk *block.Block) *block.Record {
	key := block.Key{VolSessionID: blk.VolSessionID, VolSessionTime: blk.VolSessionTime}
	if rec, ok := s.inFlight[key]; ok {
		return rec
	}
	return &block.Record{}
}

func (s *ReadSession) stashInFlight(rec *block.Record) {
	s.inFlight[rec.Key()] = rec
}

// handleLabel dispatches the sentinel FileIndex values to their session
// bookkeeping; SOS/EOS bound a job's records, VOL/EOM/EOT are volume-level
// markers the read loop otherwise just steps over (spec.md §6.2).
func (s *ReadSession) handleLabel(rec *block.Record) error {
	switch rec.FileIndex {
	case block.FileIndexSOS:
		s.DCR.FirstFileIndex = 0
	case block.FileIndexEOS:
		// session end; nothing further to reset here, the block loop
		// continues to the next session's SOS or end of volume.
	case block.FileIndexEOM, block.FileIndexEOT:
		return nil
	}
	return nil
}
