package record

import (
	"errors"

	"github.com/juju/clock"
	jujuerrors "github.com/juju/errors"
	"github.com/juju/retry"

	"github.com/tapevault/bstored/internal/block"
	"github.com/tapevault/bstored/internal/device"
	"github.com/tapevault/bstored/internal/sderrors"
)

// flushBlock implements write_block_to_device (spec.md §4.2): JobMedia
// boundary bookkeeping, padding, checksum embed, the two volume caps, the
// per-file cap, the EBUSY retry, and end-of-medium handling.
func (s *AppendSession) flushBlock() error {
	d := s.DCR
	blk := d.Block

	if d.NewVolumeNeeded || d.NewFileNeeded {
		if err := s.emitJobMediaBoundary(); err != nil {
			return err
		}
		d.StartFile, d.StartBlock = d.EndFile, d.EndBlock
		d.NewVolumeNeeded = false
		d.NewFileNeeded = false
	}

	// The header records the unpadded length, so a reader stops at the
	// last record instead of parsing the zero padding.
	block.SerializeBlockHeader(blk, blk.ChecksumEnabled)
	s.padToGranularity(blk)

	projectedBytes := int64(d.Device.Catalog.Bytes) + int64(blk.Used)
	volumeCap := s.MaxVolumeSize
	if d.Device.Catalog.Bytes > 0 && volumeCap == 0 {
		volumeCap = 1 << 62
	}
	if volumeCap > 0 && projectedBytes >= volumeCap {
		return s.terminateVolume()
	}

	if s.MaxFileSize > 0 && s.fileSize+int64(blk.Used) >= s.MaxFileSize {
		if err := s.writeEndOfFile(1); err != nil {
			return err
		}
		s.fileSize = 0
		s.fileCount++
		d.NewFileNeeded = true
		if err := s.emitJobMediaBoundary(); err != nil {
			return err
		}
	}

	if err := s.writeWithRetry(blk.Buf[:blk.Used]); err != nil {
		return err
	}

	d.Device.Catalog.Bytes += uint64(blk.Used)
	d.Device.Catalog.Blocks++
	s.fileSize += int64(blk.Used)
	pos := d.Device.Backend.Position()
	d.EndFile, d.EndBlock = pos.File, pos.Block
	if d.FirstFileIndex == 0 && blk.FirstFileIndex != 0 {
		d.FirstFileIndex = blk.FirstFileIndex
	}
	if blk.LastFileIndex != 0 {
		d.LastFileIndex = blk.LastFileIndex
	}
	blk.BlockNumber++
	blk.Reset()
	return nil
}

// padToGranularity pads the block's trailing bytes to zero and rounds
// Used up to a multiple of the device's minimum block size, for devices
// that are fixed-block (lacking CapAdjWriteSize).
func (s *AppendSession) padToGranularity(blk *block.Block) {
	dev := s.DCR.Device
	if dev.Backend.Capabilities().Has(device.CapAdjWriteSize) {
		return
	}
	granularity := dev.MinBlockSize
	if granularity <= 0 || blk.Used%granularity == 0 {
		return
	}
	padded := ((blk.Used / granularity) + 1) * granularity
	if padded > len(blk.Buf) {
		padded = len(blk.Buf)
	}
	for i := blk.Used; i < padded; i++ {
		blk.Buf[i] = 0
	}
	blk.Used = padded
}

// writeWithRetry issues the block write, retrying on a transient-busy
// classification per spec.md §5 (3 attempts, 5s apart), then classifies
// any remaining failure as end-of-medium or fatal.
func (s *AppendSession) writeWithRetry(buf []byte) error {
	dev := s.DCR.Device
	attempts := s.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := s.RetryDelay

	var n int
	var writeErr error
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			n, writeErr = dev.Backend.Write(buf)
			if writeErr != nil && sderrors.Is(writeErr, sderrors.KindTransientBusy) {
				return writeErr
			}
			return nil
		},
		Attempts: attempts,
		Delay:    delay,
		Clock:    clock.WallClock,
	})
	if err != nil {
		return jujuerrors.Annotate(err, "write block: transient busy retries exhausted")
	}
	if writeErr != nil {
		if errors.Is(writeErr, device.ErrEndOfMedium) {
			return s.terminateVolume()
		}
		if n < len(buf) {
			return s.terminateVolume()
		}
		if reErr := s.reReadDiagnostic(); reErr != nil {
			return jujuerrors.Annotate(writeErr, "write failed; diagnostic re-read also failed")
		}
		return jujuerrors.Annotate(writeErr, "fatal write error")
	}
	if n < len(buf) {
		return s.terminateVolume()
	}
	return nil
}

// reReadDiagnostic attempts to re-read the previously written block after
// a non-space write failure, purely as a diagnostic; its own failure does
// not change the classification of the original error.
func (s *AppendSession) reReadDiagnostic() error {
	dev := s.DCR.Device
	if !dev.Backend.Capabilities().Has(device.CapBSR) {
		return nil
	}
	buf := make([]byte, len(s.DCR.Block.Buf))
	_, err := dev.Backend.Read(buf)
	return err
}

func (s *AppendSession) writeEndOfFile(n int) error {
	return s.DCR.Device.Backend.WriteEndOfFile(n)
}

// emitJobMediaBoundary sends the current extent's JobMedia tuple to the
// sink, if one is configured.
func (s *AppendSession) emitJobMediaBoundary() error {
	if s.JobMedia == nil {
		return nil
	}
	d := s.DCR
	return s.JobMedia.EmitJobMedia(JobMediaRecord{
		JobID:      d.Job.ID,
		VolumeName: d.VolumeName,
		FirstIndex: d.FirstFileIndex,
		LastIndex:  d.LastFileIndex,
		StartFile:  d.StartFile,
		StartBlock: d.StartBlock,
		EndFile:    d.EndFile,
		EndBlock:   d.EndBlock,
	})
}

// terminateVolume implements end-of-medium handling (spec.md §4.2, §4.6):
// write the end-of-file mark, emit the final JobMedia record, update the
// catalog status to Full, re-read-verify if the device supports it, then
// hand control to the mount subsystem for a successor volume.
func (s *AppendSession) terminateVolume() error {
	d := s.DCR
	lastBlockNumber := d.Block.BlockNumber

	if err := s.writeEndOfFile(2); err != nil {
		return jujuerrors.Annotate(err, "writing end-of-volume marks")
	}
	if err := s.emitJobMediaBoundary(); err != nil {
		return err
	}
	d.Device.Catalog.Status = device.VolStatusFull

	if d.Device.Backend.Capabilities().Has(device.CapBSR) {
		if err := s.verifyReadAfterWrite(lastBlockNumber); err != nil {
			return err
		}
	}

	d.NewVolumeNeeded = true
	if s.MountNext == nil {
		return sderrors.New(sderrors.KindReservationFailure, "end of medium reached, no mount subsystem configured")
	}
	if err := s.MountNext(d); err != nil {
		return jujuerrors.Annotate(err, "mounting successor volume")
	}
	d.ResetForNewVolume()
	return nil
}

// verifyReadAfterWrite backs up over the volume-terminator marks and the
// last data block, re-reads it, and compares block_number against what
// was recorded. A delta of exactly 1 is a warning (likely driver
// miscount); anything larger is fatal data loss (spec.md §4.2).
func (s *AppendSession) verifyReadAfterWrite(lastBlockNumber uint32) error {
	dev := s.DCR.Device
	if err := dev.Backend.BackwardSpaceFile(1); err != nil {
		return nil
	}
	if err := dev.Backend.BackwardSpaceRecord(1); err != nil {
		return nil
	}
	buf := make([]byte, len(s.DCR.Block.Buf))
	n, err := dev.Backend.Read(buf)
	if err != nil {
		return nil
	}
	verify := block.NewBlock(len(buf), s.DCR.Block.FormatVersion, s.DCR.Block.ChecksumEnabled)
	copy(verify.Buf, buf[:n])
	result := block.ParseBlockHeader(verify, n, true, false, false, nil)
	if result != block.ParseOK {
		return nil
	}
	delta := int64(verify.BlockNumber) - int64(lastBlockNumber)
	if delta == 1 {
		return nil // warning-level miscount, tolerated
	}
	if delta > 1 || delta < 0 {
		return sderrors.New(sderrors.KindDataIntegrity, "re-read verification detected data loss at end of volume")
	}
	return nil
}
