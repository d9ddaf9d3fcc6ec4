// Package bsr implements the Backup Set Restrictor (spec.md §3 BSR): a
// declarative filter expression the read pipeline uses to skip unwanted
// records during restore without deserializing everything on the volume.
package bsr

import (
	"math"

	"github.com/tapevault/bstored/internal/block"
)

// Range is an inclusive bound over an int64-comparable field. A Range with
// Low == High == Unbounded matches everything on that field.
type Range struct {
	Low  int64
	High int64
}

// Unbounded marks a Range as not restricting its field.
var Unbounded = Range{Low: math.MinInt64, High: math.MaxInt64}

func (r Range) matches(v int64) bool {
	return v >= r.Low && v <= r.High
}

// Interval is one match clause over the 6-tuple spec.md §3 names: volume
// name, session id, session time, file index, block address, stream id.
// An empty VolumeName matches any volume.
type Interval struct {
	VolumeName  string
	SessionID   Range
	SessionTime Range
	FileIndex   Range
	BlockAddr   Range
	StreamID    Range

	// StartFile/StartBlock give get_bsr_start_addr a concrete seek target
	// for this interval, independent of BlockAddr (which may be
	// Unbounded when the interval instead restricts by file index).
	StartFile  uint32
	StartBlock uint32
}

// BSR is an ordered list of Intervals; the read pipeline advances through
// them as each is satisfied (spec.md §4.3 "try to reposition past the
// current BSR interval").
type BSR struct {
	Intervals []*Interval
	current   int
}

// New constructs a BSR over intervals in restore order.
func New(intervals ...*Interval) *BSR {
	return &BSR{Intervals: intervals}
}

// Done reports whether every interval has been satisfied and the read loop
// should stop entirely (spec.md §4.3 "exhausted: stop the entire read
// loop").
func (b *BSR) Done() bool {
	return b.current >= len(b.Intervals)
}

func (b *BSR) activeInterval() *Interval {
	if b.Done() {
		return nil
	}
	return b.Intervals[b.current]
}

// addr packs (file, block) into the single comparable int64 the BlockAddr
// range is expressed over, matching the device package's addressing
// convention (spec.md §4.4 "(file << 32) | block").
func addr(file, block uint32) int64 {
	return int64(file)<<32 | int64(block)
}

// MatchBlockResult reports whether a whole block can be skipped before
// parsing any of its records.
type MatchBlockResult int

const (
	BlockMaybeMatch MatchBlockResult = iota
	BlockNoMatch
)

// MatchBlock is the cheap block-level pre-filter (match_bsr_block):
// compares the block's file-index range and position against the active
// interval without touching individual records.
func (b *BSR) MatchBlock(blk *block.Block, blockFile, blockNum uint32) MatchBlockResult {
	iv := b.activeInterval()
	if iv == nil {
		return BlockNoMatch
	}
	if blk.LastFileIndex > 0 && blk.FirstFileIndex > 0 {
		if blk.LastFileIndex < int32(iv.FileIndex.Low) || blk.FirstFileIndex > int32(iv.FileIndex.High) {
			return BlockNoMatch
		}
	}
	a := addr(blockFile, blockNum)
	if !iv.BlockAddr.matches(a) && iv.BlockAddr != Unbounded {
		// block address ranges are only a hard filter once we are
		// certain the position has advanced past the interval end;
		// approaching it from below is always a maybe-match.
		if a > iv.BlockAddr.High {
			return BlockNoMatch
		}
	}
	return BlockMaybeMatch
}

// MatchResult is the outcome of the exact per-record filter.
type MatchResult int

const (
	Match MatchResult = iota
	NoMatch
	Exhausted
)

// MatchRecord is the exact filter (match_bsr): checks the record's full
// 6-tuple against the active interval, advancing to the next interval (or
// reporting Exhausted) once the record's position has moved past the
// current one.
func (b *BSR) MatchRecord(rec *block.Record, volumeName string, recordFile, recordBlock uint32) MatchResult {
	for {
		iv := b.activeInterval()
		if iv == nil {
			return Exhausted
		}
		if iv.VolumeName != "" && iv.VolumeName != volumeName {
			return NoMatch
		}
		if !iv.SessionID.matches(int64(rec.VolSessionID)) {
			return NoMatch
		}
		if !iv.SessionTime.matches(int64(rec.VolSessionTime)) {
			return NoMatch
		}
		a := addr(recordFile, recordBlock)
		pastInterval := a > iv.BlockAddr.High && iv.BlockAddr != Unbounded
		pastFileIndex := rec.FileIndex > 0 && int64(rec.FileIndex) > iv.FileIndex.High && iv.FileIndex != Unbounded
		if pastInterval || pastFileIndex {
			b.current++
			continue
		}
		if !iv.FileIndex.matches(int64(rec.FileIndex)) {
			return NoMatch
		}
		if !iv.StreamID.matches(int64(rec.StreamID)) {
			return NoMatch
		}
		return Match
	}
}

// IsThisBsrDone reports whether, after a matching delivery, the record's
// position has reached the end of the active interval so the read pipeline
// should try repositioning to the next one.
func (b *BSR) IsThisBsrDone(rec *block.Record, recordFile, recordBlock uint32) bool {
	iv := b.activeInterval()
	if iv == nil {
		return true
	}
	if iv.BlockAddr != Unbounded {
		return addr(recordFile, recordBlock) >= iv.BlockAddr.High
	}
	if iv.FileIndex != Unbounded {
		return int64(rec.FileIndex) >= iv.FileIndex.High
	}
	return false
}

// Advance moves to the next interval, used once the read pipeline has
// repositioned past the current one.
func (b *BSR) Advance() {
	b.current++
}

// GetBsrStartAddr returns the (file, block) the device should seek to
// before reading toward the active interval.
func (b *BSR) GetBsrStartAddr() (file, block uint32, ok bool) {
	iv := b.activeInterval()
	if iv == nil {
		return 0, 0, false
	}
	return iv.StartFile, iv.StartBlock, true
}
