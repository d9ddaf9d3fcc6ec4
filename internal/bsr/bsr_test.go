package bsr

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tapevault/bstored/internal/block"
)

func TestMatchRecordSingleInterval(t *testing.T) {
	iv := &Interval{
		VolumeName:  "Vol-0001",
		SessionID:   Range{1, 1},
		SessionTime: Unbounded,
		FileIndex:   Range{1, 5},
		BlockAddr:   Unbounded,
		StreamID:    Unbounded,
	}
	b := New(iv)

	rec := &block.Record{VolSessionID: 1, VolSessionTime: 100, FileIndex: 3, StreamID: 1}
	require.Equal(t, Match, b.MatchRecord(rec, "Vol-0001", 0, 0))

	recWrongVol := &block.Record{VolSessionID: 1, VolSessionTime: 100, FileIndex: 3, StreamID: 1}
	require.Equal(t, NoMatch, b.MatchRecord(recWrongVol, "Vol-0002", 0, 0))

	recOutOfRange := &block.Record{VolSessionID: 1, VolSessionTime: 100, FileIndex: 9, StreamID: 1}
	require.Equal(t, Exhausted, b.MatchRecord(recOutOfRange, "Vol-0001", 0, 0))
}

func TestMultipleIntervalsAdvance(t *testing.T) {
	iv1 := &Interval{VolumeName: "V", SessionID: Unbounded, SessionTime: Unbounded, FileIndex: Range{1, 2}, BlockAddr: Unbounded, StreamID: Unbounded}
	iv2 := &Interval{VolumeName: "V", SessionID: Unbounded, SessionTime: Unbounded, FileIndex: Range{5, 6}, BlockAddr: Unbounded, StreamID: Unbounded}
	b := New(iv1, iv2)

	rec1 := &block.Record{FileIndex: 1}
	require.Equal(t, Match, b.MatchRecord(rec1, "V", 0, 0))
	require.False(t, b.IsThisBsrDone(rec1, 0, 0))

	rec2 := &block.Record{FileIndex: 2}
	require.Equal(t, Match, b.MatchRecord(rec2, "V", 0, 0))
	require.True(t, b.IsThisBsrDone(rec2, 0, 0))

	b.Advance()
	rec5 := &block.Record{FileIndex: 5}
	require.Equal(t, Match, b.MatchRecord(rec5, "V", 0, 0))

	require.False(t, b.Done())
	b.Advance()
	require.True(t, b.Done())
	require.Equal(t, Exhausted, b.MatchRecord(rec5, "V", 0, 0))
}

func TestMatchBlockPreFilter(t *testing.T) {
	iv := &Interval{VolumeName: "V", SessionID: Unbounded, SessionTime: Unbounded, FileIndex: Range{10, 20}, BlockAddr: Unbounded, StreamID: Unbounded}
	b := New(iv)

	blk := block.NewBlock(64*1024, block.FormatVersion2, true)
	blk.FirstFileIndex = 1
	blk.LastFileIndex = 2
	require.Equal(t, BlockNoMatch, b.MatchBlock(blk, 0, 0))

	blk.FirstFileIndex = 15
	blk.LastFileIndex = 16
	require.Equal(t, BlockMaybeMatch, b.MatchBlock(blk, 0, 0))
}

func TestGetBsrStartAddr(t *testing.T) {
	iv := &Interval{StartFile: 2, StartBlock: 7, FileIndex: Unbounded, BlockAddr: Unbounded, SessionID: Unbounded, SessionTime: Unbounded, StreamID: Unbounded}
	b := New(iv)
	file, blk, ok := b.GetBsrStartAddr()
	require.True(t, ok)
	require.Equal(t, uint32(2), file)
	require.Equal(t, uint32(7), blk)
}
