package block

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestBlock(version int, checksumEnabled bool, size int) *Block {
	b := NewBlock(size, version, checksumEnabled)
	b.Reset()
	return b
}

func writeOneRecord(t *testing.T, b *Block, rec *Record) {
	t.Helper()
	outcome := SerializeRecordHeader(b, rec)
	require.Equal(t, WroteFull, outcome)
	for {
		po := WriteRecordPayloadSlice(b, rec)
		if po == Complete {
			break
		}
		t.Fatal("payload did not fit in a single block in this test helper")
	}
}

func readOneRecord(t *testing.T, b *Block) *Record {
	t.Helper()
	rec := &Record{}
	outcome := ParseRecordFromBlock(b, rec)
	require.Equal(t, HaveHeader, outcome)
	return rec
}

// P1: decode(encode(R)) == R for both format versions, checksum on/off.
func TestBlockRoundtrip(t *testing.T) {
	for _, version := range []int{FormatVersion1, FormatVersion2} {
		for _, checksum := range []bool{true, false} {
			b := newTestBlock(version, checksum, 4096)
			b.VolSessionID = 7
			b.VolSessionTime = 42

			recs := []*Record{
				{VolSessionID: 7, VolSessionTime: 42, FileIndex: 1, StreamID: 1, Data: []byte("hello")},
				{VolSessionID: 7, VolSessionTime: 42, FileIndex: 1, StreamID: 2, Data: []byte("world!!")},
			}
			for _, r := range recs {
				writeOneRecord(t, b, r)
			}

			checksumVal := SerializeBlockHeader(b, checksum)
			if checksum {
				require.NotZero(t, checksumVal)
			} else {
				require.Zero(t, checksumVal)
			}

			// Parse it back via a fresh block view over the same bytes.
			parsed := NewBlock(len(b.Buf), version, checksum)
			copy(parsed.Buf, b.Buf[:b.Used])
			res := ParseBlockHeader(parsed, b.Used, checksum, false, false, nil)
			require.Equal(t, ParseOK, res)
			require.Equal(t, b.BlockNumber, parsed.BlockNumber)

			for _, want := range recs {
				got := readOneRecord(t, parsed)
				require.Equal(t, want.FileIndex, got.FileIndex)
				require.Equal(t, want.StreamID, got.StreamID)
				require.Equal(t, want.Data, got.Data)
				require.Equal(t, want.VolSessionID, got.VolSessionID)
				require.Equal(t, want.VolSessionTime, got.VolSessionTime)
			}
		}
	}
}

// P2: a record split across two blocks reassembles, with the continuation
// header carrying -stream_id and the remaining length.
func TestContinuationIntegrity(t *testing.T) {
	version := FormatVersion2
	payload := make([]byte, 200)
	for i := range payload {
		payload[i] = byte(i)
	}
	rec := &Record{VolSessionID: 1, VolSessionTime: 2, FileIndex: 5, StreamID: 9, Data: payload}

	// First block has room for the header and only the first 50 bytes.
	b1 := newTestBlock(version, false, headerLen(version)+recordHeaderLen(version)+50)
	b1.VolSessionID = 1
	b1.VolSessionTime = 2
	require.Equal(t, WroteFull, SerializeRecordHeader(b1, rec))
	require.Equal(t, Partial, WriteRecordPayloadSlice(b1, rec))
	require.Equal(t, 150, rec.Remainder)

	// Second block continues with a negated stream id and the remainder.
	b2 := newTestBlock(version, false, headerLen(version)+recordHeaderLen(version)+150)
	b2.VolSessionID = 1
	b2.VolSessionTime = 2
	require.Equal(t, WroteFull, SerializeRecordContinuation(b2, rec))
	require.Equal(t, Complete, WriteRecordPayloadSlice(b2, rec))
	require.Equal(t, 0, rec.Remainder)

	// Reassemble by reading b1 then b2 into the same Record.
	got := &Record{}
	require.Equal(t, NeedMoreBlock, ParseRecordFromBlock(b1, got))
	require.Equal(t, 50, len(got.Data))
	require.Equal(t, HaveHeader, ParseRecordFromBlock(b2, got))
	require.Equal(t, payload, got.Data)
}

// P3: flipping a payload byte causes a checksum mismatch unless forgeOn.
func TestChecksumMismatchDetection(t *testing.T) {
	version := FormatVersion2
	b := newTestBlock(version, true, 4096)
	b.VolSessionID = 3
	b.VolSessionTime = 4
	rec := &Record{VolSessionID: 3, VolSessionTime: 4, FileIndex: 1, StreamID: 1, Data: []byte("payload-bytes")}
	writeOneRecord(t, b, rec)
	SerializeBlockHeader(b, true)

	corrupt := NewBlock(len(b.Buf), version, true)
	copy(corrupt.Buf, b.Buf[:b.Used])
	corrupt.Buf[b.Used-1] ^= 0xFF

	res := ParseBlockHeader(corrupt, b.Used, true, false, false, nil)
	require.Equal(t, ParseChecksumMismatch, res)

	// forgeOn swallows the mismatch and returns OK so reading can continue.
	forgive := NewBlock(len(b.Buf), version, true)
	copy(forgive.Buf, b.Buf[:b.Used])
	forgive.Buf[b.Used-1] ^= 0xFF
	res = ParseBlockHeader(forgive, b.Used, true, true, false, nil)
	require.Equal(t, ParseOK, res)
}

func TestParseBlockHeaderInvalidMagic(t *testing.T) {
	b := NewBlock(64, FormatVersion2, false)
	copy(b.Buf[12:16], []byte("XXXX"))
	res := ParseBlockHeader(b, 64, false, false, false, nil)
	require.Equal(t, ParseInvalidMagic, res)
}

func TestParseBlockHeaderSanityFailure(t *testing.T) {
	b := NewBlock(64, FormatVersion2, false)
	b.Used = 64
	SerializeBlockHeader(b, false)
	// Corrupt block_len to exceed MaxBlockLength.
	be := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	copy(b.Buf[4:8], be)
	res := ParseBlockHeader(b, 64, false, false, false, nil)
	require.Equal(t, ParseSanityFailed, res)
}

// Boundary: a record of exactly min_block_size - header_size bytes fits in
// a single block.
func TestExactFitSingleBlock(t *testing.T) {
	version := FormatVersion2
	hdr := headerLen(version)
	recHdr := recordHeaderLen(version)
	payloadLen := 100
	blockSize := hdr + recHdr + payloadLen

	b := newTestBlock(version, false, blockSize)
	rec := &Record{VolSessionID: 1, VolSessionTime: 1, FileIndex: 1, StreamID: 1, Data: make([]byte, payloadLen)}
	require.Equal(t, WroteFull, SerializeRecordHeader(b, rec))
	require.Equal(t, Complete, WriteRecordPayloadSlice(b, rec))
	require.Equal(t, blockSize, b.Used)
}

func TestSessionLabelRoundtrip(t *testing.T) {
	l := &SessionLabel{
		JobID:       1,
		SessionID:   2,
		SessionTime: 3,
		PoolName:    "Default",
		VolumeName:  "Vol-0001",
		FileCount:   10,
		ByteCount:   1 << 20,
	}
	data := l.Encode()
	got, err := DecodeSessionLabel(data)
	require.NoError(t, err)
	require.Equal(t, l, got)
}
