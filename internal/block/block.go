// Package block implements the on-media BLOCK/RECORD framing: bit-exact
// serialization and parsing, nothing else (spec.md §3, §4.1, §6.1, §6.2).
package block

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/tapevault/bstored/internal/sderrors"
)

// Format versions, tagged by the on-media magic (spec.md §6.1).
const (
	FormatVersion1 = 1 // magic "BB01": session id/time travel per-record
	FormatVersion2 = 2 // magic "BB02": session id/time travel in the block header
)

var (
	magicV1 = [4]byte{'B', 'B', '0', '1'}
	magicV2 = [4]byte{'B', 'B', '0', '2'}
)

// MaxBlockLength is the largest block_len this codec will accept before
// treating it as a sanity failure (spec.md §6.1).
const MaxBlockLength = 4_000_000

// blockHeaderV1Len is the encoded size of the BB01 block header.
const blockHeaderV1Len = 4 + 4 + 4 + 4 // checksum, block_len, block_number, magic

// blockHeaderV2Len is the encoded size of the BB02 block header.
const blockHeaderV2Len = blockHeaderV1Len + 4 + 4 // + volume_session_id, volume_session_time

// Sentinel file_index values (spec.md §6.2).
const (
	FileIndexPreLabel int32 = -1
	FileIndexVolLabel int32 = -2
	FileIndexEOM      int32 = -3
	FileIndexSOS      int32 = -4
	FileIndexEOS      int32 = -5
	FileIndexEOT      int32 = -6
	FileIndexSOB      int32 = -7
	FileIndexEOB      int32 = -8
)

// recordHeaderLen is the on-media size of one record header, excluding
// the (session id, session time) pair which format version 2 omits
// (those travel in the block header instead).
const (
	recordHeaderCommonLen = 4 + 4 + 4 // file_index, stream, data_len
	recordHeaderV1Len     = 4 + 4 + recordHeaderCommonLen
	recordHeaderV2Len     = recordHeaderCommonLen
)

// Block is one unit of media I/O. Buf is reused across writes; Used is the
// number of valid bytes at the front of Buf.
type Block struct {
	BlockNumber       uint32
	VolSessionID      uint32
	VolSessionTime    uint32
	FirstFileIndex    int32
	LastFileIndex     int32
	Buf               []byte
	Used              int
	ReadFromDevice    bool
	WriteFailed       bool
	FormatVersion     int
	ChecksumEnabled   bool
	ReadErrors        int
	writeCursor       int // offset of the next record header ParseRecordFromBlock reads; zero means just after the block header
}

// NewBlock allocates a Block with the given buffer capacity.
func NewBlock(bufLen int, version int, checksumEnabled bool) *Block {
	return &Block{
		Buf:             make([]byte, bufLen),
		FormatVersion:   version,
		ChecksumEnabled: checksumEnabled,
	}
}

// Reset clears a block for reuse, preserving its buffer and block number
// (the caller advances BlockNumber on successful write).
func (b *Block) Reset() {
	b.Used = headerLen(b.FormatVersion)
	b.writeCursor = b.Used
	b.FirstFileIndex = 0
	b.LastFileIndex = 0
	b.ReadFromDevice = false
	b.WriteFailed = false
}

// ResetReadCursor rewinds the record-parse cursor to the first record
// header, for a block just populated by a fresh physical read rather than
// built up locally (ParseRecordFromBlock starts from headerLen() when the
// cursor is zero).
func (b *Block) ResetReadCursor() {
	b.writeCursor = 0
}

// FreeBytes is the remaining capacity available for record headers/payload.
func (b *Block) FreeBytes() int {
	return len(b.Buf) - b.Used
}

func headerLen(version int) int {
	if version >= FormatVersion2 {
		return blockHeaderV2Len
	}
	return blockHeaderV1Len
}

func recordHeaderLen(version int) int {
	if version >= FormatVersion2 {
		return recordHeaderV2Len
	}
	return recordHeaderV1Len
}

// SerializeBlockHeader writes the block header at offset 0 of b.Buf and
// returns the computed checksum (zero when checksumEnabled is false).
func SerializeBlockHeader(b *Block, checksumEnabled bool) uint32 {
	order := binary.BigEndian
	hdrLen := headerLen(b.FormatVersion)
	if len(b.Buf) < hdrLen {
		// caller is expected to have sized the buffer; nothing useful to
		// write, return zero checksum.
		return 0
	}

	order.PutUint32(b.Buf[4:8], uint32(b.Used))
	order.PutUint32(b.Buf[8:12], b.BlockNumber)
	if b.FormatVersion >= FormatVersion2 {
		copy(b.Buf[12:16], magicV2[:])
		order.PutUint32(b.Buf[16:20], b.VolSessionID)
		order.PutUint32(b.Buf[20:24], b.VolSessionTime)
	} else {
		copy(b.Buf[12:16], magicV1[:])
	}

	var checksum uint32
	if checksumEnabled {
		checksum = crc32.ChecksumIEEE(b.Buf[4:b.Used])
	}
	order.PutUint32(b.Buf[0:4], checksum)
	return checksum
}

// ParseResult is the outcome of ParseBlockHeader.
type ParseResult int

const (
	ParseOK ParseResult = iota
	ParseInvalidMagic
	ParseSanityFailed
	ParseChecksumMismatch
)

// ParseBlockHeader validates and decodes the block header at the front of
// b.Buf[:n] into b. checksumEnabled gates verification; forgeOn causes a
// checksum mismatch to be reported as ParseOK so the read engine can
// continue over damaged media (spec.md §4.1).
func ParseBlockHeader(b *Block, n int, checksumEnabled bool, forgeOn bool, verbose bool, onDiagnostic func(string)) ParseResult {
	if n < blockHeaderV1Len {
		return ParseSanityFailed
	}
	order := binary.BigEndian
	checksum := order.Uint32(b.Buf[0:4])
	blockLen := order.Uint32(b.Buf[4:8])
	blockNumber := order.Uint32(b.Buf[8:12])
	magic := [4]byte{b.Buf[12], b.Buf[13], b.Buf[14], b.Buf[15]}

	switch magic {
	case magicV1:
		b.FormatVersion = FormatVersion1
	case magicV2:
		b.FormatVersion = FormatVersion2
	default:
		return ParseInvalidMagic
	}

	if blockLen > MaxBlockLength {
		return ParseSanityFailed
	}
	if int(blockLen) > len(b.Buf) {
		// Signal via Used so the caller can reallocate to blockLen and retry.
		b.Used = int(blockLen)
		return ParseSanityFailed
	}

	hdrLen := headerLen(b.FormatVersion)
	if n < hdrLen {
		return ParseSanityFailed
	}

	b.BlockNumber = blockNumber
	b.Used = int(blockLen)
	if b.FormatVersion >= FormatVersion2 {
		b.VolSessionID = order.Uint32(b.Buf[16:20])
		b.VolSessionTime = order.Uint32(b.Buf[20:24])
	}

	if checksumEnabled {
		computed := crc32.ChecksumIEEE(b.Buf[4:b.Used])
		if computed != checksum {
			b.ReadErrors++
			if b.ReadErrors == 1 || verbose {
				if onDiagnostic != nil {
					onDiagnostic("block checksum mismatch")
				}
			}
			if forgeOn {
				return ParseOK
			}
			return ParseChecksumMismatch
		}
	}
	return ParseOK
}

// WriteOutcome is the result of SerializeRecordHeader.
type WriteOutcome int

const (
	WroteFull WriteOutcome = iota
	NeedMoreSpace
)

// SerializeRecordHeader writes the first header for record into b if there
// is room; otherwise it leaves b unchanged and returns NeedMoreSpace so the
// caller flushes the block first (spec.md §4.1).
func SerializeRecordHeader(b *Block, rec *Record) WriteOutcome {
	hdrLen := recordHeaderLen(b.FormatVersion)
	if b.FreeBytes() < hdrLen {
		return NeedMoreSpace
	}
	writeRecordHeader(b, rec, rec.StreamID, uint32(rec.DataLen()))
	rec.Remainder = rec.DataLen()
	updateFileIndexRange(b, rec.FileIndex)
	return WroteFull
}

// SerializeRecordContinuation writes a continuation header: stream is
// negated and data_len carries the remaining bytes, not the original
// length (spec.md §4.1, P2).
func SerializeRecordContinuation(b *Block, rec *Record) WriteOutcome {
	hdrLen := recordHeaderLen(b.FormatVersion)
	if b.FreeBytes() < hdrLen {
		return NeedMoreSpace
	}
	writeRecordHeader(b, rec, -rec.StreamID, uint32(rec.Remainder))
	updateFileIndexRange(b, rec.FileIndex)
	return WroteFull
}

func writeRecordHeader(b *Block, rec *Record, streamID int32, dataLen uint32) {
	order := binary.BigEndian
	off := b.Used
	if b.FormatVersion < FormatVersion2 {
		order.PutUint32(b.Buf[off:off+4], rec.VolSessionID)
		order.PutUint32(b.Buf[off+4:off+8], rec.VolSessionTime)
		off += 8
	}
	var fi uint32 = uint32(rec.FileIndex)
	order.PutUint32(b.Buf[off:off+4], fi)
	order.PutUint32(b.Buf[off+4:off+8], uint32(streamID))
	order.PutUint32(b.Buf[off+8:off+12], dataLen)
	off += 12
	b.Used = off
}

func updateFileIndexRange(b *Block, fileIndex int32) {
	if b.FirstFileIndex == 0 && fileIndex != 0 {
		b.FirstFileIndex = fileIndex
	}
	if fileIndex != 0 {
		b.LastFileIndex = fileIndex
	}
}

// PayloadOutcome is the result of WriteRecordPayloadSlice.
type PayloadOutcome int

const (
	Complete PayloadOutcome = iota
	Partial
)

// WriteRecordPayloadSlice copies up to b.FreeBytes() bytes from
// rec.Data[len(rec.Data)-rec.Remainder:] into b, reducing Remainder.
func WriteRecordPayloadSlice(b *Block, rec *Record) PayloadOutcome {
	free := b.FreeBytes()
	if free <= 0 || rec.Remainder == 0 {
		if rec.Remainder == 0 {
			return Complete
		}
		return Partial
	}
	start := len(rec.Data) - rec.Remainder
	n := rec.Remainder
	if n > free {
		n = free
	}
	copy(b.Buf[b.Used:b.Used+n], rec.Data[start:start+n])
	b.Used += n
	rec.Remainder -= n
	if rec.Remainder == 0 {
		return Complete
	}
	return Partial
}

// ParseOutcome is the result of ParseRecordFromBlock.
type ParseOutcome int

const (
	HaveHeader ParseOutcome = iota
	NeedMoreBlock
	NoMatch
)

// ParseRecordFromBlock reads the next record header/payload from b into
// rec. rec is reused across calls within one (session id, session time)
// pair; on a NoMatch the caller must request a new block (REC_NO_MATCH,
// spec.md §4.1).
func ParseRecordFromBlock(b *Block, rec *Record) ParseOutcome {
	order := binary.BigEndian
	off := b.writeCursor
	if off == 0 {
		off = headerLen(b.FormatVersion)
	}
	hdrLen := recordHeaderLen(b.FormatVersion)
	if off+hdrLen > b.Used {
		return NeedMoreBlock
	}

	readOff := off
	var volSessionID, volSessionTime uint32
	if b.FormatVersion < FormatVersion2 {
		volSessionID = order.Uint32(b.Buf[readOff : readOff+4])
		volSessionTime = order.Uint32(b.Buf[readOff+4 : readOff+8])
		readOff += 8
	} else {
		volSessionID = b.VolSessionID
		volSessionTime = b.VolSessionTime
	}
	fileIndex := int32(order.Uint32(b.Buf[readOff : readOff+4]))
	stream := int32(order.Uint32(b.Buf[readOff+4 : readOff+8]))
	dataLen := order.Uint32(b.Buf[readOff+8 : readOff+12])
	readOff += 12

	isContinuation := stream < 0
	if isContinuation {
		if rec.VolSessionID != volSessionID || rec.VolSessionTime != volSessionTime {
			return NoMatch
		}
		stream = -stream
	} else {
		rec.VolSessionID = volSessionID
		rec.VolSessionTime = volSessionTime
		rec.StreamID = stream
		rec.FileIndex = fileIndex
		rec.Data = rec.Data[:0]
		rec.Remainder = int(dataLen)
	}

	b.writeCursor = readOff
	avail := b.Used - readOff
	want := int(dataLen)
	if isContinuation {
		want = rec.Remainder
	}
	take := want
	if take > avail {
		take = avail
	}
	if take < 0 {
		take = 0
	}
	rec.Data = append(rec.Data, b.Buf[readOff:readOff+take]...)
	b.writeCursor = readOff + take
	rec.Remainder -= take

	if rec.Remainder > 0 {
		return NeedMoreBlock
	}
	return HaveHeader
}

// ErrBlockTooLarge is returned by callers that want to signal the specific
// "reallocate and retry" edge policy without threading a bool through.
var ErrBlockTooLarge = sderrors.New(sderrors.KindDataIntegrity, "block length exceeds buffer; reallocate and retry")
