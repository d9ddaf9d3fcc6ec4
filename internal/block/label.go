package block

import (
	"encoding/binary"
)

// SessionLabel is the payload carried by SOS/EOS marker records: job
// metadata at session start and end (spec.md §3 SESSION LABEL). The codec
// treats it as opaque content-addressed bytes; this type is the one place
// that gives it structure, for callers that want to read/write it.
type SessionLabel struct {
	JobID       uint32
	SessionID   uint32
	SessionTime uint32
	PoolName    string
	VolumeName  string
	FileCount   uint64
	ByteCount   uint64
}

// Encode serializes a SessionLabel to bytes for use as a Record.Data payload.
func (l *SessionLabel) Encode() []byte {
	buf := make([]byte, 4+4+4+8+8+2+len(l.PoolName)+2+len(l.VolumeName))
	order := binary.BigEndian
	off := 0
	order.PutUint32(buf[off:], l.JobID)
	off += 4
	order.PutUint32(buf[off:], l.SessionID)
	off += 4
	order.PutUint32(buf[off:], l.SessionTime)
	off += 4
	order.PutUint64(buf[off:], l.FileCount)
	off += 8
	order.PutUint64(buf[off:], l.ByteCount)
	off += 8
	order.PutUint16(buf[off:], uint16(len(l.PoolName)))
	off += 2
	copy(buf[off:], l.PoolName)
	off += len(l.PoolName)
	order.PutUint16(buf[off:], uint16(len(l.VolumeName)))
	off += 2
	copy(buf[off:], l.VolumeName)
	return buf
}

// DecodeSessionLabel parses a SessionLabel out of SOS/EOS record payload.
func DecodeSessionLabel(data []byte) (*SessionLabel, error) {
	order := binary.BigEndian
	if len(data) < 4+4+4+8+8+2 {
		return nil, ErrBlockTooLarge
	}
	l := &SessionLabel{}
	off := 0
	l.JobID = order.Uint32(data[off:])
	off += 4
	l.SessionID = order.Uint32(data[off:])
	off += 4
	l.SessionTime = order.Uint32(data[off:])
	off += 4
	l.FileCount = order.Uint64(data[off:])
	off += 8
	l.ByteCount = order.Uint64(data[off:])
	off += 8
	poolLen := int(order.Uint16(data[off:]))
	off += 2
	if off+poolLen+2 > len(data) {
		return nil, ErrBlockTooLarge
	}
	l.PoolName = string(data[off : off+poolLen])
	off += poolLen
	volLen := int(order.Uint16(data[off:]))
	off += 2
	if off+volLen > len(data) {
		return nil, ErrBlockTooLarge
	}
	l.VolumeName = string(data[off : off+volLen])
	return l, nil
}
