package block

// Record is one logical unit handed to/from the record engine
// (spec.md §3 RECORD).
type Record struct {
	VolSessionID   uint32
	VolSessionTime uint32
	FileIndex      int32
	StreamID       int32
	Data           []byte
	Remainder      int
}

// DataLen is the full payload length (spec.md calls this data_len).
func (r *Record) DataLen() int { return len(r.Data) }

// IsLabel reports whether FileIndex is one of the sentinel marker values
// rather than a positive data-record file index.
func (r *Record) IsLabel() bool { return r.FileIndex < 0 }

// Key identifies the (session id, session time) pair a continuation
// record must match (spec.md §3 invariants).
type Key struct {
	VolSessionID   uint32
	VolSessionTime uint32
}

func (r *Record) Key() Key {
	return Key{VolSessionID: r.VolSessionID, VolSessionTime: r.VolSessionTime}
}

// Clone returns a deep copy suitable for handing to a callback that may
// outlive the next ParseRecordFromBlock call.
func (r *Record) Clone() *Record {
	data := make([]byte, len(r.Data))
	copy(data, r.Data)
	return &Record{
		VolSessionID:   r.VolSessionID,
		VolSessionTime: r.VolSessionTime,
		FileIndex:      r.FileIndex,
		StreamID:       r.StreamID,
		Data:           data,
	}
}
