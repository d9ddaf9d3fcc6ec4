package record

// JobMediaRecord is the logical tuple persisted at volume/file boundaries
// (spec.md §6.4). internal/record emits these; how they reach the catalog
// is a director-channel concern out of scope here.
type JobMediaRecord struct {
	JobID      string
	VolumeName string
	FirstIndex int32
	LastIndex  int32
	StartFile  uint32
	StartBlock uint32
	EndFile    uint32
	EndBlock   uint32
	MediaID    string
}

// JobMediaSink receives JobMediaRecord emissions. A nil sink is valid; the
// append pipeline simply does not persist them (used by btape/tests).
type JobMediaSink interface {
	EmitJobMedia(JobMediaRecord) error
}
