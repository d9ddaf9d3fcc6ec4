package device

// VolumeStatus mirrors the closed set of catalog volume statuses the mount
// protocol and end-of-medium handling transition between (spec.md §4.6).
type VolumeStatus int

const (
	VolStatusAppend VolumeStatus = iota
	VolStatusFull
	VolStatusUsed
	VolStatusRecycle
	VolStatusPurged
	VolStatusError
	VolStatusDisabled
	VolStatusArchive
	VolStatusReadOnly
)

func (s VolumeStatus) String() string {
	switch s {
	case VolStatusAppend:
		return "Append"
	case VolStatusFull:
		return "Full"
	case VolStatusUsed:
		return "Used"
	case VolStatusRecycle:
		return "Recycle"
	case VolStatusPurged:
		return "Purged"
	case VolStatusError:
		return "Error"
	case VolStatusDisabled:
		return "Disabled"
	case VolStatusArchive:
		return "Archive"
	case VolStatusReadOnly:
		return "Read-Only"
	default:
		return "Unknown"
	}
}

// CatalogInfo is the device's mirror of the catalog's view of the volume
// currently mounted on it (spec.md §3 DEVICE "volume_catalog_info mirror").
// It is kept in sync by the record engine and reservation engine, not by
// direct catalog I/O, which original_source's catreq.c instead performs
// over the director connection — out of scope here (spec.md §1).
type CatalogInfo struct {
	VolumeName string
	Bytes      uint64
	Files      uint32
	Blocks     uint64
	Jobs       uint32
	MaxJobs    uint32
	Status     VolumeStatus
}

// Reset clears catalog fields back to a freshly labeled, empty volume.
func (c *CatalogInfo) Reset(name string) {
	c.VolumeName = name
	c.Bytes = 0
	c.Files = 0
	c.Blocks = 0
	c.Status = VolStatusAppend
}
