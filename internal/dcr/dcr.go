package dcr

import (
	"sync"

	"github.com/tapevault/bstored/internal/block"
	"github.com/tapevault/bstored/internal/device"
	"github.com/tapevault/bstored/internal/devstate"
)

// IntendedMode is the DCR's requested direction of travel through its
// device, decided once at reservation time.
type IntendedMode int

const (
	ModeAppend IntendedMode = iota
	ModeRead
)

// DCR is the per-job handle through which one job touches one device
// (spec.md §3 DEVICE CONTEXT). It is created by the reservation engine and
// destroyed when the job ends; its reservation must be released first.
type DCR struct {
	ID     uint64
	Job    *Job
	Device *device.Device

	Block  *block.Block
	Record *block.Record

	VolumeName string
	PoolName   string
	PoolType   string
	MediaType  string
	Mode       IntendedMode

	WillWrite       bool
	Reserved        bool
	NewVolumeNeeded bool
	NewFileNeeded   bool
	WroteVolume     bool
	Spooling        bool
	Despooling      bool

	// StartFile/StartBlock and EndFile/EndBlock bound this DCR's write
	// extent within the current volume.
	StartFile  uint32
	StartBlock uint32
	EndFile    uint32
	EndBlock   uint32

	FirstFileIndex int32
	LastFileIndex  int32

	mu       sync.Mutex
	lockTok  devstate.LockToken
	useCount int
}

// New creates a DCR bound to a job and device, not yet reserved.
func New(id uint64, job *Job, dev *device.Device) *DCR {
	return &DCR{
		ID:      id,
		Job:     job,
		Device:  dev,
		lockTok: devstate.NewLockToken(),
	}
}

// TargetDevice satisfies internal/volume.ReserveHolder without that
// package importing dcr.
func (d *DCR) TargetDevice() *device.Device { return d.Device }

// LockToken exposes this DCR's minted lock token so callers outside the
// package (internal/reserve's mount protocol) can pass it to the
// underlying Device.Lock's BlockDevice/RLock calls directly.
func (d *DCR) LockToken() devstate.LockToken { return d.lockTok }

// MLock calls RLock on the underlying device exactly once per DCR across
// any number of nested MLock calls; MUnlock releases when the nesting
// count drops to zero (spec.md §4.4 "DCR's mLock").
func (d *DCR) MLock() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.useCount == 0 {
		d.Device.Lock.RLock(d.lockTok)
	}
	d.useCount++
}

func (d *DCR) MUnlock() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.useCount == 0 {
		return
	}
	d.useCount--
	if d.useCount == 0 {
		d.Device.Lock.RUnlock()
	}
}

// SetReserved marks the DCR reserved and bumps the device's num_reserved
// counter exactly once; idempotent.
func (d *DCR) SetReserved() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Reserved {
		return
	}
	d.Reserved = true
	d.Device.IncReserved()
}

// ClearReserved releases the reservation, decrementing num_reserved
// exactly once; idempotent.
func (d *DCR) ClearReserved() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.Reserved {
		return
	}
	d.Reserved = false
	d.Device.DecReserved()
}

// ResetForNewVolume clears per-volume transient state after a volume
// rollover (end-of-medium or explicit unmount), matching the "attached
// DCRs must re-initialize file parameters on their next use" obligation
// from spec.md §4.6.
func (d *DCR) ResetForNewVolume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.NewVolumeNeeded = false
	d.NewFileNeeded = true
	d.StartFile, d.StartBlock = 0, 0
	d.EndFile, d.EndBlock = 0, 0
}
