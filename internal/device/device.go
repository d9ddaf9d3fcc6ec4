// Package device implements the DEVICE entity of spec.md §3/§4.4: a
// uniform operation set over several media backends, its capability set,
// its blocked-state lock, and the bookkeeping the reservation engine and
// record engine need to treat it as shared, lockable media hardware.
package device

import (
	"context"
	"sync"
	"time"

	"github.com/tapevault/bstored/internal/devstate"
)

// ChangerControl is the minimal autochanger surface a Device needs: load a
// volume from a storage slot into this drive, or unload back. The full
// adapter (internal/changer) implements this plus inventory and status
// queries; Device only needs enough to drive the mount protocol (spec.md
// §4.6 step 2).
type ChangerControl interface {
	Load(slot int) error
	Unload() error
}

// Device is the process-lifetime representation of one configured piece of
// media hardware or file (spec.md §3 DEVICE). It is created once from
// configuration and never destroyed until process exit.
type Device struct {
	Name    string
	Backend Backend

	MinBlockSize int
	MaxBlockSize int

	// MaxFileSize/MaxVolumeSize are the operator-configured per-file and
	// end-of-medium caps (spec.md §4.2 "check the two caps... check the
	// per-file cap", §6.7). Zero means "use the session default".
	MaxFileSize   int64
	MaxVolumeSize int64

	// MaxConcurrentJobs gates num_writers+num_reserved during reservation
	// (spec.md §4.6 "per-device reservation check").
	MaxConcurrentJobs int

	// MediaType and Pool describe what this device is currently
	// configured/loaded to accept; the reservation engine compares these
	// against a director's "use storage" request.
	MediaType string
	Pool      string
	PoolType  string

	Lock *devstate.Lock

	// acquireMu serializes the "acquire device for append" critical
	// section; readAcquireMu does the same for read-acquire. spoolMu
	// guards the spool-to-despool handoff. Priority order (device mutex <
	// spool mutex < acquire mutex) must be respected by callers that hold
	// more than one at a time (spec.md §4.4 "Mutex priority discipline").
	acquireMu     sync.Mutex
	readAcquireMu sync.Mutex
	spoolMu       sync.Mutex

	// nextVolMu/nextVolCond back the wait_next_vol condition variable a
	// waiting job blocks on until this device's current volume is
	// released (spec.md §5 "reservation loop waits on the device_release
	// condition variable"). releaseGen increments on every NotifyReleased
	// so a timed-out waiter can tell a timeout wake from a real one.
	nextVolMu   sync.Mutex
	nextVolCond *sync.Cond
	releaseGen  uint64

	Catalog CatalogInfo

	NumWriters  int
	NumReserved int
	NumReaders  int

	// MountedVolume names the VOLUME entry (internal/volume) currently
	// attached to this device, empty if none.
	MountedVolume string

	Changer ChangerControl

	mu       sync.Mutex
	contexts map[uint64]struct{} // attached DCR ids, for diagnostics/status only
}

// New wires up a configured device around a backend. The backend is not
// opened here; devices may open lazily unless CapAlwaysOpen is set (spec.md
// §3 DEVICE "opened lazily").
func New(name string, backend Backend, minBlock, maxBlock int) *Device {
	d := &Device{
		Name:         name,
		Backend:      backend,
		MinBlockSize: minBlock,
		MaxBlockSize: maxBlock,
		Lock:         devstate.NewLock(),
		contexts:     make(map[uint64]struct{}),
	}
	d.nextVolCond = sync.NewCond(&d.nextVolMu)
	return d
}

// CanAppend reports the invariant spec.md §3 names: num_writers > 0 implies
// append-capable, i.e. the device is not currently serving readers.
func (d *Device) CanAppend() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.NumReaders == 0
}

// CanRead mirrors the dual invariant: read-capable implies no writers.
func (d *Device) CanRead() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.NumWriters == 0
}

func (d *Device) AttachContext(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contexts[id] = struct{}{}
}

func (d *Device) DetachContext(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.contexts, id)
}

func (d *Device) AttachedContextCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.contexts)
}

// IncWriters/DecWriters and the reader/reserved equivalents adjust the
// device's usage counters under its own mutex, independent of the rLock
// discipline devstate.Lock enforces for blocked-state transitions.
func (d *Device) IncWriters() {
	d.mu.Lock()
	d.NumWriters++
	d.mu.Unlock()
}

func (d *Device) DecWriters() {
	d.mu.Lock()
	if d.NumWriters > 0 {
		d.NumWriters--
	}
	d.mu.Unlock()
}

func (d *Device) IncReaders() {
	d.mu.Lock()
	d.NumReaders++
	d.mu.Unlock()
}

func (d *Device) DecReaders() {
	d.mu.Lock()
	if d.NumReaders > 0 {
		d.NumReaders--
	}
	d.mu.Unlock()
}

func (d *Device) IncReserved() {
	d.mu.Lock()
	d.NumReserved++
	d.mu.Unlock()
}

func (d *Device) DecReserved() {
	d.mu.Lock()
	if d.NumReserved > 0 {
		d.NumReserved--
	}
	d.mu.Unlock()
}

func (d *Device) Snapshot() (writers, reserved, readers int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.NumWriters, d.NumReserved, d.NumReaders
}

// WaitForReleaseTimeout blocks until NotifyReleased fires, ctx is done, or
// timeout elapses, whichever comes first, returning whether a real release
// was observed. Go's sync.Cond has no native timeout or context support, so
// a timer- and context-triggered broadcast race the real one; releaseGen
// lets the waiter tell the two apart.
func (d *Device) WaitForReleaseTimeout(ctx context.Context, timeout time.Duration) bool {
	d.nextVolMu.Lock()
	defer d.nextVolMu.Unlock()

	gen := d.releaseGen
	deadline := time.Now().Add(timeout)

	wake := func() {
		d.nextVolMu.Lock()
		d.nextVolCond.Broadcast()
		d.nextVolMu.Unlock()
	}
	timer := time.AfterFunc(timeout, wake)
	defer timer.Stop()
	stopCtx := context.AfterFunc(ctx, wake)
	defer stopCtx()

	for d.releaseGen == gen {
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			return false
		}
		d.nextVolCond.Wait()
	}
	return true
}

// NotifyReleased wakes all goroutines blocked in WaitForReleaseTimeout,
// called whenever this device's volume reservation is freed.
func (d *Device) NotifyReleased() {
	d.nextVolMu.Lock()
	d.releaseGen++
	d.nextVolCond.Broadcast()
	d.nextVolMu.Unlock()
}

// AcquireForAppend/ReleaseAppend bracket the append-acquire critical
// section named in spec.md §4.4. AssertHeld is a debug-build-only check
// that the device mutex < spool mutex < acquire mutex priority discipline
// is being respected by the caller (spec.md §4.4/§5, testable property P7:
// a thread holding the acquire mutex never acquires the device state
// mutex — equivalently, the device lock must already be held before the
// acquire mutex is taken).
func (d *Device) AcquireForAppend() {
	d.Lock.AssertHeld()
	d.acquireMu.Lock()
}
func (d *Device) ReleaseAppend() { d.acquireMu.Unlock() }

func (d *Device) AcquireForRead() {
	d.Lock.AssertHeld()
	d.readAcquireMu.Lock()
}
func (d *Device) ReleaseRead() { d.readAcquireMu.Unlock() }

func (d *Device) LockSpool() {
	d.Lock.AssertHeld()
	d.spoolMu.Lock()
}
func (d *Device) UnlockSpool() { d.spoolMu.Unlock() }
