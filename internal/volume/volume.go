// Package volume implements the VOLUME reservation object and the
// process-wide volume manager of spec.md §3/§4.5: which device currently
// holds a named volume, whether it is attached for reading or writing, and
// whether it is mid-swap between two drives.
package volume

import (
	"sync"

	"github.com/tapevault/bstored/internal/device"
)

// Volume is a process-wide registration that a named volume is currently
// attached to a specific device (spec.md §3 VOLUME).
type Volume struct {
	Name     string
	Device   *device.Device // nil when unattached ("free to move")
	InUse    bool
	Swapping bool
	Reading  bool
	Slot     int
	JobID    string // set while Reading is true

	refCount int
}

// RefCount returns the current reference count; zero means the volume is
// eligible for removal from the manager.
func (v *Volume) RefCount() int { return v.refCount }

// Manager is the process-wide ordered set of VOLUME entries keyed by
// volume name (spec.md §4.5). Exactly one entry exists per live volume
// name; the set's own lock is a reader-writer lock, read-locked for walks
// and write-locked for mutation.
type Manager struct {
	mu      sync.RWMutex
	volumes map[string]*Volume
	// order preserves insertion order for ForeachVol/ForeachReadVol,
	// since spec.md calls the set "ordered".
	order []string
}

// NewManager creates an empty volume manager.
func NewManager() *Manager {
	return &Manager{volumes: make(map[string]*Volume)}
}

// ReserveHolder is the minimal surface ReserveVolume needs from a caller;
// internal/dcr.DCR satisfies it without this package importing dcr (which
// would create an import cycle, since dcr imports device and eventually
// reserve imports both dcr and volume).
type ReserveHolder interface {
	TargetDevice() *device.Device
}

// ReserveVolume implements spec.md §4.5 reserve_volume: if an entry with
// this name exists and is attached to a different device than the caller
// wants, it is marked `swapping` on the source device so the mount engine
// can steal it; if it exists on the same device, the reference count is
// bumped and it is returned; if no entry exists, one is created pointing
// at the caller's device.
func (m *Manager) ReserveVolume(holder ReserveHolder, name string) *Volume {
	m.mu.Lock()
	defer m.mu.Unlock()

	dev := holder.TargetDevice()
	if v, ok := m.volumes[name]; ok {
		if v.Device != nil && v.Device != dev {
			v.Swapping = true
			return v
		}
		v.Device = dev
		v.InUse = true
		v.refCount++
		return v
	}
	v := &Volume{Name: name, Device: dev, InUse: true, refCount: 1}
	m.volumes[name] = v
	m.order = append(m.order, name)
	return v
}

// FreeVolume drops the device's current reservation when no DCR
// references it (spec.md §4.5 free_volume). If the reference count is
// still positive, this is a no-op beyond detaching the device pointer.
func (m *Manager) FreeVolume(dev *device.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, v := range m.volumes {
		if v.Device == dev {
			v.Device = nil
			v.InUse = false
			v.Swapping = false
			if v.refCount <= 0 {
				delete(m.volumes, name)
				m.removeOrder(name)
			}
		}
	}
}

// VolumeUnused marks the volume attached to holder's device as not in use,
// making it eligible for another drive to acquire (spec.md §4.5
// volume_unused). The reservation object itself is not removed; only
// InUse is cleared.
func (m *Manager) VolumeUnused(holder ReserveHolder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dev := holder.TargetDevice()
	for _, v := range m.volumes {
		if v.Device == dev {
			v.InUse = false
		}
	}
}

// CanIUseVolume queries whether the named volume is free to attach to
// holder's device: either unreserved, already attached to the same
// device, or not InUse on another device (spec.md §4.5 can_i_use_volume).
func (m *Manager) CanIUseVolume(holder ReserveHolder, name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.volumes[name]
	if !ok {
		return true
	}
	if v.Device == nil || v.Device == holder.TargetDevice() {
		return true
	}
	return !v.InUse
}

// FoundInUse reports whether name is currently attached and in use on any
// device; the reservation engine uses this as a hint to prefer re-mounting
// an already-loaded volume over mounting a fresh one (spec.md §4.5
// found_in_use).
func (m *Manager) FoundInUse(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.volumes[name]
	return ok && v.InUse && v.Device != nil
}

// Release decrements the reference count of name, removing the entry once
// it reaches zero and the volume is unattached.
func (m *Manager) Release(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.volumes[name]
	if !ok {
		return
	}
	if v.refCount > 0 {
		v.refCount--
	}
	if v.refCount == 0 && v.Device == nil {
		delete(m.volumes, name)
		m.removeOrder(name)
	}
}

func (m *Manager) removeOrder(name string) {
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

// Lookup returns the volume entry by name, if any.
func (m *Manager) Lookup(name string) (*Volume, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.volumes[name]
	return v, ok
}

// ForeachVol walks every volume entry under a read lock, in registration
// order, stopping early if fn returns false.
func (m *Manager) ForeachVol(fn func(*Volume) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, name := range m.order {
		v, ok := m.volumes[name]
		if !ok {
			continue
		}
		if !fn(v) {
			return
		}
	}
}

// ForeachReadVol walks only volumes currently attached for reading.
func (m *Manager) ForeachReadVol(fn func(*Volume) bool) {
	m.ForeachVol(func(v *Volume) bool {
		if !v.Reading {
			return true
		}
		return fn(v)
	})
}
