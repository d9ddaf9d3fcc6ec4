// Package changer implements the autochanger adapter of spec.md §2.7/§4.6:
// the robot command set abstracted to Load/Unload/inventory operations, so
// the reservation/mount engine never speaks a vendor-specific SCSI media
// changer protocol directly.
package changer

import (
	"fmt"
	"sync"

	"github.com/tapevault/bstored/internal/sderrors"
)

// SlotStatus describes one storage slot in the changer's magazine.
type SlotStatus struct {
	Slot       int
	Full       bool
	VolumeName string
}

// ChangerStatus is a point-in-time inventory snapshot.
type ChangerStatus struct {
	NumSlots  int
	NumDrives int
	Slots     []SlotStatus
	// DriveSlot maps drive index to the storage slot currently loaded
	// into it, or -1 if the drive is empty.
	DriveSlot map[int]int
}

// Changer is the abstracted robot command set: load a volume from a
// storage slot into a drive, unload it back, and report inventory.
type Changer interface {
	Load(slot, drive int) error
	Unload(drive, slot int) error
	Slots() []SlotStatus
	Status() ChangerStatus
}

var (
	// ErrSlotEmpty is returned by Load when the requested slot holds no
	// volume.
	ErrSlotEmpty = sderrors.New(sderrors.KindConfiguration, "changer slot is empty")
	// ErrDriveOccupied is returned by Load when the target drive already
	// holds a different volume.
	ErrDriveOccupied = sderrors.New(sderrors.KindConfiguration, "changer drive already occupied")
	// ErrSlotOutOfRange/ErrDriveOutOfRange guard index misuse.
	ErrSlotOutOfRange  = sderrors.New(sderrors.KindConfiguration, "changer slot index out of range")
	ErrDriveOutOfRange = sderrors.New(sderrors.KindConfiguration, "changer drive index out of range")
)

// SimulatedChanger is an in-memory changer used by btape and tests, the
// way original_source's autochanger test harness simulates robot moves
// without hardware (spec.md §4.7).
type SimulatedChanger struct {
	mu        sync.Mutex
	slots     []SlotStatus
	numDrives int
	driveSlot map[int]int // drive -> slot, -1 if empty
}

// NewSimulatedChanger creates a changer with numSlots empty slots and
// numDrives drives, none loaded.
func NewSimulatedChanger(numSlots, numDrives int) *SimulatedChanger {
	c := &SimulatedChanger{
		numDrives: numDrives,
		driveSlot: make(map[int]int, numDrives),
	}
	for i := 0; i < numSlots; i++ {
		c.slots = append(c.slots, SlotStatus{Slot: i + 1})
	}
	for d := 0; d < numDrives; d++ {
		c.driveSlot[d] = -1
	}
	return c
}

// FillSlot places a volume name into a storage slot, simulating an
// operator physically loading the magazine.
func (c *SimulatedChanger) FillSlot(slot int, volumeName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := slot - 1
	if idx < 0 || idx >= len(c.slots) {
		return ErrSlotOutOfRange
	}
	c.slots[idx].Full = true
	c.slots[idx].VolumeName = volumeName
	return nil
}

func (c *SimulatedChanger) Load(slot, drive int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if drive < 0 || drive >= c.numDrives {
		return ErrDriveOutOfRange
	}
	idx := slot - 1
	if idx < 0 || idx >= len(c.slots) {
		return ErrSlotOutOfRange
	}
	if !c.slots[idx].Full {
		return ErrSlotEmpty
	}
	if cur, ok := c.driveSlot[drive]; ok && cur != -1 && cur != slot {
		return ErrDriveOccupied
	}
	c.driveSlot[drive] = slot
	return nil
}

func (c *SimulatedChanger) Unload(drive, slot int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if drive < 0 || drive >= c.numDrives {
		return ErrDriveOutOfRange
	}
	c.driveSlot[drive] = -1
	return nil
}

func (c *SimulatedChanger) Slots() []SlotStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SlotStatus, len(c.slots))
	copy(out, c.slots)
	return out
}

func (c *SimulatedChanger) Status() ChangerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	driveSlot := make(map[int]int, len(c.driveSlot))
	for k, v := range c.driveSlot {
		driveSlot[k] = v
	}
	return ChangerStatus{
		NumSlots:  len(c.slots),
		NumDrives: c.numDrives,
		Slots:     append([]SlotStatus(nil), c.slots...),
		DriveSlot: driveSlot,
	}
}

// DriveBinding adapts one (Changer, drive index) pair to the narrow
// device.ChangerControl surface a single Device needs.
type DriveBinding struct {
	Changer Changer
	Drive   int
}

func (b DriveBinding) Load(slot int) error {
	return b.Changer.Load(slot, b.Drive)
}

func (b DriveBinding) Unload() error {
	status := b.Changer.Status()
	slot, ok := status.DriveSlot[b.Drive]
	if !ok || slot == -1 {
		return fmt.Errorf("changer: drive %d has nothing loaded", b.Drive)
	}
	return b.Changer.Unload(b.Drive, slot)
}
