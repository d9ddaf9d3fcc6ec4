// Package reserve implements the reservation/mount engine: the six-phase
// device selection loop, per-device reservation checks, and the mount
// protocol's five outcomes (spec.md §4.6). New code without a direct
// teacher analog; grounded on spec.md and cross-checked against
// original_source/src/stored/reserve.c and mount.c for phase ordering and
// the VOL_* outcome names.
package reserve

import (
	"context"
	"time"

	"github.com/juju/clock"
	jujuerrors "github.com/juju/errors"
	"github.com/juju/retry"
	"golang.org/x/sync/errgroup"

	"github.com/tapevault/bstored/internal/config"
	"github.com/tapevault/bstored/internal/dcr"
	"github.com/tapevault/bstored/internal/device"
	"github.com/tapevault/bstored/internal/devstate"
	"github.com/tapevault/bstored/internal/director"
	"github.com/tapevault/bstored/internal/sderrors"
	"github.com/tapevault/bstored/internal/volume"
)

// Request describes one job's storage need, built from a parsed
// director.DirStore (spec.md §4.6 step 1).
type Request struct {
	JobID       string
	MediaType   string
	PoolName    string
	PoolType    string
	Append      bool // true: write/append, false: read/restore
	DeviceNames []string
	VolumeName  string // exact volume requested for a read session; empty for append
}

// RequestFromDirStore adapts a parsed director command block into a
// Request (spec.md §6.5).
func RequestFromDirStore(jobID string, s *director.DirStore) Request {
	return Request{
		JobID:       jobID,
		MediaType:   s.MediaType,
		PoolName:    s.PoolName,
		PoolType:    s.PoolType,
		Append:      s.Append,
		DeviceNames: append([]string(nil), s.DeviceNames...),
	}
}

// MountState is the closed outcome set the mount protocol reports for a
// volume it just attempted to bring online (spec.md §4.6 step 4).
type MountState int

const (
	VolOK MountState = iota
	VolNameError
	VolIOError
	VolNoLabel
	VolNoMedia
)

func (m MountState) String() string {
	switch m {
	case VolOK:
		return "VOL_OK"
	case VolNameError:
		return "VOL_NAME_ERROR"
	case VolIOError:
		return "VOL_IO_ERROR"
	case VolNoLabel:
		return "VOL_NO_LABEL"
	case VolNoMedia:
		return "VOL_NO_MEDIA"
	default:
		return "VOL_UNKNOWN"
	}
}

// LabelReader is the minimal operation the mount protocol needs to
// validate a volume already in the drive: read its label and report what
// it finds. internal/record or a dedicated label reader implements this;
// kept as an interface so internal/reserve does not depend on the codec.
type LabelReader interface {
	// ReadVolumeLabel returns the volume name found on the current
	// medium, or an error classified via sderrors (KindLabelMismatch,
	// KindDataIntegrity, sderrors.KindEndOfMedium for no media).
	ReadVolumeLabel(dev *device.Device) (string, error)
}

// Engine is the process-wide reservation engine: every configured device
// plus the volume manager they share (spec.md §4.5, §4.6).
type Engine struct {
	Devices []*device.Device
	Volumes *volume.Manager
	Config  *config.ServerConfig
	Labels  LabelReader
}

// NewEngine creates an engine over an already-constructed device list.
func NewEngine(devices []*device.Device, volumes *volume.Manager, cfg *config.ServerConfig) *Engine {
	if cfg == nil {
		cfg = config.Defaults()
	}
	return &Engine{Devices: devices, Volumes: volumes, Config: cfg}
}

// Reserve runs the full reservation loop for one job and request,
// returning a DCR bound to the selected device once reserved (spec.md
// §4.6 steps 1-3). It retries across ReservationRetryPasses; between
// passes it blocks on the candidate devices' release condition variable
// (bounded by ReservationRetryDelay) instead of sleeping blind, matching
// wait_for_device(jcr, retries)'s "sleeps on a device-release condition
// variable with a configured timeout, and reacquires" (spec.md §4.6, §5).
func (e *Engine) Reserve(req Request, job *dcr.Job) (*dcr.DCR, error) {
	passes := e.Config.ReservationRetryPasses
	if passes <= 0 {
		passes = 3
	}
	timeout := time.Duration(e.Config.ReservationRetryDelay) * time.Second

	var selected *device.Device
	attempt := 0
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			attempt++
			dev := e.selectDevice(req)
			if dev != nil {
				selected = dev
				return nil
			}
			if attempt < passes {
				e.waitForAnyRelease(req, timeout)
			}
			return sderrors.New(sderrors.KindReservationFailure, "no matching device available")
		},
		Attempts: passes,
		Delay:    0,
		Clock:    clock.WallClock,
	})
	if err != nil {
		return nil, jujuerrors.Annotate(err, "reserving device")
	}

	d := dcr.New(nextDCRID(), job, selected)
	d.SetReserved()
	d.PoolName = req.PoolName
	d.PoolType = req.PoolType
	d.MediaType = req.MediaType
	if req.Append {
		d.Mode = dcr.ModeAppend
	} else {
		d.Mode = dcr.ModeRead
		d.VolumeName = req.VolumeName
	}
	return d, nil
}

// waitForAnyRelease blocks until one of the request's candidate devices
// reports a release or timeout elapses, whichever comes first. Each
// candidate is probed concurrently under an errgroup, bounded by timeout;
// the first release cancels the shared context so the remaining probes
// stop waiting immediately instead of each running out its own timeout.
func (e *Engine) waitForAnyRelease(req Request, timeout time.Duration) {
	candidates := e.candidatesFor(req)
	if len(candidates) == 0 {
		time.Sleep(timeout)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var group errgroup.Group
	for _, d := range candidates {
		d := d
		group.Go(func() error {
			if d.WaitForReleaseTimeout(ctx, timeout) {
				cancel()
			}
			return nil
		})
	}
	group.Wait()
}

var dcrIDCounter uint64

func nextDCRID() uint64 {
	dcrIDCounter++
	return dcrIDCounter
}

// selectDevice runs the six-phase selection order spec.md §4.6 names:
// unmounted-and-no-volume, unmounted-low-use, unmounted-any,
// mounted-exact-volume, mounted-any-matching, any-ignoring-preferences.
func (e *Engine) selectDevice(req Request) *device.Device {
	candidates := e.candidatesFor(req)
	if len(candidates) == 0 {
		return nil
	}

	phases := []func(Request, []*device.Device) *device.Device{
		e.phaseUnmountedNoVolume,
		e.phaseUnmountedLowUse,
		e.phaseUnmountedAny,
		e.phaseMountedExactVolume,
		e.phaseMountedAnyMatching,
		e.phaseAnyIgnoringPreferences,
	}
	for _, phase := range phases {
		if dev := phase(req, candidates); dev != nil && e.passesReservationCheck(dev, req) {
			return dev
		}
	}
	return nil
}

// candidatesFor narrows the full device list to those named by the
// request (if any) or matching its media type, falling back to every
// configured device when DeviceReserveByMediaType is set (spec.md §4.6
// "reserve by media type" fallback).
func (e *Engine) candidatesFor(req Request) []*device.Device {
	if len(req.DeviceNames) > 0 {
		var named []*device.Device
		for _, name := range req.DeviceNames {
			if d := e.deviceByName(name); d != nil {
				named = append(named, d)
			}
		}
		if len(named) > 0 {
			return named
		}
	}
	var byType []*device.Device
	for _, d := range e.Devices {
		if req.MediaType == "" || d.MediaType == req.MediaType {
			byType = append(byType, d)
		}
	}
	if len(byType) > 0 || !e.Config.DeviceReserveByMediaType {
		return byType
	}
	return e.Devices
}

func (e *Engine) deviceByName(name string) *device.Device {
	for _, d := range e.Devices {
		if d.Name == name {
			return d
		}
	}
	return nil
}

func (e *Engine) phaseUnmountedNoVolume(_ Request, candidates []*device.Device) *device.Device {
	for _, d := range candidates {
		if d.MountedVolume == "" && d.AttachedContextCount() == 0 {
			return d
		}
	}
	return nil
}

func (e *Engine) phaseUnmountedLowUse(_ Request, candidates []*device.Device) *device.Device {
	var best *device.Device
	bestUse := -1
	for _, d := range candidates {
		if d.MountedVolume != "" {
			continue
		}
		w, reserved, _ := d.Snapshot()
		use := w + reserved
		if bestUse == -1 || use < bestUse {
			best, bestUse = d, use
		}
	}
	return best
}

func (e *Engine) phaseUnmountedAny(_ Request, candidates []*device.Device) *device.Device {
	for _, d := range candidates {
		if d.MountedVolume == "" {
			return d
		}
	}
	return nil
}

func (e *Engine) phaseMountedExactVolume(req Request, candidates []*device.Device) *device.Device {
	if req.VolumeName == "" {
		return nil
	}
	for _, d := range candidates {
		if d.MountedVolume == req.VolumeName {
			return d
		}
	}
	return nil
}

func (e *Engine) phaseMountedAnyMatching(req Request, candidates []*device.Device) *device.Device {
	for _, d := range candidates {
		if d.MountedVolume != "" && (req.MediaType == "" || d.MediaType == req.MediaType) {
			return d
		}
	}
	return nil
}

func (e *Engine) phaseAnyIgnoringPreferences(_ Request, candidates []*device.Device) *device.Device {
	if len(candidates) == 0 {
		return nil
	}
	return candidates[0]
}

// passesReservationCheck applies the per-device checks spec.md §4.6 step 3
// names: media type compatibility, the MaxConcurrentJobs cap, and the
// append/read exclusivity invariant (CanAppend/CanRead).
func (e *Engine) passesReservationCheck(d *device.Device, req Request) bool {
	if req.MediaType != "" && d.MediaType != "" && d.MediaType != req.MediaType {
		return false
	}
	if d.MaxConcurrentJobs > 0 {
		w, reserved, _ := d.Snapshot()
		if w+reserved >= d.MaxConcurrentJobs {
			return false
		}
	}
	if req.Append && !d.CanAppend() {
		return false
	}
	if !req.Append && !d.CanRead() {
		return false
	}
	if d.Catalog.MaxJobs > 0 && d.Catalog.Jobs >= d.Catalog.MaxJobs && d.Catalog.Status != device.VolStatusRecycle {
		return false
	}
	return true
}

// Mount implements the mount protocol (spec.md §4.6 step 4): blocks the
// device in state Mount, loads the requested slot via the autochanger if
// configured, reads back the label, and classifies the outcome into one
// of the five MountState values. A nil Labels reader always reports
// VolOK, for callers (btape, tests) that don't need label verification.
func (e *Engine) Mount(d *dcr.DCR, slot int) (MountState, error) {
	dev := d.Device
	d.MLock()
	dev.Lock.BlockDevice(devstate.Mount, d.LockToken())
	defer func() {
		dev.Lock.UnblockDevice()
		d.MUnlock()
	}()

	if dev.Changer != nil && slot > 0 {
		if err := dev.Changer.Load(slot); err != nil {
			return VolIOError, jujuerrors.Annotate(err, "autochanger load")
		}
	}

	if e.Labels == nil {
		return VolOK, nil
	}

	name, err := e.Labels.ReadVolumeLabel(dev)
	switch {
	case err == nil:
		if d.VolumeName != "" && name != d.VolumeName {
			return VolNameError, nil
		}
		dev.MountedVolume = name
		return VolOK, nil
	case sderrors.Is(err, sderrors.KindEndOfMedium):
		return VolNoMedia, nil
	case sderrors.Is(err, sderrors.KindLabelMismatch):
		return VolNoLabel, nil
	default:
		return VolIOError, jujuerrors.Annotate(err, "reading volume label")
	}
}

// MountNextVolume adapts Mount into the internal/record.MountNextVolumeFunc
// shape the append pipeline calls on end-of-medium: reserve a successor
// volume's DCR stays the same, only the physical medium changes, so this
// just re-runs the mount protocol against the same device (spec.md §4.2
// "the successor volume is mounted on the same device unless it is
// unavailable").
func (e *Engine) MountNextVolume(d *dcr.DCR) error {
	state, err := e.Mount(d, 0)
	if err != nil {
		return err
	}
	if state != VolOK {
		return sderrors.New(sderrors.KindReservationFailure, "mount protocol returned "+state.String())
	}
	return nil
}

// Release frees a DCR's reservation and wakes anyone waiting on this
// device for a successor volume (spec.md §4.5 free_volume, §5
// wait_next_vol).
func (e *Engine) Release(d *dcr.DCR) {
	d.ClearReserved()
	e.Volumes.FreeVolume(d.Device)
	d.Device.NotifyReleased()
}
