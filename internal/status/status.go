// Package status implements the `.status` query protocol of spec.md §6.6:
// a fixed keyword set, each answered with a sequence of structured lines.
package status

import (
	"fmt"
	"strings"
	"time"

	"github.com/tapevault/bstored/internal/dcr"
	"github.com/tapevault/bstored/internal/device"
	"github.com/tapevault/bstored/internal/volume"
)

// Keyword is the closed set of `.status` arguments.
type Keyword string

const (
	KeywordCurrent         Keyword = "current"
	KeywordLast            Keyword = "last"
	KeywordHeader          Keyword = "header"
	KeywordRunning         Keyword = "running"
	KeywordWaitReservation Keyword = "waitreservation"
	KeywordDevices         Keyword = "devices"
	KeywordVolumes         Keyword = "volumes"
	KeywordSpooling        Keyword = "spooling"
	KeywordTerminated      Keyword = "terminated"
	KeywordResources       Keyword = "resources"
)

var validKeywords = map[Keyword]bool{
	KeywordCurrent: true, KeywordLast: true, KeywordHeader: true,
	KeywordRunning: true, KeywordWaitReservation: true, KeywordDevices: true,
	KeywordVolumes: true, KeywordSpooling: true, KeywordTerminated: true,
	KeywordResources: true,
}

// ParseQuery parses a `.status <keyword>` request line.
func ParseQuery(line string) (Keyword, error) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) != 2 || fields[0] != ".status" {
		return "", fmt.Errorf("status: malformed query %q", line)
	}
	kw := Keyword(strings.ToLower(fields[1]))
	if !validKeywords[kw] {
		return "", fmt.Errorf("status: unknown keyword %q", fields[1])
	}
	return kw, nil
}

// HeaderReport is the `header` response payload: process-wide versioning,
// start time, job counters, memory usage, plus the count of currently
// blocked devices and the longest-waiting job's elapsed wait
// (supplemented from original_source/src/stored/status.c, dropped by the
// spec's distillation but present in the original and purely diagnostic).
type HeaderReport struct {
	Version          string
	StartTime        time.Time
	JobsRunning      int
	JobsWaiting      int
	MemoryBytes      uint64
	BlockedDevices   int
	LongestWaitSecs  float64
}

// Render formats the header report as the line sequence a status client
// would receive.
func (h HeaderReport) Render() []string {
	return []string{
		fmt.Sprintf("bstored Version: %s (started %s)", h.Version, h.StartTime.Format(time.RFC3339)),
		fmt.Sprintf("Jobs running: %d, waiting: %d", h.JobsRunning, h.JobsWaiting),
		fmt.Sprintf("Memory used: %d bytes", h.MemoryBytes),
		fmt.Sprintf("Devices blocked: %d, longest wait: %.1fs", h.BlockedDevices, h.LongestWaitSecs),
	}
}

// JobWait pairs a job id with how long it has been waiting for a device,
// used to compute HeaderReport.LongestWaitSecs.
type JobWait struct {
	JobID   string
	Waiting time.Duration
}

// Responder aggregates live state from the device list, volume manager and
// job registry to answer `.status` queries. It holds no state of its own
// beyond the start time, by design: every answer is computed fresh from
// the authoritative owners (spec.md §6.6 is a read-only diagnostic
// surface, never a source of truth).
type Responder struct {
	Version   string
	StartTime time.Time

	Devices []*device.Device
	Volumes *volume.Manager
	Jobs    func() []*dcr.Job
	Waits   func() []JobWait
}

// NewResponder creates a Responder bound to the live device list, volume
// manager, and job/wait accessors.
func NewResponder(version string, devices []*device.Device, volumes *volume.Manager, jobs func() []*dcr.Job, waits func() []JobWait) *Responder {
	return &Responder{
		Version:   version,
		StartTime: time.Time{},
		Devices:   devices,
		Volumes:   volumes,
		Jobs:      jobs,
		Waits:     waits,
	}
}

// Answer dispatches a keyword to its line-sequence renderer.
func (r *Responder) Answer(kw Keyword) ([]string, error) {
	switch kw {
	case KeywordHeader:
		return r.header().Render(), nil
	case KeywordDevices:
		return r.devices(), nil
	case KeywordVolumes:
		return r.volumes(), nil
	case KeywordRunning:
		return r.running(), nil
	case KeywordTerminated:
		return r.terminated(), nil
	case KeywordWaitReservation:
		return r.waitReservation(), nil
	case KeywordCurrent, KeywordLast, KeywordSpooling, KeywordResources:
		// These report job-scoped or spool-scoped detail this package
		// has no owner for yet; answered as empty rather than an error
		// so a client sees "no data" instead of a protocol failure.
		return []string{}, nil
	default:
		return nil, fmt.Errorf("status: unhandled keyword %q", kw)
	}
}

func (r *Responder) header() HeaderReport {
	blocked := 0
	for _, d := range r.Devices {
		if d.Lock.State() != 0 {
			blocked++
		}
	}
	longest := 0.0
	var waiting int
	if r.Waits != nil {
		for _, w := range r.Waits() {
			waiting++
			if secs := w.Waiting.Seconds(); secs > longest {
				longest = secs
			}
		}
	}
	running := 0
	if r.Jobs != nil {
		for _, j := range r.Jobs() {
			if j.Status == dcr.JobRunning {
				running++
			}
		}
	}
	return HeaderReport{
		Version:         r.Version,
		StartTime:       r.StartTime,
		JobsRunning:     running,
		JobsWaiting:     waiting,
		BlockedDevices:  blocked,
		LongestWaitSecs: longest,
	}
}

func (r *Responder) devices() []string {
	lines := make([]string, 0, len(r.Devices))
	for _, d := range r.Devices {
		w, res, rd := d.Snapshot()
		lines = append(lines, fmt.Sprintf("%s: state=%s writers=%d reserved=%d readers=%d mounted=%q",
			d.Name, d.Lock.State(), w, res, rd, d.MountedVolume))
	}
	return lines
}

func (r *Responder) volumes() []string {
	var lines []string
	if r.Volumes == nil {
		return lines
	}
	r.Volumes.ForeachVol(func(v *volume.Volume) bool {
		devName := "none"
		if v.Device != nil {
			devName = v.Device.Name
		}
		lines = append(lines, fmt.Sprintf("%s: device=%s in_use=%v swapping=%v refs=%d",
			v.Name, devName, v.InUse, v.Swapping, v.RefCount()))
		return true
	})
	return lines
}

func (r *Responder) running() []string {
	var lines []string
	if r.Jobs == nil {
		return lines
	}
	for _, j := range r.Jobs() {
		if j.Status == dcr.JobRunning {
			lines = append(lines, fmt.Sprintf("%s: %s level=%s", j.ID, j.Type, j.Level))
		}
	}
	return lines
}

func (r *Responder) terminated() []string {
	var lines []string
	if r.Jobs == nil {
		return lines
	}
	for _, j := range r.Jobs() {
		if j.Status.Terminal() {
			lines = append(lines, fmt.Sprintf("%s: %s", j.ID, j.Status))
		}
	}
	return lines
}

func (r *Responder) waitReservation() []string {
	var lines []string
	if r.Waits == nil {
		return lines
	}
	for _, w := range r.Waits() {
		lines = append(lines, fmt.Sprintf("%s: waiting %.1fs", w.JobID, w.Waiting.Seconds()))
	}
	return lines
}
