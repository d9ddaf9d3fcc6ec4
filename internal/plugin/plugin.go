// Package plugin exposes the opaque plugin-event boundary spec.md §1
// treats as an external collaborator: a closed event enum and a typed
// hook interface, not the variadic C ABI original_source/pythonsd.c
// implements.
package plugin

import "github.com/tapevault/bstored/internal/block"

// Event is the closed set of points in the append/read loops a plugin may
// observe, matching the hook points visible in pythonsd.c's event table.
type Event int

const (
	EventJobStart Event = iota
	EventJobEnd
	EventNewVolume
	EventReadRecord
	EventWriteRecord
)

func (e Event) String() string {
	switch e {
	case EventJobStart:
		return "job-start"
	case EventJobEnd:
		return "job-end"
	case EventNewVolume:
		return "new-volume"
	case EventReadRecord:
		return "read-record"
	case EventWriteRecord:
		return "write-record"
	default:
		return "unknown"
	}
}

// Hooks is the typed interface a plugin implements; internal/record's
// append and read loops call it when non-nil. There is no marshalling
// layer and no variadic argument vector: every event gets its own method
// with the data it actually carries, replacing the source's single
// variadic bpf-style callback.
type Hooks interface {
	OnJobStart(jobID string)
	OnJobEnd(jobID string, status string)
	OnNewVolume(jobID, volumeName string)
	OnReadRecord(jobID string, rec *block.Record) error
	OnWriteRecord(jobID string, rec *block.Record) error
}

// NopHooks is a Hooks implementation that does nothing, used when no
// plugin is configured.
type NopHooks struct{}

func (NopHooks) OnJobStart(jobID string)              {}
func (NopHooks) OnJobEnd(jobID string, status string) {}
func (NopHooks) OnNewVolume(jobID, volumeName string) {}

func (NopHooks) OnReadRecord(jobID string, rec *block.Record) error  { return nil }
func (NopHooks) OnWriteRecord(jobID string, rec *block.Record) error { return nil }

// Chain dispatches to multiple Hooks implementations in order, stopping
// on the first error from OnReadRecord/OnWriteRecord.
type Chain []Hooks

func (c Chain) OnJobStart(jobID string) {
	for _, h := range c {
		h.OnJobStart(jobID)
	}
}

func (c Chain) OnJobEnd(jobID string, status string) {
	for _, h := range c {
		h.OnJobEnd(jobID, status)
	}
}

func (c Chain) OnNewVolume(jobID, volumeName string) {
	for _, h := range c {
		h.OnNewVolume(jobID, volumeName)
	}
}

func (c Chain) OnReadRecord(jobID string, rec *block.Record) error {
	for _, h := range c {
		if err := h.OnReadRecord(jobID, rec); err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) OnWriteRecord(jobID string, rec *block.Record) error {
	for _, h := range c {
		if err := h.OnWriteRecord(jobID, rec); err != nil {
			return err
		}
	}
	return nil
}
