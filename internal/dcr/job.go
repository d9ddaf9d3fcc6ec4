// Package dcr implements the DEVICE CONTEXT and JOB entities of spec.md
// §3: the per-job handle through which one job touches one device, and the
// minimal job description the core consumes.
package dcr

import "github.com/google/uuid"

// NewJobID mints a process-unique job identifier for callers (the director
// protocol layer, the offline tools) that have no external job id to carry
// forward, replacing a director-assigned sequence number with a random one.
func NewJobID() string { return uuid.NewString() }

// JobType is the closed set of external unit-of-work kinds the core needs
// to know about (spec.md §3 JOB).
type JobType int

const (
	JobTypeBackup JobType = iota
	JobTypeRestore
	JobTypeVerify
	JobTypeSystem
)

func (t JobType) String() string {
	switch t {
	case JobTypeBackup:
		return "backup"
	case JobTypeRestore:
		return "restore"
	case JobTypeVerify:
		return "verify"
	case JobTypeSystem:
		return "system"
	default:
		return "unknown"
	}
}

// JobLevel is the closed set of backup levels.
type JobLevel int

const (
	LevelFull JobLevel = iota
	LevelIncremental
	LevelDifferential
	LevelVerifyCatalog
	LevelVerifyVolumeToCatalog
	LevelVerifyDiskToCatalog
)

func (l JobLevel) String() string {
	switch l {
	case LevelFull:
		return "full"
	case LevelIncremental:
		return "incremental"
	case LevelDifferential:
		return "differential"
	case LevelVerifyCatalog:
		return "verify-catalog"
	case LevelVerifyVolumeToCatalog:
		return "verify-volume-to-catalog"
	case LevelVerifyDiskToCatalog:
		return "verify-disk-to-catalog"
	default:
		return "unknown"
	}
}

// JobStatus is the closed final-status set a job transitions into exactly
// once (spec.md §7).
type JobStatus int

const (
	JobCreated JobStatus = iota
	JobRunning
	JobTerminated
	JobWarnings
	JobCanceled
	JobDifferences
	JobErrorTerminated
	JobFatalError
	JobIncomplete
)

func (s JobStatus) String() string {
	switch s {
	case JobCreated:
		return "Created"
	case JobRunning:
		return "Running"
	case JobTerminated:
		return "Terminated"
	case JobWarnings:
		return "Terminated with warnings"
	case JobCanceled:
		return "Canceled"
	case JobDifferences:
		return "Differences"
	case JobErrorTerminated:
		return "Error terminated"
	case JobFatalError:
		return "Fatal error"
	case JobIncomplete:
		return "Incomplete"
	default:
		return "Unknown"
	}
}

// Terminal reports whether this status ends the job's lifecycle; only
// JobCreated and JobRunning are non-terminal.
func (s JobStatus) Terminal() bool {
	return s != JobCreated && s != JobRunning
}

// RecoveryPolicy replaces the source's process-wide mutable forge_on flag
// with a per-job policy threaded through the DCR, so one job's recovery
// posture cannot leak into another sharing the same device.
type RecoveryPolicy struct {
	// ForgeOn makes the read pipeline accept a block whose checksum does
	// not match: the block is parsed and its records delivered as if the
	// checksum were correct. Bad magic and failed sanity checks still stop
	// the read, and ForgeOn has no effect on device read errors.
	ForgeOn bool
	// ContinueOnShortBlock logs and continues rather than treating a
	// shorter-than-minimum block header as fatal.
	ContinueOnShortBlock bool
}

// RerunPolicy models a job being replayed after a prior incomplete
// attempt. When Rerunning is true, the append loop's FileIndex sequencing
// check is relaxed for the first stream header of the session only; strict
// sequencing resumes immediately after.
type RerunPolicy struct {
	Rerunning bool
}

// Job is the abstract identifier for one backup/restore/verify/system unit
// of work. The core consumes only the fields named in spec.md §3; the
// director-side scheduling policy around it is out of scope.
type Job struct {
	ID     string
	Type   JobType
	Level  JobLevel
	Status JobStatus

	Recovery RecoveryPolicy
	Rerun    RerunPolicy

	canceled chan struct{}
}

// NewJob creates a job in the Created state.
func NewJob(id string, jobType JobType, level JobLevel) *Job {
	return &Job{
		ID:       id,
		Type:     jobType,
		Level:    level,
		Status:   JobCreated,
		canceled: make(chan struct{}),
	}
}

// Cancel marks the job canceled; idempotent.
func (j *Job) Cancel() {
	select {
	case <-j.canceled:
	default:
		close(j.canceled)
	}
}

// Canceled reports whether Cancel has been called. Polled at every
// suspension point per spec.md §5.
func (j *Job) Canceled() bool {
	select {
	case <-j.canceled:
		return true
	default:
		return false
	}
}
