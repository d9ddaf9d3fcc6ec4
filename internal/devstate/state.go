// Package devstate implements the device-level blocked-state machine and
// the recursive device lock described in spec.md §4.4 and §5. Go has no
// portable thread identity, so the Design Notes' "opaque thread-id token"
// is realized as a LockToken minted once per logical thread of control
// (one per Job) and threaded through the DCR.
package devstate

import (
	"sync"
	"time"
)

// BlockedState is one of the device-level blocked states (spec.md §4.4).
type BlockedState int

const (
	NotBlocked BlockedState = iota
	Unmounted
	WaitingForSysop
	DoingAcquire
	WritingLabel
	UnmountedWaitingForSysop
	Mount
	Despooling
	Releasing
)

func (s BlockedState) String() string {
	switch s {
	case NotBlocked:
		return "not-blocked"
	case Unmounted:
		return "unmounted"
	case WaitingForSysop:
		return "waiting-for-sysop"
	case DoingAcquire:
		return "doing-acquire"
	case WritingLabel:
		return "writing-label"
	case UnmountedWaitingForSysop:
		return "unmounted-waiting-for-sysop"
	case Mount:
		return "mount"
	case Despooling:
		return "despooling"
	case Releasing:
		return "releasing"
	default:
		return "unknown"
	}
}

// LockToken identifies a logical thread of control across nested rLock
// calls. The zero value is not a valid token; callers mint one with
// NewLockToken per Job.
type LockToken uint64

var tokenCounter uint64
var tokenMu sync.Mutex

// NewLockToken mints a process-unique token for one logical thread of
// control (one per Job, per the Design Notes).
func NewLockToken() LockToken {
	tokenMu.Lock()
	defer tokenMu.Unlock()
	tokenCounter++
	return LockToken(tokenCounter)
}

// Lock is the device's recursive lock plus blocked-state machine
// (spec.md §4.4). The zero value is not usable; use NewLock.
type Lock struct {
	mu         sync.Mutex
	cond       *sync.Cond
	state      BlockedState
	noWaitID   LockToken // the token permitted to re-enter while blocked
	hasNoWait  bool
}

// NewLock creates an unblocked device lock.
func NewLock() *Lock {
	l := &Lock{state: NotBlocked}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// RLock acquires the device lock. If the device is blocked and token is
// not the blocker's token, the caller waits on the condition variable
// until UnblockDevice broadcasts. If the device is not blocked, or the
// caller holds the blocking token, it proceeds immediately — this is what
// makes the lock recursive for the blocking thread of control.
func (l *Lock) RLock(token LockToken) {
	l.mu.Lock()
	for l.state != NotBlocked && !(l.hasNoWait && l.noWaitID == token) {
		l.cond.Wait()
	}
}

// RUnlock releases the underlying mutex acquired by RLock.
func (l *Lock) RUnlock() {
	l.mu.Unlock()
}

// BlockDevice transitions the device into state. The caller must hold the
// lock (i.e. have called RLock) and is recorded as the token allowed to
// re-enter while all other callers wait.
func (l *Lock) BlockDevice(state BlockedState, token LockToken) {
	l.state = state
	l.noWaitID = token
	l.hasNoWait = true
}

// UnblockDevice clears the blocked state and wakes every waiter.
func (l *Lock) UnblockDevice() {
	l.state = NotBlocked
	l.hasNoWait = false
	l.cond.Broadcast()
}

// State returns the current blocked state. Caller must hold the lock.
func (l *Lock) State() BlockedState { return l.state }

// StealDeviceLock atomically records the current state, installs
// newState, and releases the mutex — used by the mount subsystem to
// publish "waiting for operator" without holding the mutex across a long
// wait (spec.md §4.4).
func (l *Lock) StealDeviceLock(newState BlockedState, token LockToken) BlockedState {
	prev := l.state
	l.state = newState
	l.noWaitID = token
	l.hasNoWait = true
	l.mu.Unlock()
	return prev
}

// GiveBackDeviceLock reacquires the mutex and restores saved, then wakes
// any waiters that care about the restored state.
func (l *Lock) GiveBackDeviceLock(saved BlockedState) {
	l.mu.Lock()
	l.state = saved
	if saved == NotBlocked {
		l.hasNoWait = false
		l.cond.Broadcast()
	}
}

// WaitTimeout waits for the device to become unblocked, for up to
// timeout. It must be called with the lock held; it releases the lock
// while sleeping and reacquires before returning, same as sync.Cond.Wait.
// Returns true if the device unblocked before the deadline, false on
// timeout. Go's sync.Cond has no native timeout, so this realizes the
// Design Notes' "typed await/park on a condition, with an explicit
// timeout argument" by racing a timer-triggered broadcast against the
// real one.
func (l *Lock) WaitTimeout(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	stop := make(chan struct{})
	timer := time.AfterFunc(timeout, func() {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	})
	defer func() {
		timer.Stop()
		close(stop)
	}()

	for l.state != NotBlocked {
		if !time.Now().Before(deadline) {
			return false
		}
		l.cond.Wait()
	}
	return true
}
