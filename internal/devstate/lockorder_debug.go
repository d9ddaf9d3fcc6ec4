//go:build debug

package devstate

// CheckLockOrder is compiled in only for debug builds (`go build -tags
// debug`), asserting the device mutex < spool mutex < acquire mutex
// priority discipline (spec.md §4.4/§5) at every acquire/spool call site.
const CheckLockOrder = true

// AssertHeld panics if l is not currently held by the calling thread of
// control, used at call sites that must only run with the device's
// blocked-state lock already locked. sync.Mutex has no owner concept in
// Go, so this uses TryLock as a cheap "is anyone holding this" probe: if
// the probe succeeds, nobody holds l, which means the caller skipped
// RLock/MLock before reaching for a lower-priority mutex.
func (l *Lock) AssertHeld() {
	if l.mu.TryLock() {
		l.mu.Unlock()
		panic("devstate: lock order violation: acquire/spool mutex taken without the device lock held")
	}
}
