//go:build !debug

package devstate

// CheckLockOrder is false outside debug builds; AssertHeld is a no-op so
// the priority discipline check carries zero cost in production builds.
const CheckLockOrder = false

// AssertHeld is a no-op outside debug builds.
func (l *Lock) AssertHeld() {}
