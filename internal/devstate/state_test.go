package devstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBlockUnblockRoundtrip(t *testing.T) {
	l := NewLock()
	token := NewLockToken()
	l.RLock(token)
	l.BlockDevice(WaitingForSysop, token)
	require.Equal(t, WaitingForSysop, l.State())
	l.RUnlock()

	// Another logical thread re-entering RLock must wait until unblocked.
	other := NewLockToken()
	unblocked := make(chan struct{})
	go func() {
		l.RLock(other)
		close(unblocked)
		l.RUnlock()
	}()

	select {
	case <-unblocked:
		t.Fatal("other thread should not acquire lock while blocked")
	case <-time.After(50 * time.Millisecond):
	}

	l.RLock(token) // blocking thread re-enters without waiting
	l.UnblockDevice()
	l.RUnlock()

	select {
	case <-unblocked:
	case <-time.After(time.Second):
		t.Fatal("other thread never acquired lock after unblock")
	}
}

func TestStealAndGiveBackLock(t *testing.T) {
	l := NewLock()
	token := NewLockToken()
	l.RLock(token)
	prev := l.StealDeviceLock(Mount, token)
	require.Equal(t, NotBlocked, prev)

	// Mutex is released; another goroutine can acquire it transiently
	// (simulating work done while "waiting for operator").
	acquired := make(chan struct{})
	go func() {
		l.RLock(NewLockToken())
		close(acquired)
		l.RUnlock()
	}()
	select {
	case <-acquired:
		t.Fatal("lock should still report Mount state to new waiters")
	case <-time.After(30 * time.Millisecond):
	}

	l.GiveBackDeviceLock(prev)
	require.Equal(t, NotBlocked, l.State())
	l.RUnlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired lock after give-back")
	}
}

func TestWaitTimeoutExpires(t *testing.T) {
	l := NewLock()
	token := NewLockToken()
	l.RLock(token)
	l.BlockDevice(Despooling, token)
	ok := l.WaitTimeout(20 * time.Millisecond)
	require.False(t, ok)
	l.RUnlock()
}

func TestWaitTimeoutWakesOnUnblock(t *testing.T) {
	l := NewLock()
	token := NewLockToken()
	l.RLock(token)
	l.BlockDevice(Despooling, token)
	l.RUnlock()

	done := make(chan bool, 1)
	go func() {
		l.RLock(NewLockToken())
		done <- l.WaitTimeout(time.Second)
		l.RUnlock()
	}()

	time.Sleep(20 * time.Millisecond)
	l.RLock(token)
	l.UnblockDevice()
	l.RUnlock()

	select {
	case ok := <-done:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waiter never woke on unblock")
	}
}
