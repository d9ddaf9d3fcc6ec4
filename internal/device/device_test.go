package device

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDeviceCounters(t *testing.T) {
	d := New("Drive-0", NewVTapeBackend(), 64*1024, 1024*1024)
	d.IncWriters()
	d.IncReserved()
	w, r, rd := d.Snapshot()
	require.Equal(t, 1, w)
	require.Equal(t, 1, r)
	require.Equal(t, 0, rd)
	require.True(t, d.CanAppend())
	d.IncReaders()
	require.False(t, d.CanAppend())
	d.DecReaders()
	d.DecWriters()
	d.DecReserved()
	w, r, rd = d.Snapshot()
	require.Equal(t, 0, w)
	require.Equal(t, 0, r)
	require.Equal(t, 0, rd)
}

func TestDeviceAttachedContexts(t *testing.T) {
	d := New("Drive-0", NewVTapeBackend(), 64*1024, 1024*1024)
	d.AttachContext(1)
	d.AttachContext(2)
	require.Equal(t, 2, d.AttachedContextCount())
	d.DetachContext(1)
	require.Equal(t, 1, d.AttachedContextCount())
}

func TestDeviceWaitForReleaseTimeout(t *testing.T) {
	d := New("Drive-0", NewVTapeBackend(), 64*1024, 1024*1024)
	woke := make(chan bool, 1)
	go func() {
		woke <- d.WaitForReleaseTimeout(context.Background(), time.Second)
	}()
	time.Sleep(20 * time.Millisecond)
	d.NotifyReleased()
	select {
	case released := <-woke:
		require.True(t, released)
	case <-time.After(time.Second):
		t.Fatal("waiter never woke after NotifyReleased")
	}
}

func TestDeviceWaitForReleaseTimeoutExpires(t *testing.T) {
	d := New("Drive-0", NewVTapeBackend(), 64*1024, 1024*1024)
	start := time.Now()
	released := d.WaitForReleaseTimeout(context.Background(), 30*time.Millisecond)
	require.False(t, released)
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestVTapeBackendBasicIO(t *testing.T) {
	b := NewVTapeBackend()
	require.NoError(t, b.Open(CreateReadWrite))
	n, err := b.Write([]byte("hello-block"))
	require.NoError(t, err)
	require.Equal(t, 11, n)
	require.NoError(t, b.WriteEndOfFile(1))
	require.NoError(t, b.Rewind())

	buf := make([]byte, 64)
	n, err = b.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello-block", string(buf[:n]))

	require.NoError(t, b.ForwardSpaceFile(1))
	require.Equal(t, uint32(1), b.Position().File)
}
