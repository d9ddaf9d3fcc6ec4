package plugin

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tapevault/bstored/internal/block"
)

type recordingHooks struct {
	events []string
	failOn bool
}

func (h *recordingHooks) OnJobStart(jobID string)              { h.events = append(h.events, "start:"+jobID) }
func (h *recordingHooks) OnJobEnd(jobID string, status string) { h.events = append(h.events, "end:"+status) }
func (h *recordingHooks) OnNewVolume(jobID, volumeName string) {
	h.events = append(h.events, "vol:"+volumeName)
}

func (h *recordingHooks) OnReadRecord(jobID string, rec *block.Record) error {
	h.events = append(h.events, "read")
	if h.failOn {
		return errors.New("boom")
	}
	return nil
}

func (h *recordingHooks) OnWriteRecord(jobID string, rec *block.Record) error {
	h.events = append(h.events, "write")
	return nil
}

func TestChainDispatchesInOrder(t *testing.T) {
	a := &recordingHooks{}
	b := &recordingHooks{}
	chain := Chain{a, b}
	chain.OnJobStart("job-1")
	chain.OnNewVolume("job-1", "Vol-0001")
	require.Equal(t, []string{"start:job-1", "vol:Vol-0001"}, a.events)
	require.Equal(t, []string{"start:job-1", "vol:Vol-0001"}, b.events)
}

func TestChainStopsOnFirstError(t *testing.T) {
	a := &recordingHooks{failOn: true}
	b := &recordingHooks{}
	chain := Chain{a, b}
	err := chain.OnReadRecord("job-1", &block.Record{})
	require.Error(t, err)
	require.Empty(t, b.events)
}

func TestNopHooks(t *testing.T) {
	var h Hooks = NopHooks{}
	h.OnJobStart("job-1")
	require.NoError(t, h.OnReadRecord("job-1", &block.Record{}))
}
