package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
name: bstored-test
listen_address: "127.0.0.1:9103"
max_eom_fixup_depth: 5
devices:
  - name: Drive-0
    backend: vtape
    media_type: LTO8
    min_block_size: 65536
    max_block_size: 1048576
    max_concurrent_jobs: 2
changers:
  - name: Changer-0
    num_slots: 20
    num_drives: 2
`

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bstored.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "bstored-test", cfg.Name)
	require.Equal(t, 5, cfg.MaxEOMFixupDepth)
	require.Equal(t, 3, cfg.ReservationRetryPasses) // default carried through

	dev, ok := cfg.DeviceByName("Drive-0")
	require.True(t, ok)
	require.Equal(t, "vtape", dev.Backend)
	require.Equal(t, "LTO8", dev.MediaType)

	ch, ok := cfg.ChangerByName("Changer-0")
	require.True(t, ok)
	require.Equal(t, 20, ch.NumSlots)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/bstored.yaml")
	require.Error(t, err)
}
