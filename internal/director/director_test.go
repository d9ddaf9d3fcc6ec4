package director

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseUseCommandsSingleStore(t *testing.T) {
	text := `use storage=File1 media_type=LTO8 pool_name=Default pool_type=Backup append=1 copy=0 stripe=0
use device=Drive-0
use device=Drive-1`

	stores, err := ParseUseCommands(text)
	require.NoError(t, err)
	require.Len(t, stores, 1)
	s := stores[0]
	require.Equal(t, "File1", s.StorageName)
	require.Equal(t, "LTO8", s.MediaType)
	require.True(t, s.Append)
	require.False(t, s.Copy)
	require.Equal(t, []string{"Drive-0", "Drive-1"}, s.DeviceNames)
}

func TestParseUseCommandsMultipleStores(t *testing.T) {
	text := `use storage=Read1 media_type=LTO8 pool_name=Default pool_type=Backup append=0 copy=0 stripe=0
use device=Drive-0
use storage=Write1 media_type=LTO8 pool_name=Default pool_type=Backup append=1 copy=0 stripe=0
use device=Drive-1`

	stores, err := ParseUseCommands(text)
	require.NoError(t, err)
	require.Len(t, stores, 2)
	require.False(t, stores[0].Append)
	require.True(t, stores[1].Append)
}

func TestParseUseCommandsDeviceBeforeStorage(t *testing.T) {
	_, err := ParseUseCommands("use device=Drive-0")
	require.Error(t, err)
}

func TestResponseCodeFormat(t *testing.T) {
	require.Equal(t, "3000 OK use device device=Drive-0", RespOK.Format("Drive-0"))
	require.Contains(t, RespDeviceNotFound.Format("Drive-9"), "3924")
	require.Contains(t, RespBadUseCommand.Format("garbled"), "3913")
}
