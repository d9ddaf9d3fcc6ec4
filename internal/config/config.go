// Package config loads the storage daemon's ServerConfig from a YAML/JSON
// file via viper, replacing the source's process-wide configuration
// singleton with an explicit *ServerConfig passed at startup to the
// components that need it (reserve.NewEngine).
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// DeviceConfig is the per-device configuration surface (spec.md §6.7).
type DeviceConfig struct {
	Name              string   `mapstructure:"name"`
	Backend           string   `mapstructure:"backend"` // tape|file|pipe|vtape|ndmp
	ArchiveDevice     string   `mapstructure:"archive_device"`
	MediaType         string   `mapstructure:"media_type"`
	MinBlockSize      int      `mapstructure:"min_block_size"`
	MaxBlockSize      int      `mapstructure:"max_block_size"`
	MaxFileSize       int64    `mapstructure:"max_file_size"`
	MaxVolumeSize     int64    `mapstructure:"max_volume_size"`
	MaxConcurrentJobs int      `mapstructure:"max_concurrent_jobs"`
	MaxChangerWaitSec int      `mapstructure:"max_changer_wait_seconds"`
	Capabilities      []string `mapstructure:"capabilities"`
	MountPoint        string   `mapstructure:"mount_point"`
	PoolBinding       string   `mapstructure:"pool_binding"`
	ChangerName       string   `mapstructure:"changer_name"`
	ChangerDrive      int      `mapstructure:"changer_drive"`
	FreeSpaceCommand  string   `mapstructure:"free_space_command"`
	LabelCommand      string   `mapstructure:"label_command"`
	AutomountEnabled  bool     `mapstructure:"automount_enabled"`
}

// ChangerConfig describes one configured autochanger.
type ChangerConfig struct {
	Name      string `mapstructure:"name"`
	NumSlots  int    `mapstructure:"num_slots"`
	NumDrives int    `mapstructure:"num_drives"`
}

// ServerConfig is the top-level process configuration: listen address,
// global timing/retry knobs, and the list of configured devices and
// changers.
type ServerConfig struct {
	Name          string `mapstructure:"name"`
	ListenAddress string `mapstructure:"listen_address"`
	WorkingDir    string `mapstructure:"working_directory"`

	// DeviceReserveByMediaType enables a fallback reservation pass that
	// matches on media type regardless of device name (spec.md §4.6).
	DeviceReserveByMediaType bool `mapstructure:"device_reserve_by_media_type"`

	MaxWaitSeconds        int `mapstructure:"max_wait_seconds"`
	MaxChangerWaitSeconds int `mapstructure:"max_changer_wait_seconds"`
	MountTimeoutSeconds   int `mapstructure:"mount_timeout_seconds"`

	ReservationRetryPasses int `mapstructure:"reservation_retry_passes"`
	ReservationRetryDelay  int `mapstructure:"reservation_retry_delay_seconds"`

	EBusyRetryAttempts int `mapstructure:"ebusy_retry_attempts"`
	EBusyRetryDelaySec int `mapstructure:"ebusy_retry_delay_seconds"`

	MaxEOMFixupDepth int `mapstructure:"max_eom_fixup_depth"`

	Devices  []DeviceConfig  `mapstructure:"devices"`
	Changers []ChangerConfig `mapstructure:"changers"`
}

// Defaults mirrors the values spec.md names directly (§5 timeout
// semantics) so a minimal config file only needs to override what it
// actually changes.
func Defaults() *ServerConfig {
	return &ServerConfig{
		Name:                   "bstored",
		ListenAddress:          "0.0.0.0:9103",
		WorkingDir:             "/var/lib/bstored/working",
		MaxWaitSeconds:         600,
		MaxChangerWaitSeconds:  120,
		MountTimeoutSeconds:    600,
		ReservationRetryPasses: 3,
		ReservationRetryDelay:  30,
		EBusyRetryAttempts:     3,
		EBusyRetryDelaySec:     5,
		MaxEOMFixupDepth:       3,
	}
}

// Load reads a ServerConfig from path using viper, seeding defaults first
// so a config file need only declare its devices and overrides.
func Load(path string) (*ServerConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	cfg := Defaults()
	setViperDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling %s: %w", path, err)
	}
	return cfg, nil
}

func setViperDefaults(v *viper.Viper, cfg *ServerConfig) {
	v.SetDefault("name", cfg.Name)
	v.SetDefault("listen_address", cfg.ListenAddress)
	v.SetDefault("working_directory", cfg.WorkingDir)
	v.SetDefault("max_wait_seconds", cfg.MaxWaitSeconds)
	v.SetDefault("max_changer_wait_seconds", cfg.MaxChangerWaitSeconds)
	v.SetDefault("mount_timeout_seconds", cfg.MountTimeoutSeconds)
	v.SetDefault("reservation_retry_passes", cfg.ReservationRetryPasses)
	v.SetDefault("reservation_retry_delay_seconds", cfg.ReservationRetryDelay)
	v.SetDefault("ebusy_retry_attempts", cfg.EBusyRetryAttempts)
	v.SetDefault("ebusy_retry_delay_seconds", cfg.EBusyRetryDelaySec)
	v.SetDefault("max_eom_fixup_depth", cfg.MaxEOMFixupDepth)
}

// DeviceByName looks up a configured device by name.
func (c *ServerConfig) DeviceByName(name string) (*DeviceConfig, bool) {
	for i := range c.Devices {
		if c.Devices[i].Name == name {
			return &c.Devices[i], true
		}
	}
	return nil, false
}

// ChangerByName looks up a configured changer by name.
func (c *ServerConfig) ChangerByName(name string) (*ChangerConfig, bool) {
	for i := range c.Changers {
		if c.Changers[i].Name == name {
			return &c.Changers[i], true
		}
	}
	return nil, false
}
