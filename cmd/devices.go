package cmd

import (
	"fmt"

	"github.com/tapevault/bstored/internal/changer"
	"github.com/tapevault/bstored/internal/config"
	"github.com/tapevault/bstored/internal/device"
)

// buildDevices instantiates one device.Device per configured entry,
// wiring its backend by name and attaching it to a changer drive when
// configured (spec.md §6.7). Changers are built first since a device's
// ChangerName reference must already exist.
func buildDevices(cfg *config.ServerConfig) ([]*device.Device, map[string]*changer.SimulatedChanger, error) {
	changers := make(map[string]*changer.SimulatedChanger, len(cfg.Changers))
	for _, cc := range cfg.Changers {
		changers[cc.Name] = changer.NewSimulatedChanger(cc.NumSlots, cc.NumDrives)
	}

	devices := make([]*device.Device, 0, len(cfg.Devices))
	for _, dc := range cfg.Devices {
		backend, err := backendFor(dc)
		if err != nil {
			return nil, nil, fmt.Errorf("device %s: %w", dc.Name, err)
		}

		minBlock, maxBlock := dc.MinBlockSize, dc.MaxBlockSize
		if minBlock == 0 {
			minBlock = 64 * 1024
		}
		if maxBlock == 0 {
			maxBlock = minBlock
		}

		d := device.New(dc.Name, backend, minBlock, maxBlock)
		d.MaxConcurrentJobs = dc.MaxConcurrentJobs
		d.MediaType = dc.MediaType
		d.MaxFileSize = dc.MaxFileSize
		d.MaxVolumeSize = dc.MaxVolumeSize

		if dc.ChangerName != "" {
			ch, ok := changers[dc.ChangerName]
			if !ok {
				return nil, nil, fmt.Errorf("device %s: unknown changer %q", dc.Name, dc.ChangerName)
			}
			d.Changer = changer.DriveBinding{Changer: ch, Drive: dc.ChangerDrive}
		}

		devices = append(devices, d)
	}
	return devices, changers, nil
}

// backendFor constructs the Backend named by a device's configured kind
// (spec.md §6.7 "backend" field). An empty kind selects the in-memory
// vtape backend; any other unknown kind is a configuration error, since
// guessing a device's physical medium would risk writing framing the
// wrong way.
func backendFor(dc config.DeviceConfig) (device.Backend, error) {
	switch dc.Backend {
	case "tape":
		return device.NewTapeBackend(dc.ArchiveDevice), nil
	case "file":
		return device.NewFileBackend(dc.ArchiveDevice), nil
	case "pipe":
		return device.NewPipeBackend(dc.ArchiveDevice), nil
	case "vtape", "":
		return device.NewVTapeBackend(), nil
	case "ndmp":
		return device.NewNDMPBackend(dc.ArchiveDevice), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", dc.Backend)
	}
}
