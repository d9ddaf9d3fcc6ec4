package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tapevault/bstored/internal/block"
	"github.com/tapevault/bstored/internal/config"
	"github.com/tapevault/bstored/internal/dcr"
	"github.com/tapevault/bstored/internal/device"
	"github.com/tapevault/bstored/internal/record"
)

var btapeCmd = &cobra.Command{
	Use:   "btape",
	Short: "Interactive device diagnostic tool",
	Long: `btape exercises a configured device directly, bypassing the
reservation engine, the way original_source's btape.c drives a drive by
hand for acceptance testing (spec.md §4.7).`,
}

var btapeTestCmd = &cobra.Command{
	Use:   "test <device-name>",
	Short: "Write a handful of test records, rewind, and read them back",
	Args:  cobra.ExactArgs(1),
	RunE:  btapeTest,
}

var btapeCapCmd = &cobra.Command{
	Use:   "cap <device-name>",
	Short: "Report the device's capability set",
	Args:  cobra.ExactArgs(1),
	RunE:  btapeCap,
}

var btapeFillCmd = &cobra.Command{
	Use:   "fill <device-name>",
	Short: "Write test records until end-of-medium",
	Args:  cobra.ExactArgs(1),
	RunE:  btapeFill,
}

func init() {
	btapeCmd.AddCommand(btapeTestCmd, btapeCapCmd, btapeFillCmd)
	rootCmd.AddCommand(btapeCmd)
}

func deviceByNameFromConfig(name string) (*device.Device, error) {
	cfg := config.Defaults()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	devices, _, err := buildDevices(cfg)
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Name == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("btape: no device named %q in config", name)
}

// fixedUpstream feeds one stream header and a fixed count of fixed-size
// data records, the shape btape's "test" write mode uses to probe a
// device without needing a real file-side agent (spec.md §4.7).
type fixedUpstream struct {
	fileIndex  int32
	recordSize int
	count      int

	headerDone bool
	sent       int
}

func (u *fixedUpstream) NextHeader() (record.StreamHeader, bool, error) {
	if u.headerDone {
		return record.StreamHeader{}, false, nil
	}
	u.headerDone = true
	return record.StreamHeader{FileIndex: u.fileIndex, StreamID: 1}, true, nil
}

func (u *fixedUpstream) NextData(hdr record.StreamHeader) ([]byte, bool, error) {
	if u.sent >= u.count {
		return nil, false, nil
	}
	u.sent++
	buf := make([]byte, u.recordSize)
	for i := range buf {
		buf[i] = byte(u.sent)
	}
	return buf, true, nil
}

type countingDownstream struct {
	records []*block.Record
}

func (d *countingDownstream) DeliverRecord(rec *block.Record) error {
	clone := &block.Record{
		VolSessionID:   rec.VolSessionID,
		VolSessionTime: rec.VolSessionTime,
		FileIndex:      rec.FileIndex,
		StreamID:       rec.StreamID,
		Data:           append([]byte(nil), rec.Data...),
	}
	d.records = append(d.records, clone)
	return nil
}

func btapeTest(cmd *cobra.Command, args []string) error {
	dev, err := deviceByNameFromConfig(args[0])
	if err != nil {
		return err
	}
	if err := dev.Backend.Open(device.CreateReadWrite); err != nil {
		return fmt.Errorf("btape: opening device: %w", err)
	}
	defer dev.Backend.Close()

	job := dcr.NewJob(fmt.Sprintf("btape-test-%s", dcr.NewJobID()), dcr.JobTypeSystem, dcr.LevelFull)
	d := dcr.New(1, job, dev)

	up := &fixedUpstream{fileIndex: 1, recordSize: 1024, count: 10}
	sess := record.NewAppendSession(d, nil, nil, nil)
	if err := sess.Run(up); err != nil {
		return fmt.Errorf("btape: write phase: %w", err)
	}
	fmt.Printf("wrote %d bytes, status=%s\n", sess.JobBytes(), job.Status)

	if err := dev.Backend.Rewind(); err != nil {
		return fmt.Errorf("btape: rewind: %w", err)
	}

	job2 := dcr.NewJob(fmt.Sprintf("btape-test-read-%s", dcr.NewJobID()), dcr.JobTypeSystem, dcr.LevelFull)
	d2 := dcr.New(2, job2, dev)
	down := &countingDownstream{}
	rsess := record.NewReadSession(d2, nil, nil, down)
	if err := rsess.Run(); err != nil {
		return fmt.Errorf("btape: read phase: %w", err)
	}

	fmt.Printf("read back %d records, status=%s\n", len(down.records), job2.Status)
	if len(down.records) != up.count {
		return fmt.Errorf("btape: FAIL, expected %d records, got %d", up.count, len(down.records))
	}
	fmt.Println("PASS")
	return nil
}

func btapeCap(cmd *cobra.Command, args []string) error {
	dev, err := deviceByNameFromConfig(args[0])
	if err != nil {
		return err
	}
	if err := dev.Backend.Open(device.ReadOnly); err != nil {
		return fmt.Errorf("btape: opening device: %w", err)
	}
	defer dev.Backend.Close()

	caps := dev.Backend.Capabilities()
	fmt.Printf("device %s, kind=%s\n", dev.Name, dev.Backend.Kind())
	for name, bit := range capNames {
		fmt.Printf("  %-16s %v\n", name, caps.Has(bit))
	}
	return nil
}

var capNames = map[string]device.Capability{
	"EOF":            device.CapEOF,
	"BSR":            device.CapBSR,
	"BSF":            device.CapBSF,
	"FSR":            device.CapFSR,
	"FSF":            device.CapFSF,
	"FastFSF":        device.CapFastFSF,
	"BSFAtEOM":       device.CapBSFAtEOM,
	"EOM":            device.CapEOM,
	"REM":            device.CapREM,
	"RAccess":        device.CapRAccess,
	"Automount":      device.CapAutomount,
	"Label":          device.CapLabel,
	"AnonVols":       device.CapAnonVols,
	"AlwaysOpen":     device.CapAlwaysOpen,
	"MTIOCGet":       device.CapMTIOCGet,
	"AdjWriteSize":   device.CapAdjWriteSize,
	"Stream":         device.CapStream,
	"CloseOnPoll":    device.CapCloseOnPoll,
	"Autochanger":    device.CapAutochanger,
	"OfflineUnmount": device.CapOfflineUnmount,
	"TwoEOF":         device.CapTwoEOF,
}

func btapeFill(cmd *cobra.Command, args []string) error {
	dev, err := deviceByNameFromConfig(args[0])
	if err != nil {
		return err
	}
	if err := dev.Backend.Open(device.CreateReadWrite); err != nil {
		return fmt.Errorf("btape: opening device: %w", err)
	}
	defer dev.Backend.Close()

	job := dcr.NewJob(fmt.Sprintf("btape-fill-%s", dcr.NewJobID()), dcr.JobTypeSystem, dcr.LevelFull)
	d := dcr.New(1, job, dev)

	up := &fixedUpstream{fileIndex: 1, recordSize: 65536, count: 1 << 20}
	sess := record.NewAppendSession(d, nil, nil, nil)
	sess.MaxVolumeSize = 0
	err = sess.Run(up)
	fmt.Printf("filled %d bytes before stopping, status=%s\n", sess.JobBytes(), job.Status)
	if err != nil {
		fmt.Printf("stopped: %v\n", err)
	}
	return nil
}
