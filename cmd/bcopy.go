package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tapevault/bstored/internal/block"
	"github.com/tapevault/bstored/internal/dcr"
	"github.com/tapevault/bstored/internal/device"
	"github.com/tapevault/bstored/internal/record"
)

var bcopyCmd = &cobra.Command{
	Use:   "bcopy <source-device> <dest-device>",
	Short: "Copy records from one volume to another",
	Long: `bcopy reads every data record off the source device and
re-appends it to the destination device as a fresh session, the way
original_source's bcopy.c migrates a volume off aging media (spec.md
§4.7 "standalone offline tools").`,
	Args: cobra.ExactArgs(2),
	RunE: bcopyRun,
}

func init() {
	rootCmd.AddCommand(bcopyCmd)
}

// copiedStream groups the records bcopy read from the source volume by
// contiguous (FileIndex, StreamID) run, since record.Upstream replays one
// stream header followed by all of its data chunks (spec.md §4.2 shape).
type copiedStream struct {
	hdr    record.StreamHeader
	chunks [][]byte
}

type collectingDownstream struct {
	streams []copiedStream
}

func (c *collectingDownstream) DeliverRecord(rec *block.Record) error {
	hdr := record.StreamHeader{FileIndex: rec.FileIndex, StreamID: rec.StreamID}
	if n := len(c.streams); n > 0 && c.streams[n-1].hdr == hdr {
		c.streams[n-1].chunks = append(c.streams[n-1].chunks, append([]byte(nil), rec.Data...))
		return nil
	}
	c.streams = append(c.streams, copiedStream{hdr: hdr, chunks: [][]byte{append([]byte(nil), rec.Data...)}})
	return nil
}

// replayUpstream feeds a copiedStream slice back through record.Upstream,
// reproducing the header/data/EOD shape the append pipeline expects.
type replayUpstream struct {
	streams []copiedStream
	si, di  int
}

func (u *replayUpstream) NextHeader() (record.StreamHeader, bool, error) {
	if u.si >= len(u.streams) {
		return record.StreamHeader{}, false, nil
	}
	hdr := u.streams[u.si].hdr
	u.di = 0
	u.si++
	return hdr, true, nil
}

func (u *replayUpstream) NextData(hdr record.StreamHeader) ([]byte, bool, error) {
	chunks := u.streams[u.si-1].chunks
	if u.di >= len(chunks) {
		return nil, false, nil
	}
	data := chunks[u.di]
	u.di++
	return data, true, nil
}

func bcopyRun(cmd *cobra.Command, args []string) error {
	srcName, dstName := args[0], args[1]

	src, err := deviceByNameFromConfig(srcName)
	if err != nil {
		return err
	}
	dst, err := deviceByNameFromConfig(dstName)
	if err != nil {
		return err
	}

	if err := src.Backend.Open(device.ReadOnly); err != nil {
		return fmt.Errorf("bcopy: opening source: %w", err)
	}
	defer src.Backend.Close()
	if err := dst.Backend.Open(device.CreateReadWrite); err != nil {
		return fmt.Errorf("bcopy: opening destination: %w", err)
	}
	defer dst.Backend.Close()

	readJob := dcr.NewJob(fmt.Sprintf("bcopy-read-%s", dcr.NewJobID()), dcr.JobTypeSystem, dcr.LevelFull)
	readDCR := dcr.New(1, readJob, src)
	down := &collectingDownstream{}
	rsess := record.NewReadSession(readDCR, nil, nil, down)
	if err := rsess.Run(); err != nil {
		return fmt.Errorf("bcopy: reading source: %w", err)
	}

	writeJob := dcr.NewJob(fmt.Sprintf("bcopy-write-%s", dcr.NewJobID()), dcr.JobTypeSystem, dcr.LevelFull)
	writeDCR := dcr.New(2, writeJob, dst)
	up := &replayUpstream{streams: down.streams}
	wsess := record.NewAppendSession(writeDCR, nil, nil, nil)
	if err := wsess.Run(up); err != nil {
		return fmt.Errorf("bcopy: writing destination: %w", err)
	}

	fmt.Printf("copied %d streams, %d bytes: %s -> %s\n", len(down.streams), wsess.JobBytes(), srcName, dstName)
	return nil
}
