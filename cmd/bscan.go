package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tapevault/bstored/internal/block"
	"github.com/tapevault/bstored/internal/device"
)

var bscanCmd = &cobra.Command{
	Use:   "bscan <device-name>",
	Short: "Walk a volume and print its session-label and data records",
	Long: `bscan reads every block on a volume at the framing level,
printing each session label and data record it finds. It only prints:
unlike original_source's scan.cc it does not rebuild catalog JobMedia
entries (spec.md §4.7).`,
	Args: cobra.ExactArgs(1),
	RunE: bscanRun,
}

func init() {
	rootCmd.AddCommand(bscanCmd)
}

func bscanRun(cmd *cobra.Command, args []string) error {
	dev, err := deviceByNameFromConfig(args[0])
	if err != nil {
		return err
	}
	if err := dev.Backend.Open(device.ReadOnly); err != nil {
		return fmt.Errorf("bscan: opening device: %w", err)
	}
	defer dev.Backend.Close()

	blockSize := dev.MaxBlockSize
	if blockSize == 0 {
		blockSize = 64 * 1024
	}
	blk := block.NewBlock(blockSize, block.FormatVersion2, true)
	inFlight := make(map[block.Key]*block.Record)

	blockNum := 0
	recordNum := 0
	for {
		n, err := dev.Backend.Read(blk.Buf)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, device.ErrEndOfFile) {
			continue
		}
		if err != nil {
			return fmt.Errorf("bscan: reading block %d: %w", blockNum, err)
		}
		if n == 0 {
			break
		}

		result := block.ParseBlockHeader(blk, n, true, false, false, nil)
		if result != block.ParseOK {
			fmt.Printf("block %d: parse failed (%v), stopping\n", blockNum, result)
			break
		}
		blockNum++
		blk.ResetReadCursor()

		for {
			key := block.Key{VolSessionID: blk.VolSessionID, VolSessionTime: blk.VolSessionTime}
			rec, ok := inFlight[key]
			if !ok {
				rec = &block.Record{}
			}
			outcome := block.ParseRecordFromBlock(blk, rec)
			if outcome == block.NeedMoreBlock {
				inFlight[key] = rec
				break
			}
			if outcome == block.NoMatch {
				fmt.Printf("block %d: continuation session mismatch, stopping\n", blockNum)
				return nil
			}
			delete(inFlight, key)

			recordNum++
			printScannedRecord(recordNum, blockNum, rec)
		}
	}

	fmt.Printf("scanned %d blocks, %d records\n", blockNum, recordNum)
	return nil
}

func printScannedRecord(recordNum, blockNum int, rec *block.Record) {
	switch rec.FileIndex {
	case block.FileIndexSOS:
		fmt.Printf("[%d] block %d: SESSION START job=%q\n", recordNum, blockNum, string(rec.Data))
	case block.FileIndexEOS:
		fmt.Printf("[%d] block %d: SESSION END job=%q\n", recordNum, blockNum, string(rec.Data))
	case block.FileIndexEOM:
		fmt.Printf("[%d] block %d: END OF MEDIUM\n", recordNum, blockNum)
	case block.FileIndexEOT:
		fmt.Printf("[%d] block %d: END OF TAPE\n", recordNum, blockNum)
	default:
		fmt.Printf("[%d] block %d: file_index=%d stream=%d bytes=%d\n",
			recordNum, blockNum, rec.FileIndex, rec.StreamID, rec.DataLen())
	}
}
