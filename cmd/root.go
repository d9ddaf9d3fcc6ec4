// Package cmd implements the bstored command-line surface: the daemon
// entrypoint plus the offline diagnostic tools original_source ships as
// separate binaries (btape, bcopy, bscan), unified under one cobra root
// the way the teacher's go-apfs CLI unifies discover/list/extract under
// a single root (spec.md §1 CLI surface).
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	verbose    bool
	quiet      bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "bstored",
	Short: "Network backup storage daemon",
	Long: `bstored is a storage daemon that manages backup media: tape
drives, virtual tape devices, and disk-based volumes, reserved and
written to on behalf of a director.

Commands:
  run      start the storage daemon core
  bcopy    copy records from one volume to another
  btape    interactive device diagnostic: test, fill, capability report
  bscan    print the session-label and data records found on a volume`,
	Version: "0.1.0-dev",
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output except errors")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to bstored config file")
}
