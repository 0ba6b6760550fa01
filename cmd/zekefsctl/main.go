// Command zekefsctl mounts and inspects FAT12/16/32 volumes from the
// command line: as a FUSE mountpoint, or directly via one-shot
// ls/cat/mkdir/rm/stat subcommands that walk the volume without ever
// mounting it into the host's namespace.
package main

import (
	"fmt"
	"os"

	"github.com/zekeos/zekefs/cmd/zekefsctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "zekefsctl:", err)
		os.Exit(1)
	}
}
