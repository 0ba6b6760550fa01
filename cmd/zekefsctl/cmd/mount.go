package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/zekeos/zekefs"
	"github.com/zekeos/zekefs/fuseadapter"
)

func defineMountCommand() *cobra.Command {
	var readOnly bool
	cmd := &cobra.Command{
		Use:          "mount <image> <mountpoint>",
		Short:        "Mount a FAT volume as a FUSE filesystem",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := fat.ModeRW
			if readOnly {
				mode = fat.ModeRead
			}
			dev, ns, _, err := openVolume(args[0], blockSizeFlag(cmd), mode)
			if err != nil {
				return err
			}
			defer dev.Close()

			return fuseadapter.Mount(context.Background(), args[1], ns.Root())
		},
	}
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "mount the volume read-only")
	return cmd
}
