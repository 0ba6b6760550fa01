package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/zekeos/zekefs"
)

func defineCatCommand() *cobra.Command {
	return &cobra.Command{
		Use:          "cat <image> <path>",
		Short:        "Print a file's contents to stdout",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, ns, proc, err := openVolume(args[0], blockSizeFlag(cmd), fat.ModeRead)
			if err != nil {
				return err
			}
			defer dev.Close()

			v, err := ns.Namei(proc, args[1], 0)
			if err != nil {
				return err
			}
			defer v.Unref()

			ctx := context.Background()
			if err := v.Ops.FileOpened(ctx, v, 0); err != nil {
				return err
			}
			defer v.Ops.FileClosed(ctx, v)

			buf := make([]byte, 32*1024)
			var offset int64
			for {
				n, err := v.Ops.Read(ctx, v, buf, offset)
				if n > 0 {
					if _, werr := os.Stdout.Write(buf[:n]); werr != nil {
						return werr
					}
					offset += int64(n)
				}
				if err != nil || n == 0 {
					return nil
				}
			}
		},
	}
}
