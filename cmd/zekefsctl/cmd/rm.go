package cmd

import (
	"context"
	"path"

	"github.com/spf13/cobra"

	"github.com/zekeos/zekefs"
	"github.com/zekeos/zekefs/vfs"
)

func defineRmCommand() *cobra.Command {
	var dir bool
	cmd := &cobra.Command{
		Use:          "rm <image> <path>",
		Short:        "Remove a file or empty directory",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, ns, proc, err := openVolume(args[0], blockSizeFlag(cmd), fat.ModeRW)
			if err != nil {
				return err
			}
			defer dev.Close()

			parentPath, name := path.Split(path.Clean(args[1]))
			if parentPath == "" {
				parentPath = "/"
			}
			parent, err := ns.Namei(proc, parentPath, vfs.ODirectory)
			if err != nil {
				return err
			}
			defer parent.Unref()

			ctx := context.Background()
			if dir {
				return parent.Ops.Rmdir(ctx, parent, name)
			}
			return parent.Ops.Unlink(ctx, parent, name)
		},
	}
	cmd.Flags().BoolVar(&dir, "dir", false, "remove an empty directory instead of a file")
	return cmd
}
