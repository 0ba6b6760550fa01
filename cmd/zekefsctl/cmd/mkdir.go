package cmd

import (
	"context"
	"path"

	"github.com/spf13/cobra"

	"github.com/zekeos/zekefs"
	"github.com/zekeos/zekefs/vfs"
)

func defineMkdirCommand() *cobra.Command {
	return &cobra.Command{
		Use:          "mkdir <image> <path>",
		Short:        "Create a directory",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, ns, proc, err := openVolume(args[0], blockSizeFlag(cmd), fat.ModeRW)
			if err != nil {
				return err
			}
			defer dev.Close()

			parent, name := path.Split(path.Clean(args[1]))
			if parent == "" {
				parent = "/"
			}
			dir, err := ns.Namei(proc, parent, vfs.ODirectory)
			if err != nil {
				return err
			}
			defer dir.Unref()

			child, err := dir.Ops.Mkdir(context.Background(), dir, name, 0o755)
			if err != nil {
				return err
			}
			child.Unref()
			return nil
		},
	}
}
