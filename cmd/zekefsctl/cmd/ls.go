package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zekeos/zekefs"
	"github.com/zekeos/zekefs/vfs"
)

func defineLsCommand() *cobra.Command {
	return &cobra.Command{
		Use:          "ls <image> <path>",
		Short:        "List a directory's contents",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, ns, proc, err := openVolume(args[0], blockSizeFlag(cmd), fat.ModeRead)
			if err != nil {
				return err
			}
			defer dev.Close()

			v, err := ns.Namei(proc, args[1], vfs.ODirectory)
			if err != nil {
				return err
			}
			defer v.Unref()

			ctx := context.Background()
			var cookie int64
			for {
				entries, next, err := v.Ops.Readdir(ctx, v, cookie)
				if err != nil {
					return err
				}
				for _, e := range entries {
					suffix := ""
					if e.Type == vfs.NodeDir {
						suffix = "/"
					}
					fmt.Printf("%s%s\n", e.Name, suffix)
				}
				if next == cookie || len(entries) == 0 {
					return nil
				}
				cookie = next
			}
		},
	}
}
