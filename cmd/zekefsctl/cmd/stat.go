package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zekeos/zekefs"
	"github.com/zekeos/zekefs/vfs"
)

func defineStatCommand() *cobra.Command {
	return &cobra.Command{
		Use:          "stat <image> <path>",
		Short:        "Print size, type and modification time for a path",
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

			st, err := v.Ops.Stat(context.Background(), v)
			if err != nil {
				return err
			}
			kind := "file"
			if st.Type == vfs.NodeDir {
				kind = "dir"
			}
			fmt.Printf("path:  %s\n", args[1])
			fmt.Printf("type:  %s\n", kind)
			fmt.Printf("size:  %d\n", st.Size)
			fmt.Printf("mode:  %o\n", uint16(st.Mode))
			fmt.Printf("mtime: %s\n", st.ModTime.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}
