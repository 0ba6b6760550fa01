package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/zekeos/zekefs"
	"github.com/zekeos/zekefs/blockdev"
	"github.com/zekeos/zekefs/vfs"
)

// openVolume opens the disk image at imagePath, mounts it with the FAT
// driver, and wraps it in a minimal single-volume vfs.Namespace/Process
// pair good enough for one-shot path walks. It deliberately skips
// Namespace.Mount's mount-stack splice since there is never more than one
// filesystem in play for this tool.
func openVolume(imagePath string, blockSize int, mode fat.Mode) (*blockdev.FileDevice, *vfs.Namespace, *vfs.Process, error) {
	dev, err := blockdev.OpenFileDevice(imagePath, blockSize)
	if err != nil {
		return nil, nil, nil, err
	}

	fsys := new(fat.FS)
	if err := fsys.Mount(dev, blockSize, mode); err != nil {
		dev.Close()
		return nil, nil, nil, err
	}

	driver := fat.NewVFSDriver(fsys)
	sb := &vfs.Superblock{Device: imagePath}
	sb.Root = driver.RootVnode(sb)

	ns := vfs.NewNamespace(sb.Root, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	proc := vfs.NewProcess(sb.Root, sb.Root, 16)
	return dev, ns, proc, nil
}

func blockSizeFlag(cmd *cobra.Command) int {
	v, _ := cmd.Flags().GetInt("block-size")
	if v <= 0 {
		v = 512
	}
	return v
}
