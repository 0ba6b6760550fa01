package cmd

import (
	"github.com/spf13/cobra"
)

const appName = "zekefsctl"

// Execute builds and runs the zekefsctl command tree.
func Execute() error {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: appName + " - inspect and mount FAT12/16/32 volumes",
	}
	rootCmd.PersistentFlags().Int("block-size", 512, "device block size in bytes")

	rootCmd.AddCommand(defineMountCommand())
	rootCmd.AddCommand(defineLsCommand())
	rootCmd.AddCommand(defineCatCommand())
	rootCmd.AddCommand(defineMkdirCommand())
	rootCmd.AddCommand(defineRmCommand())
	rootCmd.AddCommand(defineStatCommand())

	return rootCmd.Execute()
}
