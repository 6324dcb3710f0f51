package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"hostlink"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build and runtime information",
	Run: func(cmd *cobra.Command, args []string) {
		info := hostlink.GetBuildInfo()
		fmt.Printf("hostlinkctl %s (%s)\n", info.Commit, info.BuildTime)
		fmt.Printf("go: %s %s/%s\n", info.GoVersion, info.GOOS, info.GOARCH)
	},
}
