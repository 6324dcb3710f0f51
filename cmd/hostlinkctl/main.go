// Command hostlinkctl is a demo CLI for talking to a HostLink device over
// serial or a recorded replay capture.
package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"hostlink/cmd/hostlinkctl/cmd"
)

func main() {
	if err := cmd.RootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("hostlinkctl: command failed")
		os.Exit(1)
	}
}
