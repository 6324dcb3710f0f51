// Package cmd implements hostlinkctl's cobra command tree.
package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"hostlink/internal/config"
)

var (
	serialPort  string
	serialBaud  int
	replayFile  string
	replaySpeed float64
	selfNodeID  uint32
	verbose     bool
)

func init() {
	RootCmd.PersistentFlags().StringVar(&serialPort, "serial", "", "serial port to connect to (e.g. /dev/ttyUSB0)")
	RootCmd.PersistentFlags().IntVar(&serialBaud, "baud", 0, "serial baud rate (default from saved config, else 115200)")
	RootCmd.PersistentFlags().StringVar(&replayFile, "replay", "", "replay capture file to play back instead of a live serial link")
	RootCmd.PersistentFlags().Float64Var(&replaySpeed, "replay-speed", 0, "replay playback speed multiplier (default from saved config, else 1.0)")
	RootCmd.PersistentFlags().Uint32Var(&selfNodeID, "node-id", 0, "node id stamped as the sender of outbound messages (default from saved config)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	RootCmd.AddCommand(connectCmd)
	RootCmd.AddCommand(sendCmd)
	RootCmd.AddCommand(versionCmd)
}

// RootCmd is the hostlinkctl entry point.
var RootCmd = &cobra.Command{
	Use:   "hostlinkctl",
	Short: "Talk to a HostLink device over serial or a replay capture",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
}

// resolvedConfig merges saved preferences with flags explicitly set on the
// command line, flags taking precedence.
func resolvedConfig(cmd *cobra.Command) config.Config {
	cfg := config.Load()
	if cmd.Flags().Changed("serial") {
		cfg.SerialPort = serialPort
	}
	if cmd.Flags().Changed("baud") {
		cfg.SerialBaud = serialBaud
	}
	if cmd.Flags().Changed("replay") {
		cfg.ReplayFile = replayFile
	}
	if cmd.Flags().Changed("replay-speed") {
		cfg.ReplaySpeed = replaySpeed
	}
	if cmd.Flags().Changed("node-id") {
		cfg.SelfNodeID = selfNodeID
	}
	return cfg
}

func requireEndpointFlag(cfg config.Config) error {
	if cfg.SerialPort == "" && cfg.ReplayFile == "" {
		return fmt.Errorf("hostlinkctl: specify --serial or --replay (or set serial_port or replay_file in the saved config file)")
	}
	return nil
}
