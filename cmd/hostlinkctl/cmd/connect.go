package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"hostlink"
	"hostlink/wire"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect to a device and print events until interrupted",
	RunE:  runConnect,
}

func runConnect(cmd *cobra.Command, args []string) error {
	cfg := resolvedConfig(cmd)
	if err := requireEndpointFlag(cfg); err != nil {
		return err
	}

	ep := wire.TransportEndpoint{}
	if cfg.ReplayFile != "" {
		ep.Kind = wire.EndpointReplay
		ep.File = cfg.ReplayFile
		ep.SpeedMult = cfg.ReplaySpeed
	} else {
		ep.Kind = wire.EndpointSerial
		ep.PortName = cfg.SerialPort
	}

	t, err := hostlink.DialEndpoint(ep, cfg.SerialBaud)
	if err != nil {
		return err
	}

	opts := hostlink.DefaultOptions()
	opts.SelfNodeID = cfg.SelfNodeID
	opts.AckTimeout = time.Duration(cfg.AckTimeoutMs) * time.Millisecond
	opts.MaxRetries = cfg.MaxRetries
	opts.ReconnectDelay = time.Duration(cfg.ReconnectMs) * time.Millisecond
	opts.AutoReconnect = cfg.AutoReconnect

	c := hostlink.NewClient(opts)
	c.SetOnStateChange(func(s hostlink.State, msg string) {
		logrus.WithField("state", s).Info("connection state changed")
		if msg != "" {
			logrus.Warn(msg)
		}
	})
	c.SetOnDeviceInfo(func(info wire.DeviceInfo) {
		fmt.Printf("device: %s (firmware %s, max frame %d)\n", info.Model, info.Firmware, info.MaxFrameLen)
	})
	c.SetOnMessage(func(m wire.MessageEntry) {
		fmt.Printf("[msg %s] from=%d to=%d: %q (%s)\n", m.Status, m.From, m.To, m.Text, m.Status)
	})
	c.SetOnPosition(func(p hostlink.GpsFix) {
		fmt.Printf("[gps] node=%d lat=%.6f lon=%.6f\n", p.NodeID, p.Lat(), p.Lon())
	})
	c.SetOnTeamState(func(ts wire.TeamState) {
		fmt.Printf("[team] self=%d members=%d\n", ts.SelfID, len(ts.Members))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Connect(ctx, t); err != nil {
		return fmt.Errorf("hostlinkctl: connect failed: %w", err)
	}
	defer c.Disconnect()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig
	return nil
}
