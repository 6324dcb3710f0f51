package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"hostlink"
	"hostlink/wire"
)

var (
	sendTo              uint32
	sendChannel         uint8
	sendTeam            bool
	sendConversationKey string
)

func init() {
	sendCmd.Flags().Uint32Var(&sendTo, "to", 0, "destination node id (0 = broadcast)")
	sendCmd.Flags().Uint8Var(&sendChannel, "channel", 0, "channel number")
	sendCmd.Flags().BoolVar(&sendTeam, "team", false, "send as a team chat message instead of a direct message")
	sendCmd.Flags().StringVar(&sendConversationKey, "team-conversation-key", "", "\"<16-hex-teamid>:<8-hex-keyid>\" to stamp on a team chat message before any TeamState has been received")
}

var sendCmd = &cobra.Command{
	Use:   "send <text>",
	Short: "Connect, send one message, wait for its outcome, and exit",
	Args:  cobra.ExactArgs(1),
	RunE:  runSend,
}

func runSend(cmd *cobra.Command, args []string) error {
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
	opts.AutoReconnect = false

	c := hostlink.NewClient(opts)

	done := make(chan wire.MessageEntry, 1)
	c.SetOnMessage(func(m wire.MessageEntry) {
		if m.Status == wire.StatusSucceeded || m.Status == wire.StatusFailed || m.Status == wire.StatusTimeout {
			select {
			case done <- m:
			default:
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Connect(ctx, t); err != nil {
		return fmt.Errorf("hostlinkctl: connect failed: %w", err)
	}
	defer c.Disconnect()

	if sendTeam {
		if _, err := c.SendTeamTextWithKey(ctx, sendChannel, args[0], sendConversationKey); err != nil {
			return err
		}
	} else {
		if _, err := c.SendMessage(ctx, sendTo, sendChannel, args[0]); err != nil {
			return err
		}
	}

	select {
	case m := <-done:
		fmt.Printf("result: %s\n", m.Status)
	case <-ctx.Done():
		return fmt.Errorf("hostlinkctl: timed out waiting for send outcome")
	}
	return nil
}
