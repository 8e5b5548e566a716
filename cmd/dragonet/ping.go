package main

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"github.com/cyberinferno/dragonet/examples/ping"
	"github.com/cyberinferno/dragonet/tcpclient"
	"github.com/cyberinferno/dragonet/tcpserver"
)

func pingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Run the ping responder or pinger",
	}

	cmd.AddCommand(pingServerCmd(), pingClientCmd())
	return cmd
}

func pingServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Answer pings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, "ping-server", map[string]string{
				"server.address": "address",
			})
			if err != nil {
				return err
			}

			engine := tcpserver.New[ping.Phase, ping.Packet](ping.Protocol{}, a.config.Server.Engine(), a.log).
				WithMetrics(a.metrics)
			ping.Serve(engine, a.log)

			return a.run(cmd.Context(), engine.Run)
		},
	}

	cmd.Flags().StringP("address", "a", "", "Listen address")

	return cmd
}

func pingClientCmd() *cobra.Command {
	var (
		count    int
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Send pings and print round trip times",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return errors.Errorf("count must be positive, got %d", count)
			}
			if interval <= 0 {
				return errors.Errorf("interval must be positive, got %s", interval)
			}

			a, err := newApp(cmd, "ping-client", map[string]string{
				"client.address": "address",
				"chat.username":  "name",
			})
			if err != nil {
				return err
			}

			engine := tcpclient.New[ping.Phase, ping.Packet](ping.Protocol{}, a.config.Client.Engine(), a.log).
				WithMetrics(a.metrics)
			pinger := &ping.Pinger{
				Name:     a.config.Chat.Username,
				Count:    count,
				Interval: interval,
				Out:      cmd.OutOrStdout(),
			}
			pinger.Attach(engine)

			err = a.run(cmd.Context(), engine.Run)
			pinger.Summary(cmd.OutOrStdout())
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringP("address", "a", "", "Server address")
	flags.StringP("name", "n", "", "Name sent in the handshake")
	flags.IntVar(&count, "count", 4, "Number of pings")
	flags.DurationVar(&interval, "interval", time.Second, "Time between pings")

	return cmd
}
