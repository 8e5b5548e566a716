package main

import (
	"context"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/cyberinferno/dragonet/config"
	"github.com/cyberinferno/dragonet/examples/chat"
	"github.com/cyberinferno/dragonet/tcpclient"
	"github.com/cyberinferno/dragonet/tcpserver"
)

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run the chat room server or client",
	}

	cmd.AddCommand(chatServerCmd(), chatClientCmd())
	return cmd
}

func chatServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run a chat room",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, "chat-server", map[string]string{
				"server.address":    "address",
				"chat.history":      "history",
				"chat.history_size": "history-size",
				"chat.redis_addr":   "redis-addr",
			})
			if err != nil {
				return err
			}

			history, closeHistory := newHistory(a.config.Chat)
			defer closeHistory()

			engine := tcpserver.New[chat.Phase, chat.Packet](chat.Protocol{}, a.config.Server.Engine(), a.log).
				WithMetrics(a.metrics)
			room := chat.NewServer(engine, history, a.config.Chat.HistorySize, a.log)

			return a.run(cmd.Context(), room.Run)
		},
	}

	flags := cmd.Flags()
	flags.StringP("address", "a", "", "Listen address")
	flags.String("history", "", "History backend (memory or redis)")
	flags.Int("history-size", 0, "Messages replayed to new users")
	flags.String("redis-addr", "", "Redis address for the redis backend")

	return cmd
}

// newHistory builds the configured backlog and a function releasing it.
func newHistory(c config.ChatConfig) (chat.History, func()) {
	if c.History == config.HistoryRedis {
		client := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		return chat.NewRedisHistory(client, c.RedisKey, c.HistorySize, c.HistoryTTL), func() { _ = client.Close() }
	}

	return chat.NewMemoryHistory(c.HistorySize, c.HistoryTTL), func() {}
}

func chatClientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Join a chat room; lines typed on stdin are sent, /name <name> renames",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, "chat-client", map[string]string{
				"client.address": "address",
				"chat.username":  "name",
			})
			if err != nil {
				return err
			}

			engine := tcpclient.New[chat.Phase, chat.Packet](chat.Protocol{}, a.config.Client.Engine(), a.log).
				WithMetrics(a.metrics)
			client := chat.NewClient(engine, a.config.Chat.Username, os.Stdin, cmd.OutOrStdout(), a.log)

			return a.run(cmd.Context(), func(ctx context.Context) error {
				return client.Run(ctx)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringP("address", "a", "", "Server address")
	flags.StringP("name", "n", "", "Name shown to other users")

	return cmd
}
