package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"chat-sync/internal/backend"
	"chat-sync/internal/chatsync"
	"chat-sync/internal/config"
	"chat-sync/internal/logger"
	"chat-sync/internal/models"
)

func newInboxCmd() *cobra.Command {
	var (
		query string
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Print the conversation list",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(cfg.Log.Level)
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout)
			if cfg.Backend.Username != "" {
				if err := client.Login(ctx, cfg.Backend.Username, cfg.Backend.Password); err != nil {
					return errors.Wrap(err, "backend login")
				}
			}

			inbox := chatsync.NewInbox(client, cfg.Poll.InboxInterval)
			out := cmd.OutOrStdout()
			if !watch {
				if err := inbox.RefreshNow(ctx); err != nil {
					return err
				}
				return printConversations(out, inbox.Search(query))
			}

			inbox.Subscribe(func(chatsync.InboxSnapshot) {
				fmt.Fprintf(out, "--- %s\n", time.Now().Format(time.TimeOnly))
				_ = printConversations(out, inbox.Search(query))
			})
			inbox.Start()
			<-ctx.Done()
			inbox.Stop()
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "only show conversations whose title contains query")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep polling and reprint on every change")
	return cmd
}

func printConversations(w io.Writer, convs []models.Conversation) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "THREAD\tTITLE\tSTATE\tLAST ACTIVITY\tPREVIEW")
	for _, c := range convs {
		last, preview := "-", ""
		if c.LastItem != nil {
			last = models.MicrosToTime(c.LastItem.Timestamp).Format(time.DateTime)
			preview = c.LastItem.Text
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ThreadID, c.Title, c.ReadState, last, preview)
	}
	return tw.Flush()
}

