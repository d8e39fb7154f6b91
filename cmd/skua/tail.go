package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skua-dev/skua/internal/api"
	"github.com/skua-dev/skua/internal/dedup"
	"github.com/skua-dev/skua/internal/entities"
	"github.com/skua-dev/skua/internal/journal"
	"github.com/skua-dev/skua/internal/session"
	"github.com/skua-dev/skua/internal/streaming"
)

func tailCmd() *cobra.Command {
	var recordPath string

	cmd := &cobra.Command{
		Use:   "tail COLLECTION",
		Short: "Stream a collection to stdout",
		Long: `Subscribe to a collection and print items as they merge.

Collections: home, public, community, direct, notifications,
hashtag:<tag>, list:<id>.

Examples:
  skua tail home
  skua tail hashtag:golang --record capture.jsonl.zst`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection := args[0]
			ctx := cmd.Context()

			cache := entities.NewCache()
			client := api.NewClient(
				cfg.Server.BaseURL,
				cfg.Server.AccessToken,
				cfg.Server.RatePerSecond,
				time.Duration(cfg.Server.TimeoutSec)*time.Second,
				logger,
			)
			mgr := streaming.NewManager(cfg.StreamingURL(), cfg.Server.AccessToken, logger)

			sess := session.New(client, mgr, cache, session.Config{
				MaxQueued:      cfg.Timeline.MaxQueued,
				PageLimit:      cfg.Timeline.PageLimit,
				LegacyMarkRead: cfg.Server.LegacyMarkRead,
				OnItem: func(coll, id string) {
					printItem(cache, coll, id)
				},
			}, logger)
			defer sess.Close()

			if recordPath != "" {
				f, err := os.Create(recordPath)
				if err != nil {
					return fmt.Errorf("creating journal: %w", err)
				}
				defer func() { _ = f.Close() }()
				w, err := journal.NewWriter(f)
				if err != nil {
					return err
				}
				sess.RecordTo(w)
				logger.Info("recording frames", zap.String("path", recordPath))
			}

			if err := sess.Start(ctx); err != nil {
				return fmt.Errorf("verifying credentials: %w", err)
			}

			sub, err := sess.Subscribe(ctx, collection)
			if err != nil {
				return err
			}
			defer sub.Close()

			logger.Info("tailing", zap.String("collection", collection))
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&recordPath, "record", "", "record received frames to a zstd journal")
	return cmd
}

func printItem(cache *entities.Cache, collection, id string) {
	if collection == "notifications" {
		// Display ids may be composite aggregates; the last segment is
		// the most recent contributor.
		raw := dedup.CursorID(id)
		fmt.Printf("%s  notification %s\n", time.Now().Format(time.TimeOnly), raw)
		return
	}

	s, ok := cache.Status(id)
	if !ok {
		fmt.Printf("%s  %s\n", time.Now().Format(time.TimeOnly), id)
		return
	}
	body := s
	prefix := ""
	if s.Reblog != nil {
		body = s.Reblog
		prefix = s.Account.Acct + " boosted "
	}
	fmt.Printf("%s  %s@%s: %s\n",
		body.CreatedAt.Local().Format(time.TimeOnly),
		prefix,
		body.Account.Acct,
		snippet(body.Content, 120),
	)
}

func snippet(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
