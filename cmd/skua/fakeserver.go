package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skua-dev/skua/internal/fakeserver"
	"github.com/skua-dev/skua/internal/journal"
)

func fakeServerCmd() *cobra.Command {
	var (
		addr       string
		replayPath string
	)

	cmd := &cobra.Command{
		Use:   "fake-server",
		Short: "Run a local fake backend for development",
		Long: `Serve a fake Mastodon/Pleroma-compatible API on localhost: paginated
timelines plus a streaming endpoint. With --replay, frames from a
recorded journal are pushed to connected subscribers at one frame per
second.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			srv := fakeserver.New(logger)
			srv.Seed("home", seedStatuses(30))

			httpSrv := &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			if replayPath != "" {
				go replayJournal(ctx, srv, replayPath)
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = httpSrv.Shutdown(shutdownCtx)
			}()

			logger.Info("fake server listening", zap.String("addr", addr))
			if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:4000", "listen address")
	cmd.Flags().StringVar(&replayPath, "replay", "", "journal to replay over the stream")
	return cmd
}

func replayJournal(ctx context.Context, srv *fakeserver.Server, path string) {
	f, err := os.Open(path)
	if err != nil {
		logger.Error("opening journal", zap.Error(err))
		return
	}
	defer func() { _ = f.Close() }()

	r, err := journal.NewReader(f)
	if err != nil {
		logger.Error("reading journal", zap.Error(err))
		return
	}
	defer r.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		entry, err := r.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Error("journal entry", zap.Error(err))
			}
			logger.Info("journal replay finished")
			return
		}
		srv.Inject("user", entry.Frame)
	}
}

func seedStatuses(n int) []json.RawMessage {
	entries := make([]json.RawMessage, 0, n)
	for i := n; i > 0; i-- {
		entries = append(entries, json.RawMessage(fmt.Sprintf(
			`{"id":"%d","created_at":%q,"content":"seed status %d","account":{"id":"2","acct":"seed"}}`,
			i, time.Now().Add(-time.Duration(n-i)*time.Minute).Format(time.RFC3339), i,
		)))
	}
	fakeserver.SortEntries(entries)
	return entries
}
