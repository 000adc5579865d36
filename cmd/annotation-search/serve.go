package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/renderinc/annotation-search/internal/web"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var flagListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the indexing workers and the HTTP API",
	Long: `Start the task workers and the HTTP server. Annotation events posted to
/api/events are indexed in the background; POST /api/reindex rebuilds the
whole index while live writes keep flowing to both indexes.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "Address to listen on (default localhost:6893)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.ListenAddr
	if cmd.Flags().Changed("listen") {
		addr = flagListen
	}

	ctx, stop := signalContext()
	defer stop()

	srv := web.NewServer(a.db, a.cluster, a.settings, a.queue, a.reindexer(nil), a.logger)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.queue.Run(ctx)
	})
	g.Go(func() error {
		a.logger.Info("listening", zap.String("addr", addr), zap.String("alias", a.cluster.Alias()))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		srv.Close()
		return err
	})

	return g.Wait()
}
