package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/renderinc/annotation-search/internal/reindex"
	"github.com/spf13/cobra"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the search index from the annotation store",
}

var reindexRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Build a new index from every annotation and switch the alias to it",
	Long: `Build a new index from every stored annotation, then point the alias at it
and drop the old index. This command owns the index directory while it runs,
so use it when the server is stopped; a running server rebuilds through
POST /api/reindex instead.`,
	Args: cobra.NoArgs,
	RunE: runReindex,
}

var reindexStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a reindex is in progress",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		target, active, err := a.reindexer(nil).Status(cmd.Context())
		if err != nil {
			return err
		}
		if !active {
			fmt.Println("No reindex in progress")
			return nil
		}

		n, err := a.cluster.Count(target)
		if err != nil {
			return err
		}
		fmt.Printf("Reindexing into %s (%d annotations so far)\n", target, n)
		return nil
	},
}

var reindexAbortCmd = &cobra.Command{
	Use:   "abort",
	Short: "Stop mirroring writes to an abandoned reindex and delete its index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		target, err := a.reindexer(nil).Abort(cmd.Context())
		if errors.Is(err, reindex.ErrNoReindex) {
			fmt.Println("No reindex in progress")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("Aborted reindex into %s\n", target)
		return nil
	},
}

func init() {
	reindexCmd.AddCommand(reindexRunCmd, reindexStatusCmd, reindexAbortCmd)
	rootCmd.AddCommand(reindexCmd)
}

func runReindex(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()

	r := a.reindexer(func(n, total int) {
		fmt.Printf("\rIndexed %d/%d annotations", n, total)
	})
	session, err := r.Run(ctx)
	fmt.Println()
	if err != nil {
		return fmt.Errorf("reindex: %w", err)
	}

	fmt.Printf("Switched %s from %s to %s\n", a.cluster.Alias(), session.Previous, session.Target)
	fmt.Printf("Indexed %d annotations in %s\n", session.Processed-len(session.Failed), session.Duration.Round(time.Millisecond))
	if len(session.Failed) > 0 {
		fmt.Printf("%d annotations failed: %v\n", len(session.Failed), session.Failed)
	}
	return nil
}
