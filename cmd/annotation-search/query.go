package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var flagSearchLimit int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show annotation counts in the store and the indexes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		stored, err := a.db.Count(ctx)
		if err != nil {
			return err
		}
		alias := a.cluster.Alias()
		current, err := a.cluster.Resolve(alias)
		if err != nil {
			return err
		}
		indexed, err := a.cluster.Count(alias)
		if err != nil {
			return err
		}

		fmt.Printf("Annotations in store: %d\n", stored)
		fmt.Printf("Annotations in %s (%s): %d\n", alias, current, indexed)

		target, active, err := a.settings.ActiveShadowTarget(ctx)
		if err != nil {
			return err
		}
		if active {
			n, err := a.cluster.Count(target)
			if err != nil {
				return err
			}
			fmt.Printf("Reindex target %s: %d\n", target, n)
		}

		names, err := a.cluster.Indexes()
		if err != nil {
			return err
		}
		fmt.Printf("Indexes on disk: %s\n", strings.Join(names, ", "))
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search annotations in the serving index",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		query := strings.Join(args, " ")
		results, err := a.cluster.Search(a.cluster.Alias(), query, flagSearchLimit)
		if err != nil {
			return err
		}

		fmt.Printf("Found %d results for %q\n\n", len(results), query)
		for i, r := range results {
			fmt.Printf("%d. %s (score %.2f)\n", i+1, r.ID, r.Score)
			fmt.Printf("   %s  %s\n", r.User, r.URI)
			if r.Text != "" {
				fmt.Printf("   %s\n", truncate(r.Text, 200))
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVarP(&flagSearchLimit, "limit", "n", 10, "Maximum number of results")
	rootCmd.AddCommand(statsCmd, searchCmd)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
