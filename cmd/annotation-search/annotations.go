package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/renderinc/annotation-search/internal/indexer"
	"github.com/renderinc/annotation-search/internal/storage"
	"github.com/renderinc/annotation-search/internal/tasks"
	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:   "add <annotation-id>...",
	Short: "Index annotations (create or update)",
	Long: `Index the stored state of each annotation into the serving index and, if a
reindex is running, into its replacement index. Replies also reindex their
thread root.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTaskCommand(cmd, indexer.TaskAddAnnotation, args)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <annotation-id>...",
	Short: "Remove annotations from the index",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTaskCommand(cmd, indexer.TaskDeleteAnnotation, args)
	},
}

var reindexUserCmd = &cobra.Command{
	Use:   "reindex-user <userid>",
	Short: "Rewrite every annotation of a user into the serving index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTaskCommand(cmd, indexer.TaskReindexUserAnnotations, args)
	},
}

var loadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Store annotations from a JSON lines file and index them",
	Long: `Read one JSON annotation per line ("-" for stdin), upsert each into the
annotation store and schedule its indexing, as the annotation API would.

Example line:
  {"id":"a2","userid":"acct:u1@example.com","uri":"https://example.com","text":"+1","references":["a1"]}`,
	Args: cobra.ExactArgs(1),
	RunE: runLoad,
}

func init() {
	rootCmd.AddCommand(addCmd, deleteCmd, reindexUserCmd, loadCmd)
}

func runTaskCommand(cmd *cobra.Command, name string, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()

	ts := make([]tasks.Task, 0, len(args))
	for _, arg := range args {
		ts = append(ts, tasks.Task{Name: name, Arg: arg})
	}
	return a.runTasks(ctx, ts...)
}

// annotationRecord is the JSON form accepted by load
type annotationRecord struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userid"`
	URI        string    `json:"uri"`
	Text       string    `json:"text"`
	Tags       []string  `json:"tags"`
	Shared     bool      `json:"shared"`
	References []string  `json:"references"`
	Created    time.Time `json:"created"`
	Updated    time.Time `json:"updated"`
}

func (r *annotationRecord) annotation(now time.Time) *storage.Annotation {
	a := &storage.Annotation{
		ID:         r.ID,
		UserID:     r.UserID,
		URI:        r.URI,
		Text:       r.Text,
		Tags:       r.Tags,
		Shared:     r.Shared,
		References: r.References,
		Created:    r.Created,
		Updated:    r.Updated,
	}
	if a.Created.IsZero() {
		a.Created = now
	}
	if a.Updated.IsZero() {
		a.Updated = now
	}
	return a
}

func runLoad(cmd *cobra.Command, args []string) error {
	var in io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()

	var ts []tasks.Task
	dec := json.NewDecoder(in)
	for {
		var rec annotationRecord
		if err := dec.Decode(&rec); errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return fmt.Errorf("decode annotation %d: %w", len(ts)+1, err)
		}
		if rec.ID == "" || rec.UserID == "" {
			return fmt.Errorf("annotation %d: id and userid are required", len(ts)+1)
		}

		if err := a.db.Upsert(ctx, rec.annotation(time.Now().UTC())); err != nil {
			return fmt.Errorf("store annotation %s: %w", rec.ID, err)
		}
		ts = append(ts, indexer.Event{Kind: indexer.Created, ID: rec.ID}.Task())
	}

	if err := a.runTasks(ctx, ts...); err != nil {
		return err
	}
	fmt.Printf("Loaded and indexed %d annotations\n", len(ts))
	return nil
}
