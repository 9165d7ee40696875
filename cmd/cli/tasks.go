package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/endwaste/db-of-objects/internal/database"
	"github.com/endwaste/db-of-objects/internal/labelstore"
	"github.com/endwaste/db-of-objects/internal/task"
)

var tasksShard string

// tasksCmd represents the tasks command
var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List labeling tasks",
	Long: `Print the labeling tasks in one or both shards as a table. Useful for
checking queue depth and stuck claims without going through the API.`,
	Example: `  object-db tasks
  object-db tasks --shard labeled`,
	RunE: runTasks,
}

func init() {
	rootCmd.AddCommand(tasksCmd)

	tasksCmd.Flags().StringVar(&tasksShard, "shard", "", "Limit to one shard (unlabeled or labeled)")
}

func runTasks(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store := labelstore.NewPGStore(database.Pool())

	shards := task.Shards
	if tasksShard != "" {
		shard := task.Shard(tasksShard)
		if shard != task.ShardUnlabeled && shard != task.ShardLabeled {
			return fmt.Errorf("unknown shard: %s", tasksShard)
		}
		shards = []task.Shard{shard}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SHARD\tIDENTITY KEY\tLABELED\tIN PROGRESS\tLABELER\tUPDATED AT")

	total := 0
	for _, shard := range shards {
		tasks, err := store.List(ctx, shard)
		if err != nil {
			return fmt.Errorf("list %s shard: %w", shard, err)
		}
		for i := range tasks {
			t := &tasks[i]
			fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\t%s\n",
				t.Shard, t.IdentityKey, t.Labeled, t.InProgress, t.LabelerName, t.UpdatedAt)
			total++
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%d task(s)\n", total)
	return nil
}
