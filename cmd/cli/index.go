package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/endwaste/db-of-objects/internal/database"
	"github.com/endwaste/db-of-objects/internal/vectorindex"
)

// indexCmd represents the index command
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Show vector index statistics",
	RunE:  runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	index := vectorindex.NewPGIndex(database.Pool(), cfg.Embedding.Dim)

	stats, err := index.Describe(ctx)
	if err != nil {
		return fmt.Errorf("describe index: %w", err)
	}

	fmt.Printf("Vectors:   %d\n", stats.VectorCount)
	fmt.Printf("Dimension: %d\n", stats.Dimension)
	return nil
}
