package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/endwaste/db-of-objects/internal/database"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Long: `Create or update the labeling task and vector index tables, including
the pgvector extension and the HNSW index. Safe to run repeatedly.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	if err := database.Migrate(ctx, database.Pool(), cfg.Embedding.Dim); err != nil {
		return err
	}
	logger.Info().Int("embedding_dim", cfg.Embedding.Dim).Msg("Schema up to date")
	return nil
}
