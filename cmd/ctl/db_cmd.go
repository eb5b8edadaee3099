package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"

	"whatsapp-voice-subscription/internal/config"
	pg "whatsapp-voice-subscription/internal/infra/db/postgres"
	"whatsapp-voice-subscription/internal/usecase"
)

var confirmClear bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPool(cmd, func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
			if err := pg.Migrate(ctx, pool); err != nil {
				return err
			}
			fmt.Println("Schema applied")
			return nil
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear-db",
	Short: "Delete all users, subscription history and audit records",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !confirmClear {
			return errors.New("refusing to clear the database without --yes")
		}
		return withPool(cmd, func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
			if err := pg.Truncate(ctx, pool); err != nil {
				return err
			}
			fmt.Println("Database cleared")
			return nil
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print user and subscription totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPool(cmd, func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
			stats := usecase.NewStatsUseCase(pg.NewPostgresUserRepo(pool), pg.NewPostgresHistoryRepo(pool), pg.NewPostgresAuditRepo(pool), cliLogger())
			st, err := stats.Totals(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("users:           %d\n", st.Users)
			fmt.Printf("active (24h):    %d\n", st.ActiveSince24h)
			fmt.Printf("summaries used:  %d\n", st.TotalUsed)
			fmt.Printf("referral edges:  %d\n", st.ReferralEdges)
			for status, n := range st.SubscriptionsByStatus {
				fmt.Printf("  %-12s %d\n", status, n)
			}
			return nil
		})
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Parse and validate the config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Printf("Configuration valid (lock backend %s, summarizer %s)\n", cfg.Locking.Backend, cfg.Transcription.Summarizer)
		return nil
	},
}

func init() {
	clearCmd.Flags().BoolVar(&confirmClear, "yes", false, "confirm deletion")
	rootCmd.AddCommand(migrateCmd, clearCmd, statsCmd, validateCmd)
}
