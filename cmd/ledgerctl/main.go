// Package main реализует утилиту оператора реферального леджера.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mmeshcher/referral-ledger/internal/app"
	"github.com/mmeshcher/referral-ledger/internal/config"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operator tool for the referral ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringP("database", "d", "", "database URI (overrides DATABASE_URI)")

	rootCmd.AddCommand(balanceCmd())
	rootCmd.AddCommand(payOutstandingCmd())
	rootCmd.AddCommand(regenerateCmd())
	rootCmd.AddCommand(resetNoticesCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(tokenCmd())

	return rootCmd
}

// openApp собирает сервисы леджера по окружению и флагам команды.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.ParseEnv()
	if err != nil {
		return nil, err
	}
	if dsn, _ := cmd.Flags().GetString("database"); dsn != "" {
		cfg.DatabaseURI = dsn
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return app.New(cfg, logger)
}
