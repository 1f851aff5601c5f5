package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/markdave123-py/kbsync/internal/app"
	"github.com/markdave123-py/kbsync/internal/config"
	"github.com/markdave123-py/kbsync/pkg/zlog"
)

var (
	orgID    string
	logLevel string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "kbsync",
	Short:         "Keep the vector index in step with policies, context entries, answers and documents",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.LoadConfig()
		if err != nil {
			return err
		}
		if logLevel != "" {
			c.LogLevel = logLevel
		}
		zlog.Init(zlog.Options{Level: c.LogLevel, JSON: c.IsProduction(), File: c.LogFile})
		for _, w := range c.Warnings {
			zlog.Warn("config value ignored", zap.String("detail", w))
		}
		cfg = c
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		zlog.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL")
}

func requireOrg(cmd *cobra.Command) {
	cmd.Flags().StringVar(&orgID, "org", "", "organization id (required)")
	_ = cmd.MarkFlagRequired("org")
}

// withApp builds the full client graph for one command and tears it down
// afterwards. SIGINT cancels the command context.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	if cfg == nil {
		return errors.New("config not loaded")
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
