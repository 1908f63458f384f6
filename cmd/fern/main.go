// Command fern extracts, matches and commits political-actor candidates.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Gobusters/ectologger"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/models"
)

var version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fern",
		Short: "Political-actor entity resolution pipeline",
		Long: `fern reconciles scraped candidate records against the registry of
politicians and parliamentary groups.

Each family runs the same stages:
  extract  stage raw candidates from the configured sources
  match    resolve pending candidates by rules, then by the oracle
  commit   turn matched candidates into affiliation records`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("family", string(models.FamilyBodyMember), "Entity family: body_member, group_member or vote_judgment")
	root.PersistentFlags().String("scope", models.AllScopes, "Scope id, or 'all' for every scope of the family")

	root.AddCommand(extractCmd())
	root.AddCommand(matchCmd())
	root.AddCommand(commitCmd())
	root.AddCommand(runCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(resetCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(registryCmd())
	return root
}

// target reads the persistent --family and --scope flags.
func target(cmd *cobra.Command) (models.Family, string, error) {
	raw, _ := cmd.Flags().GetString("family")
	family, err := models.ParseFamily(raw)
	if err != nil {
		return "", "", err
	}
	scope, _ := cmd.Flags().GetString("scope")
	if scope == "" {
		return "", "", fmt.Errorf("--scope must not be empty")
	}
	return family, scope, nil
}

func loadBase() (*config.Config, ectologger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.PrettyLogs)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// withApp builds the application for one command and tears it down afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app, family models.Family, scope string) error) error {
	family, scope, err := target(cmd)
	if err != nil {
		return err
	}
	cfg, logger, err := loadBase()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			logger.WithContext(ctx).WithError(err).Warn("Failed to shut down cleanly")
		}
	}()

	return fn(ctx, a, family, scope)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
