package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/pipeline"
	"github.com/Ramsey-B/fern/pkg/routes"
)

const dateLayout = "2006-01-02"

func parseStartDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("--start-date is required")
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--start-date must be YYYY-MM-DD: %w", err)
	}
	return t, nil
}

func extractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract",
		Short: "Stage raw candidates from the configured sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app, family models.Family, scope string) error {
				summary, err := a.driver.Extract(ctx, family, scope)
				if err != nil {
					return err
				}
				return printJSON(cmd, summary)
			})
		},
	}
}

func matchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Resolve pending candidates against the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			return withApp(cmd, func(ctx context.Context, a *app, family models.Family, scope string) error {
				summary, err := a.driver.Match(ctx, family, scope, force)
				if err != nil {
					return err
				}
				return printJSON(cmd, summary)
			})
		},
	}
	cmd.Flags().Bool("force", false, "Reset the scope to pending before matching")
	return cmd
}

func commitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Materialize matched candidates as affiliation records",
		Example: `  fern commit --family group_member --scope all --start-date 2024-10-01`,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("start-date")
			start, err := parseStartDate(raw)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app, family models.Family, scope string) error {
				summary, err := a.driver.Commit(ctx, family, scope, start)
				if err != nil {
					return err
				}
				return printJSON(cmd, summary)
			})
		},
	}
	cmd.Flags().String("start-date", "", "Start date of the affiliations, YYYY-MM-DD")
	return cmd
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Extract, match and optionally commit in one pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := pipeline.RunOptions{}
			opts.Force, _ = cmd.Flags().GetBool("force")
			opts.Commit, _ = cmd.Flags().GetBool("commit")
			if opts.Commit {
				raw, _ := cmd.Flags().GetString("start-date")
				start, err := parseStartDate(raw)
				if err != nil {
					return err
				}
				opts.StartDate = start
			}
			return withApp(cmd, func(ctx context.Context, a *app, family models.Family, scope string) error {
				report, err := a.driver.Run(ctx, family, scope, opts)
				if printErr := printJSON(cmd, report); printErr != nil && err == nil {
					err = printErr
				}
				return err
			})
		},
	}
	cmd.Flags().Bool("force", false, "Reset the scope to pending before matching")
	cmd.Flags().Bool("commit", false, "Commit matched candidates after matching")
	cmd.Flags().String("start-date", "", "Start date of the affiliations, YYYY-MM-DD (with --commit)")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show candidate counts per status and open affiliations",
		RunE: func(cmd *cobra.Command, args []string) error {
			byScope, _ := cmd.Flags().GetBool("by-scope")
			return withApp(cmd, func(ctx context.Context, a *app, family models.Family, scope string) error {
				if byScope {
					reports, err := a.driver.ScopeStatuses(ctx, family)
					if err != nil {
						return err
					}
					return printJSON(cmd, reports)
				}
				report, err := a.driver.Status(ctx, family, scope)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}
	cmd.Flags().Bool("by-scope", false, "Report every staged scope separately")
	return cmd
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Return candidates to pending and clear their match fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app, family models.Family, scope string) error {
				n, err := a.driver.Reset(ctx, family, scope)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"family": family, "scope_id": scope, "reset": n})
			})
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadBase()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			db, err := database.Connect(ctx, database.ConnectionConfig{
				Driver: cfg.DatabaseDriver,
				DSN:    cfg.DatabaseDSN(),
			}, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			inst, ok := db.(*database.DatabaseInstance)
			if !ok {
				return fmt.Errorf("unexpected database type %T", db)
			}

			migrations := database.NewMigrationService(logger, &database.MigrationConfig{
				MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
				DatabaseName:        cfg.DatabaseName,
				Version:             uint(cfg.DatabaseMigrationVersion),
				Force:               cfg.DatabaseMigrationForce,
				AutoRollback:        cfg.DatabaseMigrationAutoRollback,
			})
			return migrations.Migrate(inst.DB.DB)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only review API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app, _ models.Family, _ string) error {
				cfg := a.cfg
				e := routes.NewServer(cfg.AppName, cfg.AllowOrigins, a.logger,
					routes.NewChecker(version, a.healthChecks()),
					routes.NewFamilyHandler(a.driver, a.candidates))

				srv := &http.Server{
					Addr:         fmt.Sprintf(":%d", cfg.Port),
					Handler:      e,
					ReadTimeout:  time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
					WriteTimeout: time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
					IdleTimeout:  time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
				}

				errCh := make(chan error, 1)
				go func() {
					a.logger.WithContext(ctx).WithField("port", cfg.Port).Info("Review API listening")
					errCh <- srv.ListenAndServe()
				}()

				select {
				case err := <-errCh:
					if errors.Is(err, http.ErrServerClosed) {
						return nil
					}
					return err
				case <-ctx.Done():
				}

				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		},
	}
}
