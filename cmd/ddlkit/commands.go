package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/auth"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/config"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/database"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/dialect"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/files"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/migrate"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/server"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/upgrade"
)

const shutdownTimeout = 10 * time.Second

func newWriter(rt *app) (*migrate.Writer, error) {
	return migrate.NewWriter(migrate.WriterConfig{
		Out:         rt.config.Out,
		Dialect:     rt.config.Dialect,
		Breakpoints: rt.config.Breakpoints,
		Logger:      rt.logger,
	})
}

func newGenerateCommand() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Diff the schema snapshot against the last migration and write a new one",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			current, err := currentSnapshot(cmd.Context(), rt)
			if err != nil {
				return err
			}
			writer, err := newWriter(rt)
			if err != nil {
				return err
			}
			result, err := writer.Generate(current, migrate.GenerateRequest{Name: name})
			if errors.Is(err, migrate.ErrNoChanges) {
				fmt.Fprintln(cmd.OutOrStdout(), "No schema changes, nothing to migrate")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d statements\n  %s\n  %s\n",
				result.Tag, len(result.Statements), result.SQLPath, result.SnapshotPath)
			return nil
		},
	}
	cmd.Flags().String("schema", "", "Snapshot file describing the desired schema")
	cmd.Flags().StringVar(&name, "name", "", "Migration name; a random tag is used when empty")
	addDatabaseFlags(cmd)
	cmd.PreRunE = bindFlags("schema", "schema", "database.path", "database-path", "database.url", "database-url")
	return cmd
}

// currentSnapshot reads the configured schema file, or the live database when no file is set.
func currentSnapshot(ctx context.Context, rt *app) (migrate.Snapshot, error) {
	if rt.config.Schema != "" {
		snapshot, err := migrate.LoadSnapshot(rt.config.Schema)
		if err != nil {
			return nil, err
		}
		rt.logger.Debug("schema loaded", zap.String("path", rt.config.Schema))
		return snapshot, nil
	}
	if rt.config.DatabasePath == "" && rt.config.DatabaseURL == "" {
		return nil, fmt.Errorf("a --schema file or a database to introspect is required")
	}
	return introspect(ctx, rt)
}

func newExportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export [snapshot]",
		Short: "Print the statements that create a snapshot from an empty database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			var snapshot migrate.Snapshot
			if len(args) == 1 {
				snapshot, err = migrate.LoadSnapshot(args[0])
			} else {
				writer, writerErr := newWriter(rt)
				if writerErr != nil {
					return writerErr
				}
				snapshot, err = writer.LoadPrevious()
			}
			if err != nil {
				return err
			}
			opts := migrate.GenerateOptions{Breakpoints: rt.config.Breakpoints}
			statements, err := migrate.Export(snapshot, opts)
			if err != nil {
				return err
			}
			if len(statements) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), migrate.SQL(statements, opts))
			}
			return nil
		},
	}
}

func newUpgradeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade",
		Short: "Rewrite outdated snapshot files in the migration folder to the current version",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			report, err := upgrade.UpgradeDir(rt.config.Out, rt.config.Dialect, rt.logger)
			if err != nil {
				return err
			}
			for _, file := range report.Files {
				switch file.Status {
				case upgrade.StatusUpgraded:
					fmt.Fprintf(cmd.OutOrStdout(), "upgraded %s (%s -> %s)\n", file.Path, file.FromVersion, file.ToVersion)
				case upgrade.StatusFailed, upgrade.StatusSkipped:
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %v\n", file.Status, file.Path, file.Err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d upgraded, %d current, %d skipped, %d failed\n",
				report.Count(upgrade.StatusUpgraded), report.Count(upgrade.StatusCurrent),
				report.Count(upgrade.StatusSkipped), report.Count(upgrade.StatusFailed))
			if report.Failed() {
				return fmt.Errorf("%w: some snapshots could not be upgraded", errFailed)
			}
			return nil
		},
	}
}

func newDropCommand() *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Remove a migration and relink the snapshots that follow it",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			writer, err := newWriter(rt)
			if err != nil {
				return err
			}
			entry, err := writer.Drop(tag)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dropped %s\n", entry.Tag)
			return nil
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "Tag to drop; the last migration when empty")
	return cmd
}

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify that the journal, SQL files and snapshots agree",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			writer, err := newWriter(rt)
			if err != nil {
				return err
			}
			report, err := writer.Check()
			if err != nil {
				return err
			}
			for _, issue := range report.Issues {
				fmt.Fprintln(cmd.OutOrStdout(), issue.String())
			}
			for _, path := range report.Outdated {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: outdated, run ddlkit upgrade\n", path)
			}
			if !report.OK() {
				return fmt.Errorf("%w: %d issues, %d outdated snapshots", errFailed, len(report.Issues), len(report.Outdated))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d migrations ok\n", report.Entries)
			return nil
		},
	}
}

func addDatabaseFlags(cmd *cobra.Command) {
	cmd.Flags().String("database-path", "", "SQLite database file to introspect")
	cmd.Flags().String("database-url", "", "PostgreSQL connection URL to introspect")
}

func newPullCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Write a snapshot of a live database",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			snapshot, err := introspect(cmd.Context(), rt)
			if err != nil {
				return err
			}
			encoded, err := snapshot.MarshalJSON()
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
				return err
			}
			if err := files.WriteAtomic(output, encoded, 0o644); err != nil {
				return err
			}
			rt.logger.Info("snapshot written", zap.String("path", output))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Snapshot file to write; stdout when empty")
	addDatabaseFlags(cmd)
	cmd.PreRunE = bindFlags("database.path", "database-path", "database.url", "database-url")
	return cmd
}

func introspect(ctx context.Context, rt *app) (migrate.Snapshot, error) {
	switch rt.config.Dialect {
	case dialect.SQLite:
		if rt.config.DatabasePath == "" {
			return nil, fmt.Errorf("database.path is required for sqlite")
		}
		if exists, err := files.Exists(rt.config.DatabasePath); err != nil || !exists {
			return nil, fmt.Errorf("database %s not found", rt.config.DatabasePath)
		}
		db, err := database.OpenSQLite(rt.config.DatabasePath, rt.logger)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		defer sqlDB.Close()
		return database.IntrospectSQLite(ctx, db)
	case dialect.PostgreSQL:
		if rt.config.DatabaseURL == "" {
			return nil, fmt.Errorf("database.url is required for postgresql")
		}
		rt.logger.Info("connecting", zap.String("database", maskURL(rt.config.DatabaseURL)))
		pool, err := database.OpenPostgres(ctx, rt.config.DatabaseURL)
		if err != nil {
			return nil, err
		}
		defer pool.Close()
		return database.NewPostgresIntrospector(pool, rt.config.DBSchemas, rt.config.QueryTimeout).Introspect(ctx)
	default:
		return nil, fmt.Errorf("%w: %q", dialect.ErrUnknownDialect, rt.config.Dialect)
	}
}

// maskURL hides the password of a connection URL. Keyword/value strings are not echoed at all.
func maskURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" {
		return "<redacted>"
	}
	return parsed.Redacted()
}

func newVersionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "List the snapshot versions each dialect understands",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, d := range []dialect.Dialect{dialect.SQLite, dialect.PostgreSQL} {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s current %s, readable %s\n",
					d, d.CurrentVersion(), strings.Join(d.Versions(), ", "))
			}
			return nil
		},
	}
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the diff and upgrade API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
	cmd.Flags().String("http-address", config.NewViper().GetString("http.address"), "HTTP listen address")
	cmd.Flags().String("signing-secret", "", "API token signing secret (overrides env)")
	cmd.PreRunE = bindFlags("http.address", "http-address", "auth.signing_secret", "signing-secret")
	return cmd
}

func runServer(ctx context.Context) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.close()
	logger := rt.logger

	deps := server.Dependencies{Logger: logger}
	if rt.config.Auth.Enabled() {
		validator, err := auth.NewTokenValidator(auth.TokenValidatorConfig{
			SigningSecret: []byte(rt.config.Auth.SigningSecret),
			Issuer:        rt.config.Auth.Issuer,
		})
		if err != nil {
			return err
		}
		deps.Validator = validator
	} else {
		logger.Warn("api authentication disabled", zap.String("reason", "missing_signing_secret"))
	}

	httpServer := &http.Server{
		Addr:              rt.config.HTTPAddress,
		Handler:           server.NewHTTPHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", rt.config.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server stopping")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newTokenCommand() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token signed with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(rt.config.Auth.SigningSecret),
				Issuer:        rt.config.Auth.Issuer,
				TokenTTL:      rt.config.Auth.TokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.Issue(subject)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			rt.logger.Info("token issued", zap.String("subject", subject), zap.Time("expires_at", expiresAt))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Token subject")
	cmd.Flags().String("signing-secret", "", "API token signing secret (overrides env)")
	cmd.PreRunE = bindFlags("auth.signing_secret", "signing-secret")
	return cmd
}
