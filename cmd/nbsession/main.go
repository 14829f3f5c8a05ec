// Command nbsession serves the assessment session API and offers maintenance
// commands against the configured session store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/neurobridge/assessment-session/internal/config"
	"github.com/neurobridge/assessment-session/internal/events"
	"github.com/neurobridge/assessment-session/internal/handlers"
	"github.com/neurobridge/assessment-session/internal/services"
	"github.com/neurobridge/assessment-session/internal/utils"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
	appName = "nbsession"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   appName,
		Short: "Assessment session service",
		Long: `nbsession keeps the single in-progress screening session, its backup and
the last completion record, and walks students through multi-phase
assessments against the quiz backend.

Configuration is read from the environment and an optional .env file.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(
		serveCmd(),
		progressCmd(),
		healthCmd(),
		backendCmd(),
		backupCmd(),
		recoverCmd(),
		exportCmd(),
		clearCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
			},
		},
	)
	return cmd
}

// errVolatileStore is returned by maintenance commands when the store lives
// only inside this process and so can hold nothing from an earlier run.
var errVolatileStore = errors.New("STORE_BACKEND=memory keeps no data between runs; point the command at redis, postgres or sqlite")

// withApp loads configuration, builds the app and hands it to fn. Logs go to
// stderr so command output stays machine readable.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app, log utils.Logger) error) error {
	return runApp(cmd, false, fn)
}

// withStoredApp is withApp for commands that inspect or change persisted data.
func withStoredApp(cmd *cobra.Command, fn func(ctx context.Context, a *app, log utils.Logger) error) error {
	return runApp(cmd, true, fn)
}

func runApp(cmd *cobra.Command, durable bool, fn func(ctx context.Context, a *app, log utils.Logger) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if durable && cfg.StoreBackend == config.StoreMemory {
		return errVolatileStore
	}

	level := slog.LevelInfo
	if !cfg.IsProduction() {
		level = slog.LevelDebug
	}
	log := utils.NewLogger(os.Stderr, cfg.IsProduction(), level)

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, utils.ToSlogLogger(log))
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.LogError(err, "Failed to release resources")
		}
	}()

	return fn(ctx, a, log)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app, log utils.Logger) error {
				if port == "" {
					port = a.cfg.Port
				}
				return serve(ctx, a, log, port)
			})
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "Listen port (defaults to PORT)")
	return cmd
}

func serve(ctx context.Context, a *app, log utils.Logger, port string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), utils.LoggerMiddleware(log))
	handlers.NewHandlerManager(a.sessions, a.exporter, a.orchestrator, a.metrics, log).SetupRoutes(router)

	if a.eventSource != nil {
		go func() {
			slogger := utils.ToSlogLogger(log)
			if err := events.ConsumeSessionEvents(ctx, a.eventSource, a.cfg.Events.SessionEventTopic,
				slogger, events.LogSessionEvent(slogger)); err != nil {
				log.LogError(err, "Session event consumer stopped")
			}
		}()
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Assessment session service listening", "port", port, "store", a.cfg.StoreBackend, "version", Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func progressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress",
		Short: "Show the current session's progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStoredApp(cmd, func(ctx context.Context, a *app, _ utils.Logger) error {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"state":    a.sessions.State(ctx),
					"progress": a.sessions.Progress(ctx),
				})
			})
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the stored session and storage budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStoredApp(cmd, func(ctx context.Context, a *app, _ utils.Logger) error {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"report":  a.sessions.HealthCheck(ctx),
					"storage": a.sessions.StorageInfo(ctx),
				})
			})
		},
	}
}

func backendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backend",
		Short: "Check the quiz backend and print what it offers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app, _ utils.Logger) error {
				info, err := a.backend.GetQuizInfo(ctx)
				if err != nil {
					return fmt.Errorf("quiz backend %s: %w", a.cfg.BackendURL, err)
				}
				return printJSON(cmd.OutOrStdout(), info)
			})
		},
	}
}

func backupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Print the backup snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStoredApp(cmd, func(ctx context.Context, a *app, _ utils.Logger) error {
				snapshot, err := a.sessions.Backup(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), snapshot)
			})
		},
	}
}

func recoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Replace the current session with the backup snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStoredApp(cmd, func(ctx context.Context, a *app, _ utils.Logger) error {
				session, err := a.sessions.RecoverFromBackup(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "recovered %s with %d responses\n", session.SessionID, len(session.Responses))
				return nil
			})
		},
	}
}

func exportCmd() *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the current or last completed session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStoredApp(cmd, func(ctx context.Context, a *app, log utils.Logger) error {
				file, err := a.exporter.Export(ctx, format)
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					_, err := cmd.OutOrStdout().Write(file.Data)
					return err
				}
				if err := os.WriteFile(output, file.Data, 0o644); err != nil {
					return fmt.Errorf("write export: %w", err)
				}
				log.Info("Export written", "path", output, "bytes", len(file.Data))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", services.ExportJSON, "json, csv or xlsx")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (stdout when empty)")
	return cmd
}

func clearCmd() *cobra.Command {
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored session record, backup and completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return errors.New("refusing to clear without --yes")
			}
			return withStoredApp(cmd, func(ctx context.Context, a *app, _ utils.Logger) error {
				removed := a.sessions.ClearAll(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d keys\n", removed)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&confirmed, "yes", false, "Confirm deletion")
	return cmd
}
