package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/EternisAI/silo-stations/internal/archive"
	"github.com/EternisAI/silo-stations/internal/db"
	"github.com/EternisAI/silo-stations/internal/domain"
	"github.com/EternisAI/silo-stations/internal/report"
	"github.com/EternisAI/silo-stations/internal/stations"
	"github.com/EternisAI/silo-stations/internal/store/postgres"
	"github.com/EternisAI/silo-stations/internal/users"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

var AppVersion string

const ctlActor = "silo-stations-ctl"

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "silo-stations-ctl",
	Short:         "Administrative commands for the station lease service",
	Version:       AppVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		_ = level.UnmarshalText([]byte(strings.ToUpper(logLevel)))
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "path to application.yaml")
	pf.StringVar(&logLevel, "log-level", "INFO", "log level (DEBUG, INFO, WARN, ERROR)")
	pf.String(flagName("database.url"), "", "Postgres connection URL")
	pf.String(flagName("database.schema"), "", "Postgres schema")
	pf.String(flagName("archive.driver"), "", "report archive driver (dir or s3)")
	pf.String(flagName("archive.dir"), "", "report archive directory")

	rootCmd.AddCommand(migrateCmd(), importCmd(), exportCmd(), reportCmd(), createUserCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// env holds what a command needs once the database is reachable.
type env struct {
	cfg  Config
	pool *pgxpool.Pool
	st   *postgres.Store
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	pool, err := db.InitDB(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return &env{cfg: cfg, pool: pool, st: postgres.New(pool, cfg.Allocation.LockTimeout)}, nil
}

func (e *env) Close() { e.pool.Close() }

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return db.RunMigrations(cmd.Context(), cfg.Database.Url, cfg.Database.Schema)
		},
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Import stations from a CSV file (ID,IP,Port,State,Login,HashPassword)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			registry := stations.NewRegistry(e.st, nil, nil, nil)
			summary, err := registry.Import(cmd.Context(), f, domain.Actor{Username: ctlActor})
			if printErr := printJSON(cmd.OutOrStdout(), summary); printErr != nil {
				return printErr
			}
			return err
		},
	}
}

func exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all stations as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return stations.NewRegistry(e.st, nil, nil, nil).Export(cmd.Context(), w)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to file instead of stdout")
	return cmd
}

func reportCmd() *cobra.Command {
	var (
		format    string
		toArchive bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate the system report",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			rep, err := report.NewService(e.st, e.cfg.Report, nil).Generate(cmd.Context())
			if err != nil {
				return err
			}

			var (
				buf         bytes.Buffer
				name        string
				contentType string
			)
			switch format {
			case "html":
				err = report.RenderHTML(&buf, rep)
				name, contentType = report.Filename(rep), "text/html; charset=utf-8"
			case "text":
				err = report.RenderText(&buf, rep)
				name, contentType = strings.TrimSuffix(report.Filename(rep), ".html")+".txt", "text/plain; charset=utf-8"
			default:
				return fmt.Errorf("unknown format %q", format)
			}
			if err != nil {
				return err
			}

			if !toArchive {
				_, err = cmd.OutOrStdout().Write(buf.Bytes())
				return err
			}
			a, err := archive.New(cmd.Context(), e.cfg.Archive)
			if err != nil {
				return err
			}
			loc, err := a.Store(cmd.Context(), name, contentType, buf.Bytes())
			if err != nil {
				return err
			}
			slog.Info("Report archived", "location", loc)
			fmt.Fprintln(cmd.OutOrStdout(), loc)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "text or html")
	cmd.Flags().BoolVar(&toArchive, "archive", false, "store the report in the configured archive")
	return cmd
}

func createUserCmd() *cobra.Command {
	var (
		username    string
		password    string
		displayName string
		role        string
	)
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a user account",
		RunE: func(cmd *cobra.Command, args []string) error {
			r := domain.Role(strings.ToUpper(role))
			if r != domain.RoleAdmin && r != domain.RoleUser {
				return fmt.Errorf("role must be ADMIN or USER")
			}

			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			info, err := users.NewService(e.st).Create(cmd.Context(), username, password, displayName, r)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "login name")
	cmd.Flags().StringVar(&password, "password", "", "initial password")
	cmd.Flags().StringVar(&displayName, "display-name", "", "display name")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleUser), "ADMIN or USER")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
