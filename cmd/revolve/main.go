package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/tordrt/revolve"
	"github.com/tordrt/revolve/internal/config"
	"github.com/tordrt/revolve/internal/logging"
	"github.com/tordrt/revolve/internal/mcp"
	"github.com/tordrt/revolve/internal/pipeline"
	"github.com/tordrt/revolve/internal/progress"
	"github.com/tordrt/revolve/internal/server"
	"github.com/tordrt/revolve/internal/store"
)

var version = "dev"

// flagKeys maps config keys to the flags that override them. Commands that
// do not define a flag simply leave the key to the file and environment.
var flagKeys = map[string]string{
	"database.url":        "db",
	"database.schema":     "schema",
	"database.tables":     "tables",
	"database.exclude":    "exclude",
	"workspace.dir":       "workspace",
	"store.path":          "store",
	"git.enabled":         "git",
	"server.addr":         "addr",
	"log.level":           "log-level",
	"log.json":            "log-json",
	"workflow.workers":    "workers",
	"test.max_iterations": "max-iterations",
}

// cli holds the state shared by every command
type cli struct {
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "revolve",
		Short: "Generate a tested REST service from a database schema",
		Long: `Revolve reads a live PostgreSQL, MySQL or SQLite schema, asks a code-synthesis
model for one REST resource per table and assembles them into a service. In test
mode each resource gets a test suite that is run and repaired until it passes.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath, boundFlags(cmd.Flags()))
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.logger, err = logging.New(cfg.Log.Level, cfg.Log.JSON)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", "Config file (default: revolve.yaml in . or ./config)")
	flags.String("db", "", "Database URL (postgres://, mysql:// or sqlite://)")
	flags.StringP("workspace", "w", "", "Directory the service is generated into")
	flags.String("store", "", "Run history database path")
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.Bool("log-json", false, "Write logs as JSON")

	root.AddCommand(
		c.runCmd(),
		c.schemaCmd(),
		c.orderCmd(),
		c.serveCmd(),
		c.mcpCmd(),
		c.historyCmd(),
	)
	return root
}

// boundFlags returns the flags set on the command line. Unset flags are left
// out so their zero defaults do not shadow the config defaults.
func boundFlags(flags *pflag.FlagSet) map[string]*pflag.Flag {
	bound := make(map[string]*pflag.Flag)
	for key, name := range flagKeys {
		if f := flags.Lookup(name); f != nil && f.Changed {
			bound[key] = f
		}
	}
	return bound
}

func (c *cli) runCmd() *cobra.Command {
	var (
		noTest bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Generate a service for a natural-language request",
		Long: `Runs the full workflow for one request and prints its progress events.

Example:
  revolve run --db sqlite://shop.db "CRUD endpoints for orders and customers"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := revolve.Open(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			task := pipeline.NewTask(strings.Join(args, " "))
			task.Tables = c.cfg.Database.Tables
			if noTest {
				testMode := false
				task.TestMode = &testMode
			}
			return printEvents(cmd.OutOrStdout(), app.Run(ctx, task), asJSON)
		},
	}
	cmd.Flags().StringSliceP("tables", "t", nil, "Limit extraction to these tables (comma-separated)")
	cmd.Flags().Bool("git", true, "Commit generated files to a git branch in the workspace")
	cmd.Flags().Int("workers", 0, "Entities generated in parallel")
	cmd.Flags().Int("max-iterations", 0, "Repair iterations per entity")
	cmd.Flags().BoolVar(&noTest, "no-test", false, "Generate the service without tests")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print events as newline-delimited JSON")
	return cmd
}

// printEvents drains events and fails when the run ended with an error
func printEvents(w io.Writer, events <-chan progress.Event, asJSON bool) error {
	enc := json.NewEncoder(w)
	var last progress.Event
	for e := range events {
		last = e
		if asJSON {
			if err := enc.Encode(e); err != nil {
				return err
			}
			continue
		}
		_, _ = fmt.Fprintf(w, "[%s] %s: %s\n", e.Level, e.Name, e.Text)
	}
	if last.Status == progress.StatusError {
		return fmt.Errorf("%s failed: %s", last.Name, last.Text)
	}
	return nil
}

func (c *cli) schemaCmd() *cobra.Command {
	var (
		outputFile string
		outputDir  string
		format     string
	)
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the database schema",
		Long:  `Extracts the schema and writes it as markdown or as the compact text form used in prompts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.RequireDatabase(); err != nil {
				return err
			}
			if outputDir != "" && outputFile != "" {
				return errors.New("cannot use both --output-dir and --output flags")
			}

			out := &revolve.OutputOptions{Writer: cmd.OutOrStdout(), OutputDir: outputDir, Format: format}
			if outputFile != "" {
				f, err := os.Create(outputFile)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer func() {
					if err := f.Close(); err != nil {
						c.logger.Warn("failed to close output file", zap.Error(err))
					}
				}()
				out.Writer = f
			}
			return revolve.ExtractAndFormat(cmd.Context(), c.cfg.Database.URL, c.schemaOptions(), out)
		},
	}
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "d", "", "Output directory for one file per table")
	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "Output format: markdown or text")
	addSchemaFlags(cmd)
	return cmd
}

func (c *cli) orderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Print the order in which tables are generated",
		Long: `Resolves foreign keys into the processing order: referenced tables come before the
tables that reference them. Fails when the foreign keys form a cycle.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.RequireDatabase(); err != nil {
				return err
			}
			s, err := revolve.ExtractSchema(cmd.Context(), c.cfg.Database.URL, c.schemaOptions())
			if err != nil {
				return err
			}
			childMap, order, err := revolve.ResolveOrder(s)
			if err != nil {
				return err
			}
			levels, err := revolve.DependencyLevels(s)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for i, table := range order {
				if links := childMap[table]; len(links) > 0 {
					_, _ = fmt.Fprintf(w, "%d. %s -> %s\n", i+1, table, strings.Join(links, ", "))
					continue
				}
				_, _ = fmt.Fprintf(w, "%d. %s\n", i+1, table)
			}
			_, _ = fmt.Fprintln(w)
			for i, level := range levels {
				_, _ = fmt.Fprintf(w, "level %d: %s\n", i, strings.Join(level, ", "))
			}
			return nil
		},
	}
	addSchemaFlags(cmd)
	return cmd
}

func addSchemaFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceP("tables", "t", nil, "Specific tables (comma-separated)")
	cmd.Flags().StringSliceP("exclude", "x", nil, "Tables to exclude (comma-separated)")
	cmd.Flags().StringP("schema", "s", "", "Database schema name (default: public for PostgreSQL)")
}

func (c *cli) schemaOptions() *revolve.Options {
	return &revolve.Options{
		Tables:        c.cfg.Database.Tables,
		ExcludeTables: c.cfg.Database.Exclude,
		SchemaName:    c.cfg.Database.Schema,
	}
}

func (c *cli) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run API and the MCP tools over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := revolve.Open(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			tools := mcp.NewServer(app.Tools(), version, c.logger)
			srv := server.New(app, app.Store(), tools.GetMCPServer(), c.logger)
			return srv.ListenAndServe(ctx, c.cfg.Server.Addr)
		},
	}
	cmd.Flags().String("addr", "", "Listen address (default :8080)")
	cmd.Flags().Bool("git", true, "Commit generated files to a git branch in the workspace")
	return cmd
}

func (c *cli) mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the workspace and database tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := revolve.Open(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			return mcp.NewServer(app.Tools(), version, c.logger).ServeStdio()
		},
	}
}

func (c *cli) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recent runs, or show one run with its test records",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.Store.Path == "" {
				return errors.New("run history is disabled (store.path is empty)")
			}
			st, err := store.NewSQLiteStore(c.cfg.Store.Path)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			w := cmd.OutOrStdout()
			if len(args) == 1 {
				run, err := st.LoadRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(run)
			}

			runs, err := st.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tSTATUS\tTESTS\tCREATED\tTASK")
			for _, r := range runs {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\n",
					r.ID, r.Status, r.Succeeded, r.RecordCount, r.CreatedAt.Format("2006-01-02 15:04"), r.Task)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to list")
	return cmd
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
