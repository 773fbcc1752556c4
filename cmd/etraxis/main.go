package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"etraxis/internal/config"
	"etraxis/internal/db"
	"etraxis/internal/engine"
	"etraxis/internal/migrate"
	"etraxis/internal/server"
	"etraxis/internal/telemetry"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "etraxis",
	Short: "eTraxis issue tracker",
	Long: `eTraxis tracks issues through template-defined workflows.
- Templates describe states, the transitions between them and the fields filled in each state.
- Permissions are granted to system roles (anyone, author, responsible) and to groups.
- Every change of an issue is recorded as an event with its field value changes.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ETRAXIS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Int64("user", 0, "acting user id")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(userCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the workspace config and database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", path)
			}
			return runMigrations(cmd.Context(), workspace)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations(cmd.Context(), viper.GetString("workspace"))
		},
	}
}

func runMigrations(ctx context.Context, workspace string) error {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace, BusyTimeoutMS: cfg.Database.BusyTimeoutMS})
	if err != nil {
		return err
	}
	defer conn.Close()
	applied, err := migrate.Migrate(ctx, conn)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Println("database is up to date")
	}
	for _, name := range applied {
		fmt.Println("applied", name)
	}
	return nil
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
				cfg := e.Config
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") {
					basePath = cfg.Server.BasePath
				}
				secret := cfg.Server.JWTSecret
				if s := viper.GetString("jwt-secret"); s != "" {
					secret = s
				}

				if err := telemetry.Init(ctx, telemetry.Config{Enabled: cfg.Telemetry.Enabled, Pretty: cfg.Telemetry.Pretty}, "etraxis", version); err != nil {
					return err
				}
				defer func() {
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := telemetry.Shutdown(sctx); err != nil {
						e.Logger.Warn("telemetry shutdown", "err", err)
					}
				}()
				handler, err := server.New(server.Config{
					Engine:   e,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: secret, AllowUserHeader: cfg.Server.AllowUserHeader, Logger: e.Logger},
					Logger:   e.Logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				e.Logger.Info("serving eTraxis API", "addr", addr, "base_path", basePath, "openapi", "/openapi.json")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config server.base_path)")
	return cmd
}

func issueCmd() *cobra.Command {
	issue := &cobra.Command{Use: "issue", Short: "Inspect issues"}
	issue.AddCommand(issueShowCmd())
	issue.AddCommand(issueTransitionsCmd())
	issue.AddCommand(issueResponsiblesCmd())
	issue.AddCommand(issueValuesCmd())
	issue.AddCommand(issueHistoryCmd())
	return issue
}

func issueShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <issue-id>",
		Short: "Show an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				issue, err := e.Issue(ctx, id, actorID())
				if err != nil {
					return err
				}
				return printJSON(issue)
			})
		},
	}
}

func issueTransitionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transitions <issue-id>",
		Short: "List states the user may move the issue to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				states, err := e.Transitions(ctx, id, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(states)
				}
				tw := newTable(table.Row{"ID", "State", "Type", "Responsible"})
				for _, s := range states {
					tw.AppendRow(table.Row{s.ID, s.Name, s.Type, s.Responsible})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func issueResponsiblesCmd() *cobra.Command {
	var stateID int64
	var excludeCurrent bool
	cmd := &cobra.Command{
		Use:   "responsibles <issue-id>",
		Short: "List users who may become responsible in a state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				users, err := e.Responsibles(ctx, id, stateID, actorID(), excludeCurrent)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := newTable(table.Row{"ID", "Name", "Email"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Fullname, u.Email})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&stateID, "state", 0, "target state id")
	cmd.Flags().BoolVar(&excludeCurrent, "exclude-current", false, "leave out the current responsible")
	_ = cmd.MarkFlagRequired("state")
	return cmd
}

func issueValuesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "values <issue-id>",
		Short: "List readable field values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				views, err := e.FieldValues(ctx, id, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(views)
				}
				tw := newTable(table.Row{"Field", "Type", "Value", "Access"})
				for _, v := range views {
					access := "rw"
					if v.ReadOnly {
						access = "r"
					}
					tw.AppendRow(table.Row{v.Field.Name, v.Field.Type, display(v.Value), access})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func issueHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <issue-id>",
		Short: "Show the change history of an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				changes, err := e.Changes(ctx, id, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(changes)
				}
				tw := newTable(table.Row{"When", "Event", "User", "Field", "Old", "New"})
				for _, c := range changes {
					field := "subject"
					if c.Field != nil {
						field = c.Field.Name
					}
					when := time.Unix(c.Event.CreatedAt, 0).In(e.Config.Location()).Format(time.DateTime)
					tw.AppendRow(table.Row{when, c.Event.Type, c.Event.UserID, field, display(c.OldValue), display(c.NewValue)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage user accounts"}
	for _, disabled := range []bool{true, false} {
		use, short := "enable <user-id>", "Enable a user account"
		if disabled {
			use, short = "disable <user-id>", "Disable a user account"
		}
		user.AddCommand(&cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
					return e.SetUserDisabled(ctx, id, disabled)
				})
			},
		})
	}
	return user
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace, BusyTimeoutMS: cfg.Database.BusyTimeoutMS})
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	e, err := engine.New(conn, cfg)
	if err != nil {
		return err
	}
	e.Logger = newLogger()
	return fn(ctx, e)
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func actorID() int64 {
	return viper.GetInt64("user")
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func display(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
