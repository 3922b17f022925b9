package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"transcriptdesk/internal/app"
	"transcriptdesk/internal/config"
	"transcriptdesk/internal/domain"
	"transcriptdesk/internal/engine"
	"transcriptdesk/internal/migrate"
	"transcriptdesk/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "td",
	Short: "Transcriptdesk CLI",
	Long: `Transcriptdesk runs the evaluation and translation desk for academic transcripts.
- Items: one evaluation or translation request, owned by the student who submitted it.
- Claims: staff take unassigned items with 'td item claim'; only one simultaneous claim wins.
- Batches: students lock pending items for payment with 'td pay lock'; the batch price is fixed at lock time.
- Reconciliation: provider confirmations settle a batch exactly once; replays are harmless.
- Warnings: amount mismatches and payments for unlocked batches wait in 'td warnings list'.`,
	SilenceUsage: true,
}

var logger = logrus.New()

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	logger.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if viper.GetBool("json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (defaults to <workspace>/transcriptdesk.yml)")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-admin", "acting user")
	flags.String("role", "admin", "role of the acting user")
	flags.String("log-level", "info", "log level")
	for _, name := range []string{"workspace", "config", "json", "actor-id", "role", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(payCmd())
	rootCmd.AddCommand(idCmd())
	rootCmd.AddCommand(warningsCmd())
}

func caller() engine.Caller {
	return engine.Caller{ID: viper.GetString("actor-id"), Role: viper.GetString("role")}
}

func openRuntime(ctx context.Context) (*app.Runtime, error) {
	return app.Open(ctx, app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		Log:        logger,
	})
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt.Engine)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			v, err := migrate.Version(cmd.Context(), rt.DB)
			if err != nil {
				return err
			}
			return printJSONOrTable(map[string]any{"schema_version": v})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect or create transcriptdesk.yml"}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			var c *config.Config
			var err error
			if p := viper.GetString("config"); p != "" {
				c, err = config.FromFile(p)
			} else {
				c, err = config.LoadOptional(viper.GetString("workspace"))
			}
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	}
	cfg.AddCommand(initCmd, showCmd)
	return cfg
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowHeaders, devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			authCfg := server.AuthConfig{
				JWTSecret:         viper.GetString("jwt-secret"),
				AllowActorHeaders: allowHeaders,
				DevLogin:          devLogin,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("TD_JWT_SECRET is required for bearer auth")
			}
			webhookSecret := viper.GetString("webhook-secret")
			if webhookSecret == "" {
				logger.Warn("TD_WEBHOOK_SECRET not set; payment webhooks will be rejected")
			}
			handler, err := server.New(server.Config{
				Engine:   rt.Engine,
				BasePath: basePath,
				Auth:     authCfg,
				Webhook:  server.WebhookConfig{Secret: webhookSecret, Log: logger},
				Log:      logger,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.WithFields(logrus.Fields{"addr": addr, "base_path": basePath, "counter": rt.Config.Counter.Backend}).
				Info("serving transcriptdesk API (OpenAPI at /openapi.json, Swagger UI at /docs)")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowHeaders, "allow-actor-headers", false, "trust X-Actor-Id / X-Actor-Role (development only)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login (development only)")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	cmd.Flags().String("webhook-secret", "", "shared secret for payment webhooks")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	_ = viper.BindPFlag("webhook-secret", cmd.Flags().Lookup("webhook-secret"))
	return cmd
}

func actorCmd() *cobra.Command {
	actor := &cobra.Command{Use: "actor", Short: "Manage staff and students"}
	var role string
	var inactive bool
	add := &cobra.Command{
		Use:   "add <id>",
		Short: "Register or update an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.UpsertActor(ctx, domain.Actor{ID: args[0], Role: role, Active: !inactive}, caller())
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	add.Flags().StringVar(&role, "role", "", "role id from config")
	add.Flags().BoolVar(&inactive, "inactive", false, "mark the actor inactive")
	_ = add.MarkFlagRequired("role")
	list := &cobra.Command{
		Use:   "list",
		Short: "List actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actors, err := e.Repo.ListActors(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(actors)
				}
				tw := newTable("ID", "Role", "Active", "Created")
				for _, a := range actors {
					tw.AppendRow(table.Row{a.ID, a.Role, a.Active, a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	actor.AddCommand(add, list)
	return actor
}

func apiKeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var name string
	create := &cobra.Command{
		Use:   "create <actor-id>",
		Short: "Issue an API key; the secret is printed once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, secret, err := e.CreateAPIKey(ctx, args[0], name, caller())
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "secret": secret})
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label for the key")
	list := &cobra.Command{
		Use:   "list <actor-id>",
		Short: "List an actor's API keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				found, err := e.ListAPIKeys(ctx, args[0], caller())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(found)
				}
				tw := newTable("ID", "Actor", "Name", "Created")
				for _, k := range found {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	revoke := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RevokeAPIKey(ctx, args[0], caller()); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	}
	keys.AddCommand(create, list, revoke)
	return keys
}

func idCmd() *cobra.Command {
	id := &cobra.Command{Use: "id", Short: "Display identifiers"}
	id.AddCommand(&cobra.Command{
		Use:       "next <submission|receipt>",
		Short:     "Issue the next identifier without binding it to a record",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"submission", "receipt"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.NextIdentifier(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": v})
				}
				fmt.Println(v)
				return nil
			})
		},
	})
	return id
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
