package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"lrs/internal/app"
	"lrs/internal/config"
	"lrs/internal/db"
	"lrs/internal/domain"
	"lrs/internal/engine"
	"lrs/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "lrs",
	Short: "Learning Record Store",
	Long: `lrs stores learning statements (actor, verb, object) and the documents that go with them.
- Statements: stored once, never edited; a voiding statement hides an earlier one, and deleting the voider restores it.
- Entities: agents, verbs and activities are shared between statements and released when the last statement using them is deleted.
- Authority: the newest statement about the same actor, object, authority and context is the authoritative one.
- Documents: state, activity profile and agent profile documents with ETag concurrency control.
- Workspace: a directory holding lrs.yml and the .lrs database.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("LRS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "user recorded as owner of what this command writes (empty: local operator)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(statementCmd())
	rootCmd.AddCommand(objectCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(docCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(configCmd())
}

// --- statements ---

func statementCmd() *cobra.Command {
	st := &cobra.Command{Use: "statement", Short: "Store, read and delete statements"}
	st.AddCommand(statementStoreCmd())
	st.AddCommand(statementGetCmd())
	st.AddCommand(statementListCmd())
	st.AddCommand(statementDeleteCmd())
	return st
}

func statementStoreCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Store one statement or a JSON array of statements",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(file)
			if err != nil {
				return err
			}
			batch, err := decodeStatements(data)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ids, err := e.StoreStatements(ctx, batch, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ids)
				}
				for _, id := range ids {
					fmt.Println(id)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "statement JSON file (- for stdin)")
	return cmd
}

func statementGetCmd() *cobra.Command {
	var voided bool
	cmd := &cobra.Command{
		Use:   "get <statement-id>",
		Short: "Show a statement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.GetStatement(ctx, args[0], voided)
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	cmd.Flags().BoolVar(&voided, "voided", false, "fetch a voided statement")
	return cmd
}

func statementListCmd() *cobra.Command {
	var q engine.StatementQuery
	var agent string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List non-voided statements",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := parseAgentFlag(agent)
			if err != nil {
				return err
			}
			q.Agent = a
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListStatements(ctx, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Verb", "Object", "Stored"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, agentLabel(s.Actor), s.Verb.ID, objectLabel(s.Object), s.Stored})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "actor filter (JSON agent or mailto: address)")
	cmd.Flags().StringVar(&q.VerbID, "verb", "", "verb IRI filter")
	cmd.Flags().StringVar(&q.ActivityID, "activity", "", "object activity IRI filter")
	cmd.Flags().StringVar(&q.Registration, "registration", "", "context registration filter")
	cmd.Flags().StringVar(&q.Since, "since", "", "stored after (RFC 3339)")
	cmd.Flags().StringVar(&q.Until, "until", "", "stored at or before (RFC 3339)")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "maximum statements (0: configured default)")
	cmd.Flags().BoolVar(&q.Ascending, "ascending", false, "oldest first")
	return cmd
}

func statementDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <statement-id>",
		Short: "Delete a statement and release entities nothing else uses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				report, err := e.DeleteStatement(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				fmt.Printf("deleted %s (released %d agents, %d verbs, %d activities, %d sub-statements)\n",
					args[0], report.Agents, report.Verbs, report.Activities, report.SubStatements)
				return nil
			})
		},
	}
	return cmd
}

// --- entities ---

func objectCmd() *cobra.Command {
	obj := &cobra.Command{Use: "object", Short: "Inspect statement objects"}
	obj.AddCommand(&cobra.Command{
		Use:   "resolve <statement-id>",
		Short: "Resolve the object of a stored statement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, kind, err := e.ResolveObject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"kind": kind, "object": o})
			})
		},
	})
	return obj
}

func agentCmd() *cobra.Command {
	ag := &cobra.Command{Use: "agent", Short: "Resolve and inspect agents"}
	ag.AddCommand(&cobra.Command{
		Use:   "resolve <agent>",
		Short: "Find or create the stored agent matching a JSON agent or mailto: address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := parseAgentFlag(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				stored, created, err := e.ResolveAgent(ctx, *a)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"created": created, "agent": stored})
			})
		},
	})
	ag.AddCommand(&cobra.Command{
		Use:   "get <agent>",
		Short: "Show the identifiers stored for an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := parseAgentFlag(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetPerson(ctx, *a)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	})
	return ag
}

func activityCmd() *cobra.Command {
	act := &cobra.Command{Use: "activity", Short: "Inspect activities"}
	act.AddCommand(&cobra.Command{
		Use:   "get <activity-iri>",
		Short: "Show a stored activity and its definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.GetActivity(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	})
	return act
}

// --- documents ---

type docFlags struct {
	kind         string
	activity     string
	agent        string
	registration string
	id           string
	ifMatch      string
	ifNoneMatch  string
}

func (f *docFlags) bind(cmd *cobra.Command, withPreconditions bool) {
	cmd.Flags().StringVar(&f.kind, "kind", "state", "document kind: state, activity-profile, agent-profile")
	cmd.Flags().StringVar(&f.activity, "activity", "", "activity IRI")
	cmd.Flags().StringVar(&f.agent, "agent", "", "agent (JSON agent or mailto: address)")
	cmd.Flags().StringVar(&f.registration, "registration", "", "registration UUID (state only)")
	cmd.Flags().StringVar(&f.id, "id", "", "state or profile id")
	if withPreconditions {
		cmd.Flags().StringVar(&f.ifMatch, "if-match", "", "write only if the current ETag matches")
		cmd.Flags().StringVar(&f.ifNoneMatch, "if-none-match", "", "write only if no document matches (use *)")
	}
}

func (f *docFlags) address() (engine.DocumentAddress, error) {
	kinds := map[string]domain.DocumentKind{
		"state":            domain.DocumentState,
		"activity-profile": domain.DocumentActivityProfile,
		"agent-profile":    domain.DocumentAgentProfile,
	}
	kind, ok := kinds[f.kind]
	if !ok {
		return engine.DocumentAddress{}, fmt.Errorf("--kind must be state, activity-profile or agent-profile")
	}
	agent, err := parseAgentFlag(f.agent)
	if err != nil {
		return engine.DocumentAddress{}, err
	}
	return engine.DocumentAddress{Kind: kind, ActivityID: f.activity, Agent: agent, Registration: f.registration, DocID: f.id}, nil
}

func (f *docFlags) preconditions() engine.Preconditions {
	return engine.Preconditions{IfMatch: f.ifMatch, IfNoneMatch: f.ifNoneMatch}
}

func docCmd() *cobra.Command {
	doc := &cobra.Command{Use: "doc", Short: "Manage state and profile documents"}
	doc.AddCommand(docPutCmd())
	doc.AddCommand(docGetCmd())
	doc.AddCommand(docDeleteCmd())
	doc.AddCommand(docListCmd())
	return doc
}

func docPutCmd() *cobra.Command {
	var f docFlags
	var file, contentType string
	var merge bool
	cmd := &cobra.Command{
		Use:   "put",
		Short: "Write a document (or merge JSON with --merge)",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := f.address()
			if err != nil {
				return err
			}
			content, err := readInput(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var doc domain.Document
				if merge {
					doc, err = e.PostDocument(ctx, addr, content, f.preconditions(), viper.GetString("actor-id"))
				} else {
					doc, err = e.PutDocument(ctx, addr, content, contentType, f.preconditions(), viper.GetString("actor-id"))
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(doc)
			})
		},
	}
	f.bind(cmd, true)
	cmd.Flags().StringVarP(&file, "file", "f", "-", "document content file (- for stdin)")
	cmd.Flags().StringVar(&contentType, "content-type", "application/json", "content type to record")
	cmd.Flags().BoolVar(&merge, "merge", false, "merge a JSON object into the stored one")
	return cmd
}

func docGetCmd() *cobra.Command {
	var f docFlags
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print a document's content (metadata with --json)",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := f.address()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				doc, err := e.GetDocument(ctx, addr)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(doc)
				}
				_, err = os.Stdout.Write(doc.Content)
				return err
			})
		},
	}
	f.bind(cmd, false)
	return cmd
}

func docDeleteCmd() *cobra.Command {
	var f docFlags
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a document, or every state document of an owner when --id is omitted",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := f.address()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if addr.DocID == "" {
					n, err := e.DeleteDocuments(ctx, addr)
					if err != nil {
						return err
					}
					fmt.Printf("deleted %d documents\n", n)
					return nil
				}
				if err := e.DeleteDocument(ctx, addr, f.preconditions()); err != nil {
					return err
				}
				fmt.Println("deleted", addr.DocID)
				return nil
			})
		},
	}
	f.bind(cmd, true)
	return cmd
}

func docListCmd() *cobra.Command {
	var f docFlags
	var since string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List document ids of an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := f.address()
			if err != nil {
				return err
			}
			addr.DocID = ""
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ids, err := e.ListDocuments(ctx, addr, since)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ids)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID"})
				for _, id := range ids {
					tw.AppendRow(table.Row{id})
				}
				tw.Render()
				return nil
			})
		},
	}
	f.bind(cmd, false)
	cmd.Flags().StringVar(&since, "since", "", "only ids updated at or after (RFC 3339)")
	return cmd
}

// --- api keys ---

func apiKeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	keys.AddCommand(apiKeyCreateCmd())
	keys.AddCommand(apiKeyListCmd())
	keys.AddCommand(apiKeyRevokeCmd())
	return keys
}

func apiKeyCreateCmd() *cobra.Command {
	var user, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key for a user; the key is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, plain, err := e.CreateAPIKey(ctx, user, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "user": key.User, "name": key.Name, "key": plain})
				}
				fmt.Printf("id:  %s\nkey: %s\n", key.ID, plain)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "owning user")
	cmd.Flags().StringVar(&name, "name", "", "label")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.ListAPIKeys(ctx, user)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "User", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.User, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user filter")
	return cmd
}

func apiKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RevokeAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	}
}

// --- config ---

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config lives in lrs.yml at the workspace root. Missing keys take their defaults.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default lrs.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate lrs.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.Open(cmd.Context(), viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer store.Close()
			if addr == "" {
				addr = store.Config.Server.Addr
			}
			if basePath == "" {
				basePath = store.Config.Server.BasePath
			}
			authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt-secret"), Logger: store.Log}
			if authCfg.JWTSecret == "" {
				store.Log.Warnw("LRS_JWT_SECRET is not set; bearer tokens will be rejected")
			}
			handler, err := server.New(server.Config{Engine: store.Engine, BasePath: basePath, Auth: authCfg, Logger: store.Log})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			store.Log.Infow("serving", "addr", addr, "base_path", basePath)
			fmt.Printf("Serving LRS API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from lrs.yml)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from lrs.yml)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store.Engine)
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

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func decodeStatements(data []byte) ([]domain.Statement, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("no statement given")
	}
	if trimmed[0] == '[' {
		var batch []domain.Statement
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, fmt.Errorf("decode statements: %w", err)
		}
		return batch, nil
	}
	var s domain.Statement
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, fmt.Errorf("decode statement: %w", err)
	}
	return []domain.Statement{s}, nil
}

// parseAgentFlag accepts a JSON agent or a bare mailto: address.
func parseAgentFlag(v string) (*domain.Agent, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	if strings.HasPrefix(v, "mailto:") {
		return &domain.Agent{Mbox: v}, nil
	}
	var a domain.Agent
	if err := json.Unmarshal([]byte(v), &a); err != nil {
		return nil, fmt.Errorf("agent must be a JSON object or mailto: address: %w", err)
	}
	return &a, nil
}

func agentLabel(a domain.Agent) string {
	if key, err := a.IdentityKey(); err == nil {
		return key
	}
	return a.Name
}

func objectLabel(o domain.StatementObject) string {
	switch o.Kind {
	case domain.ObjectActivity:
		return o.Activity.ID
	case domain.ObjectAgent:
		return agentLabel(*o.Agent)
	case domain.ObjectSubStatement:
		return "SubStatement(" + o.SubStatement.Verb.ID + ")"
	case domain.ObjectStatementRef:
		return "StatementRef(" + o.StatementRef.ID + ")"
	}
	return ""
}
