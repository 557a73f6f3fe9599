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

	"github.com/jedib0t/go-pretty/v6/list"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"ganttline/internal/app"
	"ganttline/internal/config"
	"ganttline/internal/domain"
	"ganttline/internal/engine"
	"ganttline/internal/server"
	"ganttline/internal/wbs"
)

var rootCmd = &cobra.Command{
	Use:   "gl",
	Short: "Ganttline CLI",
	Long: `Ganttline keeps a project's work breakdown structure in a local SQLite workspace.
- Project: owns one tree of WBS nodes.
- Node: a unit of work under a parent (or at root level) with a position among its siblings.
- Orders: siblings are numbered 0..n-1; moves and reorders keep both groups gap free.
- Event log: every change is recorded, view with 'gl log tail'.`,
	SilenceUsage: true,
}

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
	viper.SetEnvPrefix("GANTTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().StringP("project", "p", "", "project id (defaults to the only project)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(nodeCmd())
	rootCmd.AddCommand(treeCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default ganttline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cfg.AddCommand(initCmd)
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(c)
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(c)
		},
	})
	return cfg
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}

	var id, desc string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, engine.CreateProjectOptions{
					ID:          id,
					Name:        args[0],
					Description: desc,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printProjects(p)
			})
		},
	}
	create.Flags().StringVar(&id, "id", "", "project id (generated when empty)")
	create.Flags().StringVar(&desc, "description", "", "description")
	prj.AddCommand(create)

	prj.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProjects(ctx)
				if err != nil {
					return err
				}
				return printProjects(items...)
			})
		},
	})

	prj.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the selected project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				return printProjects(p)
			})
		},
	})

	var description string
	rename := &cobra.Command{
		Use:   "rename <name>",
		Short: "Rename the selected project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				opts := engine.UpdateProjectOptions{Name: &args[0], ActorID: viper.GetString("actor-id")}
				if cmd.Flags().Changed("description") {
					opts.Description = &description
				}
				updated, err := e.UpdateProject(ctx, p.ID, opts)
				if err != nil {
					return err
				}
				return printProjects(updated)
			})
		},
	}
	rename.Flags().StringVar(&description, "description", "", "new description")
	prj.AddCommand(rename)

	prj.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Delete the selected project with all its nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				if err := e.DeleteProject(ctx, p.ID, viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Println("deleted", p.ID)
				return nil
			})
		},
	})
	return prj
}

func nodeCmd() *cobra.Command {
	node := &cobra.Command{Use: "node", Short: "Manage WBS nodes"}

	var id, parent string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Append a node under --parent (root level when empty)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				n, err := e.AddNode(ctx, engine.AddNodeOptions{
					ID:        id,
					ProjectID: p.ID,
					ParentID:  optionalString(parent),
					Name:      args[0],
					ActorID:   viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printNodes(n)
			})
		},
	}
	add.Flags().StringVar(&id, "id", "", "node id (generated when empty)")
	add.Flags().StringVar(&parent, "parent", "", "parent node id")
	node.AddCommand(add)

	node.AddCommand(&cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename a node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.EditNode(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printNodes(n)
			})
		},
	})

	var target string
	var index int
	move := &cobra.Command{
		Use:   "move <id>",
		Short: "Move a node to --index under --parent (root level when empty)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.MoveNode(ctx, engine.MoveOptions{
					NodeID:         args[0],
					TargetParentID: optionalString(target),
					TargetIndex:    index,
					ActorID:        viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if res.NoOp() {
					fmt.Printf("%s already at position %d\n", res.Node.ID, res.Index)
					return nil
				}
				fmt.Printf("moved %s to %s[%d] (%s, %d siblings shifted)\n",
					res.Node.ID, domain.ParentKey(res.Node.ParentID), res.Node.Order, res.Case, res.Shifted)
				return nil
			})
		},
	}
	move.Flags().StringVar(&target, "parent", "", "new parent node id")
	move.Flags().IntVar(&index, "index", 0, "zero-based position among the new siblings")
	node.AddCommand(move)

	node.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a node and its subtree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.DeleteNode(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("deleted %d node(s)\n", res.Deleted)
				return nil
			})
		},
	})
	return node
}

func treeCmd() *cobra.Command {
	tree := &cobra.Command{Use: "tree", Short: "Inspect and maintain the WBS"}

	var withRoot, flat bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the assembled tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				roots, err := e.ListTree(ctx, p.ID, engine.TreeOptions{IncludeProjectRoot: withRoot})
				if err != nil {
					return err
				}
				if flat {
					rows := wbs.Flatten(roots)
					if viper.GetBool("json") {
						return printJSON(rows)
					}
					tw := newTable()
					tw.AppendHeader(table.Row{"Depth", "Order", "ID", "Parent", "Name"})
					for _, r := range rows {
						tw.AppendRow(table.Row{r.Depth, r.Order, r.ID, domain.ParentKey(r.ParentID), strings.Repeat("  ", r.Depth) + r.Name})
					}
					fmt.Println(tw.Render())
					return nil
				}
				if viper.GetBool("json") {
					return printJSON(roots)
				}
				lw := list.NewWriter()
				lw.SetStyle(list.StyleConnectedRounded)
				var walk func(nodes []*domain.TreeNode)
				walk = func(nodes []*domain.TreeNode) {
					for _, n := range nodes {
						lw.AppendItem(fmt.Sprintf("%s  (%s #%d)", n.Name, n.ID, n.Order))
						if len(n.Children) > 0 {
							lw.Indent()
							walk(n.Children)
							lw.UnIndent()
						}
					}
				}
				walk(roots)
				fmt.Println(lw.Render())
				return nil
			})
		},
	}
	show.Flags().BoolVar(&withRoot, "root", false, "wrap the tree in the project root node")
	show.Flags().BoolVar(&flat, "flat", false, "print a pre-order table with depths")
	tree.AddCommand(show)

	tree.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Report ordering gaps and parent cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				vs, err := e.CheckTree(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(vs)
				}
				if len(vs) == 0 {
					fmt.Println("tree is valid")
					return nil
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Kind", "Parent", "Node", "Detail"})
				for _, v := range vs {
					tw.AppendRow(table.Row{v.Kind, v.ParentID, v.NodeID, v.Detail})
				}
				fmt.Println(tw.Render())
				return fmt.Errorf("%d violation(s) found", len(vs))
			})
		},
	})

	tree.AddCommand(&cobra.Command{
		Use:   "repair",
		Short: "Renumber every sibling group to 0..n-1",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				n, err := e.RepairTree(ctx, p.ID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("rewrote %d node(s)\n", n)
				return nil
			})
		},
	})
	return tree
}

func apiKeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var actor, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the secret is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, secret, err := e.CreateAPIKey(ctx, actor, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "actor_id": key.ActorID, "key": secret})
				}
				fmt.Printf("id:  %s\nkey: %s\n", key.ID, secret)
				return nil
			})
		},
	}
	create.Flags().StringVar(&actor, "actor", "", "actor the key authenticates as")
	create.Flags().StringVar(&name, "name", "", "label")
	_ = create.MarkFlagRequired("actor")
	keys.AddCommand(create)
	return keys
}

func tokenCmd() *cobra.Command {
	var perms []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "DEV ONLY: mint a JWT for --actor-id with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if len(perms) == 0 {
				perms = server.AllPermissions
			}
			token, err := server.SignToken(cfg.Auth.JWTSecret, viper.GetString("actor-id"), perms, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&perms, "perm", nil, "permission to grant (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

func logCmd() *cobra.Command {
	logc := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	var evtType string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				items, err := e.Repo.LatestEvents(ctx, n, p.ID, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityID, evt.ActorID, evt.Payload})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	logc.AddCommand(tail)
	return logc
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server and webhook dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				cfg.Server.BasePath = basePath
			}
			a, err := app.Open(cmd.Context(), app.Options{
				Workspace: viper.GetString("workspace"),
				Config:    cfg,
				LogOutput: os.Stderr,
			})
			if err != nil {
				return err
			}
			defer a.Close()

			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				BasePath: cfg.Server.BasePath,
				Logger:   a.Logger,
				Auth: server.AuthConfig{
					JWTSecret:        cfg.Auth.JWTSecret,
					AllowActorHeader: cfg.Auth.AllowActorHeader,
				},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				a.Logger.Info("serving ganttline api", "addr", cfg.Server.Addr, "base_path", cfg.Server.BasePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			g.Go(func() error {
				return server.NewDispatcher(a.Engine, cfg.Webhooks, a.Logger).Run(ctx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

// loadConfig reads the workspace file and applies GANTTLINE_* overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if secret := viper.GetString("jwt-secret"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if addr := viper.GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if level := viper.GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	return cfg, cfg.Validate()
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, app.Options{Workspace: viper.GetString("workspace"), Config: cfg, LogOutput: os.Stderr})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a.Engine)
}

// withProject resolves --project, falling back to the only project in the
// workspace.
func withProject(ctx context.Context, fn func(context.Context, engine.Engine, domain.Project) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		if id := strings.TrimSpace(viper.GetString("project")); id != "" {
			p, err := e.GetProject(ctx, id)
			if err != nil {
				return err
			}
			return fn(ctx, e, p)
		}
		items, err := e.ListProjects(ctx)
		if err != nil {
			return err
		}
		switch len(items) {
		case 0:
			return errors.New("no project yet, run 'gl project create <name>'")
		case 1:
			return fn(ctx, e, items[0])
		default:
			return fmt.Errorf("%d projects in workspace, pick one with --project", len(items))
		}
	})
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	return tw
}

func printProjects(items ...domain.Project) error {
	if viper.GetBool("json") {
		if len(items) == 1 {
			return printJSON(items[0])
		}
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Name", "Description", "Updated"})
	for _, p := range items {
		tw.AppendRow(table.Row{p.ID, p.Name, p.Description, p.UpdatedAt})
	}
	fmt.Println(tw.Render())
	return nil
}

func printNodes(items ...domain.WbsNode) error {
	if viper.GetBool("json") {
		if len(items) == 1 {
			return printJSON(items[0])
		}
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Parent", "Order", "Name"})
	for _, n := range items {
		tw.AppendRow(table.Row{n.ID, domain.ParentKey(n.ParentID), n.Order, n.Name})
	}
	fmt.Println(tw.Render())
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
