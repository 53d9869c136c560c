package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"approvalflow/internal/app"
	"approvalflow/internal/db"
	"approvalflow/internal/domain"
	"approvalflow/internal/engine"
	"approvalflow/internal/repo"
	"approvalflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "af",
	Short: "Approvalflow CLI",
	Long: `Approvalflow runs multi-stage approval workflows over ticket-reprint requests.
Concepts:
- Workspace: the .approvalflow directory holding the SQLite database.
- Workflow: an ordered list of approval nodes; each node has a reviewer set
  and an approval type (ALL = everyone must approve, ANY = one is enough).
- Reprint request: the business object being approved.
- Instance: one run of a workflow against one request; a request can have at
  most one pending instance at a time.
- Vote: APPROVE or REJECT (a reject needs a comment and ends the run).
- Audit log: append-only trail of everything that happened to an instance.`,
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
	viper.SetEnvPrefix("APPROVALFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(nodeCmd())
	rootCmd.AddCommand(reprintCmd())
	rootCmd.AddCommand(instanceCmd())
	rootCmd.AddCommand(pendingCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(serveCmd())
}

func workflowCmd() *cobra.Command {
	wf := &cobra.Command{Use: "workflow", Short: "Manage workflow definitions"}
	wf.AddCommand(workflowCreateCmd())
	wf.AddCommand(workflowListCmd())
	wf.AddCommand(workflowShowCmd())
	wf.AddCommand(workflowUpdateCmd())
	wf.AddCommand(workflowDeleteCmd())
	return wf
}

func workflowCreateCmd() *cobra.Command {
	var name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workflow definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				d, err := r.CreateDefinition(ctx, name, desc)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "workflow name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func workflowListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflow definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				var filter *bool
				if activeOnly {
					filter = &activeOnly
				}
				items, err := r.ListDefinitions(ctx, filter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Active", "Created"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.Name, d.IsActive, d.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active workflows")
	return cmd
}

func workflowShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <workflow-id>",
		Short: "Show a workflow with its nodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				d, err := r.GetDefinition(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	return cmd
}

func workflowUpdateCmd() *cobra.Command {
	var name, desc string
	var active bool
	cmd := &cobra.Command{
		Use:   "update <workflow-id>",
		Short: "Update a workflow definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				var namePtr, descPtr *string
				var activePtr *bool
				if cmd.Flags().Changed("name") {
					namePtr = &name
				}
				if cmd.Flags().Changed("description") {
					descPtr = &desc
				}
				if cmd.Flags().Changed("active") {
					activePtr = &active
				}
				d, err := r.UpdateDefinition(ctx, args[0], namePtr, descPtr, activePtr)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "workflow name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().BoolVar(&active, "active", true, "active flag")
	return cmd
}

func workflowDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <workflow-id>",
		Short: "Delete a workflow definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteDefinition(ctx, args[0])
			})
		},
	}
	return cmd
}

func nodeCmd() *cobra.Command {
	n := &cobra.Command{Use: "node", Short: "Manage approval nodes"}
	n.AddCommand(nodeAddCmd())
	n.AddCommand(nodeListCmd())
	n.AddCommand(nodeUpdateCmd())
	n.AddCommand(nodeDeleteCmd())
	n.AddCommand(nodeUsersCmd())
	return n
}

func nodeAddCmd() *cobra.Command {
	var workflowID, name, desc, approvalType string
	var order int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an approval node to a workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !domain.ValidQuorumPolicy(approvalType) {
				return fmt.Errorf("--approval-type must be ALL or ANY")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				s, err := r.AddStage(ctx, workflowID, name, desc, approvalType, order)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&workflowID, "workflow-id", "", "workflow id")
	cmd.Flags().StringVar(&name, "name", "", "node name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&approvalType, "approval-type", "ALL", "ALL or ANY")
	cmd.Flags().IntVar(&order, "order", 1, "node order (1-based)")
	_ = cmd.MarkFlagRequired("workflow-id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func nodeListCmd() *cobra.Command {
	var workflowID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a workflow's nodes in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListStages(ctx, workflowID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Order", "ID", "Name", "Type", "Reviewers"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.Order, s.ID, s.Name, s.QuorumPolicy, strings.Join(s.Reviewers, ",")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workflowID, "workflow-id", "", "workflow id")
	_ = cmd.MarkFlagRequired("workflow-id")
	return cmd
}

func nodeUpdateCmd() *cobra.Command {
	var name, desc, approvalType string
	var order int
	cmd := &cobra.Command{
		Use:   "update <node-id>",
		Short: "Update an approval node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				var namePtr, descPtr, typePtr *string
				if cmd.Flags().Changed("name") {
					namePtr = &name
				}
				if cmd.Flags().Changed("description") {
					descPtr = &desc
				}
				if cmd.Flags().Changed("approval-type") {
					if !domain.ValidQuorumPolicy(approvalType) {
						return fmt.Errorf("--approval-type must be ALL or ANY")
					}
					typePtr = &approvalType
				}
				s, err := r.UpdateStage(ctx, args[0], namePtr, descPtr, typePtr)
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("order") {
					s, err = r.ReorderStage(ctx, args[0], order)
					if err != nil {
						return err
					}
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "node name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&approvalType, "approval-type", "", "ALL or ANY")
	cmd.Flags().IntVar(&order, "order", 0, "new node order")
	return cmd
}

func nodeDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <node-id>",
		Short: "Delete an approval node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteStage(ctx, args[0])
			})
		},
	}
	return cmd
}

func nodeUsersCmd() *cobra.Command {
	users := &cobra.Command{Use: "users", Short: "Manage a node's reviewer set"}

	var setUsers []string
	set := &cobra.Command{
		Use:   "set <node-id>",
		Short: "Replace the reviewer set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				out, err := r.SetReviewers(ctx, args[0], setUsers)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	set.Flags().StringSliceVar(&setUsers, "user", nil, "user id (repeatable)")
	_ = set.MarkFlagRequired("user")

	list := &cobra.Command{
		Use:   "list <node-id>",
		Short: "List the reviewer set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				out, err := r.ListReviewers(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}

	remove := &cobra.Command{
		Use:   "remove <node-id> <user-id>",
		Short: "Remove one reviewer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				out, err := r.RemoveReviewer(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}

	users.AddCommand(set, list, remove)
	return users
}

func reprintCmd() *cobra.Command {
	rp := &cobra.Command{Use: "reprint", Short: "Manage ticket-reprint requests"}
	rp.AddCommand(reprintCreateCmd())
	rp.AddCommand(reprintListCmd())
	rp.AddCommand(reprintShowCmd())
	rp.AddCommand(reprintInitCmd())
	rp.AddCommand(reprintVoteCmd())
	rp.AddCommand(reprintHistoryCmd())
	return rp
}

func reprintCreateCmd() *cobra.Command {
	var ticketNo, reason string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a ticket-reprint request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				req, err := r.CreateReprintRequest(ctx, ticketNo, reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(req)
			})
		},
	}
	cmd.Flags().StringVar(&ticketNo, "ticket-no", "", "ticket number")
	cmd.Flags().StringVar(&reason, "reason", "", "reprint reason")
	_ = cmd.MarkFlagRequired("ticket-no")
	return cmd
}

func reprintListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ticket-reprint requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListReprintRequests(ctx, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Ticket", "Status", "Requested By", "Created"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.TicketNo, r.Status, r.RequestedBy, r.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (PENDING, APPROVED, REJECTED)")
	return cmd
}

func reprintShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <reprint-id>",
		Short: "Show a ticket-reprint request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				req, err := r.GetReprintRequest(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(req)
			})
		},
	}
	return cmd
}

func reprintInitCmd() *cobra.Command {
	var workflowID string
	cmd := &cobra.Command{
		Use:   "init <reprint-id>",
		Short: "Attach an approval workflow to a reprint request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Repo.GetReprintRequest(ctx, args[0]); err != nil {
					return err
				}
				in, err := e.Initialize(ctx, workflowID, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
	cmd.Flags().StringVar(&workflowID, "workflow-id", "", "workflow id")
	_ = cmd.MarkFlagRequired("workflow-id")
	return cmd
}

func reprintVoteCmd() *cobra.Command {
	var action, comments, userID string
	cmd := &cobra.Command{
		Use:   "vote <reprint-id>",
		Short: "Cast an approval vote on a reprint request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in, err := e.Repo.ActiveInstanceForRequest(ctx, args[0])
				if err != nil {
					if errors.Is(err, repo.ErrNotFound) {
						return fmt.Errorf("no pending approval workflow for request %s", args[0])
					}
					return err
				}
				voter := userID
				if voter == "" {
					voter = viper.GetString("actor-id")
				}
				res, err := e.CastVote(ctx, in.ID, voter, strings.ToUpper(action), comments)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "APPROVE or REJECT")
	cmd.Flags().StringVar(&comments, "comments", "", "vote comments (required for REJECT)")
	cmd.Flags().StringVar(&userID, "user-id", "", "vote as this user (defaults to --actor-id)")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func reprintHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <reprint-id>",
		Short: "Show the approval history of a reprint request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in, err := e.Repo.LatestInstanceForRequest(ctx, args[0])
				if err != nil {
					return err
				}
				h, err := e.GetHistory(ctx, in.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(h)
				}
				fmt.Printf("instance %s  request %s  status %s\n", h.InstanceID, h.TargetRequestID, h.Status)
				if h.CurrentStage != nil {
					fmt.Printf("current node: %s (%d/%d approvals)\n",
						h.CurrentStage.Name, h.CurrentStage.Tally.ApprovedCount, h.CurrentStage.Tally.TotalRequired)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Seq", "Type", "Actor", "TS"})
				for _, entry := range h.Entries {
					tw.AppendRow(table.Row{entry.ID, entry.EntryType, entry.ActorID, entry.TS})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func instanceCmd() *cobra.Command {
	in := &cobra.Command{Use: "instance", Short: "Inspect workflow instances"}
	in.AddCommand(&cobra.Command{
		Use:   "show <instance-id>",
		Short: "Show an instance with its stage snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				detail, err := e.GetInstanceDetail(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(detail)
			})
		},
	})
	in.AddCommand(&cobra.Command{
		Use:   "history <instance-id>",
		Short: "Show an instance's audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				h, err := e.GetHistory(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(h)
			})
		},
	})
	return in
}

func pendingCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List instances awaiting a reviewer's vote",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				uid := userID
				if uid == "" {
					uid = viper.GetString("actor-id")
				}
				items, err := e.ListPendingForReviewer(ctx, uid)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Instance", "Request", "Node", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.InstanceID, p.TargetRequestID, p.StageName, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "reviewer id (defaults to --actor-id)")
	return cmd
}

func keyCmd() *cobra.Command {
	k := &cobra.Command{Use: "key", Short: "Manage API keys"}

	var userID, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw, key, err := issueKey(ctx, r, userID, name)
				if err != nil {
					return err
				}
				fmt.Printf("api key (shown once): %s\n", raw)
				return printJSONOrTable(key)
			})
		},
	}
	create.Flags().StringVar(&userID, "user-id", "", "user the key acts as")
	create.Flags().StringVar(&name, "name", "", "key label")
	_ = create.MarkFlagRequired("user-id")

	var listUser string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, listUser)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&listUser, "user-id", "", "user id")
	_ = list.MarkFlagRequired("user-id")

	revoke := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}

	k.AddCommand(create, list, revoke)
	return k
}

func issueKey(ctx context.Context, r repo.Repo, userID, name string) (string, domain.APIKey, error) {
	raw := "af_" + uuid.NewString()
	key := domain.APIKey{
		ID:      uuid.NewString(),
		UserID:  userID,
		Name:    name,
		KeyHash: repo.HashAPIKey(raw),
	}
	if err := r.InsertAPIKey(ctx, key); err != nil {
		return "", domain.APIKey{}, err
	}
	stored, err := r.GetAPIKeyByHash(ctx, key.KeyHash)
	if err != nil {
		return "", domain.APIKey{}, err
	}
	return raw, stored, nil
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			a, err := app.Open(workspace)
			if err != nil {
				return err
			}
			defer a.Close()
			if !cmd.Flags().Changed("addr") && a.Config.Server.Addr != "" {
				addr = a.Config.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") && a.Config.Server.BasePath != "" {
				basePath = a.Config.Server.BasePath
			}
			authCfg := server.AuthConfig{
				JWTSecret:             os.Getenv("APPROVALFLOW_JWT_SECRET"),
				AllowLegacyUserHeader: a.Config.Auth.AllowLegacyUserHeader,
			}
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = a.Config.Auth.JWTSecret
			}
			handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Approvalflow API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	a, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a.Engine)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	a, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a.Engine.Repo)
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
