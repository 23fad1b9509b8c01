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

	"permitflow/internal/app"
	"permitflow/internal/config"
	"permitflow/internal/db"
	"permitflow/internal/domain"
	"permitflow/internal/engine"
	"permitflow/internal/notify"
	"permitflow/internal/repo"
	"permitflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pf",
	Short: "Permitflow CLI",
	Long: `Permitflow tracks ground and surface water permit applications through the
Manyame catchment approval chain.
Core concepts:
- Workspace: your .permitflow directory with the SQLite database; settings come
  from permitflow.yml next to it (built-in defaults otherwise).
- Application: one permit request, numbered MC<year>-<seq>, created unsubmitted
  by a permitting officer.
- Stages: after submission the application climbs four review stages, each
  owned by one role; stage 4 approval is final.
- Rejection: stages 2-4 may reject with a mandatory reason, which parks the
  application back at stage 1 as rejected.
- Comments: reviewers attach comments as they decide; rejection reasons are
  flagged. Only the ict role may amend a comment afterwards, and the amendment
  is audited.
- Messages: directed or broadcast notices between accounts, with unread
  tracking on directed mail.
- Activity log: every workflow action is recorded, view with 'pf log tail'.`,
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
	viper.SetEnvPrefix("PERMITFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "", "acting username")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
}

func registerCommands() {
	rootCmd.AddCommand(appCmd())
	rootCmd.AddCommand(commentCmd())
	rootCmd.AddCommand(msgCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func appCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "app",
		Short: "Manage permit applications",
		Long:  "Applications carry the applicant's details and move through the four-stage review chain. Create and edit while unsubmitted, then submit to start review.",
	}
	a.AddCommand(appCreateCmd())
	a.AddCommand(appListCmd())
	a.AddCommand(appShowCmd())
	a.AddCommand(appUpdateCmd())
	a.AddCommand(appSubmitCmd())
	a.AddCommand(appApproveCmd())
	a.AddCommand(appRejectCmd())
	a.AddCommand(appBatchCmd())
	a.AddCommand(appStatsCmd())
	return a
}

func appStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count applications by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Repo.CountApplicationsByStatus(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Status", "Count"})
				for _, status := range []string{
					domain.StatusUnsubmitted, domain.StatusSubmitted,
					domain.StatusUnderReview, domain.StatusApproved, domain.StatusRejected,
				} {
					if n, ok := counts[status]; ok {
						tw.AppendRow(table.Row{status, n})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func detailFlags(cmd *cobra.Command, opts *engine.CreateOptions) {
	cmd.Flags().StringVar(&opts.ApplicantName, "applicant", "", "applicant name")
	cmd.Flags().StringVar(&opts.PhysicalAddress, "physical-address", "", "physical address")
	cmd.Flags().StringVar(&opts.PostalAddress, "postal-address", "", "postal address")
	cmd.Flags().StringVar(&opts.CustomerAccountNumber, "account", "", "customer account number")
	cmd.Flags().StringVar(&opts.CellularNumber, "cell", "", "cellular number")
	cmd.Flags().StringVar(&opts.PermitType, "permit-type", "", "permit type (urban, irrigation, industrial)")
	cmd.Flags().StringVar(&opts.WaterSource, "water-source", "", "water source (ground_water, surface_water)")
	cmd.Flags().Float64Var(&opts.WaterAllocation, "allocation", 0, "water allocation (ML)")
	cmd.Flags().Float64Var(&opts.LandSize, "land-size", 0, "land size (ha)")
	cmd.Flags().IntVar(&opts.NumberOfBoreholes, "boreholes", 0, "number of boreholes")
	cmd.Flags().Float64Var(&opts.GPSLatitude, "gps-lat", 0, "GPS latitude")
	cmd.Flags().Float64Var(&opts.GPSLongitude, "gps-lng", 0, "GPS longitude")
	cmd.Flags().StringVar(&opts.IntendedUse, "intended-use", "", "intended use")
	cmd.Flags().IntVar(&opts.ValidityPeriod, "validity", 0, "validity period (years)")
}

func appCreateCmd() *cobra.Command {
	var opts engine.CreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an application",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				a, err := e.CreateApplication(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	detailFlags(cmd, &opts)
	_ = cmd.MarkFlagRequired("applicant")
	return cmd
}

func appListCmd() *cobra.Command {
	var status, createdBy, search string
	var stage int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f := repo.ApplicationFilter{Status: status, CreatedBy: createdBy, Search: search}
				if cmd.Flags().Changed("stage") {
					f.Stage = &stage
				}
				items, err := e.Repo.ListApplications(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Number", "Applicant", "Status", "Stage", "Type", "Updated"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ApplicationID, a.ApplicantName, a.Status, a.CurrentStage, a.PermitType, a.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&stage, "stage", 0, "stage filter")
	cmd.Flags().StringVar(&createdBy, "created-by", "", "creator filter")
	cmd.Flags().StringVar(&search, "search", "", "search applicant name or number")
	return cmd
}

func appShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := findApplication(ctx, e.Repo, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func appUpdateCmd() *cobra.Command {
	var opts engine.CreateOptions
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an unsubmitted application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				a, err := findApplication(ctx, e.Repo, args[0])
				if err != nil {
					return err
				}
				res, err := e.UpdateDetails(ctx, actor, a.ID, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	detailFlags(cmd, &opts)
	_ = cmd.MarkFlagRequired("applicant")
	return cmd
}

func appSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit an application for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				a, err := findApplication(ctx, e.Repo, args[0])
				if err != nil {
					return err
				}
				res, err := e.Submit(ctx, actor, a.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func decideCmd(use, short, decision string) *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				a, err := findApplication(ctx, e.Repo, args[0])
				if err != nil {
					return err
				}
				res, err := e.Transition(ctx, actor, engine.TransitionOptions{
					ApplicationID: a.ID,
					Decision:      decision,
					Comment:       comment,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "review comment")
	return cmd
}

func appApproveCmd() *cobra.Command {
	return decideCmd("approve <id>", "Approve at the actor's stage", domain.DecisionApprove)
}

func appRejectCmd() *cobra.Command {
	return decideCmd("reject <id>", "Reject with a mandatory reason", domain.DecisionReject)
}

func appBatchCmd() *cobra.Command {
	var decision, comment string
	cmd := &cobra.Command{
		Use:   "decide <id>...",
		Short: "Apply the same decision to several applications",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				ids := make([]string, 0, len(args))
				for _, arg := range args {
					a, err := findApplication(ctx, e.Repo, arg)
					if err != nil {
						return err
					}
					ids = append(ids, a.ID)
				}
				results := e.TransitionBatch(ctx, actor, ids, decision, comment)
				if viper.GetBool("json") {
					type item struct {
						ApplicationID string              `json:"application_id"`
						Application   *domain.Application `json:"application,omitempty"`
						Error         string              `json:"error,omitempty"`
					}
					out := make([]item, 0, len(results))
					for _, res := range results {
						it := item{ApplicationID: res.ApplicationID}
						if res.Err != nil {
							it.Error = res.Err.Error()
						} else {
							a := res.Application
							it.Application = &a
						}
						out = append(out, it)
					}
					return printJSON(out)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Application", "Outcome"})
				for _, res := range results {
					if res.Err != nil {
						tw.AppendRow(table.Row{res.ApplicationID, "error: " + res.Err.Error()})
					} else {
						tw.AppendRow(table.Row{res.Application.ApplicationID, fmt.Sprintf("%s (stage %d)", res.Application.Status, res.Application.CurrentStage)})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "", "approve or reject")
	cmd.Flags().StringVar(&comment, "comment", "", "review comment")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}

func commentCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "comment",
		Short: "Application comments",
	}
	c.AddCommand(commentAddCmd())
	c.AddCommand(commentListCmd())
	c.AddCommand(commentAmendCmd())
	return c
}

func commentAddCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "add <application-id>",
		Short: "Add a comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				a, err := findApplication(ctx, e.Repo, args[0])
				if err != nil {
					return err
				}
				c, err := e.AddComment(ctx, actor, a.ID, text)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "comment text")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func commentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <application-id>",
		Short: "List comments for an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := findApplication(ctx, e.Repo, args[0])
				if err != nil {
					return err
				}
				items, err := e.Repo.ListCommentsByApplication(ctx, a.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Role", "Stage", "Rejection", "Text"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.AuthorRole, c.Stage, c.IsRejectionReason, c.Text})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func commentAmendCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "amend <comment-id>",
		Short: "Replace a comment's text (ict only, audited)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				c, err := e.AmendComment(ctx, actor, args[0], text)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "replacement text")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func msgCmd() *cobra.Command {
	m := &cobra.Command{
		Use:   "msg",
		Short: "Messages between accounts",
		Long:  "Directed messages go to one receiver and track read state; broadcasts (no receiver) are visible to everyone and carry no read receipt.",
	}
	m.AddCommand(msgSendCmd())
	m.AddCommand(msgListCmd())
	m.AddCommand(msgUnreadCmd())
	m.AddCommand(msgReadCmd())
	return m
}

func msgSendCmd() *cobra.Command {
	var to, subject, content string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message (omit --to for broadcast)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				rt := notify.New(e.Repo)
				opts := notify.SendOptions{Subject: subject, Content: content}
				if to == "" {
					opts.Broadcast = true
				} else {
					receiver, err := e.Repo.GetUserByUsername(ctx, to)
					if err != nil {
						return err
					}
					opts.ReceiverID = receiver.ID
				}
				m, err := rt.Send(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "receiver username (empty for broadcast)")
	cmd.Flags().StringVar(&subject, "subject", "", "subject")
	cmd.Flags().StringVar(&content, "content", "", "message content")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func msgListCmd() *cobra.Command {
	var public bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List visible messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				rt := notify.New(e.Repo)
				items, err := rt.GetVisible(ctx, actor.ID, public)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "From", "Subject", "Read", "Sent"})
				for _, m := range items {
					read := ""
					if m.ReadAt != nil {
						read = *m.ReadAt
					}
					tw.AppendRow(table.Row{m.ID, m.SenderID, m.Subject, read, m.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&public, "public", false, "list broadcasts instead of directed mail")
	return cmd
}

func msgUnreadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unread",
		Short: "Count unread directed messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				rt := notify.New(e.Repo)
				n, err := rt.UnreadCount(ctx, actor.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]int{"count": n})
				}
				fmt.Println(n)
				return nil
			})
		},
	}
	return cmd
}

func msgReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <message-id>",
		Short: "Mark a directed message read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				rt := notify.New(e.Repo)
				if err := rt.MarkRead(ctx, actor, args[0]); err != nil {
					return err
				}
				m, err := e.Repo.GetMessage(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Activity log",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var applicationID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListActivityLogs(ctx, applicationID, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Actor Role", "Action", "Detail"})
				for _, entry := range items {
					tw.AppendRow(table.Row{entry.TS, entry.ActorRole, entry.Action, entry.Detail})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	cmd.Flags().StringVar(&applicationID, "application", "", "filter by application id")
	return cmd
}

func userCmd() *cobra.Command {
	u := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}
	u.AddCommand(userListCmd())
	u.AddCommand(userSeedCmd())
	return u
}

func userListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListUsers(ctx, role)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Username", "Role", "Name", "Active"})
				for _, u := range items {
					tw.AppendRow(table.Row{u.Username, u.Role, strings.TrimSpace(u.FirstName + " " + u.LastName), u.IsActive})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func userSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the configured reviewer roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				created, err := app.SeedUsers(ctx, e.Repo, e.Config)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(created)
				}
				fmt.Printf("seeded %d accounts\n", len(created))
				return nil
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys for the HTTP API",
	}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyRevokeCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var username, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.Repo.GetUserByUsername(ctx, username)
				if err != nil {
					if errors.Is(err, repo.ErrNotFound) {
						return fmt.Errorf("unknown account %q", username)
					}
					return err
				}
				raw := "pf_" + strings.ReplaceAll(uuid.New().String(), "-", "")
				key := domain.APIKey{
					ID:      uuid.New().String(),
					ActorID: u.ID,
					Name:    name,
					KeyHash: repo.HashAPIKey(raw),
				}
				if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "key": raw})
				}
				// The raw key is shown once; only its hash is stored.
				fmt.Printf("id:  %s\nkey: %s\n", key.ID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&username, "user", "", "account username")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("revoked")
				return nil
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config and workspace paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				workspace := viper.GetString("workspace")
				if !viper.GetBool("json") {
					fmt.Printf("config: %s\ndb:     %s\n", config.Path(workspace), db.Path(workspace))
				}
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config (workspace or --file)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if file != "" {
				_, err = config.FromFile(file)
			} else {
				err = withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
					return e.Config.Validate()
				})
			}
			if viper.GetBool("json") {
				out := map[string]any{"ok": err == nil}
				if err != nil {
					out["error"] = err.Error()
				}
				return printJSON(out)
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "validate this file instead of the workspace config")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, cfg, err := app.Open(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("PERMITFLOW_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" && !allowLegacy {
				return fmt.Errorf("PERMITFLOW_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:   e,
				Router:   notify.New(e.Repo),
				BasePath: basePath,
				Auth:     authCfg,
			})
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
			fmt.Printf("Serving Permitflow API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept X-Actor-Id without auth (dev only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, cfg, err := app.Open(workspace)
	if err != nil {
		return err
	}
	defer conn.Close()
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

// resolveActor maps --actor (a username) to an account.
func resolveActor(ctx context.Context, r repo.Repo) (domain.User, error) {
	username := strings.TrimSpace(viper.GetString("actor"))
	if username == "" {
		return domain.User{}, fmt.Errorf("--actor required (or set PERMITFLOW_ACTOR)")
	}
	u, err := r.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, fmt.Errorf("unknown account %q; run 'pf user seed' first", username)
		}
		return domain.User{}, err
	}
	if !u.IsActive {
		return domain.User{}, fmt.Errorf("account %q is disabled", username)
	}
	return u, nil
}

// findApplication accepts either the row id or the human-readable MC number.
func findApplication(ctx context.Context, r repo.Repo, ref string) (domain.Application, error) {
	a, err := r.GetApplication(ctx, ref)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Application{}, err
	}
	return r.GetApplicationByNumber(ctx, ref)
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
