package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"axees/internal/avatar"
	"axees/internal/config"
	"axees/internal/db"
	"axees/internal/domain"
	"axees/internal/engine"
	"axees/internal/mail"
	"axees/internal/migrate"
	"axees/internal/repo"
	"axees/internal/server"
	"axees/internal/status"
)

var rootCmd = &cobra.Command{
	Use:   "axees",
	Short: "Axees marketplace CLI",
	Long: `Axees connects marketers and creators through negotiated offers.
- Offer: a marketer's proposal (name, amount, dates, notes) sent to a creator.
- Counter: either side proposes replacement terms; they live as a draft
  overlay until accepted or replaced.
- Deal: created when an offer is accepted; the configured payer funds it
  plus the platform fee.
- Event log: append-only record of every negotiation change, view with
  'axees log tail'.`,
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
	viper.SetEnvPrefix("AXEES")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "acting user identifier")
	rootCmd.PersistentFlags().String("user-type", "Marketer", "acting user type (Marketer or Creator)")
	rootCmd.PersistentFlags().Bool("force", false, "force operation")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
	_ = viper.BindPFlag("user-type", rootCmd.PersistentFlags().Lookup("user-type"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
}

func registerCommands() {
	rootCmd.AddCommand(offerCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(profileCmd())
}

func offerCmd() *cobra.Command {
	offer := &cobra.Command{
		Use:   "offer",
		Short: "Manage offers",
		Long:  "Offers flow Sent -> viewed/countered -> Accepted, Rejected or Cancelled. Only the server moves an offer between statuses.",
	}
	offer.AddCommand(offerCreateCmd())
	offer.AddCommand(offerListCmd())
	offer.AddCommand(offerShowCmd())
	offer.AddCommand(offerViewedCmd())
	offer.AddCommand(offerAcceptCmd())
	offer.AddCommand(offerRejectCmd())
	offer.AddCommand(offerCounterCmd())
	offer.AddCommand(offerCancelCmd())
	offer.AddCommand(offerDeleteCmd())
	return offer
}

func offerCreateCmd() *cobra.Command {
	var opts engine.OfferCreateOptions
	var creatorEmail string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an offer",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("user-id")
			if opts.MarketerID == "" {
				opts.MarketerID = opts.ActorID
			}
			if creatorEmail != "" {
				if fixed := mail.Suggest(creatorEmail); fixed != "" {
					fmt.Printf("warning: creator email %q looks mistyped, did you mean %q?\n", creatorEmail, fixed)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.CreateOffer(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "offer id (optional, UUID if omitted)")
	cmd.Flags().StringVar(&opts.OfferName, "name", "", "offer name")
	cmd.Flags().Float64Var(&opts.Amount, "amount", 0, "proposed amount")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.ReviewDate, "review-date", "", "desired review date (RFC3339)")
	cmd.Flags().StringVar(&opts.PostDate, "post-date", "", "desired post date (RFC3339)")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "notes")
	cmd.Flags().StringVar(&opts.MarketerID, "marketer", "", "marketer id (defaults to --user-id)")
	cmd.Flags().StringVar(&opts.CreatorID, "creator", "", "creator id")
	cmd.Flags().StringVar(&creatorEmail, "creator-email", "", "creator email (typo-checked)")
	cmd.Flags().BoolVar(&opts.Draft, "draft", false, "save as unsent draft")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("creator")
	return cmd
}

func offerListCmd() *cobra.Command {
	var f repo.OfferFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List offers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				offers, err := e.Repo.ListOffers(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(offers)
				}
				role := cliRole()
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Amount", "Status", "Label", "Creator"})
				for _, o := range offers {
					tw.AppendRow(table.Row{o.ID, o.OfferName, o.ProposedAmount, o.Status, status.Label(o.Status, role, o.Draft), o.CreatorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.MarketerID, "marketer", "", "marketer filter")
	cmd.Flags().StringVar(&f.CreatorID, "creator", "", "creator filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func offerShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <offer-id>",
		Short: "Show an offer with merged counter terms and the action row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				detail, err := e.OfferDetail(ctx, args[0], viper.GetString("user-id"), cliRole())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(detail)
				}
				fmt.Printf("Offer: %s (%s)\n", detail.Offer.OfferName, detail.Label)
				if detail.Merged.Amount != nil {
					fmt.Printf("Amount: %.2f\n", *detail.Merged.Amount)
				}
				if detail.Merged.Notes != nil {
					fmt.Printf("Notes: %s\n", *detail.Merged.Notes)
				}
				if detail.Draft != nil {
					fmt.Println("Pending counter-offer terms shown above.")
				}
				if len(detail.Actions) > 0 {
					parts := make([]string, 0, len(detail.Actions))
					for _, a := range detail.Actions {
						parts = append(parts, string(a))
					}
					fmt.Printf("Actions: %s\n", strings.Join(parts, ", "))
				} else {
					fmt.Println("Actions: none")
				}
				return nil
			})
		},
	}
	return cmd
}

func offerViewedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "viewed <offer-id>",
		Short: "Record that you have seen the current terms",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.MarkViewed(ctx, args[0], cliRole(), viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	return cmd
}

func offerAcceptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accept <offer-id>",
		Short: "Accept the current terms and create the deal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Accept(ctx, args[0], viper.GetString("user-id"), viper.GetBool("force"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Accepted. Deal %s for %.2f (payer %s).\n", res.Deal.ID, res.Deal.Amount, res.Deal.PayerID)
				if res.PaymentNeeded {
					fmt.Printf("Payment due now: %.2f (amount plus platform fee).\n", res.RequiredPayment)
				}
				return nil
			})
		},
	}
	return cmd
}

func offerRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <offer-id>",
		Short: "Reject an offer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.Reject(ctx, args[0], viper.GetString("user-id"), reason, viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	return cmd
}

func offerCounterCmd() *cobra.Command {
	var amount float64
	var reviewDate, postDate, notes string
	cmd := &cobra.Command{
		Use:   "counter <offer-id>",
		Short: "Propose replacement terms",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.CounterOptions{
				OfferID: args[0],
				ActorID: viper.GetString("user-id"),
			}
			if cmd.Flags().Changed("amount") {
				opts.Amount = &amount
			}
			if cmd.Flags().Changed("review-date") {
				opts.ReviewDate = &reviewDate
			}
			if cmd.Flags().Changed("post-date") {
				opts.PostDate = &postDate
			}
			if cmd.Flags().Changed("notes") {
				opts.Notes = &notes
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, d, err := e.Counter(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"offer": o, "counter": d})
			})
		},
	}
	cmd.Flags().Float64Var(&amount, "amount", 0, "countered amount")
	cmd.Flags().StringVar(&reviewDate, "review-date", "", "countered review date (RFC3339)")
	cmd.Flags().StringVar(&postDate, "post-date", "", "countered post date (RFC3339)")
	cmd.Flags().StringVar(&notes, "notes", "", "countered notes")
	return cmd
}

func offerCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <offer-id>",
		Short: "Withdraw a live offer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.Cancel(ctx, args[0], viper.GetString("user-id"), viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	return cmd
}

func offerDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <offer-id>",
		Short: "Delete an unanswered offer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Delete(ctx, args[0], viper.GetString("user-id"))
			})
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show offer counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Repo.CountOffersByStatus(ctx)
				if err != nil {
					return err
				}
				out := map[string]any{
					"marketplace":  e.Config.Marketplace.Name,
					"offer_counts": counts,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Marketplace: %s\n", e.Config.Marketplace.Name)
				fmt.Println("Offers:")
				for s, c := range counts {
					fmt.Printf("  %s: %d\n", s, c)
				}
				return nil
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSONOrTable(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default axees.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	})
	return cfg
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:             os.Getenv("AXEES_JWT_SECRET"),
				AllowLegacyUserHeader: cfg.Auth.AllowLegacyUserHeader,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("AXEES_JWT_SECRET is required for bearer auth")
			}
			handler, stopWebhooks, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			defer stopWebhooks()
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Axees API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

func apikeyCmd() *cobra.Command {
	apikey := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	apikey.AddCommand(apikeyCreateCmd())
	apikey.AddCommand(apikeyListCmd())
	apikey.AddCommand(apikeyDeleteCmd())
	return apikey
}

func apikeyCreateCmd() *cobra.Command {
	var userID, userType, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				userID = viper.GetString("user-id")
			}
			if _, ok := status.ParseRole(userType); !ok {
				return fmt.Errorf("--user-type must be Marketer or Creator")
			}
			secret := uuid.New().String()
			key := domain.APIKey{
				ID:       uuid.New().String(),
				UserID:   userID,
				UserType: userType,
				Name:     name,
				KeyHash:  repo.HashAPIKey(secret),
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				fmt.Printf("API key created for %s (%s).\nSecret (shown once): %s\n", userID, userType, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (defaults to --user-id)")
	cmd.Flags().StringVar(&userType, "user-type", "Marketer", "Marketer or Creator")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "User", "Type", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.UserID, k.UserType, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "filter by user id")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func profileCmd() *cobra.Command {
	profile := &cobra.Command{Use: "profile", Short: "Profile helpers"}

	var name, email, avatarURL string
	av := &cobra.Command{
		Use:   "avatar",
		Short: "Resolve the avatar URL for a profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(avatar.URL(avatar.Profile{AvatarURL: avatarURL, Email: email, Name: name}))
			return nil
		},
	}
	av.Flags().StringVar(&name, "name", "", "display name")
	av.Flags().StringVar(&email, "email", "", "email address")
	av.Flags().StringVar(&avatarURL, "url", "", "explicit avatar URL")
	profile.AddCommand(av)

	check := &cobra.Command{
		Use:   "check-email <address>",
		Short: "Check an email address for a likely domain typo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if fixed := mail.Suggest(args[0]); fixed != "" {
				fmt.Printf("did you mean %s?\n", fixed)
				return nil
			}
			fmt.Println("looks fine")
			return nil
		},
	}
	profile.AddCommand(check)
	return profile
}

// --- helpers ---

func cliRole() status.Role {
	role, ok := status.ParseRole(viper.GetString("user-type"))
	if !ok {
		return status.RoleMarketer
	}
	return role
}

func configPath() string {
	return filepath.Join(viper.GetString("workspace"), "axees.yml")
}

func loadConfig() (*config.Config, error) {
	return config.LoadOptional(configPath())
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
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
