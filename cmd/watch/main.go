package main

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/kausaltech/kausal-watch-sub001/internal/app"
	"github.com/kausaltech/kausal-watch-sub001/internal/authpw"
	"github.com/kausaltech/kausal-watch-sub001/internal/config"
	"github.com/kausaltech/kausal-watch-sub001/internal/email"
	"github.com/kausaltech/kausal-watch-sub001/internal/mjml"
	"github.com/kausaltech/kausal-watch-sub001/internal/notifications"
	"github.com/kausaltech/kausal-watch-sub001/internal/people"
	"github.com/kausaltech/kausal-watch-sub001/internal/reports"
	"github.com/kausaltech/kausal-watch-sub001/internal/revisions"
	"github.com/kausaltech/kausal-watch-sub001/internal/scheduler"
	"github.com/kausaltech/kausal-watch-sub001/internal/search"
	"github.com/kausaltech/kausal-watch-sub001/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "watch",
		Short:         "Kausal Watch action plan platform",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newServeCmd(),
		newSendPlanNotificationsCmd(),
		newSendDailyNotificationsCmd(),
		newInitializeNotificationsCmd(),
		newDeletePlansCmd(),
		newUpdateActionStatusCmd(),
		newCalculateIndicatorsCmd(),
		newUpdateIndexCmd(),
	)
	return root
}

// runtime bundles the shared backends a command needs.
type runtime struct {
	cfg   config.Config
	db    *sql.DB
	store *store.PostgresStore
}

func openRuntime(ctx context.Context) (*runtime, error) {
	cfg := config.Load()
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	if cfg.DefaultFromAddress != "" {
		notifications.DefaultFromAddress = cfg.DefaultFromAddress
	}
	if cfg.DefaultFromName != "" {
		notifications.DefaultFromName = cfg.DefaultFromName
	}
	return &runtime{cfg: cfg, db: db, store: store.NewPostgresStore(db)}, nil
}

func (rt *runtime) Close() {
	rt.db.Close()
}

// location resolves the configured server timezone, falling back to UTC.
func (rt *runtime) location() *time.Location {
	loc, err := time.LoadLocation(rt.cfg.ServerTimezone)
	if err != nil {
		log.Printf("invalid server timezone %q, using UTC", rt.cfg.ServerTimezone)
		return time.UTC
	}
	return loc
}

func (rt *runtime) newEngine() *notifications.Engine {
	renderer := mjml.NewRenderer(rt.cfg.MJMLBinary, time.Duration(rt.cfg.MJMLTimeoutSeconds)*time.Second)
	sender := email.NewService(email.Config{
		Host:     rt.cfg.SMTPHost,
		Port:     rt.cfg.SMTPPort,
		Username: rt.cfg.SMTPUsername,
		Password: rt.cfg.SMTPPassword,
	})
	return notifications.NewEngine(
		notifications.NewStoreLoader(rt.store),
		renderer,
		sender,
		notifications.NewStoreSentLog(rt.store),
		log.Default(),
	)
}

func (rt *runtime) newSearch() (*search.Service, func()) {
	pgfts := search.NewPgFTS(rt.db)
	if strings.TrimSpace(rt.cfg.MeiliURL) == "" {
		return search.NewService(nil, pgfts), func() {}
	}
	meiliClient := search.NewMeili(rt.cfg.MeiliURL, rt.cfg.MeiliMasterKey)
	return search.NewService(meiliClient, pgfts), meiliClient.Close
}

func (rt *runtime) newLoginService() *authpw.Service {
	var throttle authpw.Throttle
	if strings.TrimSpace(rt.cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(rt.cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		throttle = authpw.NewRedisThrottle(redis.NewClient(opts), 60, time.Minute)
	}
	return authpw.NewService(rt.store, throttle)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and the notification scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			searchService, closeSearch := rt.newSearch()
			defer closeSearch()

			revisionService := revisions.NewService(rt.store)
			reportService := reports.NewService(rt.store, revisionService)
			peopleService := people.NewService(rt.store)
			engine := rt.newEngine()

			sched := scheduler.NewService(rt.store, engine, []scheduler.Job{
				{Name: "update-action-status", Run: func(ctx context.Context) error {
					_, err := rt.store.RefreshActionStatuses(ctx, time.Now())
					return err
				}},
				{Name: "calculate-indicators", Run: func(ctx context.Context) error {
					_, err := rt.store.RecomputeLatestValues(ctx)
					return err
				}},
				{Name: "update-index", Run: func(ctx context.Context) error {
					searchService.ReindexAllFromPG(ctx)
					return nil
				}},
			}, rt.location(), log.Default())
			sched.Start()
			defer sched.Stop()

			service := app.NewService(
				rt.store,
				peopleService,
				rt.newLoginService(),
				reportService,
				searchService,
				revisionService,
				rt.cfg.JWTSecret,
			)
			httpServer := app.NewHTTPServer(service, rt.cfg.CORSOrigin)
			server := &http.Server{
				Addr:              rt.cfg.Addr,
				Handler:           httpServer.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      30 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			go func() {
				log.Printf("Watch API listening on %s", rt.cfg.Addr)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalf("server failed: %v", err)
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}

func newSendPlanNotificationsCmd() *cobra.Command {
	var opts notifications.Options
	var planID string

	cmd := &cobra.Command{
		Use:   "send-plan-notifications",
		Short: "Generate and send notifications for one plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			if planID == "" {
				return fmt.Errorf("--plan is required")
			}
			ctx := context.Background()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			stats, err := rt.newEngine().Run(ctx, planID, opts)
			if err != nil {
				return err
			}
			fmt.Printf("generated %d, sent %d, recorded %d, skipped %d\n",
				stats.Generated, stats.Sent, stats.Recorded, stats.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVar(&planID, "plan", "", "Plan ID")
	cmd.Flags().StringVar(&opts.ForceTo, "force-to", "", "Send every email to this address instead; nothing is recorded")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Cap the number of emails sent")
	cmd.Flags().StringVar(&opts.OnlyType, "only-type", "", "Restrict to one notification type")
	cmd.Flags().StringVar(&opts.OnlyEmail, "only-email", "", "Restrict to recipients with this address")
	cmd.Flags().BoolVar(&opts.IgnoreActions, "ignore-actions", false, "Skip action and task notifications")
	cmd.Flags().BoolVar(&opts.IgnoreIndicators, "ignore-indicators", false, "Skip indicator notifications")
	cmd.Flags().BoolVar(&opts.Noop, "noop", false, "Render everything but send and record nothing")
	cmd.Flags().StringVar(&opts.DumpDir, "dump", "", "Write rendered HTML files to this directory")
	return cmd
}

func newSendDailyNotificationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send-daily-notifications",
		Short: "Run daily notifications for every plan whose send-at guard allows it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			sched := scheduler.NewService(rt.store, rt.newEngine(), nil, rt.location(), log.Default())
			sched.CheckDailyNotifications(ctx, time.Now().In(rt.location()))
			return nil
		},
	}
}

func newInitializeNotificationsCmd() *cobra.Command {
	var planID string
	cmd := &cobra.Command{
		Use:   "initialize-notifications",
		Short: "Create the default notification templates and content blocks for a plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			if planID == "" {
				return fmt.Errorf("--plan is required")
			}
			ctx := context.Background()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()
			return notifications.InitializeNotifications(ctx, rt.store, planID)
		},
	}
	cmd.Flags().StringVar(&planID, "plan", "", "Plan ID")
	return cmd
}

func newDeletePlansCmd() *cobra.Command {
	var exclude []string
	var noConfirm bool

	cmd := &cobra.Command{
		Use:   "delete-plans",
		Short: "Delete all plans except the excluded ones, then prune unreferenced organizations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := checkDeletePlansAllowed(rt.cfg); err != nil {
				return err
			}

			plans, err := rt.store.ListPlans(ctx)
			if err != nil {
				return err
			}
			doomed, err := selectDoomedPlans(plans, exclude)
			if err != nil {
				return err
			}
			if len(doomed) == 0 {
				fmt.Println("nothing to delete")
				return nil
			}

			if !noConfirm {
				fmt.Printf("About to delete %d plan(s):\n", len(doomed))
				for _, p := range doomed {
					fmt.Printf("  %s (%s)\n", p.Name, p.Identifier)
				}
				fmt.Print("Type 'yes' to continue: ")
				line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
				if strings.TrimSpace(line) != "yes" {
					return fmt.Errorf("aborted")
				}
			}

			orgIDs := map[string]bool{}
			doomedIDs := make([]string, 0, len(doomed))
			totals := map[string]int{}
			for _, p := range doomed {
				doomedIDs = append(doomedIDs, p.ID)
				if p.OrganizationID != "" {
					orgIDs[p.OrganizationID] = true
				}
				counts, err := rt.store.DeletePlan(ctx, p.ID)
				if err != nil {
					return fmt.Errorf("delete plan %s: %w", p.ID, err)
				}
				for kind, n := range counts {
					totals[kind] += n
				}
			}

			candidates := make([]string, 0, len(orgIDs))
			for id := range orgIDs {
				candidates = append(candidates, id)
			}
			used, err := rt.store.OrganizationsInUse(ctx, candidates, doomedIDs)
			if err != nil {
				return err
			}
			ops := store.NewDeferredOps(rt.store, false)
			pruned := 0
			for _, id := range candidates {
				if used[id] {
					continue
				}
				if err := ops.Add(ctx, store.DeferredOp{Kind: store.OpDelete, Entity: "organization", Apply: func(ctx context.Context, tx *store.PostgresStore) error {
					return tx.DeleteOrganization(ctx, id)
				}}); err != nil {
					return err
				}
				pruned++
			}
			if err := ops.Flush(ctx); err != nil {
				return fmt.Errorf("prune organizations: %w", err)
			}
			totals["organizations"] = pruned

			kinds := make([]string, 0, len(totals))
			for kind := range totals {
				kinds = append(kinds, kind)
			}
			sort.Strings(kinds)
			for _, kind := range kinds {
				fmt.Printf("%s: %d\n", kind, totals[kind])
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&exclude, "exclude", nil, "Plan identifier to keep (repeatable)")
	cmd.Flags().BoolVar(&noConfirm, "no-confirm", false, "Skip the interactive confirmation")
	return cmd
}

// checkDeletePlansAllowed refuses the destructive delete-plans command
// unless debug mode is on and the deployment type is exactly "production"
// (the combination marking a disposable production-like test instance).
func checkDeletePlansAllowed(cfg config.Config) error {
	if !cfg.Debug || cfg.DeploymentType != "production" {
		return fmt.Errorf("refusing: delete-plans requires WATCH_DEBUG=true and WATCH_DEPLOYMENT_TYPE=production")
	}
	return nil
}

// selectDoomedPlans returns the plans to delete: every plan whose
// identifier is not excluded. An excluded identifier matching no plan is
// an error so a typo cannot widen the deletion.
func selectDoomedPlans(plans []store.Plan, exclude []string) ([]store.Plan, error) {
	known := map[string]bool{}
	for _, p := range plans {
		known[p.Identifier] = true
	}
	excluded := map[string]bool{}
	for _, identifier := range exclude {
		if !known[identifier] {
			return nil, fmt.Errorf("excluded plan %s: %w", identifier, store.ErrNotFound)
		}
		excluded[identifier] = true
	}
	var doomed []store.Plan
	for _, p := range plans {
		if !excluded[p.Identifier] {
			doomed = append(doomed, p)
		}
	}
	return doomed, nil
}

func newUpdateActionStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update-action-status",
		Short: "Recompute action statuses from task deadlines",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			changed, err := rt.store.RefreshActionStatuses(ctx, time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("updated %d action(s)\n", changed)
			return nil
		},
	}
}

func newCalculateIndicatorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "calculate-indicators",
		Short: "Recompute indicator latest-value pointers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			changed, err := rt.store.RecomputeLatestValues(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("repointed %d indicator(s)\n", changed)
			return nil
		},
	}
}

func newUpdateIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update-index",
		Short: "Rebuild the search index from the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			searchService, closeSearch := rt.newSearch()
			defer closeSearch()
			searchService.ReindexAllFromPG(ctx)
			return nil
		},
	}
}
