package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-authz/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-authz/internal/app"
	"github.com/odyssey-erp/odyssey-authz/internal/auth"
	authzhttp "github.com/odyssey-erp/odyssey-authz/internal/authz/http"
	"github.com/odyssey-erp/odyssey-authz/internal/blobstore"
	"github.com/odyssey-erp/odyssey-authz/internal/menus"
	"github.com/odyssey-erp/odyssey-authz/internal/models"
	"github.com/odyssey-erp/odyssey-authz/internal/observability"
	"github.com/odyssey-erp/odyssey-authz/internal/pages"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/db"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
	"github.com/odyssey-erp/odyssey-authz/internal/users"
	"github.com/odyssey-erp/odyssey-authz/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "migrate":
		err = migrate(ctx, cfg)
	case "authz":
		code := runAuthz(ctx, cfg, logger, args)
		stop()
		os.Exit(code)
	case "jobs":
		err = runJobs(ctx, cfg, args)
	default:
		err = fmt.Errorf("unknown command %q (serve, migrate, authz, jobs)", cmd)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(cmd, slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		return err
	}
	defer dbpool.Close()
	if cfg.DBMigrate {
		if err := db.Migrate(ctx, dbpool); err != nil {
			return err
		}
	}

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	engine, err := app.OpenAuthz(ctx, cfg, dbpool, redisClient, metrics.Registerer(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn("authz close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	rbacMiddleware := rbac.Middleware{Enforcer: engine, Logger: logger}

	redisOpts := cfg.AsynqRedisOpt()
	var granter menus.DefaultGranter = menus.RoleGranter{Admin: engine.Admin, Role: cfg.AuthzDefaultMenuRole}
	if cfg.AuthzDeferMenuGrants {
		jobClient := jobs.NewClient(redisOpts)
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		granter = jobs.DeferredGranter{Queue: jobClient, Role: cfg.AuthzDefaultMenuRole}
	}

	menuService := menus.NewService(menus.NewRepository(dbpool), engine.Admin, granter, engine, logger)
	userService := users.NewService(users.NewRepository(dbpool), engine.Admin, logger).WithSessionRevoker(sessionManager)
	authService := auth.NewService(users.NewRepository(dbpool))
	blobClient := blobstore.NewClient(cfg.ModelServerURL, cfg.BlobTimeout)
	modelService := models.NewService(models.NewRepository(dbpool), blobClient, users.NewRepository(dbpool), logger)

	registry := pages.NewRegistry()
	registry.MustRegister("home", pages.Static("Home"))
	registry.MustRegister(blobstore.ObjectKey, pages.API("Models", "/models/"))
	registry.MustRegister(users.ObjectKey, pages.API("Users", "/users/"))
	registry.MustRegister(menus.ObjectKey, pages.API("Menus", "/menus/"))
	registry.MustRegister(cfg.AuthzAdminObject, pages.API("Permissions", "/authz/roles"))

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		AuthHandler:    auth.NewHandler(logger, authService, menuService, sessionManager, csrfManager),
		MenusHandler:   menus.NewHandler(logger, menuService, rbacMiddleware),
		UsersHandler:   users.NewHandler(logger, userService, rbacMiddleware),
		AuthzHandler:   authzhttp.NewHandler(logger, engine, rbacMiddleware, cfg.AuthzAdminObject),
		PagesHandler:   pages.NewHandler(registry, logger, rbacMiddleware),
		ModelsHandler:  models.NewHandler(logger, modelService, rbacMiddleware, blobstore.NewHandler(blobClient, logger, rbacMiddleware)),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
		Authz:          engine,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func migrate(ctx context.Context, cfg *app.Config) error {
	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		return err
	}
	defer dbpool.Close()
	return db.Migrate(ctx, dbpool)
}

func runAuthz(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return cli.ExitError
	}
	defer dbpool.Close()

	// Commits are still broadcast so running servers pick them up.
	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Warn("redis unavailable, servers will not be notified", slog.Any("error", err))
	} else {
		defer func() { _ = redisClient.Close() }()
	}

	engine, err := app.OpenAuthz(ctx, cfg, dbpool, redisClient, nil, logger)
	if err != nil {
		logger.Error("open authz", slog.Any("error", err))
		return cli.ExitError
	}
	defer func() { _ = engine.Close() }()

	authzCLI, err := cli.NewAuthzCLI(engine)
	if err != nil {
		logger.Error("init authz cli", slog.Any("error", err))
		return cli.ExitError
	}
	return authzCLI.Run(ctx, args, cli.AuthzOptions{})
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	prune := fs.Bool("prune", false, "remove orphaned policies instead of reporting them")
	if err := fs.Parse(args); err != nil {
		return err
	}
	jobsCLI := cli.NewJobsCLI(cfg.AsynqRedisOpt())
	defer func() { _ = jobsCLI.Close() }()

	switch fs.Arg(0) {
	case "audit":
		info, err := jobsCLI.Trigger(ctx, jobs.TaskRulesAudit, *prune)
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s (%s)\n", info.Type, info.ID)
	case "stats", "":
		stats, err := jobsCLI.Stats()
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s paused=%t pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Paused, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	case "scheduled":
		tasks, err := jobsCLI.Scheduled(20)
		if err != nil {
			return err
		}
		for _, task := range tasks {
			fmt.Printf("%s\t%s\t%s\n", task.NextProcessAt.Format(time.RFC3339), task.Type, task.ID)
		}
	default:
		return fmt.Errorf("jobs: unknown command %q (audit, stats, scheduled)", fs.Arg(0))
	}
	return nil
}
