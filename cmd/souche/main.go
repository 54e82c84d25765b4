package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	rdb "github.com/redis/go-redis/v9"

	pgmigrations "github.com/dropDatabas3/souche/migrations/postgres"

	"github.com/dropDatabas3/souche/internal/audit"
	"github.com/dropDatabas3/souche/internal/config"
	authctrl "github.com/dropDatabas3/souche/internal/http/controllers/auth"
	healthctrl "github.com/dropDatabas3/souche/internal/http/controllers/health"
	mw "github.com/dropDatabas3/souche/internal/http/middlewares"
	"github.com/dropDatabas3/souche/internal/http/router"
	authsvc "github.com/dropDatabas3/souche/internal/http/services/auth"
	jwtx "github.com/dropDatabas3/souche/internal/jwt"
	"github.com/dropDatabas3/souche/internal/observability/logger"
	"github.com/dropDatabas3/souche/internal/observability/metrics"
	"github.com/dropDatabas3/souche/internal/rate"
	"github.com/dropDatabas3/souche/internal/scheduler"
	"github.com/dropDatabas3/souche/internal/session"
	"github.com/dropDatabas3/souche/internal/store/pg"
	"github.com/dropDatabas3/souche/internal/token"
)

const version = "0.1.0"

func main() {
	// .env es opcional: en contenedores la config llega por entorno.
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", os.Getenv("CONFIG_PATH"), "ruta al YAML de configuración")
		runMigrate = flag.Bool("migrate", true, "aplicar migraciones pendientes al arrancar")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logger todavía no inicializado.
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.App.LogLevel,
		ServiceName: "souche",
		Version:     version,
	})
	log := logger.L()
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ─── Almacenamiento ───
	connMaxLifetime, _ := time.ParseDuration(cfg.Storage.Postgres.ConnMaxLifetime)
	pool, err := pg.NewPool(ctx, cfg.Storage.DSN, cfg.Storage.Postgres.MaxConns, connMaxLifetime)
	if err != nil {
		log.Fatal("no se pudo conectar a postgres", logger.Err(err))
	}
	defer pool.Close()

	if *runMigrate {
		ran, err := pg.Migrate(ctx, pool, pgmigrations.FS)
		if err != nil {
			log.Fatal("migraciones fallidas", logger.Err(err))
		}
		if len(ran) > 0 {
			log.Info("migraciones aplicadas", logger.Count(len(ran)))
		}
	}

	users := pg.NewUserRepo(pool)
	tokens := pg.NewTokenRepo(pool)
	sessions := pg.NewSessionRepo(pool)
	auditRepo := pg.NewAuditRepo(pool)
	loader := pg.NewContextLoader(pool)

	// ─── Núcleo ───
	if err := metrics.Register(nil); err != nil {
		log.Fatal("registro de métricas falló", logger.Err(err))
	}

	codec := jwtx.NewCodec(cfg.JWT.AccessSecret, cfg.JWT.RefreshSecret, cfg.AccessTTL(), cfg.RefreshTTL())
	manager := token.NewManager(tokens, codec)
	tracker := session.NewTracker(sessions, cfg.InactivityLimit())
	auditor := audit.NewLogger(auditRepo)

	service := authsvc.NewService(authsvc.Deps{
		Users:    users,
		Tokens:   manager,
		Sessions: tracker,
		Codec:    codec,
		Auditor:  auditor,
	})

	// ─── Rate limit de login ───
	var loginLimiter rate.Limiter
	if cfg.Rate.Enabled {
		if cfg.Cache.Redis.Addr != "" {
			client := rdb.NewClient(&rdb.Options{
				Addr: cfg.Cache.Redis.Addr,
				DB:   cfg.Cache.Redis.DB,
			})
			loginLimiter = rate.NewRedisLimiter(client, cfg.Cache.Redis.Prefix, cfg.Rate.Login.Limit, cfg.LoginRateWindow())
			log.Info("rate limit de login sobre redis", logger.Component("rate"))
		} else {
			loginLimiter = rate.NewMemoryLimiter(cfg.Rate.Login.Limit, cfg.LoginRateWindow())
			log.Info("rate limit de login en memoria", logger.Component("rate"))
		}
	}

	// ─── Tareas periódicas ───
	sched := scheduler.New()
	retention := time.Duration(cfg.Cleanup.RevokedRetentionDays) * 24 * time.Hour
	mustRegister(sched, "expired_tokens", scheduler.ScheduleExpiredTokens, func(ctx context.Context) (int, error) {
		n, err := manager.SweepExpired(ctx)
		metrics.SweepDeleted.WithLabelValues("expired_tokens").Add(float64(n))
		return n, err
	})
	mustRegister(sched, "old_revoked_tokens", scheduler.ScheduleOldRevoked, func(ctx context.Context) (int, error) {
		n, err := manager.SweepOldRevoked(ctx, retention)
		metrics.SweepDeleted.WithLabelValues("old_revoked_tokens").Add(float64(n))
		return n, err
	})
	mustRegister(sched, "idle_sessions", scheduler.ScheduleIdleSessions, func(ctx context.Context) (int, error) {
		n, err := tracker.SweepInactive(ctx)
		metrics.SweepDeleted.WithLabelValues("idle_sessions").Add(float64(n))
		return n, err
	})
	sched.Start()

	// ─── HTTP ───
	handler := router.New(router.Deps{
		Auth:         authctrl.NewController(service),
		Health:       healthctrl.NewController(pool),
		Authorizer:   mw.NewAuthorizer(loader, auditor),
		Codec:        codec,
		Sessions:     tracker,
		LoginLimiter: loginLimiter,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("servidor escuchando", logger.Component("http"), logger.Addr(cfg.Server.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("señal de apagado recibida")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("servidor http falló", logger.Err(err))
		}
	}

	// Apagado ordenado: primero HTTP, después las tareas en vuelo.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("apagado http incompleto", logger.Err(err))
	}
	sched.Stop(shutdownCtx)

	log.Info("servicio detenido")
}

func mustRegister(s *scheduler.Scheduler, name, spec string, sweep scheduler.SweepFunc) {
	if err := s.Register(name, spec, sweep); err != nil {
		logger.L().Fatal("registro de tarea falló", logger.Task(name), logger.Err(err))
	}
}
