package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agentstore.org/internal/agent"
	"agentstore.org/internal/auth"
	"agentstore.org/internal/config"
	"agentstore.org/internal/httpapi"
	"agentstore.org/internal/migrate"
	"agentstore.org/internal/obs"
	"agentstore.org/internal/user"
	"agentstore.org/migrations"
)

var version = "0.3.1"

func main() {
	configPath := flag.String("config", os.Getenv("AGENTSTORE_CONFIG"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		obs.Logger().Fatal().Err(err).Msg("load config")
	}
	obs.InitLogging(cfg.Logging.Level)
	obs.Init()

	hasher, err := auth.NewHasher(auth.HasherConfig{
		CPUCost:     cfg.Password.CPUCost,
		BlockSize:   cfg.Password.BlockSize,
		Parallelism: cfg.Password.Parallelism,
		KeyLength:   cfg.Password.KeyLength,
		SaltLength:  cfg.Password.SaltLength,
	})
	if err != nil {
		obs.Logger().Fatal().Err(err).Msg("configure hasher")
	}
	issuer, err := auth.NewIssuer(cfg.Auth.JWTSecret,
		auth.WithIssuerName(cfg.Auth.Issuer),
		auth.WithAccessTTL(cfg.Auth.AccessTokenTTL),
	)
	if err != nil {
		obs.Logger().Fatal().Err(err).Msg("configure token issuer")
	}

	var (
		authStore  auth.Store
		agentStore agent.Store
		probe      httpapi.ReadyProbe
		closeDB    func() error
	)
	if cfg.Database.DSN != "" {
		pg, err := auth.OpenPostgres(cfg.Database.DSN)
		if err != nil {
			obs.Logger().Fatal().Err(err).Msg("open database")
		}
		pg.DB().SetMaxOpenConns(cfg.Database.MaxOpenConns)
		pg.DB().SetMaxIdleConns(cfg.Database.MaxIdleConns)
		pg.DB().SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Minute)
		if cfg.Database.AutoMigrate {
			mgr := migrate.NewManager(pg.DB(), migrations.SQL(), migrations.Seeds())
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := mgr.Up(ctx); err != nil {
				cancel()
				obs.Logger().Fatal().Err(err).Msg("apply migrations")
			}
			if err := mgr.Seed(ctx); err != nil {
				cancel()
				obs.Logger().Fatal().Err(err).Msg("apply seeds")
			}
			cancel()
		}
		authStore = pg
		agentStore = agent.NewPGStore(pg.DB())
		probe = httpapi.ReadyProbe{DB: pg.DB()}
		closeDB = pg.Close
	} else {
		// No DSN means in-memory development mode. State is lost on restart.
		mem := auth.NewMemoryStore()
		mem.SeedRoles(auth.RoleAdmin, auth.RoleVIP, auth.RoleUser)
		authStore = mem
		agentStore = agent.NewMemoryStore()
		obs.Logger().Warn().Msg("no database configured, using in-memory store")
	}

	authSvc, err := auth.NewService(authStore, issuer, hasher,
		auth.WithRefreshTTL(cfg.Auth.RefreshTokenTTL),
	)
	if err != nil {
		obs.Logger().Fatal().Err(err).Msg("build auth service")
	}
	agentSvc, err := agent.NewService(agentStore)
	if err != nil {
		obs.Logger().Fatal().Err(err).Msg("build agent service")
	}
	userSvc, err := user.NewService(authStore, agentSvc, hasher)
	if err != nil {
		obs.Logger().Fatal().Err(err).Msg("build user service")
	}
	if cfg.Database.DSN == "" {
		// Postgres gets its admin from the seed files; memory mode creates
		// one here so the API is usable out of the box.
		_, err := userSvc.Create(context.Background(), user.CreateInput{
			Username: "admin",
			Email:    "admin@agentstore.local",
			Password: "admin123",
			Roles:    []string{auth.RoleAdmin},
		})
		if err != nil {
			obs.Logger().Fatal().Err(err).Msg("bootstrap admin user")
		}
		obs.Logger().Warn().Msg("created default admin user, change its password")
	}

	api := httpapi.New(authSvc, agentSvc, userSvc, probe, cfg, version)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeout) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:       time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	obs.Logger().Info().Str("addr", srv.Addr).Str("version", version).Msg("starting agentstore-api")

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obs.Logger().Fatal().Err(err).Msg("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	obs.Logger().Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if closeDB != nil {
		_ = closeDB()
	}
	obs.Logger().Info().Msg("stopped")
}
