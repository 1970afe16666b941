package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/soycyj/unline/admission"
	"github.com/soycyj/unline/board"
	"github.com/soycyj/unline/config"
	"github.com/soycyj/unline/logger"
	"github.com/soycyj/unline/migrations"
	"github.com/soycyj/unline/storage"
)

func CreateServer(allowedOrigins, trustedProxies []string) *gin.Engine {
	r := gin.New()
	r.SetTrustedProxies(trustedProxies)
	r.GET("/health", func(ctx *gin.Context) { ctx.String(200, "healthy") })

	r.Use(func(ctx *gin.Context) {
		origin := ctx.Request.Header.Get("Origin")

		if slices.Contains(allowedOrigins, origin) {
			ctx.Next()
			return
		}
		ctx.String(http.StatusForbidden, "forbidden origin")
		ctx.Abort()
	})

	r.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowCredentials: true,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{
			"Content-Type",
			"Upgrade",
			"Connection",
			"Sec-WebSocket-Key",
			"Sec-WebSocket-Version",
			"Sec-WebSocket-Extensions",
			"Sec-WebSocket-Protocol",
		},
	}))

	return r
}

type snapshotStore interface {
	board.SnapshotStore
	PurgeExpired(ctx context.Context) (int64, error)
}

func openStore(cfg config.Config, log zerolog.Logger) (snapshotStore, func(), error) {
	if cfg.PostgresURL == "" {
		log.Warn().Msg("POSTGRES_URL not set, snapshots are kept in memory")
		return storage.NewMemoryStore(), func() {}, nil
	}

	if err := migrations.Migrate(cfg.PostgresURL); err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pg, err := storage.NewPostgresStore(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

func roomConfig(cfg config.Config) board.RoomConfig {
	return board.RoomConfig{
		MaxParticipants: cfg.MaxParticipants,
		MaxClients:      cfg.MaxRoomClients,
		Quorum:          cfg.SessionQuorum,
		TrialDuration:   cfg.TrialDuration,
		LedgerCap:       cfg.LedgerCap,
		LedgerTrimTo:    cfg.LedgerTrimTo,
		SnapshotTTL:     cfg.SnapshotTTL,
		FlushInterval:   cfg.SnapshotFlushInterval,
		StoreTimeout:    cfg.StoreTimeout,
		DecisionKind:    cfg.SessionDecisionKind,
		DecisionResets:  cfg.SessionDecisionResets,
	}
}

func janitor(ctx context.Context, gate *admission.Gate, store snapshotStore, log zerolog.Logger) {
	sweep := time.NewTicker(time.Minute)
	purge := time.NewTicker(time.Hour)
	defer sweep.Stop()
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			if n := gate.SweepIdle(); n > 0 {
				log.Debug().Int("entries", n).Msg("admission entries swept")
			}
		case <-purge.C:
			purgeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			n, err := store.PurgeExpired(purgeCtx)
			cancel()
			if err != nil {
				log.Warn().Err(err).Msg("snapshot purge failed")
				continue
			}
			log.Debug().Int64("rows", n).Msg("expired snapshots purged")
		}
	}
}

func main() {
	bootLog := logger.New(false, false)

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logger.New(cfg.Debug, cfg.LogPretty)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	store, closeStore, err := openStore(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("store setup failed")
	}
	defer closeStore()

	gate := admission.NewGate(admission.Config{
		MaxConnPerIP:       cfg.MaxConnPerIP,
		MaxMsgBytes:        cfg.MaxMsgBytes,
		Window:             cfg.RateWindow,
		MaxEventsPerWindow: cfg.MaxEventsPerWindow,
	})

	clock := board.NewSystemClock()
	roomCfg := roomConfig(cfg)
	registry := board.NewRegistry(func(code string) *board.Room {
		return board.NewRoom(code, roomCfg, store, clock, log)
	})

	hubCfg := board.DefaultHubConfig()
	hubCfg.Room = roomCfg
	hubCfg.ClientRate = cfg.ClientRate
	hubCfg.ClientBurst = cfg.ClientBurst
	hubCfg.StrictAdmission = cfg.StrictAdmission
	hub := board.NewHub(hubCfg, registry, gate, clock, log)
	handler := board.NewHandler(hub, registry, gate, cfg.AllowedOrigins, log)

	r := CreateServer(cfg.AllowedOrigins, cfg.TrustedProxies)
	r.GET("/ws", handler.RoomSocketHandler)
	{
		api := r.Group("/api")
		api.POST("/session/decision", handler.SessionDecisionHandler)
		api.GET("/rooms/:code", handler.RoomStatusHandler)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()
	go janitor(ctx, gate, store, log)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()
	log.Info().Str("port", cfg.Port).Msg("server started")

	<-ctx.Done()
	log.Info().Msg("SIGTERM or SIGINT received, shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
	if err := registry.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("rooms did not stop in time")
	}
	log.Info().Msg("shutting down now")
}
