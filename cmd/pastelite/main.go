package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"pastelite/cfg"
	"pastelite/svc/api"
	"pastelite/svc/db"
	"pastelite/svc/lim"
	"pastelite/svc/store"
	"pastelite/svc/svc"
	"pastelite/svc/util"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-health" {
		os.Exit(probe())
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx)
	stop()
	os.Exit(code)
}

// run wires and serves until ctx is cancelled. It returns the process exit
// code so that deferred cleanup happens before main exits.
func run(ctx context.Context) int {
	c, err := cfg.Load()
	if err != nil {
		util.Error().Err(err).Msg("failed to load configuration")
		return 1
	}
	if err := cfg.Validate(c); err != nil {
		util.Error().Err(err).Msg("invalid configuration")
		return 1
	}
	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().
		Str("environment", c.Environment).
		Strs("allowed_origins", c.AllowedOrigins).
		Msg("starting pastelite API")

	st := store.New(store.WithShards(c.StoreShards))
	util.Info().Int("shards", st.Shards()).Msg("paste store initialized")

	ids, err := util.NewNanoID(c.IDLength)
	if err != nil {
		util.Error().Err(err).Msg("failed to initialize id generator")
		return 1
	}
	pasteSvc := svc.NewPaste(st, ids, c)

	var rdb *db.Redis
	var global lim.GlobalCounter
	if c.RedisURL != "" {
		rdb, err = db.NewRedis(c)
		if err != nil {
			if c.Environment == "production" {
				util.Error().Err(err).Msg("redis required in production when REDIS_URL is set")
				return 1
			}
			util.Warn().Err(err).Msg("redis unavailable, rate limiting is per-instance only")
			rdb = nil
		} else {
			util.Info().Msg("redis connected")
			global = rdb
			defer rdb.Close()
		}
	}

	limiter, err := lim.New(lim.Config{
		GlobalRPM:      c.RateLimit.RPM,
		PerClientRPM:   c.RateLimit.ConservativeLimit,
		Burst:          c.RateLimit.Burst,
		CacheSize:      c.LimiterCacheSize,
		TrustedProxies: c.TrustedProxies,
	}, global)
	if err != nil {
		util.Error().Err(err).Msg("failed to initialize rate limiter")
		return 1
	}
	defer limiter.Stop()
	util.Info().
		Int("global_rpm", c.RateLimit.RPM).
		Int("client_rpm", c.RateLimit.ConservativeLimit).
		Int("burst", c.RateLimit.Burst).
		Strs("trusted_proxies", c.TrustedProxies).
		Msg("rate limiter initialized")

	server := api.NewServer(c, pasteSvc, limiter, rdb)

	g, gctx := errgroup.WithContext(ctx)
	if err := store.StartSweeper(gctx, st, c.SweepInterval); err != nil {
		util.Error().Err(err).Msg("failed to start sweeper")
		return 1
	}
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		util.Info().Msg("shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			util.Error().Err(err).Msg("server shutdown error")
		}
		pasteSvc.Shutdown()
		return nil
	})
	if err := g.Wait(); err != nil {
		util.Error().Err(err).Msg("server exited with error")
		return 1
	}
	util.Info().Int("live_pastes", pasteSvc.Live()).Msg("shutdown complete")
	return 0
}

// probe is the container health check: it asks the local /health endpoint.
func probe() int {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://127.0.0.1:" + port + "/health")
	if err != nil {
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}
