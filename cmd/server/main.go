package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"vapidemo/widget/internal/api"
	"vapidemo/widget/internal/config"
	"vapidemo/widget/internal/demo"
	"vapidemo/widget/internal/health"
	"vapidemo/widget/internal/logging"
	"vapidemo/widget/internal/probe"
	"vapidemo/widget/internal/sdk"
	"vapidemo/widget/internal/store"
	"vapidemo/widget/internal/stream"
)

func main() {
	check := flag.Bool("check", false, "run external health checks and exit")
	flag.Parse()

	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	cfg := config.Load()
	closeLog := logging.Setup(cfg.Server.LogLevel, cfg.Server.LogFile)
	defer closeLog()

	if *check {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		st := health.CheckAll(ctx, cfg)
		cancel()
		fmt.Print(st)
		if !st.OK {
			os.Exit(1)
		}
		return
	}

	hc := &http.Client{Timeout: cfg.SDK.LoadTimeout}
	loader := sdk.NewLoader(sdk.HTTPLoad(hc, cfg.SDK.ScriptURL, sdk.WSFactory(sdk.WSConfig{
		URL:         cfg.SDK.APIURL,
		DialTimeout: cfg.SDK.DialTimeout,
	})))
	loader.OnIdle(func() {
		log.Debug().Str("component", "sdk_loader").Msg("no widget holds the sdk")
	})

	journal := store.New(cfg.Journal.MaxEvents)
	app := demo.New(loader, journal, demo.WithLoadTimeout(cfg.SDK.LoadTimeout))
	defer app.Close()

	hub := stream.NewHub()
	pr := probe.New()
	app.OnView(func(v demo.View) {
		pr.ObserveView(v)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hub.Broadcast(ctx, stream.ViewFrame(v))
	})

	h := api.NewHandlers(cfg, app)
	mux := http.NewServeMux()
	mux.Handle("/", api.NewRouter(h, stream.NewServer(hub, app), pr))

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	gs := probe.NewServer()
	pr.Register(gs)
	grpcAddr := ":" + cfg.Server.GRPCPort
	gl, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", grpcAddr).Msg("listen grpc")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", grpcAddr).Msg("grpc health listening")
		return gs.Serve(gl)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutdown signal received; stopping server...")
		pr.Shutdown()
		// Hang up before draining HTTP
		app.Close()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		gs.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
		closeLog()
		os.Exit(1)
	}
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("took", time.Since(start)).Msg("http")
	})
}
