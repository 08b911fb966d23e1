package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"vapidemo/widget/internal/logging"
	"vapidemo/widget/internal/mockprovider"
)

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	reject := flag.String("reject", "", "comma separated credentials the provider refuses")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	closeLog := logging.Setup(*level, "")
	defer closeLog()

	var opts []mockprovider.Option
	for _, c := range strings.Split(*reject, ",") {
		if c = strings.TrimSpace(c); c != "" {
			opts = append(opts, mockprovider.WithRejectedCredential(c))
		}
	}
	p := mockprovider.New(opts...)

	srv := &http.Server{Addr: *addr, Handler: p, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		p.Hangup("provider-shutdown")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	log.Info().Str("addr", *addr).Msg("mock provider: /sdk.js and /call")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("mock provider")
	}
}
