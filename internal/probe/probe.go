// Package probe publishes widget readiness through the standard gRPC health
// service and mirrors it on HTTP.
package probe

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/encoding/protojson"

	"vapidemo/widget/internal/demo"
)

// Service is the health service name callers check.
const Service = "callwidget"

type Probe struct {
	hs *health.Server
}

// New starts NOT_SERVING for Service; the process itself ("") is SERVING.
func New() *Probe {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Probe{hs: hs}
}

func (p *Probe) Register(s *grpc.Server) { healthpb.RegisterHealthServer(s, p.hs) }

func (p *Probe) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	p.hs.SetServingStatus(Service, st)
}

// ObserveView serves once a widget exists and has loaded the SDK.
func (p *Probe) ObserveView(v demo.View) {
	p.SetServing(v.Widget != nil && v.Widget.State.Loaded())
}

// Shutdown flips every service to NOT_SERVING ahead of a drain.
func (p *Probe) Shutdown() { p.hs.Shutdown() }

// ReadyHandler renders the Service health check as protojson; 503 unless
// SERVING.
func (p *Probe) ReadyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp, err := p.hs.Check(r.Context(), &healthpb.HealthCheckRequest{Service: Service})
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		b, err := protojson.Marshal(resp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = w.Write(b)
	})
}

// NewServer builds a gRPC server with keepalive for fast death detection.
func NewServer() *grpc.Server {
	kap := keepalive.ServerParameters{
		MaxConnectionIdle:     2 * time.Minute,
		MaxConnectionAge:      15 * time.Minute,
		MaxConnectionAgeGrace: 30 * time.Second,
		Time:                  30 * time.Second,
		Timeout:               10 * time.Second,
	}
	kasp := keepalive.EnforcementPolicy{
		MinTime:             10 * time.Second,
		PermitWithoutStream: true,
	}
	return grpc.NewServer(grpc.KeepaliveParams(kap), grpc.KeepaliveEnforcementPolicy(kasp))
}

// Check asks the health service at addr about Service.
func Check(ctx context.Context, addr string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, errors.Wrap(err, "dial health")
	}
	defer conn.Close()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: Service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, errors.Wrap(err, "health check")
	}
	log.Debug().Str("component", "probe").Str("addr", addr).Str("status", resp.GetStatus().String()).Msg("health checked")
	return resp.GetStatus(), nil
}
