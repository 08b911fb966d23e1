// Package stream pushes the demo view to websocket subscribers and accepts
// action frames from them.
package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	ws "nhooyr.io/websocket"
)

var metricSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "stream_subscribers",
	Help: "Open view websocket connections",
})

// Hub keeps every subscriber connection. A connection whose write fails is
// dropped.
type Hub struct {
	mu    sync.Mutex
	conns map[*ws.Conn]*sync.Mutex
}

func NewHub() *Hub { return &Hub{conns: make(map[*ws.Conn]*sync.Mutex)} }

func (h *Hub) Add(c *ws.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		h.conns[c] = &sync.Mutex{}
		metricSubscribers.Inc()
	}
}

func (h *Hub) Remove(c *ws.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		metricSubscribers.Dec()
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Broadcast writes v to every subscriber.
func (h *Hub) Broadcast(ctx context.Context, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("component", "stream").Msg("marshal broadcast")
		return
	}
	h.mu.Lock()
	targets := make(map[*ws.Conn]*sync.Mutex, len(h.conns))
	for c, wmu := range h.conns {
		targets[c] = wmu
	}
	h.mu.Unlock()

	for c, wmu := range targets {
		if err := write(ctx, c, wmu, b); err != nil {
			log.Debug().Err(err).Str("component", "stream").Msg("dropping subscriber")
			h.Remove(c)
			_ = c.Close(ws.StatusGoingAway, "write failed")
		}
	}
}

// SendJSON writes v to a single subscriber.
func (h *Hub) SendJSON(ctx context.Context, c *ws.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.mu.Lock()
	wmu := h.conns[c]
	h.mu.Unlock()
	if wmu == nil {
		wmu = &sync.Mutex{}
	}
	return write(ctx, c, wmu, b)
}

func write(ctx context.Context, c *ws.Conn, wmu *sync.Mutex, b []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	wmu.Lock()
	defer wmu.Unlock()
	return c.Write(ctx, ws.MessageText, b)
}
