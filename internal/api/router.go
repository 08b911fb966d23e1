package api

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vapidemo/widget/internal/demo"
	"vapidemo/widget/internal/probe"
	"vapidemo/widget/internal/stream"
)

func NewRouter(h *Handlers, ws *stream.Server, pr *probe.Probe) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", h.HandleHealth)
	mux.Handle("/readyz", pr.ReadyHandler())
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", ws.HandleWS)

	mux.HandleFunc("/state", method(http.MethodGet, h.HandleState))
	mux.HandleFunc("/config", method(http.MethodPost, h.HandleConfigure))
	mux.HandleFunc("/config/reset", method(http.MethodPost, h.HandleReset))
	mux.HandleFunc("/events", method(http.MethodGet, h.HandleListEvents))

	mux.HandleFunc("/call/", func(w http.ResponseWriter, r *http.Request) {
		// /call/start | /end | /mute
		tail := strings.TrimPrefix(strings.TrimSuffix(r.URL.Path, "/"), "/call/")
		var action string
		switch tail {
		case "start":
			action = demo.ActionBeginCall
		case "end":
			action = demo.ActionEndCall
		case "mute":
			action = demo.ActionToggleMute
		default:
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.HandleCallAction(w, r, action)
	})

	mux.HandleFunc("/calls/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(strings.TrimSuffix(r.URL.Path, "/"), "/calls/")
		if id == "" || strings.Contains(id, "/") {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.HandleGetCall(w, r, id)
	})

	return mux
}

func method(m string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != m {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	}
}
