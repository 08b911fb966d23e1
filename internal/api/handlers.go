package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"vapidemo/widget/internal/config"
	"vapidemo/widget/internal/demo"
	"vapidemo/widget/internal/gate"
	"vapidemo/widget/internal/health"
	"vapidemo/widget/internal/sdk"
	"vapidemo/widget/internal/widget"
)

type Handlers struct {
	cfg config.Config
	app *demo.Demo
}

func NewHandlers(cfg config.Config, app *demo.Demo) *Handlers {
	return &Handlers{cfg: cfg, app: app}
}

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("deep") == "" {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	st := health.CheckAll(ctx, h.cfg)
	code := http.StatusOK
	if !st.OK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.View())
}

func (h *Handlers) HandleConfigure(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Credential string `json:"credential"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	h.dispatch(w, r, demo.Action{Name: demo.ActionConfigure, Value: body.Credential})
}

func (h *Handlers) HandleReset(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, demo.Action{Name: demo.ActionReset})
}

func (h *Handlers) HandleCallAction(w http.ResponseWriter, r *http.Request, action string) {
	h.dispatch(w, r, demo.Action{Name: action})
}

func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"events": h.app.Journal().ListEvents(),
	})
}

func (h *Handlers) HandleGetCall(w http.ResponseWriter, r *http.Request, id string) {
	rec := h.app.Journal().GetCall(id)
	if rec == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"call":   rec,
		"events": h.app.Journal().CallEvents(id),
	})
}

func (h *Handlers) dispatch(w http.ResponseWriter, r *http.Request, a demo.Action) {
	v, err := h.app.Dispatch(r.Context(), a)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]any{"error": err.Error(), "view": v})
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, widget.ErrActionDisabled),
		errors.Is(err, demo.ErrNotConfigured),
		errors.Is(err, gate.ErrAlreadyConfigured):
		return http.StatusConflict
	case errors.Is(err, gate.ErrEmptyCredential),
		errors.Is(err, demo.ErrUnknownAction):
		return http.StatusBadRequest
	case errors.Is(err, sdk.ErrCallStart),
		errors.Is(err, sdk.ErrRuntime):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
