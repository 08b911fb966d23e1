package stream

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
	ws "nhooyr.io/websocket"

	"vapidemo/widget/internal/demo"
)

// Frame is what subscribers receive: a view, or an error for an action they sent.
type Frame struct {
	Type   string     `json:"type"`
	View   *demo.View `json:"view,omitempty"`
	Action string     `json:"action,omitempty"`
	Error  string     `json:"error,omitempty"`
}

func ViewFrame(v demo.View) Frame { return Frame{Type: "view", View: &v} }

// Dispatcher is the part of the demo the socket drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, a demo.Action) (demo.View, error)
	View() demo.View
}

type Server struct {
	Hub *Hub
	App Dispatcher
}

func NewServer(hub *Hub, app Dispatcher) *Server {
	return &Server{Hub: hub, App: app}
}

// HandleWS registers the connection, sends the current view and then applies
// every action frame it reads until the peer goes away.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	c, err := ws.Accept(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("component", "stream").Msg("ws accept")
		return
	}
	s.Hub.Add(c)
	defer func() {
		s.Hub.Remove(c)
		_ = c.Close(ws.StatusNormalClosure, "done")
	}()

	ctx := r.Context()
	if err := s.Hub.SendJSON(ctx, c, ViewFrame(s.App.View())); err != nil {
		return
	}
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		if typ != ws.MessageText {
			continue
		}
		var a demo.Action
		if err := json.Unmarshal(data, &a); err != nil {
			_ = s.Hub.SendJSON(ctx, c, Frame{Type: "error", Error: "invalid frame"})
			continue
		}
		// Views are broadcast by the demo observer; only failures are replied.
		if _, err := s.App.Dispatch(ctx, a); err != nil {
			_ = s.Hub.SendJSON(ctx, c, Frame{Type: "error", Action: a.Name, Error: err.Error()})
		}
	}
}
