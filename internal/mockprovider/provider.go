// Package mockprovider is a stand-in for the hosted voice provider: it serves
// an SDK bundle and the call websocket. Tests and local demos point the
// service at it.
package mockprovider

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	ws "nhooyr.io/websocket"
)

const bundle = "/* voice sdk bundle */\nwindow.Vapi = function Vapi(publicKey) { this.publicKey = publicKey; };\n"

type Provider struct {
	mu           sync.Mutex
	rejected     map[string]bool
	bundleStatus int
	failCalls    int
	conns        map[*ws.Conn]string

	starts [][]byte
	mutes  []bool
	stops  int
}

type Option func(*Provider)

// WithRejectedCredential makes start fail with a provider error for cred.
func WithRejectedCredential(cred string) Option {
	return func(p *Provider) { p.rejected[cred] = true }
}

// WithBundleStatus makes /sdk.js answer with status and no body.
func WithBundleStatus(status int) Option {
	return func(p *Provider) { p.bundleStatus = status }
}

// WithMidCallErrors makes the first n calls send an error right after
// call-start. The socket stays open.
func WithMidCallErrors(n int) Option {
	return func(p *Provider) { p.failCalls = n }
}

func New(opts ...Option) *Provider {
	p := &Provider{
		rejected:     make(map[string]bool),
		bundleStatus: http.StatusOK,
		conns:        make(map[*ws.Conn]string),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/sdk.js":
		p.serveBundle(w)
	case "/call":
		p.serveCall(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (p *Provider) serveBundle(w http.ResponseWriter) {
	p.mu.Lock()
	status := p.bundleStatus
	p.mu.Unlock()
	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/javascript")
	_, _ = w.Write([]byte(bundle))
}

type frame struct {
	Type      string          `json:"type"`
	CallID    string          `json:"call_id,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Muted     *bool           `json:"muted,omitempty"`
	Assistant json.RawMessage `json:"assistant,omitempty"`
	Error     *frameError     `json:"error,omitempty"`
}

type frameError struct {
	Message string `json:"message"`
}

func (p *Provider) serveCall(w http.ResponseWriter, r *http.Request) {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	cred := strings.TrimPrefix(authz, "Bearer ")

	c, err := ws.Accept(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("component", "mockprovider").Msg("ws accept")
		return
	}
	callID := uuid.NewString()
	p.mu.Lock()
	p.conns[c] = callID
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.conns, c)
		p.mu.Unlock()
		_ = c.Close(ws.StatusNormalClosure, "done")
	}()

	ctx := r.Context()
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		if typ != ws.MessageText {
			continue
		}
		var in frame
		if err := json.Unmarshal(data, &in); err != nil {
			continue
		}
		switch in.Type {
		case "start":
			p.mu.Lock()
			p.starts = append(p.starts, append([]byte(nil), in.Assistant...))
			reject := p.rejected[cred]
			fail := !reject && p.failCalls > 0
			if fail {
				p.failCalls--
			}
			p.mu.Unlock()
			if reject {
				_ = writeFrame(ctx, c, frame{Type: "error", Error: &frameError{Message: "invalid public key"}})
				return
			}
			_ = writeFrame(ctx, c, frame{Type: "call-start", CallID: callID})
			if fail {
				_ = writeFrame(ctx, c, frame{Type: "error", CallID: callID, Error: &frameError{Message: "assistant crashed"}})
			}
		case "stop":
			p.mu.Lock()
			p.stops++
			p.mu.Unlock()
			_ = writeFrame(ctx, c, frame{Type: "call-end", CallID: callID, Reason: "customer-ended-call"})
			return
		case "set-muted":
			if in.Muted != nil {
				p.mu.Lock()
				p.mutes = append(p.mutes, *in.Muted)
				p.mu.Unlock()
			}
		}
	}
}

// Hangup ends every live call from the provider side.
func (p *Provider) Hangup(reason string) {
	p.mu.Lock()
	conns := make(map[*ws.Conn]string, len(p.conns))
	for c, id := range p.conns {
		conns[c] = id
	}
	p.mu.Unlock()
	for c, id := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = writeFrame(ctx, c, frame{Type: "call-end", CallID: id, Reason: reason})
		cancel()
		_ = c.Close(ws.StatusNormalClosure, reason)
	}
}

// Starts returns the raw assistant payloads received with start.
func (p *Provider) Starts() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.starts))
	copy(out, p.starts)
	return out
}

func (p *Provider) Mutes() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.mutes...)
}

func (p *Provider) Stops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

// Live reports how many call connections are open.
func (p *Provider) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

func writeFrame(ctx context.Context, c *ws.Conn, f frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return c.Write(ctx, ws.MessageText, b)
}
