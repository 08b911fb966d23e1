package sdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"
)

// WSConfig configures the provider websocket.
type WSConfig struct {
	// URL is the provider call endpoint, ws:// or wss://.
	URL string
	// DialTimeout bounds the handshake. Zero means no extra bound.
	DialTimeout time.Duration
	HTTPClient  *http.Client
}

// WSClient is the Client implementation talking to the voice provider over a
// websocket. One connection carries one call; a new Start opens a new one.
type WSClient struct {
	cfg        WSConfig
	credential string
	emitter    *Emitter
	muted      atomic.Bool

	mu   sync.Mutex
	call *wsCall
}

// wsCall is the per-connection state of one call.
type wsCall struct {
	mu      sync.Mutex // guards conn and cancel
	conn    *websocket.Conn
	cancel  context.CancelFunc
	writeMu sync.Mutex

	started atomic.Bool // call-start seen
	failed  atomic.Bool // error event already emitted
	ended   atomic.Bool // call-end seen
	closing atomic.Bool // closed locally
}

type wireMessage struct {
	Type      string     `json:"type"`
	CallID    string     `json:"call_id,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Muted     *bool      `json:"muted,omitempty"`
	Assistant *Assistant `json:"assistant,omitempty"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewWSClient binds a client to credential. It does not touch the network.
func NewWSClient(cfg WSConfig, credential string) (*WSClient, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, opErr(ErrClientInit, "new", errors.New("empty credential"))
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, opErr(ErrClientInit, "new", errors.Wrap(err, "provider url"))
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, opErr(ErrClientInit, "new", errors.Errorf("provider url scheme %q", u.Scheme))
	}
	return &WSClient{cfg: cfg, credential: credential, emitter: NewEmitter()}, nil
}

// WSFactory returns the Factory handed out once the bundle is loaded.
func WSFactory(cfg WSConfig) Factory {
	return func(credential string) (Client, error) {
		c, err := NewWSClient(cfg, credential)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func (c *WSClient) On(name EventName, h Handler) func() { return c.emitter.On(name, h) }

// Listeners exposes the attached listener count for name.
func (c *WSClient) Listeners(name EventName) int { return c.emitter.Listeners(name) }

func (c *WSClient) IsMuted() bool { return c.muted.Load() }

// Start dials the provider and sends the assistant payload.
func (c *WSClient) Start(ctx context.Context, a Assistant) error {
	c.mu.Lock()
	if c.call != nil {
		c.mu.Unlock()
		return opErr(ErrCallStart, "start", errors.New("call already in progress"))
	}
	call := &wsCall{}
	c.call = call
	c.mu.Unlock()

	fail := func(err error) error {
		c.detach(call)
		return opErr(ErrCallStart, "start", err)
	}

	dialCtx := ctx
	if c.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.cfg.DialTimeout)
		defer cancel()
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.credential)
	began := time.Now()
	conn, _, err := websocket.Dial(dialCtx, c.cfg.URL, &websocket.DialOptions{
		HTTPClient: c.cfg.HTTPClient,
		HTTPHeader: h,
	})
	if err != nil {
		return fail(errors.Wrap(err, "dial"))
	}
	metricDialMS.Observe(float64(time.Since(began).Milliseconds()))
	rcCtx, cancel := context.WithCancel(context.Background())
	if !call.attach(conn, cancel) {
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "client_closed")
		return fail(ErrClosed)
	}
	go c.readLoop(rcCtx, conn, call)

	if err := call.send(ctx, wireMessage{Type: "start", Assistant: &a}); err != nil {
		call.close("start_failed")
		return fail(errors.Wrap(err, "send start"))
	}
	log.Debug().Str("component", "sdk_ws").Str("url", c.cfg.URL).Msg("start sent")
	return nil
}

// Stop asks the provider to end the call; call-end follows.
func (c *WSClient) Stop(ctx context.Context) error {
	call := c.live()
	if call == nil {
		return ErrNotStarted
	}
	if err := call.send(ctx, wireMessage{Type: "stop"}); err != nil {
		return opErr(ErrRuntime, "stop", err)
	}
	return nil
}

// SetMuted records the flag and forwards it to the provider best effort.
// Without a live call it is a no-op; the flag resets when a call ends.
func (c *WSClient) SetMuted(muted bool) {
	c.mu.Lock()
	call := c.call
	if call == nil || call.handle() == nil {
		c.mu.Unlock()
		return
	}
	c.muted.Store(muted)
	c.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := call.send(ctx, wireMessage{Type: "set-muted", Muted: &muted}); err != nil {
		log.Warn().Err(err).Str("component", "sdk_ws").Bool("muted", muted).Msg("set-muted not delivered")
	}
}

// live returns the current call once its connection is up.
func (c *WSClient) live() *wsCall {
	c.mu.Lock()
	call := c.call
	c.mu.Unlock()
	if call == nil || call.handle() == nil {
		return nil
	}
	return call
}

// Close drops any live connection without emitting events.
func (c *WSClient) Close() error {
	c.mu.Lock()
	call := c.call
	c.call = nil
	c.mu.Unlock()
	if call != nil {
		call.close("client_closed")
	}
	return nil
}

func (c *WSClient) readLoop(ctx context.Context, conn *websocket.Conn, call *wsCall) {
	defer func() {
		c.detach(call)
		quiet := call.closing.Load() || call.ended.Load()
		call.close("reader_exit")
		if quiet {
			return
		}
		switch {
		case call.started.Load():
			c.finish(call)
			c.emitter.Emit(Event{Name: EventCallEnd, Reason: "connection_lost"})
		case !call.failed.Load():
			c.emitter.Emit(Event{Name: EventError, Err: opErr(ErrRuntime, "read", errors.New("connection closed before call start"))})
		}
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Str("component", "sdk_ws").Msg("bad provider frame")
			continue
		}
		metricProviderEvents.WithLabelValues(msg.Type).Inc()
		switch msg.Type {
		case string(EventCallStart):
			call.started.Store(true)
			c.emitter.Emit(Event{Name: EventCallStart, CallID: msg.CallID})
		case string(EventCallEnd):
			call.ended.Store(true)
			c.finish(call)
			c.emitter.Emit(Event{Name: EventCallEnd, CallID: msg.CallID, Reason: msg.Reason})
			return
		case string(EventError):
			text := "provider error"
			if msg.Error != nil && msg.Error.Message != "" {
				text = msg.Error.Message
			}
			call.failed.Store(true)
			live := call.started.Load()
			if live {
				// The call is over for us; drop the socket so Start can dial again.
				c.finish(call)
				call.close("call_failed")
			} else {
				c.detach(call)
			}
			c.emitter.Emit(Event{Name: EventError, CallID: msg.CallID, Err: opErr(ErrRuntime, "provider", errors.New(text))})
			if live {
				return
			}
		default:
			log.Debug().Str("component", "sdk_ws").Str("type", msg.Type).Msg("unknown provider event")
		}
	}
}

// finish detaches call and clears the mute flag under mu, which SetMuted
// also holds. A newer call keeps its flag.
func (c *WSClient) finish(call *wsCall) {
	c.mu.Lock()
	if c.call == call {
		c.call = nil
	}
	if c.call == nil {
		c.muted.Store(false)
	}
	c.mu.Unlock()
}

// detach forgets call so a new Start may proceed.
func (c *WSClient) detach(call *wsCall) {
	c.mu.Lock()
	if c.call == call {
		c.call = nil
	}
	c.mu.Unlock()
}

func (w *wsCall) send(ctx context.Context, msg wireMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal")
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	conn := w.handle()
	if conn == nil || w.closing.Load() {
		return ErrClosed
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return conn.Write(ctx, websocket.MessageText, b)
}

// attach installs the dialed connection unless the call was closed meanwhile.
func (w *wsCall) attach(conn *websocket.Conn, cancel context.CancelFunc) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closing.Load() {
		return false
	}
	w.conn, w.cancel = conn, cancel
	return true
}

func (w *wsCall) handle() *websocket.Conn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn
}

func (w *wsCall) close(reason string) {
	w.mu.Lock()
	first := w.closing.CompareAndSwap(false, true)
	conn, cancel := w.conn, w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if first && conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, reason)
	}
}
