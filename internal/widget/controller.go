package widget

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"vapidemo/widget/internal/sdk"
	"vapidemo/widget/internal/store"
	"vapidemo/widget/internal/types"
)

var ErrActionDisabled = errors.New("widget: action not available in current state")

// Controller drives one call session against an SDK client bound to a single
// credential. Every transition happens under mu, so SDK callbacks and user
// actions are applied one at a time. Subscribers are notified outside the lock.
type Controller struct {
	credential string
	loader     *sdk.Loader
	journal    *store.Store
	newID      func() string

	mu              sync.Mutex
	seq             uint64
	state           State
	muted           bool
	loading         bool
	errMsg          string
	callID          string
	attempt         uint64
	connectingSince time.Time
	client          sdk.Client
	disposers       []func()
	release         func()
	mounted         bool
	unmounted       bool

	subMu   sync.Mutex
	subNext uint64
	subs    map[uint64]func(Snapshot)
}

type Option func(*Controller)

// WithJournal records lifecycle events and call records into st.
func WithJournal(st *store.Store) Option {
	return func(c *Controller) { c.journal = st }
}

// WithIDs overrides call id generation.
func WithIDs(fn func() string) Option {
	return func(c *Controller) { c.newID = fn }
}

func New(credential string, loader *sdk.Loader, opts ...Option) *Controller {
	c := &Controller{
		credential: credential,
		loader:     loader,
		newID:      uuid.NewString,
		state:      StateNotLoaded,
		subs:       make(map[uint64]func(Snapshot)),
	}
	for _, o := range opts {
		o(c)
	}
	if c.journal == nil {
		c.journal = store.New(0)
	}
	return c
}

// Mount loads the SDK, builds the client and attaches the three listeners.
// On any failure the widget stays in not-loaded with the error recorded.
func (c *Controller) Mount(ctx context.Context) error {
	c.mu.Lock()
	if c.mounted {
		c.mu.Unlock()
		return nil
	}
	c.mounted = true
	c.mu.Unlock()

	factory, release, err := c.loader.Acquire(ctx)

	c.mu.Lock()
	if c.unmounted {
		c.mu.Unlock()
		release()
		return nil
	}
	if err != nil {
		c.errMsg = MsgScriptLoad
		c.journal.AppendEvent("", "sdk_load_failed", map[string]any{"error": err.Error()})
		snap := c.bumpLocked()
		c.mu.Unlock()
		c.publish(snap)
		return err
	}
	c.release = release
	c.journal.AppendEvent("", "sdk_loaded", nil)

	var client sdk.Client
	if strings.TrimSpace(c.credential) == "" {
		err = &sdk.OpError{Kind: sdk.ErrClientInit, Op: "mount", Err: errors.New("empty credential")}
	} else {
		client, err = factory(c.credential)
		if err == nil && client == nil {
			err = &sdk.OpError{Kind: sdk.ErrClientInit, Op: "mount", Err: errors.New("factory returned no client")}
		}
	}
	if err != nil {
		log.Error().Err(err).Str("component", "widget").Msg("failed to initialize voice client")
		c.errMsg = MsgClientInit
		c.journal.AppendEvent("", "client_init_failed", map[string]any{"error": err.Error()})
		snap := c.bumpLocked()
		c.mu.Unlock()
		c.publish(snap)
		return err
	}

	c.client = client
	c.disposers = []func(){
		client.On(sdk.EventCallStart, c.onCallStart),
		client.On(sdk.EventCallEnd, c.onCallEnd),
		client.On(sdk.EventError, c.onError),
	}
	metricListeners.Add(float64(len(c.disposers)))
	c.journal.AppendEvent("", "listeners_attached", map[string]any{"count": len(c.disposers)})
	c.setState(StateIdle)
	snap := c.bumpLocked()
	c.mu.Unlock()
	c.publish(snap)
	return nil
}

// Unmount detaches every listener, closes the client and releases the SDK.
// It is safe to call more than once.
func (c *Controller) Unmount() {
	c.mu.Lock()
	if c.unmounted {
		c.mu.Unlock()
		return
	}
	c.unmounted = true
	disposers := c.disposers
	c.disposers = nil
	release := c.release
	c.release = nil
	client := c.client
	c.mu.Unlock()

	for _, d := range disposers {
		d()
	}
	metricListeners.Sub(float64(len(disposers)))
	if closer, ok := client.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			log.Warn().Err(err).Str("component", "widget").Msg("client close")
		}
	}
	if release != nil {
		release()
	}
	c.journal.AppendEvent("", "listeners_detached", map[string]any{"count": len(disposers)})
}

// BeginCall sends the fixed assistant to the SDK. It blocks until the SDK
// accepted or refused the request; the call goes live on call-start.
func (c *Controller) BeginCall(ctx context.Context) error {
	c.mu.Lock()
	if c.client == nil || c.unmounted || !c.state.CanBeginCall() {
		c.mu.Unlock()
		return ErrActionDisabled
	}
	c.attempt++
	attempt := c.attempt
	c.callID = c.newID()
	callID := c.callID
	c.errMsg = ""
	c.loading = true
	c.connectingSince = time.Now()
	c.setState(StateConnecting)
	c.recordCall(callID)
	c.journal.AppendEvent(callID, "call_requested", nil)
	client := c.client
	snap := c.bumpLocked()
	c.mu.Unlock()
	c.publish(snap)

	err := client.Start(ctx, sdk.DefaultAssistant())
	if err == nil {
		return nil
	}
	log.Error().Err(err).Str("component", "widget").Str("call_id", callID).Msg("failed to start call")
	metricCalls.WithLabelValues("start_failed").Inc()

	c.mu.Lock()
	c.journal.AppendEvent(callID, "call_start_failed", map[string]any{"error": err.Error()})
	c.journal.UpdateCall(callID, func(rec *types.Call) {
		if rec.Status == types.CallRequested {
			rec.Status = types.CallFailed
			rec.Error = err.Error()
		}
	})
	if c.attempt != attempt || c.state != StateConnecting {
		// The SDK already moved the widget on; its events win.
		c.mu.Unlock()
		return err
	}
	c.errMsg = MsgCallStart
	c.loading = false
	c.setState(StateError)
	snap = c.bumpLocked()
	c.mu.Unlock()
	c.publish(snap)
	return err
}

// EndCall asks the SDK to stop. The widget only leaves the active state when
// call-end arrives; a failing stop is logged and otherwise ignored.
func (c *Controller) EndCall(ctx context.Context) error {
	c.mu.Lock()
	if c.client == nil || c.unmounted || !c.state.InCall() {
		c.mu.Unlock()
		return ErrActionDisabled
	}
	client := c.client
	callID := c.callID
	c.journal.AppendEvent(callID, "stop_requested", nil)
	c.mu.Unlock()

	if err := client.Stop(ctx); err != nil {
		log.Warn().Err(err).Str("component", "widget").Str("call_id", callID).Msg("failed to end call")
		c.journal.AppendEvent(callID, "stop_failed", map[string]any{"error": err.Error()})
	}
	return nil
}

// ToggleMute flips the local mute flag and tells the SDK. The new state is
// applied without waiting for confirmation; it returns the new flag.
func (c *Controller) ToggleMute() (bool, error) {
	c.mu.Lock()
	if c.client == nil || c.unmounted || !c.state.InCall() {
		c.mu.Unlock()
		return false, ErrActionDisabled
	}
	c.muted = !c.muted
	muted := c.muted
	if muted {
		c.setState(StateActiveMuted)
	} else {
		c.setState(StateActive)
	}
	callID := c.callID
	c.journal.AppendEvent(callID, "mute_toggled", map[string]any{"muted": muted})
	c.journal.UpdateCall(callID, func(rec *types.Call) { rec.Muted = muted })
	client := c.client
	snap := c.bumpLocked()
	c.mu.Unlock()
	c.publish(snap)

	// A call-end landing before this point makes SetMuted a no-op on the client.
	client.SetMuted(muted)
	if got := client.IsMuted(); got != muted {
		metricMuteDivergence.Inc()
		log.Warn().Str("component", "widget").Bool("want", muted).Bool("sdk", got).Msg("sdk mute state differs")
	}
	return muted, nil
}

func (c *Controller) onCallStart(ev sdk.Event) {
	c.mu.Lock()
	if c.unmounted {
		c.mu.Unlock()
		return
	}
	if c.callID == "" {
		c.callID = c.newID()
		c.recordCall(c.callID)
	}
	if c.state == StateConnecting && !c.connectingSince.IsZero() {
		metricStartLatencyMS.Observe(float64(time.Since(c.connectingSince).Milliseconds()))
	}
	c.loading = false
	c.errMsg = ""
	if c.muted {
		c.setState(StateActiveMuted)
	} else {
		c.setState(StateActive)
	}
	callID := c.callID
	now := time.Now().UTC()
	c.journal.AppendEvent(callID, "call_started", map[string]any{"provider_call_id": ev.CallID})
	c.journal.UpdateCall(callID, func(rec *types.Call) {
		rec.Status = types.CallActive
		rec.ProviderID = ev.CallID
		rec.StartedAt = &now
		rec.Error = ""
	})
	metricCalls.WithLabelValues("started").Inc()
	snap := c.bumpLocked()
	c.mu.Unlock()
	c.publish(snap)
}

func (c *Controller) onCallEnd(ev sdk.Event) {
	c.mu.Lock()
	if c.unmounted {
		c.mu.Unlock()
		return
	}
	callID := c.callID
	c.muted = false
	c.loading = false
	c.callID = ""
	c.setState(StateIdle)
	now := time.Now().UTC()
	c.journal.AppendEvent(callID, "call_ended", map[string]any{"reason": ev.Reason})
	c.journal.UpdateCall(callID, func(rec *types.Call) {
		if rec.Status != types.CallFailed {
			rec.Status = types.CallEnded
		}
		rec.EndedAt = &now
		rec.EndReason = ev.Reason
		rec.Muted = false
	})
	snap := c.bumpLocked()
	c.mu.Unlock()
	c.publish(snap)
}

func (c *Controller) onError(ev sdk.Event) {
	log.Error().Err(ev.Err).Str("component", "widget").Msg("voice sdk error")
	c.mu.Lock()
	if c.unmounted {
		c.mu.Unlock()
		return
	}
	callID := c.callID
	c.errMsg = MsgCallFailed
	c.loading = false
	c.muted = false
	c.setState(StateError)
	detail := ""
	if ev.Err != nil {
		detail = ev.Err.Error()
	}
	c.journal.AppendEvent(callID, "call_error", map[string]any{"error": detail})
	c.journal.UpdateCall(callID, func(rec *types.Call) {
		rec.Status = types.CallFailed
		rec.Error = detail
	})
	c.callID = ""
	metricCalls.WithLabelValues("errored").Inc()
	snap := c.bumpLocked()
	c.mu.Unlock()
	c.publish(snap)
}

// recordCall must be called with mu held.
func (c *Controller) recordCall(id string) {
	if err := c.journal.CreateCall(&types.Call{ID: id, RequestedAt: time.Now().UTC(), Status: types.CallRequested}); err != nil {
		log.Warn().Err(err).Str("component", "widget").Str("call_id", id).Msg("call record not created")
	}
}

// Snapshot returns the current view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers fn for every published change. The returned function
// removes it.
func (c *Controller) Subscribe(fn func(Snapshot)) (dispose func()) {
	c.subMu.Lock()
	c.subNext++
	id := c.subNext
	c.subs[id] = fn
	c.subMu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
		})
	}
}

// Listeners reports how many SDK listeners this controller holds.
func (c *Controller) Listeners() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.disposers)
}

// setState must be called with mu held.
func (c *Controller) setState(to State) {
	from := c.state
	if from == to {
		return
	}
	metricStateTransitions.WithLabelValues(string(from), string(to)).Inc()
	log.Debug().Str("component", "widget").Str("from", string(from)).Str("to", string(to)).Msg("state transition")
	c.state = to
}

// bumpLocked advances Seq for a change about to be published.
func (c *Controller) bumpLocked() Snapshot {
	c.seq++
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		Seq:      c.seq,
		State:    c.state,
		Muted:    c.muted,
		Loading:  c.loading,
		Error:    c.errMsg,
		CallID:   c.callID,
		Controls: controlsFor(c.state),
	}
}

func (c *Controller) publish(s Snapshot) {
	c.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}
