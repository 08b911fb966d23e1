// Package demo composes the configuration gate with the call widget. It is the
// single entry point for user actions and renders the combined view.
package demo

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"vapidemo/widget/internal/gate"
	"vapidemo/widget/internal/sdk"
	"vapidemo/widget/internal/store"
	"vapidemo/widget/internal/widget"
)

var (
	ErrNotConfigured = errors.New("demo: no credential configured")
	ErrUnknownAction = errors.New("demo: unknown action")
)

const (
	ActionInput      = "input"
	ActionConfigure  = "configure"
	ActionReset      = "reset"
	ActionBeginCall  = "begin-call"
	ActionEndCall    = "end-call"
	ActionToggleMute = "toggle-mute"
)

// Action is a user intent. Value carries the text for input and, optionally,
// the credential for configure.
type Action struct {
	Name  string `json:"action"`
	Value string `json:"value,omitempty"`
}

// View is what the page shows: the gate while unconfigured, the widget after.
type View struct {
	Mode      gate.Mode        `json:"mode"`
	Input     string           `json:"input"`
	CanCommit bool             `json:"can_commit"`
	Widget    *widget.Snapshot `json:"widget,omitempty"`
}

type Demo struct {
	loader      *sdk.Loader
	journal     *store.Store
	loadTimeout time.Duration

	mu      sync.Mutex // guards gate transitions and ctrl
	gate    *gate.Gate
	ctrl    *widget.Controller
	stopSub func()

	obsMu   sync.Mutex
	obsNext uint64
	obs     map[uint64]func(View)
}

type Option func(*Demo)

// WithLoadTimeout bounds the SDK load performed on configure.
func WithLoadTimeout(d time.Duration) Option {
	return func(dm *Demo) { dm.loadTimeout = d }
}

func New(loader *sdk.Loader, journal *store.Store, opts ...Option) *Demo {
	d := &Demo{
		loader:      loader,
		journal:     journal,
		loadTimeout: 10 * time.Second,
		gate:        gate.New(),
		obs:         make(map[uint64]func(View)),
	}
	if d.journal == nil {
		d.journal = store.New(0)
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch applies one action and returns the resulting view.
func (d *Demo) Dispatch(ctx context.Context, a Action) (View, error) {
	var err error
	switch a.Name {
	case ActionInput:
		d.mu.Lock()
		d.gate.SetInput(a.Value)
		d.mu.Unlock()
	case ActionConfigure:
		err = d.configure(ctx, a.Value)
	case ActionReset:
		d.reset()
	case ActionBeginCall:
		err = d.withWidget(func(c *widget.Controller) error { return c.BeginCall(ctx) })
	case ActionEndCall:
		err = d.withWidget(func(c *widget.Controller) error { return c.EndCall(ctx) })
	case ActionToggleMute:
		err = d.withWidget(func(c *widget.Controller) error {
			_, err := c.ToggleMute()
			return err
		})
	default:
		err = errors.Wrap(ErrUnknownAction, a.Name)
	}
	v := d.View()
	d.notify(v)
	return v, err
}

func (d *Demo) configure(ctx context.Context, value string) error {
	d.mu.Lock()
	if value != "" && d.gate.Mode() == gate.ModeUnconfigured {
		d.gate.SetInput(value)
	}
	cred, err := d.gate.Commit()
	if err != nil {
		d.mu.Unlock()
		return err
	}
	ctrl := widget.New(cred, d.loader, widget.WithJournal(d.journal))
	d.ctrl = ctrl
	d.stopSub = ctrl.Subscribe(func(widget.Snapshot) { d.widgetChanged(ctrl) })
	d.journal.AppendEvent("", "configured", nil)
	d.mu.Unlock()

	// The load outlives a cancelled request; only the configured bound applies.
	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.loadTimeout)
	defer cancel()
	if err := ctrl.Mount(loadCtx); err != nil {
		// Shown in the widget; configure itself succeeded.
		log.Warn().Err(err).Str("component", "demo").Msg("widget mount failed")
	}
	return nil
}

// reset unmounts the widget before clearing the credential, so no listener of
// the old client survives into the next configuration.
func (d *Demo) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctrl != nil {
		d.stopSub()
		d.ctrl.Unmount()
		d.ctrl, d.stopSub = nil, nil
	}
	d.gate.Reset()
	d.journal.AppendEvent("", "reset", nil)
}

func (d *Demo) withWidget(fn func(*widget.Controller) error) error {
	d.mu.Lock()
	ctrl := d.ctrl
	d.mu.Unlock()
	if ctrl == nil {
		return ErrNotConfigured
	}
	return fn(ctrl)
}

func (d *Demo) widgetChanged(ctrl *widget.Controller) {
	d.mu.Lock()
	current := d.ctrl == ctrl
	d.mu.Unlock()
	if current {
		d.notify(d.View())
	}
}

// View renders the current state.
func (d *Demo) View() View {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := View{
		Mode:      d.gate.Mode(),
		Input:     d.gate.Input(),
		CanCommit: d.gate.CanCommit(),
	}
	if d.ctrl != nil {
		snap := d.ctrl.Snapshot()
		v.Widget = &snap
	}
	return v
}

// Journal exposes the lifecycle journal.
func (d *Demo) Journal() *store.Store { return d.journal }

// OnView registers fn for every change to the view.
func (d *Demo) OnView(fn func(View)) (dispose func()) {
	d.obsMu.Lock()
	d.obsNext++
	id := d.obsNext
	d.obs[id] = fn
	d.obsMu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			d.obsMu.Lock()
			delete(d.obs, id)
			d.obsMu.Unlock()
		})
	}
}

// Close unmounts the widget, if any.
func (d *Demo) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctrl != nil {
		d.stopSub()
		d.ctrl.Unmount()
		d.ctrl, d.stopSub = nil, nil
	}
}

func (d *Demo) notify(v View) {
	d.obsMu.Lock()
	fns := make([]func(View), 0, len(d.obs))
	for _, fn := range d.obs {
		fns = append(fns, fn)
	}
	d.obsMu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}
