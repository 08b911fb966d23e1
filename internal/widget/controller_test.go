package widget

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vapidemo/widget/internal/mockprovider"
	"vapidemo/widget/internal/sdk"
	"vapidemo/widget/internal/store"
	"vapidemo/widget/internal/types"
)

type fakeClient struct {
	*sdk.Emitter

	mu          sync.Mutex
	startErr    error
	stopErr     error
	startGate   chan struct{}
	duringStart func(*fakeClient)
	starts      []sdk.Assistant
	stops       int
	mutes       []bool
	muted       bool
	ignoreMute  bool
	closed      bool
}

func newFakeClient() *fakeClient { return &fakeClient{Emitter: sdk.NewEmitter()} }

func (f *fakeClient) Start(ctx context.Context, a sdk.Assistant) error {
	f.mu.Lock()
	f.starts = append(f.starts, a)
	gate, during, err := f.startGate, f.duringStart, f.startErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if during != nil {
		during(f)
	}
	return err
}

func (f *fakeClient) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.stopErr
}

func (f *fakeClient) SetMuted(m bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutes = append(f.mutes, m)
	if !f.ignoreMute {
		f.muted = m
	}
}

func (f *fakeClient) IsMuted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.muted
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeClient) listenerCount() int {
	return f.Listeners(sdk.EventCallStart) + f.Listeners(sdk.EventCallEnd) + f.Listeners(sdk.EventError)
}

type harness struct {
	loader  *sdk.Loader
	client  *fakeClient
	journal *store.Store
	loads   int
	builds  []string
}

func newHarness(loadErr error) *harness {
	h := &harness{client: newFakeClient(), journal: store.New(0)}
	h.loader = sdk.NewLoader(func(context.Context) (sdk.Factory, error) {
		h.loads++
		if loadErr != nil {
			return nil, loadErr
		}
		return func(cred string) (sdk.Client, error) {
			h.builds = append(h.builds, cred)
			return h.client, nil
		}, nil
	})
	return h
}

func (h *harness) controller(cred string) *Controller {
	n := 0
	return New(cred, h.loader, WithJournal(h.journal), WithIDs(func() string {
		n++
		return fmt.Sprintf("call-%d", n)
	}))
}

func mounted(t *testing.T, h *harness, cred string) *Controller {
	t.Helper()
	c := h.controller(cred)
	require.NoError(t, c.Mount(context.Background()))
	require.Equal(t, StateIdle, c.Snapshot().State)
	return c
}

func TestNotLoadedExposesOnlySpinner(t *testing.T) {
	h := newHarness(nil)
	c := h.controller("abc123")

	snap := c.Snapshot()
	assert.Equal(t, StateNotLoaded, snap.State)
	assert.Equal(t, Controls{Spinner: true}, snap.Controls)
	assert.ErrorIs(t, c.BeginCall(context.Background()), ErrActionDisabled)
	assert.Empty(t, h.client.starts)
}

func TestMountAttachesThreeListeners(t *testing.T) {
	h := newHarness(nil)
	c := mounted(t, h, "abc123")

	assert.Equal(t, 3, h.client.listenerCount())
	assert.Equal(t, 3, c.Listeners())
	assert.Equal(t, []string{"abc123"}, h.builds)
	snap := c.Snapshot()
	assert.True(t, snap.Controls.BeginCall)
	assert.False(t, snap.Controls.Spinner)
}

func TestScriptLoadFailureStrandsWidget(t *testing.T) {
	h := newHarness(errors.New("404"))
	c := h.controller("abc123")

	err := c.Mount(context.Background())
	require.ErrorIs(t, err, sdk.ErrScriptLoad)
	snap := c.Snapshot()
	assert.Equal(t, StateNotLoaded, snap.State)
	assert.Equal(t, MsgScriptLoad, snap.Error)
	assert.Equal(t, Controls{Spinner: true}, snap.Controls)
	assert.Zero(t, h.client.listenerCount())

	// a remount after reset stays stranded and does not reload
	c.Unmount()
	c2 := h.controller("abc123")
	require.ErrorIs(t, c2.Mount(context.Background()), sdk.ErrScriptLoad)
	assert.Equal(t, StateNotLoaded, c2.Snapshot().State)
	assert.Equal(t, 1, h.loads)
}

func TestEmptyCredentialAttachesNothing(t *testing.T) {
	h := newHarness(nil)
	c := h.controller("   ")

	err := c.Mount(context.Background())
	require.ErrorIs(t, err, sdk.ErrClientInit)
	assert.Equal(t, StateNotLoaded, c.Snapshot().State)
	assert.Equal(t, MsgClientInit, c.Snapshot().Error)
	assert.Empty(t, h.builds)
	assert.Zero(t, h.client.listenerCount())
}

func TestFactoryFailureFreezesInNotLoaded(t *testing.T) {
	loader := sdk.NewLoader(func(context.Context) (sdk.Factory, error) {
		return func(string) (sdk.Client, error) {
			return nil, &sdk.OpError{Kind: sdk.ErrClientInit, Op: "new", Err: errors.New("bad key format")}
		}, nil
	})
	c := New("abc123", loader)
	require.ErrorIs(t, c.Mount(context.Background()), sdk.ErrClientInit)
	assert.Equal(t, StateNotLoaded, c.Snapshot().State)
	assert.Zero(t, c.Listeners())
}

func TestScenarioFromCredentialToHangup(t *testing.T) {
	h := newHarness(nil)
	c := mounted(t, h, "abc123")

	gate := make(chan struct{})
	h.client.startGate = gate
	done := make(chan error, 1)
	go func() { done <- c.BeginCall(context.Background()) }()

	require.Eventually(t, func() bool { return c.Snapshot().State == StateConnecting }, time.Second, 5*time.Millisecond)
	snap := c.Snapshot()
	assert.True(t, snap.Loading)
	assert.True(t, snap.Controls.CallDisabled)
	assert.False(t, snap.Controls.BeginCall)
	assert.ErrorIs(t, c.BeginCall(context.Background()), ErrActionDisabled, "only one attempt in flight")

	close(gate)
	require.NoError(t, <-done)
	require.Len(t, h.client.starts, 1)
	assert.Equal(t, sdk.DefaultAssistant(), h.client.starts[0])

	h.client.Emit(sdk.Event{Name: sdk.EventCallStart, CallID: "prov-1"})
	snap = c.Snapshot()
	assert.Equal(t, StateActive, snap.State)
	assert.False(t, snap.Loading)
	assert.True(t, snap.Controls.EndCall)
	assert.True(t, snap.Controls.ToggleMute)

	muted, err := c.ToggleMute()
	require.NoError(t, err)
	assert.True(t, muted)
	assert.Equal(t, StateActiveMuted, c.Snapshot().State)
	assert.Equal(t, []bool{true}, h.client.mutes)

	require.NoError(t, c.EndCall(context.Background()))
	assert.Equal(t, 1, h.client.stops)
	assert.Equal(t, StateActiveMuted, c.Snapshot().State, "state follows the sdk, not the request")

	h.client.Emit(sdk.Event{Name: sdk.EventCallEnd, Reason: "customer-ended-call"})
	snap = c.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.False(t, snap.Muted)

	rec := h.journal.GetCall("call-1")
	require.NotNil(t, rec)
	assert.Equal(t, types.CallEnded, rec.Status)
	assert.Equal(t, "prov-1", rec.ProviderID)
	assert.Equal(t, "customer-ended-call", rec.EndReason)
}

func TestMuteToggleAlternatesWithoutConfirmation(t *testing.T) {
	h := newHarness(nil)
	c := mounted(t, h, "abc123")
	require.NoError(t, c.BeginCall(context.Background()))
	h.client.Emit(sdk.Event{Name: sdk.EventCallStart})

	h.client.ignoreMute = true
	want := []State{StateActiveMuted, StateActive, StateActiveMuted, StateActive}
	for i, st := range want {
		_, err := c.ToggleMute()
		require.NoError(t, err)
		assert.Equal(t, st, c.Snapshot().State, "toggle %d", i)
	}
	assert.Equal(t, []bool{true, false, true, false}, h.client.mutes)
}

func TestMuteUnavailableOutsideCall(t *testing.T) {
	h := newHarness(nil)
	c := mounted(t, h, "abc123")
	_, err := c.ToggleMute()
	assert.ErrorIs(t, err, ErrActionDisabled)
	assert.ErrorIs(t, c.EndCall(context.Background()), ErrActionDisabled)
}

func TestErrorEventWhileConnecting(t *testing.T) {
	h := newHarness(nil)
	c := mounted(t, h, "abc123")
	require.NoError(t, c.BeginCall(context.Background()))

	h.client.Emit(sdk.Event{Name: sdk.EventError, Err: errors.New("invalid public key")})
	snap := c.Snapshot()
	assert.Equal(t, StateError, snap.State)
	assert.False(t, snap.Loading)
	assert.Equal(t, MsgCallFailed, snap.Error)
	assert.True(t, snap.Controls.BeginCall)
	assert.Empty(t, snap.CallID)
	assert.Equal(t, types.CallFailed, h.journal.GetCall("call-1").Status)

	// retry is allowed and the next call-start clears the error
	require.NoError(t, c.BeginCall(context.Background()))
	assert.Empty(t, c.Snapshot().Error)
	h.client.Emit(sdk.Event{Name: sdk.EventCallStart})
	snap = c.Snapshot()
	assert.Equal(t, StateActive, snap.State)
	assert.Empty(t, snap.Error)
}

func TestErrorDuringCallClearsCallAndAllowsRetry(t *testing.T) {
	srv := httptest.NewServer(mockprovider.New(mockprovider.WithMidCallErrors(1)))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/call"
	loader := sdk.NewLoader(func(context.Context) (sdk.Factory, error) {
		return sdk.WSFactory(sdk.WSConfig{URL: url, DialTimeout: 2 * time.Second}), nil
	})
	journal := store.New(0)
	n := 0
	c := New("abc123", loader, WithJournal(journal), WithIDs(func() string {
		n++
		return fmt.Sprintf("call-%d", n)
	}))

	var mu sync.Mutex
	var seen []State
	c.Subscribe(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s.State)
		mu.Unlock()
	})
	require.NoError(t, c.Mount(context.Background()))
	defer c.Unmount()

	require.NoError(t, c.BeginCall(context.Background()))
	require.Eventually(t, func() bool { return c.Snapshot().State == StateError }, 5*time.Second, 10*time.Millisecond)
	snap := c.Snapshot()
	assert.Equal(t, MsgCallFailed, snap.Error)
	assert.Empty(t, snap.CallID)
	assert.True(t, snap.Controls.BeginCall)
	assert.Equal(t, types.CallFailed, journal.GetCall("call-1").Status)
	mu.Lock()
	assert.Equal(t, []State{StateIdle, StateConnecting, StateActive, StateError}, seen)
	mu.Unlock()

	require.NoError(t, c.BeginCall(context.Background()))
	require.Eventually(t, func() bool { return c.Snapshot().State == StateActive }, 5*time.Second, 10*time.Millisecond)
	snap = c.Snapshot()
	assert.Empty(t, snap.Error)
	assert.Equal(t, "call-2", snap.CallID)

	require.NoError(t, c.EndCall(context.Background()))
	require.Eventually(t, func() bool { return c.Snapshot().State == StateIdle }, 5*time.Second, 10*time.Millisecond)
}

func TestStartFailure(t *testing.T) {
	h := newHarness(nil)
	c := mounted(t, h, "abc123")
	h.client.startErr = errors.New("network down")

	err := c.BeginCall(context.Background())
	require.Error(t, err)
	snap := c.Snapshot()
	assert.Equal(t, StateError, snap.State)
	assert.Equal(t, MsgCallStart, snap.Error)
	assert.False(t, snap.Loading)
	assert.True(t, snap.Controls.BeginCall)
	assert.Equal(t, types.CallFailed, h.journal.GetCall("call-1").Status)
}

func TestStaleStartFailureIsIgnored(t *testing.T) {
	h := newHarness(nil)
	c := mounted(t, h, "abc123")
	h.client.startErr = errors.New("late timeout")
	h.client.duringStart = func(f *fakeClient) {
		f.Emit(sdk.Event{Name: sdk.EventCallStart})
	}

	require.Error(t, c.BeginCall(context.Background()))
	snap := c.Snapshot()
	assert.Equal(t, StateActive, snap.State)
	assert.Empty(t, snap.Error)
}

func TestStopFailureLeavesStateAlone(t *testing.T) {
	h := newHarness(nil)
	c := mounted(t, h, "abc123")
	require.NoError(t, c.BeginCall(context.Background()))
	h.client.Emit(sdk.Event{Name: sdk.EventCallStart})
	h.client.stopErr = errors.New("socket closed")

	require.NoError(t, c.EndCall(context.Background()))
	assert.Equal(t, StateActive, c.Snapshot().State)

	var stopFailed bool
	for _, e := range h.journal.CallEvents("call-1") {
		if e.Type == "stop_failed" {
			stopFailed = true
		}
	}
	assert.True(t, stopFailed)

	h.client.Emit(sdk.Event{Name: sdk.EventCallEnd})
	assert.Equal(t, StateIdle, c.Snapshot().State)
}

func TestProviderInitiatedEndResetsMute(t *testing.T) {
	h := newHarness(nil)
	c := mounted(t, h, "abc123")
	require.NoError(t, c.BeginCall(context.Background()))
	h.client.Emit(sdk.Event{Name: sdk.EventCallStart})
	_, err := c.ToggleMute()
	require.NoError(t, err)

	h.client.Emit(sdk.Event{Name: sdk.EventCallEnd, Reason: "assistant-ended-call"})
	snap := c.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.False(t, snap.Muted)
	assert.Zero(t, h.client.stops)
}

func TestUnmountDetachesAndReleases(t *testing.T) {
	h := newHarness(nil)
	c := mounted(t, h, "abc123")
	require.Equal(t, 1, h.loader.Refs())

	c.Unmount()
	c.Unmount()
	assert.Zero(t, h.client.listenerCount())
	assert.Zero(t, h.loader.Refs())
	assert.True(t, h.client.closed)

	h.client.Emit(sdk.Event{Name: sdk.EventCallStart})
	assert.Equal(t, StateIdle, c.Snapshot().State)
	assert.ErrorIs(t, c.BeginCall(context.Background()), ErrActionDisabled)

	// a fresh mount for a new credential attaches exactly three again
	h.client = newFakeClient()
	c2 := mounted(t, h, "other-key")
	assert.Equal(t, 3, h.client.listenerCount())
	assert.Equal(t, 1, h.loads)
	c2.Unmount()
}

func TestSubscribersSeeEveryTransition(t *testing.T) {
	h := newHarness(nil)
	c := h.controller("abc123")

	var mu sync.Mutex
	var seen []State
	dispose := c.Subscribe(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s.State)
		mu.Unlock()
	})

	require.NoError(t, c.Mount(context.Background()))
	require.NoError(t, c.BeginCall(context.Background()))
	h.client.Emit(sdk.Event{Name: sdk.EventCallStart})
	h.client.Emit(sdk.Event{Name: sdk.EventCallEnd})
	dispose()
	h.client.Emit(sdk.Event{Name: sdk.EventError})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateIdle, StateConnecting, StateActive, StateIdle}, seen)
}
