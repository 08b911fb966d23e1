package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ws "nhooyr.io/websocket"

	"vapidemo/widget/internal/demo"
	"vapidemo/widget/internal/gate"
)

type fakeApp struct {
	mu    sync.Mutex
	input string
	seen  []demo.Action
}

func (f *fakeApp) Dispatch(ctx context.Context, a demo.Action) (demo.View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, a)
	if a.Name == demo.ActionInput {
		f.input = a.Value
		return demo.View{Mode: gate.ModeUnconfigured, Input: f.input}, nil
	}
	return demo.View{}, errors.New("not available")
}

func (f *fakeApp) View() demo.View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return demo.View{Mode: gate.ModeUnconfigured, Input: f.input}
}

func (f *fakeApp) actions() []demo.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]demo.Action(nil), f.seen...)
}

func dial(t *testing.T, url string) *ws.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(url, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(ws.StatusNormalClosure, "test done") })
	return c
}

func readFrame(t *testing.T, c *ws.Conn) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func send(t *testing.T, c *ws.Conn, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, c.Write(context.Background(), ws.MessageText, b))
}

func TestSubscriberGetsCurrentViewThenErrors(t *testing.T) {
	app := &fakeApp{input: "abc"}
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(NewServer(hub, app).HandleWS))
	defer srv.Close()

	c := dial(t, srv.URL)
	f := readFrame(t, c)
	assert.Equal(t, "view", f.Type)
	require.NotNil(t, f.View)
	assert.Equal(t, "abc", f.View.Input)

	send(t, c, demo.Action{Name: demo.ActionBeginCall})
	f = readFrame(t, c)
	assert.Equal(t, "error", f.Type)
	assert.Equal(t, demo.ActionBeginCall, f.Action)
	assert.Equal(t, "not available", f.Error)

	send(t, c, demo.Action{Name: demo.ActionInput, Value: "xyz"})
	require.Eventually(t, func() bool { return len(app.actions()) == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "xyz", app.View().Input)
}

func TestBroadcastReachesAllAndDropsClosed(t *testing.T) {
	app := &fakeApp{}
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(NewServer(hub, app).HandleWS))
	defer srv.Close()

	a := dial(t, srv.URL)
	b := dial(t, srv.URL)
	readFrame(t, a)
	readFrame(t, b)
	require.Eventually(t, func() bool { return hub.Len() == 2 }, time.Second, 10*time.Millisecond)

	hub.Broadcast(context.Background(), ViewFrame(demo.View{Mode: gate.ModeConfigured}))
	for _, c := range []*ws.Conn{a, b} {
		f := readFrame(t, c)
		require.NotNil(t, f.View)
		assert.Equal(t, gate.ModeConfigured, f.View.Mode)
	}

	require.NoError(t, b.Close(ws.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
}
