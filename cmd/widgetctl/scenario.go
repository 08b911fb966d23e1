package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	ws "nhooyr.io/websocket"

	"vapidemo/widget/internal/demo"
	"vapidemo/widget/internal/stream"
	"vapidemo/widget/internal/widget"
)

// runScenario walks the widget through a full call against the server at base
// and prints every view the server pushes.
func runScenario(ctx context.Context, out io.Writer, base, credential string) error {
	base = strings.TrimSuffix(base, "/")
	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(base, "http")+"/ws", nil)
	if err != nil {
		return errors.Wrap(err, "subscribe")
	}
	out = &syncWriter{w: out}

	views := make(chan demo.View, 256)
	readerDone := make(chan struct{})
	defer func() {
		_ = conn.Close(ws.StatusNormalClosure, "scenario done")
		<-readerDone
	}()
	go func() {
		defer close(readerDone)
		defer close(views)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var f stream.Frame
			if err := json.Unmarshal(data, &f); err != nil {
				continue
			}
			printFrame(out, f)
			if f.View != nil {
				select {
				case views <- *f.View:
				default:
				}
			}
		}
	}()

	steps := []struct {
		label string
		path  string
		body  string
		want  widget.State
	}{
		{"Configuring credential", "/config", fmt.Sprintf(`{"credential":%q}`, credential), widget.StateIdle},
		{"Starting call", "/call/start", "", widget.StateActive},
		{"Toggling mute", "/call/mute", "", widget.StateActiveMuted},
		{"Ending call", "/call/end", "", widget.StateIdle},
	}

	fmt.Fprintf(out, "=== Call widget scenario ===\nServer: %s\n\n", base)
	if err := post(ctx, base+"/config/reset", ""); err != nil {
		return err
	}
	// Skip anything pushed before the reset landed.
	if err := waitFor(ctx, views, func(v demo.View) bool { return v.Widget == nil }, false); err != nil {
		return errors.Wrap(err, "reset")
	}
	for i, s := range steps {
		fmt.Fprintf(out, "[%d] %s...\n", i+1, s.label)
		if err := post(ctx, base+s.path, s.body); err != nil {
			return errors.Wrap(err, s.label)
		}
		if err := waitFor(ctx, views, inState(s.want), true); err != nil {
			return errors.Wrap(err, s.label)
		}
	}
	fmt.Fprintln(out, "\n[*] Scenario complete")
	return nil
}

func post(ctx context.Context, url, body string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("%s: status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

func inState(want widget.State) func(demo.View) bool {
	return func(v demo.View) bool { return v.Widget != nil && v.Widget.State == want }
}

// waitFor consumes views until done matches. With failFast, a widget that
// lands in error or fails to load ends the wait early.
func waitFor(ctx context.Context, views <-chan demo.View, done func(demo.View) bool, failFast bool) error {
	for {
		select {
		case v, ok := <-views:
			if !ok {
				return errors.New("view stream closed")
			}
			if done(v) {
				return nil
			}
			if w := v.Widget; failFast && w != nil && w.Error != "" && (w.State == widget.StateError || w.State == widget.StateNotLoaded) {
				return errors.Errorf("widget reported %q", w.Error)
			}
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "waiting for view")
		}
	}
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func printFrame(out io.Writer, f stream.Frame) {
	ts := time.Now().Format("15:04:05.000")
	switch {
	case f.Type == "error":
		fmt.Fprintf(out, "[%s] <- error: action=%s %s\n", ts, f.Action, f.Error)
	case f.View == nil:
		fmt.Fprintf(out, "[%s] <- %s\n", ts, f.Type)
	case f.View.Widget == nil:
		fmt.Fprintf(out, "[%s] <- gate: mode=%s can_commit=%t\n", ts, f.View.Mode, f.View.CanCommit)
	default:
		w := f.View.Widget
		fmt.Fprintf(out, "[%s] <- widget: state=%s muted=%t loading=%t", ts, w.State, w.Muted, w.Loading)
		if w.Error != "" {
			fmt.Fprintf(out, " error=%q", w.Error)
		}
		fmt.Fprintln(out)
	}
}
