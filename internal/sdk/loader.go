package sdk

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// LoadFunc fetches the SDK bundle and returns the factory it provides.
type LoadFunc func(ctx context.Context) (Factory, error)

// Loader loads the SDK at most once per process. Both outcomes stick:
// after a failed load every Acquire reports the same error.
// Mounts are reference counted; onIdle runs each time the count returns to zero.
type Loader struct {
	load   LoadFunc
	onIdle func()

	mu      sync.Mutex
	done    bool
	factory Factory
	err     error
	refs    int
}

func NewLoader(load LoadFunc) *Loader { return &Loader{load: load} }

// OnIdle registers a hook run when the last holder releases the SDK.
func (l *Loader) OnIdle(fn func()) {
	l.mu.Lock()
	l.onIdle = fn
	l.mu.Unlock()
}

// Acquire returns the SDK factory, loading it first if this is the first call.
// The returned release must be called on teardown; it is safe to call twice.
func (l *Loader) Acquire(ctx context.Context) (Factory, func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.done {
		l.done = true
		f, err := l.load(ctx)
		if err == nil && f == nil {
			err = errors.New("loader returned no factory")
		}
		if err != nil {
			l.err = opErr(ErrScriptLoad, "load", err)
			metricLoads.WithLabelValues("failed").Inc()
			log.Error().Err(err).Str("component", "sdk_loader").Msg("sdk load failed")
		} else {
			l.factory = f
			metricLoads.WithLabelValues("ok").Inc()
			log.Info().Str("component", "sdk_loader").Msg("sdk loaded")
		}
	}
	if l.err != nil {
		return nil, func() {}, l.err
	}

	l.refs++
	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			l.refs--
			idle := l.refs == 0
			hook := l.onIdle
			l.mu.Unlock()
			if idle && hook != nil {
				hook()
			}
		})
	}
	return l.factory, release, nil
}

// Loaded reports whether the bundle was fetched successfully.
func (l *Loader) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done && l.err == nil
}

// Err returns the sticky load error, if any.
func (l *Loader) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *Loader) Refs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refs
}

// HTTPLoad fetches the bundle at scriptURL. Any non-2xx status or an empty
// body counts as a load failure.
func HTTPLoad(hc *http.Client, scriptURL string, factory Factory) LoadFunc {
	if hc == nil {
		hc = http.DefaultClient
	}
	return func(ctx context.Context) (Factory, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, scriptURL, nil)
		if err != nil {
			return nil, errors.Wrap(err, "build request")
		}
		resp, err := hc.Do(req)
		if err != nil {
			return nil, errors.Wrapf(err, "fetch %s", scriptURL)
		}
		defer resp.Body.Close()
		if resp.StatusCode/100 != 2 {
			return nil, errors.Errorf("fetch %s: %s", scriptURL, resp.Status)
		}
		n, err := io.Copy(io.Discard, io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return nil, errors.Wrap(err, "read bundle")
		}
		if n == 0 {
			return nil, errors.Errorf("fetch %s: empty bundle", scriptURL)
		}
		log.Debug().Str("component", "sdk_loader").Str("url", scriptURL).Int64("bytes", n).Msg("bundle fetched")
		return factory, nil
	}
}
