package sdk

import "github.com/pkg/errors"

// Failure kinds surfaced by the voice SDK. Callers match them with errors.Is;
// the concrete error is wrapped with the operation that failed.
var (
	ErrScriptLoad = errors.New("sdk: script load failed")
	ErrClientInit = errors.New("sdk: client init failed")
	ErrCallStart  = errors.New("sdk: call start failed")
	ErrRuntime    = errors.New("sdk: runtime error")

	ErrNotStarted = errors.New("sdk: no call in progress")
	ErrClosed     = errors.New("sdk: client closed")
)

// OpError ties a failure kind to the operation and cause.
type OpError struct {
	Kind error
	Op   string
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return e.Kind.Error() + ": " + e.Op
	}
	return e.Kind.Error() + ": " + e.Op + ": " + e.Err.Error()
}

func (e *OpError) Is(target error) bool { return target == e.Kind }

func (e *OpError) Unwrap() error { return e.Err }

// Cause lets github.com/pkg/errors.Cause walk through to the underlying error.
func (e *OpError) Cause() error { return e.Err }

func opErr(kind error, op string, err error) error {
	return &OpError{Kind: kind, Op: op, Err: err}
}
