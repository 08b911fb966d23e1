package sdk

import "context"

// Client is one SDK instance bound to a single credential.
type Client interface {
	// Start begins a call with the given assistant. It returns once the
	// provider accepted the request; the call is live only after call-start.
	Start(ctx context.Context, a Assistant) error
	// Stop asks the provider to end the call. The call is over on call-end.
	Stop(ctx context.Context) error
	SetMuted(muted bool)
	IsMuted() bool
	On(name EventName, h Handler) (dispose func())
}

// Factory constructs a Client for a credential. It is what a loaded SDK
// bundle hands out.
type Factory func(credential string) (Client, error)
