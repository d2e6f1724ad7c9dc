package session

import "context"

// Hooks receive lifecycle events from the transport client. The automation
// runtime delivers them one at a time, never concurrently.
type Hooks struct {
	Challenge    func(raw string)
	Ready        func()
	Disconnected func(reason string)
	AuthFailure  func(reason string)
}

// Client is one connection instance to the messaging transport.
type Client interface {
	// Start connects the client and begins delivering events to the hooks
	// it was constructed with.
	Start(ctx context.Context) error
	// Destroy tears the connection down. Best-effort; the controller logs
	// and swallows any error.
	Destroy() error
	// Send delivers body to a transport address and returns the message ID.
	Send(ctx context.Context, address string, body string) (string, error)
}

// Factory builds a fresh Client wired to the given hooks.
type Factory interface {
	New(ctx context.Context, hooks Hooks) (Client, error)
}
