package offsync

import "context"

// Transport pushes a batch of local changes and returns the server's verdicts
// together with remote changes the client has not seen yet.
type Transport interface {
	Push(ctx context.Context, req PushRequest) (PushResponse, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req PushRequest) (PushResponse, error)

// Push implements Transport.
func (fn TransportFunc) Push(ctx context.Context, req PushRequest) (PushResponse, error) {
	return fn(ctx, req)
}
