package solana

import (
	"context"
	"errors"
)

// Terminal subscription errors. Delivered once on WSClient.Fatal.
var (
	// ErrAuthentication means the endpoint rejected our credentials. Never retried.
	ErrAuthentication = errors.New("websocket authentication failed")
	// ErrMaxReconnectAttempts means the reconnect budget was exhausted.
	ErrMaxReconnectAttempts = errors.New("websocket max reconnect attempts exceeded")
	// ErrClosed is returned by calls on a closed client.
	ErrClosed = errors.New("client closed")
)

// WSClient defines Solana WebSocket subscription interface.
type WSClient interface {
	// SubscribeLogs subscribes to program logs matching the filter.
	SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan LogNotification, error)

	// Fatal delivers at most one terminal error, after which no more
	// notifications arrive.
	Fatal() <-chan error

	// Close closes the WebSocket connection.
	Close() error
}

// LogsFilter defines subscription filter for logs.
type LogsFilter struct {
	// Mentions filters logs that mention any of these program IDs.
	Mentions []string
}

// LogNotification represents a logs subscription message.
type LogNotification struct {
	Signature string
	Slot      int64
	Logs      []string
	Err       interface{}
}
