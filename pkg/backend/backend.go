// Package backend defines the key-value backend contract the object/file
// store engine runs against. Any backend offering these primitives can
// host the engine; the redis subpackage is the production implementation
// and the memory subpackage implements the same contract in-process.
package backend

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get and Rename when the key does not exist.
var ErrNotFound = errors.New("backend: key not found")

// ErrClosed is returned once the backend has been closed.
var ErrClosed = errors.New("backend: connection closed")

// Message is one inbound pattern-subscription delivery.
type Message struct {
	Pattern string
	Channel string
	Payload []byte
}

// Backend is the primitive set consumed by the store engine. All blocking
// operations take a context; the backend serializes commands per
// connection, so multi-key helpers built on top of it issue one call at a
// time.
type Backend interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value at key, overwriting any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Del removes key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// MGet batch-fetches values. The result is positional: slot i holds
	// the value for keys[i], or nil when that key does not exist.
	MGet(ctx context.Context, keys []string) ([][]byte, error)

	// Keys enumerates keys matching a glob pattern ("*" wildcard,
	// full-key match).
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Rename atomically renames a key, returning ErrNotFound when the
	// source does not exist.
	Rename(ctx context.Context, oldKey, newKey string) error

	// Publish broadcasts payload on the named channel. Fire-and-forget:
	// delivery to subscribers is not acknowledged.
	Publish(ctx context.Context, channel string, payload []byte) error

	// PSubscribe registers pattern subscriptions on the dedicated
	// subscription connection.
	PSubscribe(ctx context.Context, patterns ...string) error

	// PUnsubscribe removes pattern subscriptions.
	PUnsubscribe(ctx context.Context, patterns ...string) error

	// Messages returns the inbound delivery channel for all pattern
	// subscriptions. The channel is closed when the backend closes.
	Messages() <-chan Message

	// ScriptExists checks in one batched call which of the given script
	// hashes are resident on the server.
	ScriptExists(ctx context.Context, hashes ...string) ([]bool, error)

	// ScriptLoad loads a script by source and returns the hash the server
	// will identify it by.
	ScriptLoad(ctx context.Context, src string) (string, error)

	// EvalSHA invokes a resident script by hash. It fails fast when the
	// hash is unknown.
	EvalSHA(ctx context.Context, hash string, keys []string, args ...string) ([][]byte, error)

	// State reports the connection state.
	State() State

	// Close tears the backend down. Safe to call more than once.
	Close() error
}
