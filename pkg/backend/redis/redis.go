// Package redis implements the backend contract against a Redis-protocol
// server using go-redis. One connection carries commands, a second one
// carries the pattern subscriptions; topology (single node, sentinel set
// or unix socket) is selected from the options.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ottohome/objectdb/internal/logger"
	"github.com/ottohome/objectdb/pkg/backend"
)

// Options selects the server topology and connection behavior.
type Options struct {
	// Host is the server address. With Port 0 it is interpreted as a unix
	// socket path. When Sentinels is set, Host is ignored.
	Host string
	Port int

	// Sentinels lists "host:port" sentinel addresses; SentinelMaster is
	// the monitored master set name (default "mymaster").
	Sentinels      []string
	SentinelMaster string

	DB       int
	Password string

	ConnectTimeout time.Duration

	// OnProtocolMismatch, when set, is invoked if the initial handshake
	// fails with an error that indicates the far end does not speak the
	// expected protocol (e.g. an HTTP server answering on the port).
	// There is no automatic fallback: the hook owns the decision.
	OnProtocolMismatch func(err error)
}

// Backend is the go-redis implementation of backend.Backend.
type Backend struct {
	client goredis.UniversalClient
	sub    goredis.UniversalClient
	pubsub *goredis.PubSub

	messages chan backend.Message
	state    backend.StateVar
	done     chan struct{}
}

// protocolMismatch matches the RESP parser failure produced when the far
// end answers with an HTTP response.
func protocolMismatch(err error) bool {
	return err != nil && strings.Contains(err.Error(), `got "H" as reply type byte`)
}

func newClient(opts Options, name string) goredis.UniversalClient {
	if len(opts.Sentinels) > 0 {
		master := opts.SentinelMaster
		if master == "" {
			master = "mymaster"
		}
		return goredis.NewFailoverClient(&goredis.FailoverOptions{
			MasterName:    master,
			SentinelAddrs: opts.Sentinels,
			DB:            opts.DB,
			Password:      opts.Password,
			DialTimeout:   opts.ConnectTimeout,
			ClientName:    name,
		})
	}
	o := &goredis.Options{
		DB:          opts.DB,
		Password:    opts.Password,
		DialTimeout: opts.ConnectTimeout,
		ClientName:  name,
	}
	if opts.Port == 0 {
		o.Network = "unix"
		o.Addr = opts.Host
	} else {
		o.Addr = fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	}
	return goredis.NewClient(o)
}

// New connects both the command and the subscription connection and
// verifies the handshake.
func New(ctx context.Context, opts Options) (*Backend, error) {
	b := &Backend{
		messages: make(chan backend.Message, 1024),
		done:     make(chan struct{}),
	}
	b.state.Store(backend.StateConnecting)

	// A shared identity across both connections makes the command and the
	// subscription client of one process recognizable in CLIENT LIST.
	name := "objectdb-" + uuid.NewString()

	b.client = newClient(opts, name)
	if err := b.client.Ping(ctx).Err(); err != nil {
		_ = b.client.Close()
		b.state.Store(backend.StateDisconnected)
		if protocolMismatch(err) && opts.OnProtocolMismatch != nil {
			opts.OnProtocolMismatch(err)
		}
		return nil, fmt.Errorf("backend handshake failed: %w", err)
	}

	// Long view scripts would otherwise hit the default script timeout.
	if err := b.client.ConfigSet(ctx, "lua-time-limit", "10000").Err(); err != nil {
		logger.Warn("unable to raise script time limit", "error", err)
	}

	b.sub = newClient(opts, name)
	b.pubsub = b.sub.PSubscribe(ctx)
	go b.pump()

	b.state.Store(backend.StateReady)
	logger.Debug("backend connected", "client", name)
	return b, nil
}

// pump forwards pubsub deliveries into the message channel until the
// backend closes.
func (b *Backend) pump() {
	ch := b.pubsub.Channel()
	for {
		select {
		case <-b.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			m := backend.Message{
				Pattern: msg.Pattern,
				Channel: msg.Channel,
				Payload: []byte(msg.Payload),
			}
			select {
			case b.messages <- m:
			case <-b.done:
				return
			}
		}
	}
}

func (b *Backend) ready() error {
	if b.state.Load() != backend.StateReady {
		return backend.ErrClosed
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	v, err := b.client.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, backend.ErrNotFound
	}
	return v, err
}

func (b *Backend) Set(ctx context.Context, key string, value []byte) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.client.Set(ctx, key, value, 0).Err()
}

func (b *Backend) Del(ctx context.Context, key string) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.client.Del(ctx, key).Err()
}

func (b *Backend) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	result := make([][]byte, len(vals))
	for i, v := range vals {
		switch tv := v.(type) {
		case string:
			result[i] = []byte(tv)
		case []byte:
			result[i] = tv
		}
	}
	return result, nil
}

func (b *Backend) Keys(ctx context.Context, pattern string) ([]string, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	return b.client.Keys(ctx, pattern).Result()
}

func (b *Backend) Rename(ctx context.Context, oldKey, newKey string) error {
	if err := b.ready(); err != nil {
		return err
	}
	err := b.client.Rename(ctx, oldKey, newKey).Err()
	if err != nil && strings.Contains(err.Error(), "no such key") {
		return backend.ErrNotFound
	}
	return err
}

func (b *Backend) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.client.Publish(ctx, channel, payload).Err()
}

func (b *Backend) PSubscribe(ctx context.Context, patterns ...string) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.pubsub.PSubscribe(ctx, patterns...)
}

func (b *Backend) PUnsubscribe(ctx context.Context, patterns ...string) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.pubsub.PUnsubscribe(ctx, patterns...)
}

func (b *Backend) Messages() <-chan backend.Message {
	return b.messages
}

func (b *Backend) ScriptExists(ctx context.Context, hashes ...string) ([]bool, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	return b.client.ScriptExists(ctx, hashes...).Result()
}

func (b *Backend) ScriptLoad(ctx context.Context, src string) (string, error) {
	if err := b.ready(); err != nil {
		return "", err
	}
	return b.client.ScriptLoad(ctx, src).Result()
}

func (b *Backend) EvalSHA(ctx context.Context, hash string, keys []string, args ...string) ([][]byte, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	argv := make([]interface{}, len(args))
	for i, a := range args {
		argv[i] = a
	}
	raw, err := b.client.EvalSha(ctx, hash, keys, argv...).Result()
	if err != nil {
		return nil, err
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected script reply type %T", raw)
	}
	result := make([][]byte, 0, len(items))
	for _, item := range items {
		switch tv := item.(type) {
		case string:
			result = append(result, []byte(tv))
		case []byte:
			result = append(result, tv)
		}
	}
	return result, nil
}

func (b *Backend) State() backend.State {
	return b.state.Load()
}

// Close drains and tears down both connections.
func (b *Backend) Close() error {
	if !b.state.CompareAndSwap(backend.StateReady, backend.StateDraining) {
		return nil
	}
	close(b.done)
	if b.pubsub != nil {
		_ = b.pubsub.Close()
	}
	var err error
	if b.sub != nil {
		err = b.sub.Close()
	}
	if cerr := b.client.Close(); cerr != nil && err == nil {
		err = cerr
	}
	b.state.Store(backend.StateStopped)
	return err
}

var _ backend.Backend = (*Backend)(nil)
