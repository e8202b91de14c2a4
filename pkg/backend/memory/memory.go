// Package memory implements the backend contract with thread-safe
// in-memory storage. It exists for tests and for embedded deployments
// without a reachable server; pattern enumeration, pub/sub fan-out and
// the engine's named server-side scripts behave like the real backend.
package memory

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/ottohome/objectdb/pkg/backend"
)

// Backend is the in-memory implementation of backend.Backend.
type Backend struct {
	mu   sync.RWMutex
	data map[string][]byte

	subMu    sync.Mutex
	patterns []string
	messages chan backend.Message

	scripts *scriptTable

	state  backend.StateVar
	closed sync.Once
}

// New creates an in-memory backend in the Ready state.
func New() *Backend {
	b := &Backend{
		data:     make(map[string][]byte),
		messages: make(chan backend.Message, 1024),
		scripts:  newScriptTable(),
	}
	b.state.Store(backend.StateReady)
	return b
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
	b.mu.RLock()
	v, ok := b.data[key]
	b.mu.RUnlock()
	if !ok {
		return nil, backend.ErrNotFound
	}
	return clone(v), nil
}

func (b *Backend) Set(ctx context.Context, key string, value []byte) error {
	if err := b.ready(); err != nil {
		return err
	}
	b.mu.Lock()
	b.data[key] = clone(value)
	b.mu.Unlock()
	return nil
}

func (b *Backend) Del(ctx context.Context, key string) error {
	if err := b.ready(); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.data, key)
	b.mu.Unlock()
	return nil
}

func (b *Backend) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([][]byte, len(keys))
	for i, key := range keys {
		if v, ok := b.data[key]; ok {
			result[i] = clone(v)
		}
	}
	return result, nil
}

func (b *Backend) Keys(ctx context.Context, pattern string) ([]string, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	matcher, err := compileGlob(pattern)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	var result []string
	for key := range b.data {
		if matcher.MatchString(key) {
			result = append(result, key)
		}
	}
	b.mu.RUnlock()

	sort.Strings(result)
	return result, nil
}

func (b *Backend) Rename(ctx context.Context, oldKey, newKey string) error {
	if err := b.ready(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	v, ok := b.data[oldKey]
	if !ok {
		return backend.ErrNotFound
	}
	delete(b.data, oldKey)
	b.data[newKey] = v
	return nil
}

func (b *Backend) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.ready(); err != nil {
		return err
	}
	b.subMu.Lock()
	defer b.subMu.Unlock()

	for _, pattern := range b.patterns {
		matcher, err := compileGlob(pattern)
		if err != nil || !matcher.MatchString(channel) {
			continue
		}
		msg := backend.Message{Pattern: pattern, Channel: channel, Payload: clone(payload)}
		select {
		case b.messages <- msg:
		default:
			// Slow consumer: deliveries are best-effort, drop.
		}
	}
	return nil
}

func (b *Backend) PSubscribe(ctx context.Context, patterns ...string) error {
	if err := b.ready(); err != nil {
		return err
	}
	b.subMu.Lock()
	defer b.subMu.Unlock()
outer:
	for _, p := range patterns {
		for _, existing := range b.patterns {
			if existing == p {
				continue outer
			}
		}
		b.patterns = append(b.patterns, p)
	}
	return nil
}

func (b *Backend) PUnsubscribe(ctx context.Context, patterns ...string) error {
	if err := b.ready(); err != nil {
		return err
	}
	b.subMu.Lock()
	defer b.subMu.Unlock()

	kept := b.patterns[:0]
	for _, existing := range b.patterns {
		remove := false
		for _, p := range patterns {
			if existing == p {
				remove = true
				break
			}
		}
		if !remove {
			kept = append(kept, existing)
		}
	}
	b.patterns = kept
	return nil
}

func (b *Backend) Messages() <-chan backend.Message {
	return b.messages
}

func (b *Backend) State() backend.State {
	return b.state.Load()
}

// Close stops the backend and closes the delivery channel.
func (b *Backend) Close() error {
	b.closed.Do(func() {
		b.state.Store(backend.StateStopped)
		close(b.messages)
	})
	return nil
}

// Snapshot returns a copy of the stored keys, for test assertions.
func (b *Backend) Snapshot() map[string][]byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string][]byte, len(b.data))
	for k, v := range b.data {
		out[k] = clone(v)
	}
	return out
}

func clone(src []byte) []byte {
	if len(src) == 0 {
		return nil
	}
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}

// compileGlob translates a backend glob pattern ("*" wildcard, "?" one
// character, full-key match) into a regexp.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	return regexp.Compile(sb.String())
}
