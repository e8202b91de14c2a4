package memory

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/ottohome/objectdb/pkg/backend"
)

// The engine's server-side scripts carry a "-- name: <name>" header line.
// The memory backend executes the named scripts natively instead of
// interpreting their source, so the view fast paths behave identically
// against both backends.

type scriptTable struct {
	mu     sync.RWMutex
	byHash map[string]string // hash -> script name
}

func newScriptTable() *scriptTable {
	return &scriptTable{byHash: make(map[string]string)}
}

func scriptHash(src string) string {
	sum := sha1.Sum([]byte(src))
	return hex.EncodeToString(sum[:])
}

func scriptName(src string) string {
	line, _, _ := strings.Cut(src, "\n")
	if name, ok := strings.CutPrefix(strings.TrimSpace(line), "-- name:"); ok {
		return strings.TrimSpace(name)
	}
	return ""
}

func (b *Backend) ScriptExists(ctx context.Context, hashes ...string) ([]bool, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	b.scripts.mu.RLock()
	defer b.scripts.mu.RUnlock()

	result := make([]bool, len(hashes))
	for i, h := range hashes {
		_, result[i] = b.scripts.byHash[h]
	}
	return result, nil
}

func (b *Backend) ScriptLoad(ctx context.Context, src string) (string, error) {
	if err := b.ready(); err != nil {
		return "", err
	}
	name := scriptName(src)
	if name == "" {
		return "", &unsupportedScriptError{detail: "missing name header"}
	}
	hash := scriptHash(src)
	b.scripts.mu.Lock()
	b.scripts.byHash[hash] = name
	b.scripts.mu.Unlock()
	return hash, nil
}

func (b *Backend) EvalSHA(ctx context.Context, hash string, keys []string, args ...string) ([][]byte, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	b.scripts.mu.RLock()
	name, ok := b.scripts.byHash[hash]
	b.scripts.mu.RUnlock()
	if !ok {
		return nil, &unsupportedScriptError{detail: "NOSCRIPT unknown hash " + hash}
	}
	if len(keys) < 3 {
		return nil, &unsupportedScriptError{detail: "script requires namespace, start and end keys"}
	}
	ns, start, end := keys[0], keys[1], keys[2]

	var match func(doc *probeDoc) bool
	switch name {
	case "filter":
		if len(keys) < 4 {
			return nil, &unsupportedScriptError{detail: "filter script requires a type key"}
		}
		typ := keys[3]
		match = func(doc *probeDoc) bool { return doc.Type == typ }
	case "script":
		match = func(doc *probeDoc) bool { return doc.Common.EngineType != "" }
	case "programs":
		match = func(doc *probeDoc) bool { return doc.Native.TypeName == "PROGRAM" }
	case "variables":
		match = func(doc *probeDoc) bool { return doc.Native.TypeName == "ALARMDP" }
	case "custom":
		match = func(doc *probeDoc) bool { return len(doc.Common.Custom) > 0 && string(doc.Common.Custom) != "null" }
	default:
		return nil, &unsupportedScriptError{detail: "unknown script " + name}
	}

	b.mu.RLock()
	candidates := make([]string, 0)
	for key := range b.data {
		if !strings.HasPrefix(key, ns) {
			continue
		}
		id := key[len(ns):]
		if id < start || id > end {
			continue
		}
		candidates = append(candidates, key)
	}
	sort.Strings(candidates)

	var result [][]byte
	for _, key := range candidates {
		raw := b.data[key]
		var doc probeDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		if match(&doc) {
			result = append(result, clone(raw))
		}
	}
	b.mu.RUnlock()

	return result, nil
}

// probeDoc is the minimal view of a stored object the scripts inspect.
type probeDoc struct {
	Type   string `json:"type"`
	Common struct {
		EngineType string          `json:"engineType"`
		Custom     json.RawMessage `json:"custom"`
	} `json:"common"`
	Native struct {
		TypeName string `json:"TypeName"`
	} `json:"native"`
}

type unsupportedScriptError struct {
	detail string
}

func (e *unsupportedScriptError) Error() string {
	return "memory backend: " + e.detail
}

var _ backend.Backend = (*Backend)(nil)
