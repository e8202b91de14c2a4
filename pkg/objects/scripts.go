package objects

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"sync"

	"github.com/ottohome/objectdb/internal/logger"
	"github.com/ottohome/objectdb/pkg/backend"
)

// Server-side scripts backing the view fast paths. Every script receives
// KEYS[1] = object namespace, KEYS[2] = start id, KEYS[3] = end id;
// "filter" additionally receives KEYS[4] = object type. Each returns the
// raw payloads of the matching objects.
//
// The first line of every script is a name header; backends that run
// scripts natively dispatch on it.
var scriptSources = map[string]string{
	"filter": `-- name: filter
local result = {}
for _, key in ipairs(redis.call('KEYS', KEYS[1] .. '*')) do
  local id = string.sub(key, string.len(KEYS[1]) + 1)
  if id >= KEYS[2] and id <= KEYS[3] then
    local raw = redis.call('GET', key)
    if raw then
      local ok, doc = pcall(cjson.decode, raw)
      if ok and doc.type == KEYS[4] then
        table.insert(result, raw)
      end
    end
  end
end
return result
`,
	"script": `-- name: script
local result = {}
for _, key in ipairs(redis.call('KEYS', KEYS[1] .. '*')) do
  local id = string.sub(key, string.len(KEYS[1]) + 1)
  if id >= KEYS[2] and id <= KEYS[3] then
    local raw = redis.call('GET', key)
    if raw then
      local ok, doc = pcall(cjson.decode, raw)
      if ok and doc.common and doc.common.engineType and doc.common.engineType ~= '' then
        table.insert(result, raw)
      end
    end
  end
end
return result
`,
	"programs": `-- name: programs
local result = {}
for _, key in ipairs(redis.call('KEYS', KEYS[1] .. '*')) do
  local id = string.sub(key, string.len(KEYS[1]) + 1)
  if id >= KEYS[2] and id <= KEYS[3] then
    local raw = redis.call('GET', key)
    if raw then
      local ok, doc = pcall(cjson.decode, raw)
      if ok and doc.native and doc.native.TypeName == 'PROGRAM' then
        table.insert(result, raw)
      end
    end
  end
end
return result
`,
	"variables": `-- name: variables
local result = {}
for _, key in ipairs(redis.call('KEYS', KEYS[1] .. '*')) do
  local id = string.sub(key, string.len(KEYS[1]) + 1)
  if id >= KEYS[2] and id <= KEYS[3] then
    local raw = redis.call('GET', key)
    if raw then
      local ok, doc = pcall(cjson.decode, raw)
      if ok and doc.native and doc.native.TypeName == 'ALARMDP' then
        table.insert(result, raw)
      end
    end
  end
end
return result
`,
	"custom": `-- name: custom
local result = {}
for _, key in ipairs(redis.call('KEYS', KEYS[1] .. '*')) do
  local id = string.sub(key, string.len(KEYS[1]) + 1)
  if id >= KEYS[2] and id <= KEYS[3] then
    local raw = redis.call('GET', key)
    if raw then
      local ok, doc = pcall(cjson.decode, raw)
      if ok and doc.common and doc.common.custom ~= nil and doc.common.custom ~= cjson.null then
        table.insert(result, raw)
      end
    end
  end
end
return result
`,
}

// scriptCache tracks the server-resident script hashes by name. The
// name to hash map is replaced as a whole after a load cycle, never
// patched entry by entry.
type scriptCache struct {
	mu     sync.RWMutex
	hashes map[string]string
}

func newScriptCache() *scriptCache {
	return &scriptCache{}
}

// hash returns the resident hash of a named script, or "" when the
// script is not loaded.
func (c *scriptCache) hash(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hashes[name]
}

// load ensures every script is resident: one batched existence check,
// then one load per missing script, then an atomic swap of the name to
// hash map. Safe to call again to re-sync after a server restart.
func (c *scriptCache) load(ctx context.Context, b backend.Backend) error {
	names := make([]string, 0, len(scriptSources))
	hashes := make([]string, 0, len(scriptSources))
	for name, src := range scriptSources {
		sum := sha1.Sum([]byte(src))
		names = append(names, name)
		hashes = append(hashes, hex.EncodeToString(sum[:]))
	}

	exists, err := b.ScriptExists(ctx, hashes...)
	if err != nil {
		return err
	}

	loaded := make(map[string]string, len(names))
	for i, name := range names {
		if i < len(exists) && exists[i] {
			loaded[name] = hashes[i]
			continue
		}
		hash, err := b.ScriptLoad(ctx, scriptSources[name])
		if err != nil {
			logger.Error("cannot load server-side script", "name", name, "error", err)
			continue
		}
		loaded[name] = hash
	}

	c.mu.Lock()
	c.hashes = loaded
	c.mu.Unlock()
	return nil
}
