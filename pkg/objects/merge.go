package objects

import "sync"

// deepMerge merges src into dst in place. Nested maps merge recursively;
// every other value type replaces. An explicit null in src deletes the
// key from dst.
func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		if v == nil {
			delete(dst, k)
			continue
		}
		if sv, ok := v.(map[string]any); ok {
			if dv, ok := dst[k].(map[string]any); ok {
				deepMerge(dv, sv)
				continue
			}
		}
		dst[k] = cloneValue(v)
	}
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, e := range tv {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// defaultPreserve lists the user-owned settings under common that a plain
// overwrite must not wipe out. Adapters rewrite their objects wholesale;
// these fields belong to the user, not the adapter.
var defaultPreserve = []string{"custom", "smartName", "material", "habpanel", "mobile"}

type preserveSet struct {
	mu     sync.RWMutex
	fields []string
}

func newPreserveSet() *preserveSet {
	p := &preserveSet{}
	p.fields = append(p.fields, defaultPreserve...)
	return p
}

func (p *preserveSet) add(fields ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
outer:
	for _, f := range fields {
		for _, existing := range p.fields {
			if existing == f {
				continue outer
			}
		}
		p.fields = append(p.fields, f)
	}
}

func (p *preserveSet) list() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.fields))
	copy(out, p.fields)
	return out
}

// applySticky carries the sticky settings from the stored object into the
// incoming one. An explicit null in the incoming common removes the
// setting; an absent setting is copied forward from the stored value.
func applySticky(fields []string, old, incoming map[string]any) {
	oldCommon, _ := old["common"].(map[string]any)
	newCommon, _ := incoming["common"].(map[string]any)

	for _, f := range fields {
		if newCommon != nil {
			if v, present := newCommon[f]; present {
				if v == nil {
					delete(newCommon, f)
				}
				continue
			}
		}
		if oldCommon == nil {
			continue
		}
		v, present := oldCommon[f]
		if !present || v == nil {
			continue
		}
		if newCommon == nil {
			newCommon = make(map[string]any)
			incoming["common"] = newCommon
		}
		newCommon[f] = cloneValue(v)
	}
}
