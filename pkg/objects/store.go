package objects

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ottohome/objectdb/internal/logger"
	"github.com/ottohome/objectdb/pkg/acl"
	"github.com/ottohome/objectdb/pkg/backend"
	"github.com/ottohome/objectdb/pkg/keys"
	"github.com/ottohome/objectdb/pkg/metrics"
	storeerrors "github.com/ottohome/objectdb/pkg/objects/errors"
)

// configID is the system configuration object. Changes to it are
// intercepted to hot-reload the default-ACL policy.
const configID = "system.config"

// ChangeHandler receives change notifications for subscribed ids. obj is
// nil when the object was deleted.
type ChangeHandler func(id string, obj *Object)

// Config parameterizes a Store.
type Config struct {
	// Namespace is the key prefix, "cfg" by default.
	Namespace string

	// Security names the administrative identities.
	Security acl.Security

	// DefaultACL is the initial access template. The template stored in
	// system.config (common.defaultNewAcl) overrides it at startup and on
	// every subsequent change.
	DefaultACL *acl.Template

	// OnChange receives notifications for subscribed patterns.
	OnChange ChangeHandler

	// Metrics enables operation instrumentation when non-nil.
	Metrics *metrics.StoreMetrics
}

// Store is the object/file store engine over a key-value backend.
type Store struct {
	backend  backend.Backend
	ns       keys.Namespaces
	sec      acl.Security
	template *acl.TemplateHolder
	scripts  *scriptCache
	metrics  *metrics.StoreMetrics
	resolver acl.Resolver
	preserve *preserveSet

	onChange ChangeHandler

	subMu sync.RWMutex
	subs  []*keys.Matcher

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a store over an already connected backend, loads the
// server-side scripts, adopts the default-ACL policy from system.config
// when present and starts the notification loop.
func New(ctx context.Context, b backend.Backend, cfg Config) (*Store, error) {
	if cfg.Security == (acl.Security{}) {
		cfg.Security = acl.DefaultSecurity()
	}
	s := &Store{
		backend:  b,
		ns:       keys.New(cfg.Namespace),
		sec:      cfg.Security,
		template: acl.NewTemplateHolder(cfg.DefaultACL),
		scripts:  newScriptCache(),
		metrics:  cfg.Metrics,
		preserve: newPreserveSet(),
		onChange: cfg.OnChange,
		stop:     make(chan struct{}),
	}
	s.resolver = &groupDirectory{store: s}

	if err := s.scripts.load(ctx, b); err != nil {
		logger.Warn("server-side scripts unavailable, views fall back to scans", "error", err)
	}

	if err := s.adoptConfig(ctx); err != nil {
		logger.Warn("system configuration not readable at startup", "error", err)
	}
	if err := b.PSubscribe(ctx, s.ns.ObjectKey(configID)); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.run()
	return s, nil
}

// Stop shuts the notification loop down. The backend stays open; it
// belongs to the caller.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// AddPreserveSettings extends the set of sticky common settings carried
// forward across plain overwrites.
func (s *Store) AddPreserveSettings(fields ...string) {
	s.preserve.add(fields...)
}

// DefaultACL returns the current default-ACL template snapshot.
func (s *Store) DefaultACL() *acl.Template {
	return s.template.Load()
}

// adoptConfig reads system.config and installs its default-ACL policy.
func (s *Store) adoptConfig(ctx context.Context) error {
	raw, err := s.backend.Get(ctx, s.ns.ObjectKey(configID))
	if err == backend.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	obj, err := decodeObject(configID, raw)
	if err != nil {
		return err
	}
	if t := templateFromConfig(obj); t != nil {
		s.template.Reload(t)
	}
	return nil
}

// templateFromConfig extracts common.defaultNewAcl, or nil when absent.
func templateFromConfig(obj *Object) *acl.Template {
	if obj == nil || obj.Common == nil {
		return nil
	}
	m, _ := obj.Common["defaultNewAcl"].(map[string]any)
	if m == nil {
		return nil
	}
	t := &acl.Template{}
	t.Owner, _ = m["owner"].(string)
	t.OwnerGroup, _ = m["ownerGroup"].(string)
	t.Object = uint16Field(m, "object")
	t.State = uint16Field(m, "state")
	t.File = uint16Field(m, "file")
	return t
}

// injectDefaultACL stamps the default template onto an object written
// without explicit rights. The file permission has no meaning on objects
// and the state permission only on type "state".
func (s *Store) injectDefaultACL(ctx context.Context, obj *Object, opts *Options, actor acl.Actor) {
	if obj.ACL != nil {
		return
	}
	t := s.template.Load()
	if t == nil {
		return
	}

	a := &acl.ObjectACL{
		Owner:      t.Owner,
		OwnerGroup: t.OwnerGroup,
		Object:     t.Object,
	}
	if obj.Type == "state" {
		a.State = t.State
	}
	if opts != nil && opts.Owner != "" {
		a.Owner = opts.Owner
	}
	if opts != nil && opts.OwnerGroup != "" {
		a.OwnerGroup = opts.OwnerGroup
	} else if a.Owner != t.Owner {
		// Explicit owner without a group: adopt the owner's first group.
		if groups, _, err := s.resolver.Resolve(ctx, a.Owner); err == nil && len(groups) > 0 {
			a.OwnerGroup = groups[0]
		}
	}
	obj.ACL = a
}

// publish broadcasts an object change. Failures are logged and counted
// but never fail the write that triggered them.
func (s *Store) publish(ctx context.Context, id string, obj *Object) {
	payload := []byte("null")
	if obj != nil {
		data, err := json.Marshal(obj)
		if err != nil {
			logger.Warn("change notification not serializable", "id", id, "error", err)
			s.metrics.RecordPublishFailure()
			return
		}
		payload = data
	}
	if err := s.backend.Publish(ctx, s.ns.ObjectKey(id), payload); err != nil {
		logger.Warn("change notification not published", "id", id, "error", err)
		s.metrics.RecordPublishFailure()
	}
}

// mapBackendErr converts backend transport errors into store errors.
func mapBackendErr(err error, id string) error {
	switch err {
	case nil:
		return nil
	case backend.ErrNotFound:
		return storeerrors.NewNotFound(id)
	case backend.ErrClosed:
		return storeerrors.NewDBUnavailable()
	default:
		return err
	}
}
