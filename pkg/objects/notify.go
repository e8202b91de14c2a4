package objects

import (
	"context"

	"github.com/ottohome/objectdb/internal/logger"
	"github.com/ottohome/objectdb/pkg/keys"
	storeerrors "github.com/ottohome/objectdb/pkg/objects/errors"
)

// Subscribe registers a change subscription for an id glob pattern.
// Matching set, extend and delete operations are delivered to the
// configured ChangeHandler; deletions arrive with a nil object.
func (s *Store) Subscribe(ctx context.Context, pattern string, opts *Options) error {
	actor, rights, err := opts.resolve(ctx, s.sec, s.resolver)
	if err != nil {
		return err
	}
	if !actor.IsAdmin(s.sec) && !rights.Object.List {
		return storeerrors.NewPermissionDenied(pattern)
	}

	matcher, err := keys.CompileMatcher(pattern)
	if err != nil {
		return storeerrors.NewInvalidParameter("invalid pattern " + pattern)
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, existing := range s.subs {
		if existing.Pattern() == pattern {
			return nil
		}
	}
	if err := s.backend.PSubscribe(ctx, s.ns.Objects+pattern); err != nil {
		return mapBackendErr(err, pattern)
	}
	s.subs = append(s.subs, matcher)
	return nil
}

// Unsubscribe removes a change subscription. Unsubscribing an unknown
// pattern succeeds.
func (s *Store) Unsubscribe(ctx context.Context, pattern string, opts *Options) error {
	actor, rights, err := opts.resolve(ctx, s.sec, s.resolver)
	if err != nil {
		return err
	}
	if !actor.IsAdmin(s.sec) && !rights.Object.List {
		return storeerrors.NewPermissionDenied(pattern)
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for i, existing := range s.subs {
		if existing.Pattern() == pattern {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			if err := s.backend.PUnsubscribe(ctx, s.ns.Objects+pattern); err != nil {
				return mapBackendErr(err, pattern)
			}
			return nil
		}
	}
	return nil
}

// run consumes backend deliveries until Stop. The system configuration
// object is intercepted on every delivery: its default-ACL policy is
// installed atomically and objects without rights are swept.
func (s *Store) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case msg, ok := <-s.backend.Messages():
			if !ok {
				return
			}
			id, valid := s.ns.ObjectID(msg.Channel)
			if !valid {
				continue
			}

			var obj *Object
			if string(msg.Payload) != "null" {
				decoded, err := decodeObject(id, msg.Payload)
				if err != nil {
					logger.Error("change notification not parsable", "id", id, "error", err)
					continue
				}
				obj = decoded
			}

			if id == configID {
				s.handleConfigChange(obj)
			}
			s.dispatch(id, obj)
		}
	}
}

// handleConfigChange hot-reloads the default-ACL policy from a changed
// system configuration.
func (s *Store) handleConfigChange(obj *Object) {
	t := templateFromConfig(obj)
	if t == nil {
		return
	}
	current := s.template.Load()
	if current != nil && *current == *t {
		return
	}
	s.template.Reload(t)
	logger.Info("default ACL policy changed, sweeping objects without rights")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.applyDefaultACL(context.Background())
	}()
}

// dispatch forwards a change to the handler when a subscription matches.
func (s *Store) dispatch(id string, obj *Object) {
	if s.onChange == nil {
		return
	}
	s.subMu.RLock()
	matched := false
	for _, sub := range s.subs {
		if sub.Match(id) {
			matched = true
			break
		}
	}
	s.subMu.RUnlock()
	if matched {
		s.onChange(id, obj)
	}
}
