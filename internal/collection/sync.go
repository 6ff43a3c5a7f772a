// Package collection keeps a local, ordered copy of a server-persisted
// collection (profiles, sequences) with at most one active item.
package collection

import (
	"context"
	"fmt"
	"log"
	"sync"

	"drinky-board/internal/model"
	"drinky-board/internal/remote"
)

// Store is the authoritative remote copy.
type Store interface {
	GetAll(ctx context.Context, collection string) ([]model.Item, error)
	Add(ctx context.Context, collection string, item model.Item) (string, error)
	Edit(ctx context.Context, collection, id string, item model.Item) error
	Delete(ctx context.Context, collection, id string) error
	DeactivateExcept(ctx context.Context, collection, id string) error
	UpdateOrder(ctx context.Context, collection string, ids []string) error
}

// Sync mirrors one collection. Mutations are serialized and always end in a
// full re-fetch; local state is never patched in place except for the
// optimistic reorder, which the next fetch replaces.
type Sync struct {
	name  string
	store Store

	opMu sync.Mutex

	mu      sync.Mutex
	items   []model.Item
	loaded  bool
	stale   bool
	subs    map[int]func([]model.Item)
	nextSub int
}

// New returns an empty mirror of the named collection.
func New(name string, store Store) *Sync {
	return &Sync{name: name, store: store, subs: make(map[int]func([]model.Item))}
}

// Name of the mirrored collection.
func (s *Sync) Name() string { return s.name }

// Items returns a copy of the local view in order.
func (s *Sync) Items() []model.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.items)
}

// Stale reports whether the local view may differ from the server because
// the last fetch after a mutation failed.
func (s *Sync) Stale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale
}

// Subscribe registers fn for every change of the local view.
func (s *Sync) Subscribe(fn func([]model.Item)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// List fetches the collection. On failure the previous local view is kept.
func (s *Sync) List(ctx context.Context) ([]model.Item, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	return s.Items(), nil
}

// Add creates item and re-fetches. An item marked active deactivates the
// rest once it is saved.
func (s *Sync) Add(ctx context.Context, item model.Item) (string, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	id, err := s.store.Add(ctx, s.name, item)
	if err != nil {
		s.resyncIfAmbiguous(ctx, err)
		return "", err
	}
	var exErr error
	if item.IsActive {
		exErr = s.exclusive(ctx, id)
	}
	if err := s.refresh(ctx); err != nil {
		s.markStale(err)
	}
	return id, exErr
}

// Edit replaces item id and re-fetches. Deactivating the others only happens
// when the edit turns a previously inactive item active.
func (s *Sync) Edit(ctx context.Context, id string, item model.Item) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	wasActive := s.isActive(id)
	return s.save(ctx, id, item, item.IsActive && !wasActive)
}

// SetActive marks id active and every other item inactive.
func (s *Sync) SetActive(ctx context.Context, id string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	item, ok := s.find(id)
	if !ok {
		return remote.Errorf(remote.KindApplication, s.name+" set active", "No such item: %s", id)
	}
	active := model.ActiveIDs(s.Items())
	if item.IsActive && len(active) == 1 {
		return s.refresh(ctx)
	}
	item.IsActive = true
	return s.save(ctx, id, item, true)
}

// Remove deletes id and re-fetches.
func (s *Sync) Remove(ctx context.Context, id string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.store.Delete(ctx, s.name, id); err != nil {
		s.resyncIfAmbiguous(ctx, err)
		return err
	}
	if err := s.refresh(ctx); err != nil {
		s.markStale(err)
	}
	return nil
}

// Reorder applies ids locally at once, then persists them. When persisting
// fails the server order is fetched back; if that fails too the view rolls
// back to the order before the call.
func (s *Sync) Reorder(ctx context.Context, ids []string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	prev := cloneAll(s.items)
	next, err := permute(s.items, ids)
	if err != nil {
		s.mu.Unlock()
		return remote.Errorf(remote.KindApplication, s.name+" reorder", "%v", err)
	}
	s.items = next
	s.mu.Unlock()
	s.publish()

	if err := s.store.UpdateOrder(ctx, s.name, ids); err != nil {
		log.Printf("collection %s: reorder: %v", s.name, err)
		if rerr := s.refresh(ctx); rerr != nil {
			s.mu.Lock()
			s.items = prev
			s.stale = true
			s.mu.Unlock()
			s.publish()
			log.Printf("collection %s: resync after reorder: %v", s.name, rerr)
		}
		return err
	}
	if err := s.refresh(ctx); err != nil {
		s.markStale(err)
	}
	return nil
}

func (s *Sync) save(ctx context.Context, id string, item model.Item, exclusive bool) error {
	if err := s.store.Edit(ctx, s.name, id, item); err != nil {
		s.resyncIfAmbiguous(ctx, err)
		return err
	}
	var exErr error
	if exclusive {
		exErr = s.exclusive(ctx, id)
	}
	if err := s.refresh(ctx); err != nil {
		s.markStale(err)
	}
	return exErr
}

// exclusive runs the companion deactivate call. On failure the local copy
// shows id active and the caller's re-fetch decides the rest; there is no
// automatic retry.
func (s *Sync) exclusive(ctx context.Context, id string) error {
	err := s.store.DeactivateExcept(ctx, s.name, id)
	if err == nil {
		return nil
	}
	s.mu.Lock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].IsActive = true
		}
	}
	s.stale = true
	s.mu.Unlock()
	log.Printf("collection %s: deactivate others of %s: %v", s.name, id, err)
	return &remote.Error{
		Kind:    remote.KindInvariant,
		Op:      s.name + " deactivate-except",
		Message: "Saved, but other items could not be deactivated",
		Err:     err,
	}
}

func (s *Sync) refresh(ctx context.Context) error {
	items, err := s.store.GetAll(ctx, s.name)
	if err != nil {
		return err
	}
	if active := model.ActiveIDs(items); len(active) > 1 {
		log.Printf("collection %s: %d active items on server: %v", s.name, len(active), active)
	}
	s.mu.Lock()
	s.items = items
	s.loaded = true
	s.stale = false
	s.mu.Unlock()
	s.publish()
	return nil
}

func (s *Sync) ensureLoaded(ctx context.Context) error {
	s.mu.Lock()
	loaded := s.loaded
	s.mu.Unlock()
	if loaded {
		return nil
	}
	return s.refresh(ctx)
}

// resyncIfAmbiguous re-fetches when err leaves the outcome unknown.
func (s *Sync) resyncIfAmbiguous(ctx context.Context, err error) {
	if remote.KindOf(err) == remote.KindApplication {
		return
	}
	if rerr := s.refresh(ctx); rerr != nil {
		s.markStale(rerr)
	}
}

func (s *Sync) markStale(err error) {
	s.mu.Lock()
	s.stale = true
	s.mu.Unlock()
	log.Printf("collection %s: refresh: %v", s.name, err)
}

func (s *Sync) isActive(id string) bool {
	it, ok := s.find(id)
	return ok && it.IsActive
}

func (s *Sync) find(id string) (model.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.ID == id {
			return it.Clone(), true
		}
	}
	return model.Item{}, false
}

func (s *Sync) publish() {
	s.mu.Lock()
	items := cloneAll(s.items)
	fns := make([]func([]model.Item), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(items)
	}
}

// permute returns items in the order of ids, which must name each item once.
func permute(items []model.Item, ids []string) ([]model.Item, error) {
	if len(ids) != len(items) {
		return nil, fmt.Errorf("order has %d ids, collection has %d items", len(ids), len(items))
	}
	byID := make(map[string]model.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	out := make([]model.Item, 0, len(ids))
	for _, id := range ids {
		it, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("unknown or repeated id %q", id)
		}
		delete(byID, id)
		out = append(out, it)
	}
	return out, nil
}

func cloneAll(items []model.Item) []model.Item {
	out := make([]model.Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}
