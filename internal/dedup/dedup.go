// Package dedup tracks which upstream items were already delivered.
//
// The set is bounded: on Persist only the most recent Cap identifiers are
// kept, oldest dropped first. Loading never fails; unreadable state means
// starting from an empty set.
package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"kvpush/internal/model"
	"kvpush/internal/storage"
	logx "kvpush/pkg/logx"
)

const DefaultCap = 200

// Set is the delivered-id set loaded for one run.
type Set struct {
	store storage.Store
	key   string
	limit int
	log   logx.Logger

	mu    sync.Mutex
	ids   []string
	index map[string]struct{}
}

// New binds a Set to key in store. capacity <= 0 uses DefaultCap.
func New(store storage.Store, key string, capacity int, log logx.Logger) *Set {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Set{
		store: store,
		key:   key,
		limit: capacity,
		log:   log.With(logx.String("comp", "dedup")),
		index: map[string]struct{}{},
	}
}

// Load replaces the in-memory set with the persisted one. A missing key,
// a storage error or an unparseable document all load as empty.
func (s *Set) Load(ctx context.Context) []string {
	ids := s.read(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = s.ids[:0]
	s.index = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := s.index[id]; ok || id == "" {
			continue
		}
		s.index[id] = struct{}{}
		s.ids = append(s.ids, id)
	}
	return append([]string(nil), s.ids...)
}

func (s *Set) read(ctx context.Context) []string {
	b, err := s.store.Get(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		s.log.Warn("delivered set unreadable; starting empty", logx.String("key", s.key), logx.Err(err))
		return nil
	}
	ids, err := decode(b)
	if err != nil {
		s.log.Warn("delivered set corrupt; starting empty", logx.String("key", s.key), logx.Err(err))
		return nil
	}
	return ids
}

func decode(b []byte) ([]string, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(raw))
	for i, r := range raw {
		id, err := model.Scalar(r)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Set) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[id]
	return ok
}

// Record appends id in delivery order. It reports false if id was already present.
func (s *Set) Record(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[id]; ok {
		return false
	}
	s.index[id] = struct{}{}
	s.ids = append(s.ids, id)
	return true
}

// Len is the number of ids held in memory.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Persist trims the set to the most recent Cap ids and writes it.
func (s *Set) Persist(ctx context.Context) error {
	s.mu.Lock()
	if over := len(s.ids) - s.limit; over > 0 {
		for _, id := range s.ids[:over] {
			delete(s.index, id)
		}
		s.ids = append([]string(nil), s.ids[over:]...)
	}
	b, err := json.Marshal(s.ids)
	n := len(s.ids)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := s.store.Put(ctx, s.key, b); err != nil {
		return fmt.Errorf("persist %s: %w", s.key, err)
	}
	s.log.Debug("delivered set persisted", logx.Int("size", n))
	return nil
}
