package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/remitflow/golang_services/internal/platform/kvstore"
	"github.com/remitflow/golang_services/internal/transaction_service/domain"
)

// Store is the local transaction store. It is the only component that touches
// transaction keys in the KV store; all writes fan out to the redundant slots.
type Store struct {
	kv        kvstore.Store
	sessionID string
	logger    *slog.Logger

	mu       sync.Mutex
	fallback []byte // in-process slot, survives KV outages but not restarts
}

func New(kv kvstore.Store, sessionID string, logger *slog.Logger) *Store {
	return &Store{
		kv:        kv,
		sessionID: sessionID,
		logger:    logger.With("component", "transaction_store"),
	}
}

// Put writes tx to every slot. Only a canonical write failure is returned.
func (s *Store) Put(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", domain.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(ctx, tx)
}

func (s *Store) put(ctx context.Context, tx *domain.Transaction) error {
	raw, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("%w: encode transaction %s: %v", domain.ErrStorage, tx.ID, err)
	}

	var canonicalErr error
	for _, sl := range s.writeSlots(tx.ID) {
		if err := s.kv.Set(ctx, sl.key, raw); err != nil {
			slotWriteFailuresCounter.WithLabelValues(sl.name).Inc()
			s.logger.WarnContext(ctx, "Storage slot write failed", "slot", sl.name, "transaction_id", tx.ID, "error", err)
			if sl.name == "canonical" {
				canonicalErr = err
			}
		}
	}
	if canonicalErr != nil {
		return fmt.Errorf("%w: write transaction %s: %v", domain.ErrStorage, tx.ID, canonicalErr)
	}
	return nil
}

// Checkpoint writes tx to the compatibility slots and the in-process fallback.
// Best effort: failures are logged and counted only.
func (s *Store) Checkpoint(ctx context.Context, tx *domain.Transaction) {
	raw, err := json.Marshal(tx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to encode checkpoint", "transaction_id", tx.ID, "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fallback = raw
	for _, sl := range []slot{{name: "legacy_pending", key: legacyPendingKey}, {name: "legacy_last", key: legacyLastKey}} {
		if err := s.kv.Set(ctx, sl.key, raw); err != nil {
			slotWriteFailuresCounter.WithLabelValues(sl.name).Inc()
			s.logger.WarnContext(ctx, "Checkpoint slot write failed", "slot", sl.name, "transaction_id", tx.ID, "error", err)
		}
	}
}

// Get returns the transaction from the first slot holding a decodable copy.
// A hit on any slot but the canonical one rewrites the canonical key.
func (s *Store) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(ctx, id)
}

// get returns ErrNotFound only when every slot cleanly missed. If any slot
// read failed and nothing decoded, the record may still exist: ErrStorage.
func (s *Store) get(ctx context.Context, id string) (*domain.Transaction, error) {
	var readErr error
	for i, sl := range s.readSlots(id) {
		raw, err := s.kv.Get(ctx, sl.key)
		if err != nil {
			if !errors.Is(err, kvstore.ErrKeyNotFound) {
				s.logger.WarnContext(ctx, "Storage slot read failed", "slot", sl.name, "transaction_id", id, "error", err)
				readErr = errors.Join(readErr, fmt.Errorf("%s: %w", sl.name, err))
			}
			continue
		}
		tx, ok := s.decode(ctx, raw, id, sl.name)
		if !ok {
			continue
		}
		if i > 0 {
			s.repair(ctx, tx, sl.name)
		}
		return tx, nil
	}

	if s.fallback != nil {
		if tx, ok := s.decode(ctx, s.fallback, id, "process"); ok {
			s.repair(ctx, tx, "process")
			return tx, nil
		}
	}
	if readErr != nil {
		return nil, fmt.Errorf("%w: read transaction %s: %v", domain.ErrStorage, id, readErr)
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
}

func (s *Store) decode(ctx context.Context, raw []byte, id, slotName string) (*domain.Transaction, bool) {
	var tx domain.Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		s.logger.WarnContext(ctx, "Skipping undecodable slot", "slot", slotName, "transaction_id", id, "error", err)
		return nil, false
	}
	if tx.ID != id {
		return nil, false
	}
	return &tx, true
}

func (s *Store) repair(ctx context.Context, tx *domain.Transaction, from string) {
	fallbackReadsCounter.WithLabelValues(from).Inc()
	s.logger.InfoContext(ctx, "Read served by fallback slot, repairing", "slot", from, "transaction_id", tx.ID)
	if err := s.put(ctx, tx); err != nil {
		s.logger.WarnContext(ctx, "Read repair failed", "transaction_id", tx.ID, "error", err)
	}
}

// Update merges patch into the stored record. It never creates a record.
// A stale patch returns the current record together with ErrStaleUpdate.
func (s *Store) Update(ctx context.Context, id string, patch domain.Patch) (*domain.Transaction, error) {
	tx, _, err := s.mutate(ctx, id, patch, nil)
	return tx, err
}

// Upsert is Update that starts from seed when id is unknown. It reports whether anything was written.
func (s *Store) Upsert(ctx context.Context, id string, patch domain.Patch, seed *domain.Transaction) (*domain.Transaction, bool, error) {
	if seed == nil {
		seed = &domain.Transaction{ID: id}
	}
	return s.mutate(ctx, id, patch, seed)
}

func (s *Store) mutate(ctx context.Context, id string, patch domain.Patch, seed *domain.Transaction) (*domain.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := false
	current, err := s.get(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) || seed == nil {
			return nil, false, err
		}
		current = seed.Clone()
		current.ID = id
		created = true
	}

	changed, err := current.Apply(patch)
	if err != nil {
		return current, false, fmt.Errorf("update %s: %w", id, err)
	}
	if !changed && !created {
		return current, false, nil
	}
	if err := s.put(ctx, current); err != nil {
		return current, false, err
	}
	return current, true, nil
}

// List returns every transaction with a canonical or backup slot, newest first.
func (s *Store) List(ctx context.Context) ([]*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make(map[string]struct{})
	for _, prefix := range []string{canonicalPrefix, backupPrefix} {
		keys, err := s.kv.Keys(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("%w: list %s: %v", domain.ErrStorage, prefix, err)
		}
		for _, k := range keys {
			ids[strings.TrimPrefix(k, prefix)] = struct{}{}
		}
	}

	out := make([]*domain.Transaction, 0, len(ids))
	for id := range ids {
		tx, err := s.get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes every slot holding id.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, sl := range s.readSlots(id) {
		if sl.shared {
			raw, err := s.kv.Get(ctx, sl.key)
			if err != nil {
				continue
			}
			if _, ok := s.decode(ctx, raw, id, sl.name); !ok {
				continue
			}
		}
		if err := s.kv.Remove(ctx, sl.key); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sl.name, err))
		}
	}
	if s.fallback != nil {
		if _, ok := s.decode(ctx, s.fallback, id, "process"); ok {
			s.fallback = nil
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: delete %s: %v", domain.ErrStorage, id, errors.Join(errs...))
	}
	return nil
}
