package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"civverify/internal/platform/metrics"
	"civverify/internal/verification/models"
	"civverify/pkg/platform/sentinel"
	"civverify/pkg/requestcontext"
)

//go:generate mockgen -source=registry.go -destination=mocks/persister-mocks.go -package=mocks Persister

// Persister durably mirrors the full registry.
type Persister interface {
	Save(ctx context.Context, users []models.VerifiedUser) error
}

// Registry is the sole owner of the in-memory verification list.
//
// One mutex covers the whole list and the durable rewrite that follows a
// mutation, so a reader never observes a change that has not been handed to the
// Persister. Insertion order is preserved.
type Registry struct {
	mu        sync.Mutex
	users     []models.VerifiedUser
	persister Persister
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(r *Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry takes ownership of a copy of initial.
func NewRegistry(initial []models.VerifiedUser, persister Persister, opts ...Option) *Registry {
	r := &Registry{
		users:     append([]models.VerifiedUser{}, initial...),
		persister: persister,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.observeSize()
	return r
}

// List returns a snapshot of the registry in insertion order.
func (r *Registry) List(_ context.Context) []models.VerifiedUser {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// FindMatch returns the position of the first record holding discord or ckey.
func (r *Registry) FindMatch(_ context.Context, ckey, discord string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findMatch(ckey, discord)
}

// Add appends a record for (ckey, discord) stamped with the request time and
// persists the new list. Returns sentinel.ErrConflict if either identity is taken.
func (r *Registry) Add(ctx context.Context, ckey, discord string) ([]models.VerifiedUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pos, err := r.findMatch(ckey, discord); err == nil {
		return nil, fmt.Errorf("record %d holds ckey %q or discord %q: %w", pos, ckey, discord, sentinel.ErrConflict)
	}

	r.users = append(r.users, models.NewVerifiedUser(ckey, discord, requestcontext.Now(ctx)))
	snapshot := r.snapshot()
	r.persist(ctx, snapshot)
	return snapshot, nil
}

// Delete removes the first record holding discord or ckey and persists the new
// list. Returns sentinel.ErrNotFound if nothing matches.
func (r *Registry) Delete(ctx context.Context, ckey, discord string) ([]models.VerifiedUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, err := r.findMatch(ckey, discord)
	if err != nil {
		return nil, err
	}

	r.users = append(r.users[:pos], r.users[pos+1:]...)
	snapshot := r.snapshot()
	r.persist(ctx, snapshot)
	return snapshot, nil
}

// findMatch must be called with mu held.
func (r *Registry) findMatch(ckey, discord string) (int, error) {
	for i, u := range r.users {
		if u.Matches(ckey, discord) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("no record for ckey %q or discord %q: %w", ckey, discord, sentinel.ErrNotFound)
}

func (r *Registry) snapshot() []models.VerifiedUser {
	return append([]models.VerifiedUser{}, r.users...)
}

// persist must be called with mu held. A failed write leaves memory ahead of
// disk until the next successful mutation rewrites the file.
func (r *Registry) persist(ctx context.Context, snapshot []models.VerifiedUser) {
	r.observeSize()
	if err := r.persister.Save(ctx, snapshot); err != nil {
		r.logger.ErrorContext(ctx, "failed to persist registry",
			"request_id", requestcontext.RequestID(ctx),
			"records", len(snapshot),
			"error", err,
		)
		if r.metrics != nil {
			r.metrics.IncrementPersistFailures()
		}
	}
}

func (r *Registry) observeSize() {
	if r.metrics != nil {
		r.metrics.SetRegistrySize(len(r.users))
	}
}
