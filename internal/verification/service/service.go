package service

import (
	"context"
	"errors"
	"log/slog"

	"civverify/internal/platform/metrics"
	"civverify/internal/verification/models"
	dErrors "civverify/pkg/domain-errors"
	"civverify/pkg/platform/sentinel"
	"civverify/pkg/requestcontext"
)

// Store is the registry the service mutates. Add and Delete persist before
// returning.
type Store interface {
	List(ctx context.Context) []models.VerifiedUser
	Add(ctx context.Context, ckey, discord string) ([]models.VerifiedUser, error)
	Delete(ctx context.Context, ckey, discord string) ([]models.VerifiedUser, error)
}

// Authorizer is the mutation gate.
type Authorizer interface {
	Authorize(token string) error
}

// Service orchestrates gated reads and writes of the verification registry.
type Service struct {
	store   Store
	gate    Authorizer
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs a Service.
func New(store Store, gate Authorizer, opts ...Option) *Service {
	s := &Service{store: store, gate: gate, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns every verified user in insertion order.
func (s *Service) List(ctx context.Context) []models.VerifiedUser {
	return s.store.List(ctx)
}

// Mutate checks the token, then adds or deletes according to req.Intent().
// The gate runs before the registry is touched.
func (s *Service) Mutate(ctx context.Context, req models.MutateRequest) (models.Outcome, error) {
	if err := s.gate.Authorize(req.Token); err != nil {
		s.logger.WarnContext(ctx, "rejected registry write",
			"request_id", requestcontext.RequestID(ctx),
			"client_ip", requestcontext.ClientIP(ctx),
			"reason", metrics.ReasonUnauthorized,
		)
		s.reject(metrics.ReasonUnauthorized)
		return "", err
	}

	switch req.Intent() {
	case models.IntentDelete:
		return s.delete(ctx, req)
	default:
		return s.add(ctx, req)
	}
}

// add appends a record unless one already holds either identity. Empty
// identities never match, so an add with both empty always succeeds.
func (s *Service) add(ctx context.Context, req models.MutateRequest) (models.Outcome, error) {
	if _, err := s.store.Add(ctx, req.CKey, req.Discord); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.reject(metrics.ReasonConflict)
			return "", dErrors.New(dErrors.CodeConflict, "User already exists")
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to add user")
	}

	s.logger.InfoContext(ctx, "verified user added",
		"request_id", requestcontext.RequestID(ctx),
		"ckey", req.CKey,
		"discord", req.Discord,
	)
	if s.metrics != nil {
		s.metrics.IncrementUsersAdded()
	}
	return models.OutcomeAdded, nil
}

func (s *Service) delete(ctx context.Context, req models.MutateRequest) (models.Outcome, error) {
	if _, err := s.store.Delete(ctx, req.CKey, req.Discord); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.reject(metrics.ReasonNotFound)
			return "", dErrors.New(dErrors.CodeNotFound, "User not found")
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete user")
	}

	s.logger.InfoContext(ctx, "verified user deleted",
		"request_id", requestcontext.RequestID(ctx),
		"ckey", req.CKey,
		"discord", req.Discord,
	)
	if s.metrics != nil {
		s.metrics.IncrementUsersDeleted()
	}
	return models.OutcomeDeleted, nil
}

func (s *Service) reject(reason string) {
	if s.metrics != nil {
		s.metrics.IncrementRejected(reason)
	}
}
