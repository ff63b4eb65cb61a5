package autoaccept

import (
	"context"
	"log/slog"

	"github.com/example/job-dispatch/internal/coordinator"
	"github.com/example/job-dispatch/internal/geo"
	"github.com/example/job-dispatch/internal/models"
	"github.com/example/job-dispatch/internal/observability"
)

// Acceptor is the slice of the coordinator the offer loop needs.
type Acceptor interface {
	Accept(ctx context.Context, jobID, providerID string) (coordinator.AcceptResult, error)
}

// Service runs the auto-accept pass for a freshly created job: find nearby
// online providers, evaluate each one's rules, and claim for the first
// match. First-committer-wins still holds — a lost race just moves on.
type Service struct {
	Providers geo.ProviderQuerier
	Rules     RuleStore
	Acceptor  Acceptor
	Engine    *Engine
	RadiusKm  float64
	MaxOffers int
	Logger    *slog.Logger
}

func NewService(providers geo.ProviderQuerier, rules RuleStore, acceptor Acceptor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Providers: providers,
		Rules:     rules,
		Acceptor:  acceptor,
		Engine:    NewEngine(),
		RadiusKm:  10,
		MaxOffers: 20,
		Logger:    logger,
	}
}

// Offer returns the id of the provider that auto-claimed the job, or empty
// when no rule matched anywhere.
func (s *Service) Offer(ctx context.Context, job models.Job) (string, error) {
	providers, err := s.Providers.NearbyProviders(ctx, job.Pickup, s.RadiusKm, s.MaxOffers)
	if err != nil {
		return "", err
	}
	for _, p := range providers {
		rules, err := s.Rules.ListRules(ctx, p.ID)
		if err != nil {
			s.Logger.Error("list rules", "provider_id", p.ID, "error", err)
			continue
		}
		if len(rules) == 0 {
			continue
		}
		candidate := job
		candidate.DistanceKm = geo.HaversineKm(p.Location, job.Pickup)
		dec := s.Engine.Decide(candidate, rules)
		if !dec.Accept {
			continue
		}
		res, err := s.Acceptor.Accept(ctx, job.ID, p.ID)
		if err != nil {
			return "", err
		}
		switch res.Status {
		case coordinator.Accepted:
			observability.AutoAcceptsTotal.Inc()
			s.Logger.Info("auto-accepted", "job_id", job.ID, "provider_id", p.ID, "rule_id", dec.Matched.ID)
			return p.ID, nil
		case coordinator.JobNotAvailable:
			// someone else claimed meanwhile; nothing left to offer
			return "", nil
		case coordinator.ProviderHasActiveJob:
			// stale availability in the geo index; try the next provider
			continue
		}
	}
	return "", nil
}
