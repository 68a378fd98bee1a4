package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/evallog"
	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/repository"
	"github.com/switchyard-io/switchyard/pkg/evaluation"
)

// SnapshotSource is the cache layer as seen from the decision path.
type SnapshotSource interface {
	GetFlag(ctx context.Context, projectKey, flagKey, envKey string) (*evaluation.FlagSnapshot, error)
	GetEnvironment(ctx context.Context, projectKey, envKey string) ([]*evaluation.FlagSnapshot, error)
}

// DecisionService orchestrates the decision path: cache lookup, evaluation,
// and the fire-and-forget evaluation log write. It never returns an error;
// every failure mode degrades to a disabled decision with a reason from the
// closed set, because decision requests never fail open and never fail loud.
type DecisionService struct {
	snapshots SnapshotSource
	evaluator *evaluation.Evaluator
	sink      *evallog.Sink
	logger    zerolog.Logger
}

// NewDecisionService creates a new decision service. A nil sink disables
// evaluation logging.
func NewDecisionService(snapshots SnapshotSource, sink *evallog.Sink, logger zerolog.Logger) *DecisionService {
	return &DecisionService{
		snapshots: snapshots,
		evaluator: evaluation.NewEvaluator(),
		sink:      sink,
		logger:    logger.With().Str("service", "decision").Logger(),
	}
}

// Evaluate decides one flag for one subject. logDecision gates the
// evaluation log write; callers default it on for single decisions.
func (s *DecisionService) Evaluate(ctx context.Context, projectKey, envKey, flagKey string, raw map[string]any, logDecision bool) evaluation.Decision {
	normalized := evaluation.NormalizeContext(raw)

	snap, err := s.snapshots.GetFlag(ctx, projectKey, flagKey, envKey)
	if err != nil {
		d := evaluation.Decision{Key: flagKey, Enabled: false, Reason: evaluation.ReasonError}
		if errors.Is(err, repository.ErrNotFound) {
			d.Reason = evaluation.ReasonFlagNotFound
		} else {
			s.logger.Error().Err(err).
				Str("project", projectKey).
				Str("flag", flagKey).
				Str("environment", envKey).
				Msg("Snapshot load failed, degrading decision")
		}
		if logDecision {
			s.log(projectKey, envKey, normalized, d)
		}
		return d
	}

	d := s.evaluator.Evaluate(snap, envKey, normalized)
	if logDecision {
		s.log(projectKey, envKey, normalized, d)
	}
	return d
}

// EvaluateAll decides every non-archived flag in an environment for one
// subject. Bulk decisions are not logged; per-flag log volume at bootstrap
// time would dwarf the single-decision traffic.
func (s *DecisionService) EvaluateAll(ctx context.Context, projectKey, envKey string, raw map[string]any) []evaluation.Decision {
	normalized := evaluation.NormalizeContext(raw)

	snaps, err := s.snapshots.GetEnvironment(ctx, projectKey, envKey)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Error().Err(err).
				Str("project", projectKey).
				Str("environment", envKey).
				Msg("Bootstrap load failed, degrading bulk decision")
		}
		return nil
	}

	decisions := make([]evaluation.Decision, 0, len(snaps))
	for _, snap := range snaps {
		decisions = append(decisions, s.evaluator.Evaluate(snap, envKey, normalized))
	}
	return decisions
}

// Bootstrap returns the environment's snapshot list for SDK clients.
func (s *DecisionService) Bootstrap(ctx context.Context, projectKey, envKey string) ([]*evaluation.FlagSnapshot, error) {
	return s.snapshots.GetEnvironment(ctx, projectKey, envKey)
}

func (s *DecisionService) log(projectKey, envKey string, ctx evaluation.Context, d evaluation.Decision) {
	if s.sink == nil {
		return
	}
	contextJSON, err := json.Marshal(ctx)
	if err != nil {
		contextJSON = []byte("{}")
	}
	s.sink.Log(evallog.Record{
		ProjectKey:  projectKey,
		EnvKey:      envKey,
		FlagKey:     d.Key,
		SubjectID:   d.SubjectID,
		Context:     contextJSON,
		Enabled:     d.Enabled,
		VariantKey:  d.VariantKey(),
		MatchedRule: d.RuleID,
		Reason:      string(d.Reason),
		EvaluatedAt: time.Now().UTC(),
	})
}
