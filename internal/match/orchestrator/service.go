// Package orchestrator sequences one match request through fetch, prompt,
// rank and merge.
package orchestrator

import (
	"context"
	"time"

	"influencer-match/internal/common/errors"
	"influencer-match/internal/common/metrics"
	"influencer-match/internal/match/candidates"
	"influencer-match/internal/match/merge"
	"influencer-match/internal/match/prompt"
	"influencer-match/internal/match/ranking"
	"influencer-match/internal/models"
)

const (
	MessageNoCandidates = "No influencers found matching basic criteria (Budget/Niche). Try adjusting filters."
	MessageComplete     = "AI matching complete."
)

// Stage names as they appear in logs.
const (
	StageReceived  = "received"
	StageGuarded   = "guarded"
	StageFetched   = "fetched"
	StageEmptyPool = "empty_pool"
	StagePrompted  = "prompted"
	StageRanked    = "ranked"
	StageFailure   = "failure"
	StageMerged    = "merged"
)

// Result is the success payload under "data".
type Result struct {
	Influencers []models.MatchedInfluencer `json:"influencers"`
	Message     string                     `json:"message"`
}

// Logger interface definition
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

type Service struct {
	repo    candidates.Repository
	builder *prompt.Builder
	ranker  ranking.Ranker
	poolCap int
	logger  Logger
}

func NewService(repo candidates.Repository, builder *prompt.Builder, ranker ranking.Ranker, poolCap int, log Logger) *Service {
	if poolCap <= 0 {
		poolCap = candidates.DefaultPoolCap
	}
	return &Service{
		repo:    repo,
		builder: builder,
		ranker:  ranker,
		poolCap: poolCap,
		logger:  log,
	}
}

// Match runs a guarded request to completion. Returned errors are always
// *errors.StandardError.
func (s *Service) Match(ctx context.Context, req models.CampaignRequest) (*Result, error) {
	start := time.Now()
	s.stage(StageGuarded, map[string]interface{}{
		"niche":          req.Niche,
		"hasBudget":      req.Budget != nil,
		"targetAudience": req.TargetAudience,
	})

	pool, err := s.repo.Query(ctx, req.Filters(s.poolCap))
	if err != nil {
		return nil, s.fail(err, "fetch")
	}
	metrics.CandidatePoolSize.Observe(float64(len(pool)))
	s.stage(StageFetched, map[string]interface{}{"poolSize": len(pool)})

	if len(pool) == 0 {
		s.stage(StageEmptyPool, nil)
		return &Result{Influencers: []models.MatchedInfluencer{}, Message: MessageNoCandidates}, nil
	}

	instruction := s.builder.Build(req, pool)
	s.stage(StagePrompted, map[string]interface{}{"promptChars": len(instruction.Prompt())})

	ranked, err := s.ranker.Rank(ctx, instruction)
	if err != nil {
		return nil, s.fail(err, "rank")
	}
	s.stage(StageRanked, map[string]interface{}{"recommendations": len(ranked)})

	influencers := merge.Merge(instruction.Candidates(), ranked, s.logger)
	s.stage(StageMerged, map[string]interface{}{
		"returned":   len(influencers),
		"durationMs": time.Since(start).Milliseconds(),
	})

	return &Result{Influencers: influencers, Message: MessageComplete}, nil
}

func (s *Service) stage(name string, fields map[string]interface{}) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["stage"] = name
	s.logger.Info("match stage", fields)
}

func (s *Service) fail(err error, step string) error {
	stdErr := errors.Normalize(err)
	s.logger.Error("match stage", map[string]interface{}{
		"stage":     StageFailure,
		"step":      step,
		"errorCode": string(stdErr.Code),
		"details":   stdErr.Details,
	})
	return stdErr
}

// HTTPStatus maps a pipeline error to its response status.
func HTTPStatus(err error) int {
	return errors.HTTPStatus(errors.ExternalCode(errors.CodeOf(err)))
}

// PublicMessage is the caller-facing text for a code.
func PublicMessage(code errors.ErrorCode) string {
	return errors.PublicMessage(errors.ExternalCode(code))
}

// Outcome labels a finished request for metrics.
func Outcome(result *Result, err error) string {
	switch {
	case err != nil:
		return string(errors.ExternalCode(errors.CodeOf(err)))
	case result != nil && len(result.Influencers) == 0 && result.Message == MessageNoCandidates:
		return "EMPTY_POOL"
	default:
		return "OK"
	}
}
