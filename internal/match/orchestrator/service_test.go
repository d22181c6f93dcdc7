package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"influencer-match/internal/common/errors"
	"influencer-match/internal/common/logger"
	"influencer-match/internal/match/prompt"
	"influencer-match/internal/match/ranking"
	"influencer-match/internal/models"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) Query(ctx context.Context, f models.CandidateFilters) ([]models.CandidateProfile, error) {
	args := m.Called(ctx, f)
	pool, _ := args.Get(0).([]models.CandidateProfile)
	return pool, args.Error(1)
}

func repoReturning(pool []models.CandidateProfile, err error) *mockRepository {
	repo := &mockRepository{}
	repo.On("Query", mock.Anything, mock.AnythingOfType("models.CandidateFilters")).Return(pool, err)
	return repo
}

type countingRanker struct {
	result models.RankingResult
	err    error
	calls  int
	seen   prompt.RankingInstruction
}

func (c *countingRanker) Rank(_ context.Context, instruction prompt.RankingInstruction) (models.RankingResult, error) {
	c.calls++
	c.seen = instruction
	return c.result, c.err
}

func budget(v float64) *float64 { return &v }

func poolOf(ids ...string) []models.CandidateProfile {
	pool := make([]models.CandidateProfile, 0, len(ids))
	for _, id := range ids {
		pool = append(pool, models.CandidateProfile{ID: id, Name: "Influencer " + id, Niche: "Food", PricePerPost: 1500000})
	}
	return pool
}

func newService(t *testing.T, repo *mockRepository, r ranking.Ranker) *Service {
	t.Helper()
	return NewService(repo, prompt.NewBuilder(prompt.Config{}), r, 10, logger.NewTestLogger(t))
}

var brief = models.CampaignRequest{
	Budget:         budget(5000000),
	Niche:          "Food",
	TargetAudience: "Gen Z in Jakarta",
	CampaignGoal:   "Launch a new coffee menu",
}

func TestMatch_EmptyPoolSkipsRanking(t *testing.T) {
	repo := repoReturning(nil, nil)
	ranker := &countingRanker{}
	svc := newService(t, repo, ranker)

	res, err := svc.Match(context.Background(), brief)
	require.NoError(t, err)

	repo.AssertNumberOfCalls(t, "Query", 1)
	assert.Equal(t, 0, ranker.calls)
	assert.Equal(t, MessageNoCandidates, res.Message)
	assert.NotNil(t, res.Influencers)
	assert.Empty(t, res.Influencers)
	assert.Equal(t, "EMPTY_POOL", Outcome(res, nil))
}

func TestMatch_PassesFiltersThrough(t *testing.T) {
	repo := &mockRepository{}
	repo.On("Query", mock.Anything, mock.MatchedBy(func(f models.CandidateFilters) bool {
		return f.Niche == "Food" && f.MaxPrice != nil && *f.MaxPrice == 5000000 && f.Limit == 10
	})).Return([]models.CandidateProfile{}, nil).Once()
	svc := newService(t, repo, &countingRanker{})

	_, err := svc.Match(context.Background(), brief)
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestMatch_ReturnsSubsetOfPool(t *testing.T) {
	repo := repoReturning(poolOf("1", "2", "3", "4", "5"), nil)
	ranker := &countingRanker{result: models.RankingResult{
		{CandidateID: "4", MatchScore: 81, Reasoning: "Strong food audience"},
		{CandidateID: "99", MatchScore: 99, Reasoning: "Not in pool"},
		{CandidateID: "2", MatchScore: 92, Reasoning: "Gen Z reach"},
	}}
	svc := newService(t, repo, ranker)

	res, err := svc.Match(context.Background(), brief)
	require.NoError(t, err)

	assert.Equal(t, 1, ranker.calls)
	assert.Len(t, ranker.seen.Candidates(), 5)
	assert.Equal(t, MessageComplete, res.Message)
	require.Len(t, res.Influencers, 2)
	assert.Equal(t, "2", res.Influencers[0].ID)
	assert.Equal(t, 92, res.Influencers[0].MatchScore)
	assert.Equal(t, "4", res.Influencers[1].ID)
	assert.Equal(t, "Influencer 4", res.Influencers[1].Name)
	assert.Equal(t, "OK", Outcome(res, nil))
}

func TestMatch_RankerFailures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   errors.ErrorCode
		wantStatus int
	}{
		{
			name:       "timeout",
			err:        errors.NewUpstreamTimeoutError(25 * time.Second),
			wantCode:   errors.ErrCodeUpstreamTimeout,
			wantStatus: http.StatusGatewayTimeout,
		},
		{
			name:       "quota",
			err:        errors.NewThrottledError("quota", 30*time.Second),
			wantCode:   errors.ErrCodeThrottled,
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name:       "auth",
			err:        errors.NewUpstreamAuthError("401"),
			wantCode:   errors.ErrCodeUpstreamAuth,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "malformed output",
			err:        errors.NewMalformedOutputError("not json"),
			wantCode:   errors.ErrCodeUpstreamUnavailable,
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "unclassified",
			err:        fmt.Errorf("boom"),
			wantCode:   errors.ErrCodeInternal,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := repoReturning(poolOf("1", "2"), nil)
			svc := newService(t, repo, &countingRanker{err: tt.err})

			res, err := svc.Match(context.Background(), brief)
			require.Error(t, err)
			assert.Nil(t, res)

			var stdErr *errors.StandardError
			assert.ErrorAs(t, err, &stdErr)
			assert.Equal(t, tt.wantStatus, HTTPStatus(err))
			assert.Equal(t, string(tt.wantCode), Outcome(nil, err))
		})
	}
}

func TestMatch_RepositoryFailure(t *testing.T) {
	repo := repoReturning(nil, errors.NewInternalError(fmt.Errorf("postgres: connection refused")))
	ranker := &countingRanker{}
	svc := newService(t, repo, ranker)

	_, err := svc.Match(context.Background(), brief)
	require.Error(t, err)
	assert.Equal(t, 0, ranker.calls)
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))
	assert.NotContains(t, PublicMessage(errors.CodeOf(err)), "postgres")
}

func TestMatch_WorksWithRankerFunc(t *testing.T) {
	repo := repoReturning(poolOf("7"), nil)
	fn := ranking.RankerFunc(func(_ context.Context, in prompt.RankingInstruction) (models.RankingResult, error) {
		assert.Contains(t, in.Prompt(), `"Launch a new coffee menu"`)
		return models.RankingResult{{CandidateID: "7", MatchScore: 70, Reasoning: "ok"}}, nil
	})

	res, err := newService(t, repo, fn).Match(context.Background(), brief)
	require.NoError(t, err)
	require.Len(t, res.Influencers, 1)
	assert.Equal(t, "7", res.Influencers[0].ID)
}
