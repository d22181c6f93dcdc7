package candidates

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"influencer-match/internal/common/errors"
	"influencer-match/internal/common/logger"
	"influencer-match/internal/models"
)

var candidateColumns = []string{
	"id", "name", "username", "niche", "price_per_post", "bio",
	"instagram_url", "tiktok_url", "youtube_url", "profile_image",
}

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func budget(v float64) *float64 { return &v }

func TestPostgresRepository_BudgetFilter(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresRepository(db, 10, logger.NewTestLogger(t))

	// Only the 3M and 4.5M rows satisfy price_per_post <= 5M; the 6M row
	// never leaves the database.
	rows := sqlmock.NewRows(candidateColumns).
		AddRow("a", "Ayu", "ayu.eats", "Food", 3000000.0, "Street food", "https://instagram.com/ayu", "", "", "a.png").
		AddRow("b", "Bima", "bima", "Food & Travel", 4500000.0, "Culinary trips", "", "https://tiktok.com/@bima", "", "")

	mock.ExpectQuery(regexp.QuoteMeta("i.price_per_post <= $2")).
		WithArgs("%Food%", 5000000.0, 10).
		WillReturnRows(rows)

	pool, err := repo.Query(context.Background(), models.CandidateFilters{Niche: "Food", MaxPrice: budget(5000000)})
	require.NoError(t, err)
	require.Len(t, pool, 2)

	for _, c := range pool {
		assert.LessOrEqual(t, c.PricePerPost, 5000000.0)
	}
	assert.Equal(t, "Ayu", pool[0].Name)
	assert.True(t, pool[0].Platforms.Instagram)
	assert.False(t, pool[0].Platforms.TikTok)
	assert.True(t, pool[1].Platforms.TikTok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_NoFilters(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresRepository(db, 0, logger.NewNoOpLogger())

	mock.ExpectQuery(`FROM influencers i\s+JOIN users u ON u.id = i.user_id\s+ORDER BY i.reputation_score DESC NULLS LAST, i.id\s+LIMIT \$1`).
		WithArgs(DefaultPoolCap).
		WillReturnRows(sqlmock.NewRows(candidateColumns))

	pool, err := repo.Query(context.Background(), models.CandidateFilters{})
	require.NoError(t, err)
	assert.NotNil(t, pool)
	assert.Empty(t, pool)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_EscapesLikeMetacharacters(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresRepository(db, 5, logger.NewNoOpLogger())

	mock.ExpectQuery(regexp.QuoteMeta(`i.niche ILIKE $1 ESCAPE '\'`)).
		WithArgs(`%100\%\_pure%`, 5).
		WillReturnRows(sqlmock.NewRows(candidateColumns))

	_, err := repo.Query(context.Background(), models.CandidateFilters{Niche: "  100%_pure "})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_LimitNeverExceedsPoolCap(t *testing.T) {
	tests := []struct {
		name      string
		poolCap   int
		requested int
		want      int
	}{
		{"default cap", 0, 0, 10},
		{"cap below range clamps up", 2, 0, 5},
		{"cap above range clamps down", 50, 0, 10},
		{"smaller request honoured", 10, 7, 7},
		{"larger request capped", 6, 40, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupMockDB(t)
			repo := NewPostgresRepository(db, tt.poolCap, logger.NewNoOpLogger())

			mock.ExpectQuery("LIMIT").WithArgs(tt.want).WillReturnRows(sqlmock.NewRows(candidateColumns))

			_, err := repo.Query(context.Background(), models.CandidateFilters{Limit: tt.requested})
			require.NoError(t, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresRepository_QueryErrorIsInternal(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresRepository(db, 10, logger.NewNoOpLogger())

	mock.ExpectQuery("SELECT").WillReturnError(fmt.Errorf("connection refused"))

	pool, err := repo.Query(context.Background(), models.CandidateFilters{Niche: "Beauty"})
	require.Error(t, err)
	assert.Nil(t, pool)
	assert.Equal(t, errors.ErrCodeInternal, errors.CodeOf(err))
	assert.Contains(t, errors.Normalize(err).Details, "connection refused")
}

func TestPostgresRepository_ScanErrorIsInternal(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresRepository(db, 10, logger.NewNoOpLogger())

	mock.ExpectQuery("SELECT").WillReturnRows(
		sqlmock.NewRows(candidateColumns).
			AddRow("a", "Ayu", "ayu", "Food", "not-a-number", "", "", "", "", ""),
	)

	_, err := repo.Query(context.Background(), models.CandidateFilters{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInternal, errors.CodeOf(err))
}
