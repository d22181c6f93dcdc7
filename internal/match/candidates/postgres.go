package candidates

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"influencer-match/internal/common/errors"
	"influencer-match/internal/models"
)

const baseQuery = `SELECT i.id::text, COALESCE(u.name, ''), COALESCE(i.username, ''), COALESCE(i.niche, ''),
       COALESCE(i.price_per_post, 0), COALESCE(i.bio, ''),
       COALESCE(i.instagram_url, ''), COALESCE(i.tiktok_url, ''), COALESCE(i.youtube_url, ''),
       COALESCE(u.profile_image, '')
FROM influencers i
JOIN users u ON u.id = i.user_id`

// PostgresRepository reads candidates from the marketplace database.
type PostgresRepository struct {
	db      *sql.DB
	poolCap int
	logger  Logger
}

func NewPostgresRepository(db *sql.DB, poolCap int, log Logger) *PostgresRepository {
	return &PostgresRepository{
		db:      db,
		poolCap: clampPoolCap(poolCap),
		logger:  log,
	}
}

func (r *PostgresRepository) Query(ctx context.Context, filters models.CandidateFilters) ([]models.CandidateProfile, error) {
	limit := effectiveLimit(filters.Limit, r.poolCap)
	query, args := buildQuery(filters, limit)

	r.logger.Debug("querying candidates", filterFields(filters, limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("candidate query failed", map[string]interface{}{"error": err})
		return nil, errors.NewInternalError(fmt.Errorf("postgres: query candidates: %w", err))
	}
	defer rows.Close()

	pool := make([]models.CandidateProfile, 0, limit)
	for rows.Next() {
		var c models.CandidateProfile
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Username, &c.Niche,
			&c.PricePerPost, &c.Bio,
			&c.InstagramURL, &c.TikTokURL, &c.YouTubeURL,
			&c.ProfileImage,
		); err != nil {
			return nil, errors.NewInternalError(fmt.Errorf("postgres: scan candidate: %w", err))
		}
		c.Platforms = models.PlatformsFromURLs(c.InstagramURL, c.TikTokURL, c.YouTubeURL)
		pool = append(pool, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError(fmt.Errorf("postgres: iterate candidates: %w", err))
	}

	r.logger.Info("candidates fetched", map[string]interface{}{"count": len(pool)})
	return pool, nil
}

// buildQuery assembles the filtered select with positional placeholders.
func buildQuery(filters models.CandidateFilters, limit int) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)

	if niche := normalizeNiche(filters.Niche); niche != "" {
		args = append(args, "%"+escapeLike(niche)+"%")
		where = append(where, `i.niche ILIKE $`+strconv.Itoa(len(args))+` ESCAPE '\'`)
	}
	if filters.MaxPrice != nil {
		args = append(args, *filters.MaxPrice)
		where = append(where, "i.price_per_post <= $"+strconv.Itoa(len(args)))
	}

	var b strings.Builder
	b.WriteString(baseQuery)
	if len(where) > 0 {
		b.WriteString("\nWHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	args = append(args, limit)
	b.WriteString("\nORDER BY i.reputation_score DESC NULLS LAST, i.id")
	b.WriteString("\nLIMIT $" + strconv.Itoa(len(args)))

	return b.String(), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes user text match literally inside an ILIKE pattern.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
