// Package candidates fetches the pre-filtered influencer pool for a brief.
package candidates

import (
	"context"
	"strings"

	"influencer-match/internal/models"
)

const (
	MinPoolCap     = 5
	MaxPoolCap     = 10
	DefaultPoolCap = MaxPoolCap
)

// Repository returns at most the pool cap of candidates matching the
// filters. An empty slice is a valid answer, not an error.
type Repository interface {
	Query(ctx context.Context, filters models.CandidateFilters) ([]models.CandidateProfile, error)
}

// Logger interface definition
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// clampPoolCap keeps a configured cap inside [MinPoolCap, MaxPoolCap].
func clampPoolCap(n int) int {
	switch {
	case n <= 0:
		return DefaultPoolCap
	case n < MinPoolCap:
		return MinPoolCap
	case n > MaxPoolCap:
		return MaxPoolCap
	}
	return n
}

// effectiveLimit lets a caller ask for fewer rows, never more.
func effectiveLimit(requested, poolCap int) int {
	if requested > 0 && requested < poolCap {
		return requested
	}
	return poolCap
}

func normalizeNiche(niche string) string {
	return strings.TrimSpace(niche)
}

// filterFields flattens filters for log entries.
func filterFields(f models.CandidateFilters, limit int) map[string]interface{} {
	fields := map[string]interface{}{
		"niche": f.Niche,
		"limit": limit,
	}
	if f.MaxPrice != nil {
		fields["maxPrice"] = *f.MaxPrice
	}
	return fields
}
