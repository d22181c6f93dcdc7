// Package merge joins ranking output back onto the candidate pool.
package merge

import (
	"sort"

	"influencer-match/internal/models"
)

// Logger interface definition
type Logger interface {
	Warn(msg string, fields map[string]interface{})
}

type indexedProfile struct {
	profile models.CandidateProfile
	index   int
}

type ranked struct {
	match     models.MatchedInfluencer
	poolIndex int
}

// Merge keeps only entries whose id is in the pool, so callers can never
// surface an influencer the repository did not return. Repeated ids keep
// their first entry. The result is ordered by score descending, ties by
// pool order, and is never nil.
func Merge(pool []models.CandidateProfile, result models.RankingResult, log Logger) []models.MatchedInfluencer {
	byID := make(map[string]indexedProfile, len(pool))
	for i, p := range pool {
		if _, dup := byID[p.ID]; !dup {
			byID[p.ID] = indexedProfile{profile: p, index: i}
		}
	}

	seen := make(map[string]bool, len(result))
	merged := make([]ranked, 0, len(result))

	for _, entry := range result {
		if seen[entry.CandidateID] {
			warn(log, "dropping repeated recommendation", entry)
			continue
		}
		candidate, ok := byID[entry.CandidateID]
		if !ok {
			warn(log, "dropping recommendation outside candidate pool", entry)
			continue
		}
		seen[entry.CandidateID] = true

		merged = append(merged, ranked{
			match: models.MatchedInfluencer{
				CandidateProfile: candidate.profile,
				MatchScore:       entry.MatchScore,
				Reasoning:        entry.Reasoning,
			},
			poolIndex: candidate.index,
		})
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].match.MatchScore != merged[j].match.MatchScore {
			return merged[i].match.MatchScore > merged[j].match.MatchScore
		}
		return merged[i].poolIndex < merged[j].poolIndex
	})

	out := make([]models.MatchedInfluencer, len(merged))
	for i, r := range merged {
		out[i] = r.match
	}
	return out
}

func warn(log Logger, msg string, entry models.RankedEntry) {
	if log == nil {
		return
	}
	log.Warn(msg, map[string]interface{}{
		"component":   "merger",
		"candidateId": entry.CandidateID,
		"matchScore":  entry.MatchScore,
	})
}
