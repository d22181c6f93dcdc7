// internal/models/stats.go
package models

import "time"

// PlatformStats is the public marketplace counter snapshot.
type PlatformStats struct {
	TotalSMEs        int64     `json:"totalSMEs"`
	TotalInfluencers int64     `json:"totalInfluencers"`
	CachedAt         time.Time `json:"cachedAt"`
}
