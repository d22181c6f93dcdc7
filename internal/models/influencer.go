// internal/models/influencer.go
package models

type PlatformFlags struct {
	Instagram bool `json:"instagram"`
	TikTok    bool `json:"tiktok"`
	YouTube   bool `json:"youtube"`
}

// CandidateProfile is one influencer eligible for ranking.
type CandidateProfile struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Username     string        `json:"username"`
	Niche        string        `json:"niche"`
	PricePerPost float64       `json:"price_per_post"`
	Bio          string        `json:"bio"`
	Platforms    PlatformFlags `json:"platforms"`
	InstagramURL string        `json:"instagram_url,omitempty"`
	TikTokURL    string        `json:"tiktok_url,omitempty"`
	YouTubeURL   string        `json:"youtube_url,omitempty"`
	ProfileImage string        `json:"profile_image,omitempty"`
}

// PlatformsFromURLs marks a platform present when its profile URL is set.
func PlatformsFromURLs(instagram, tiktok, youtube string) PlatformFlags {
	return PlatformFlags{
		Instagram: instagram != "",
		TikTok:    tiktok != "",
		YouTube:   youtube != "",
	}
}

// RankedEntry is one recommendation as returned by the ranking model.
// CandidateID is unverified until merged against the pool.
type RankedEntry struct {
	CandidateID string `json:"id"`
	MatchScore  int    `json:"match_score"`
	Reasoning   string `json:"reasoning"`
}

type RankingResult []RankedEntry

// MatchedInfluencer joins a pool profile with its ranking. Only the merger
// builds these.
type MatchedInfluencer struct {
	CandidateProfile
	MatchScore int    `json:"match_score"`
	Reasoning  string `json:"reasoning"`
}
