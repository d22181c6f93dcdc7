// internal/models/campaign.go
package models

// CampaignRequest is the SME brief submitted to the match endpoint.
// Budget is a pointer so "absent" and "zero" stay distinguishable.
type CampaignRequest struct {
	Budget         *float64 `json:"budget,omitempty"`
	Niche          string   `json:"niche"`
	TargetAudience string   `json:"targetAudience"`
	CampaignGoal   string   `json:"campaignGoal"`
	Honeypot       string   `json:"_honeypot,omitempty"`
}

// MissingFields lists the brief fields the caller left empty, in form order.
func (r CampaignRequest) MissingFields() []string {
	var missing []string
	if r.CampaignGoal == "" {
		missing = append(missing, "campaignGoal")
	}
	if r.TargetAudience == "" {
		missing = append(missing, "targetAudience")
	}
	if r.Niche == "" {
		missing = append(missing, "niche")
	}
	if r.Budget == nil {
		missing = append(missing, "budget")
	}
	return missing
}

// Filters derives the repository pre-filter from the brief.
func (r CampaignRequest) Filters(limit int) CandidateFilters {
	return CandidateFilters{
		Niche:    r.Niche,
		MaxPrice: r.Budget,
		Limit:    limit,
	}
}

// CandidateFilters narrows the candidate pool before ranking.
type CandidateFilters struct {
	Niche    string
	MaxPrice *float64
	Limit    int
}
