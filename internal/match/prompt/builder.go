// Package prompt turns a campaign brief and its candidate pool into the
// instruction sent to the ranking model.
package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"influencer-match/internal/models"
)

const (
	DefaultTopN     = 3
	DefaultCurrency = "IDR"

	SystemPrompt = "You are a helpful AI assistant that outputs JSON only."
)

type Config struct {
	TopN     int
	Currency string
}

// Builder is stateless apart from its config and safe for concurrent use.
type Builder struct {
	topN     int
	currency string
}

func NewBuilder(cfg Config) *Builder {
	b := &Builder{topN: cfg.TopN, currency: cfg.Currency}
	if b.topN <= 0 {
		b.topN = DefaultTopN
	}
	if b.currency == "" {
		b.currency = DefaultCurrency
	}
	return b
}

// RankingInstruction is the finished model input. It cannot be changed
// after Build returns.
type RankingInstruction struct {
	systemPrompt string
	prompt       string
	candidates   []models.CandidateProfile
	topN         int
}

func (ri RankingInstruction) SystemPrompt() string { return ri.systemPrompt }
func (ri RankingInstruction) Prompt() string       { return ri.prompt }
func (ri RankingInstruction) TopN() int            { return ri.topN }

// Candidates returns a copy of the pool the prompt was built from.
func (ri RankingInstruction) Candidates() []models.CandidateProfile {
	out := make([]models.CandidateProfile, len(ri.candidates))
	copy(out, ri.candidates)
	return out
}

// promptCandidate is what the model sees of a profile. Contact URLs and the
// profile image stay out of the prompt.
type promptCandidate struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Username  string               `json:"username"`
	Niche     string               `json:"niche"`
	Price     float64              `json:"price"`
	Bio       string               `json:"bio"`
	Platforms models.PlatformFlags `json:"platforms"`
}

// Build is deterministic: the same brief and pool produce the same text.
func (b *Builder) Build(req models.CampaignRequest, pool []models.CandidateProfile) RankingInstruction {
	snapshot := make([]models.CandidateProfile, len(pool))
	copy(snapshot, pool)

	var parts []string

	parts = append(parts, "Role: You are a Senior Influencer Marketing Strategist with 10 years of experience.")
	parts = append(parts, "\nContext:")
	parts = append(parts, "Recommend the best influencers for the marketing campaign below.")
	parts = append(parts, "Weigh each candidate's niche, bio, price and platform presence to judge fit.")

	parts = append(parts, "\nCampaign Details:")
	parts = append(parts, fmt.Sprintf("- Goal: \"%s\"", req.CampaignGoal))
	parts = append(parts, fmt.Sprintf("- Target Audience: \"%s\"", req.TargetAudience))
	parts = append(parts, fmt.Sprintf("- Maximum Budget: %s", b.formatBudget(req.Budget)))
	parts = append(parts, fmt.Sprintf("- Preferred Niche: \"%s\"", nicheOrAny(req.Niche)))

	parts = append(parts, "\nCandidate List (JSON):")
	parts = append(parts, encodeCandidates(snapshot))

	parts = append(parts, "\nAnalysis Instructions:")
	parts = append(parts, "1. Relevance: does the influencer's niche and bio align with the campaign goal?")
	parts = append(parts, `2. Audience Fit: would they reach the target audience? (e.g. "Gaming" fits "Gen Z", "Parenting" fits "Moms")`)
	parts = append(parts, "3. Budget Efficiency: is their price within the budget? A lower price is fine. Exclude anyone significantly above it unless the value is exceptional.")
	parts = append(parts, "4. Platform Match: prefer platforms suited to the audience (e.g. TikTok for youth, Instagram for lifestyle).")

	parts = append(parts, "\nTask:")
	parts = append(parts, fmt.Sprintf("Select exactly the top %d most relevant influencers from the candidate list. Use only ids that appear in the list.", b.topN))

	parts = append(parts, "\nOutput Format (strict JSON, no other text):")
	parts = append(parts, `{"recommendations":[{"id":"influencer_id","match_score":85,"reasoning":"Two sentences on why they fit THIS goal and audience."}]}`)
	parts = append(parts, "match_score is an integer from 0 to 100.")

	return RankingInstruction{
		systemPrompt: SystemPrompt,
		prompt:       strings.Join(parts, "\n"),
		candidates:   snapshot,
		topN:         b.topN,
	}
}

func (b *Builder) formatBudget(budget *float64) string {
	if budget == nil {
		return "not specified"
	}
	return b.currency + " " + strconv.FormatFloat(*budget, 'f', -1, 64)
}

func nicheOrAny(niche string) string {
	if strings.TrimSpace(niche) == "" {
		return "Any"
	}
	return niche
}

// encodeCandidates writes compact JSON without HTML escaping so names like
// "Tom & Jerry" reach the model verbatim.
func encodeCandidates(pool []models.CandidateProfile) string {
	list := make([]promptCandidate, len(pool))
	for i, c := range pool {
		list[i] = promptCandidate{
			ID:        c.ID,
			Name:      c.Name,
			Username:  c.Username,
			Niche:     c.Niche,
			Price:     c.PricePerPost,
			Bio:       c.Bio,
			Platforms: c.Platforms,
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(list); err != nil {
		// only reachable with NaN/Inf prices
		return "[]"
	}
	return strings.TrimRight(buf.String(), "\n")
}
