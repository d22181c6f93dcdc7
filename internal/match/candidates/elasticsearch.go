package candidates

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"influencer-match/internal/common/errors"
	"influencer-match/internal/models"
)

const DefaultIndex = "influencers"

// ElasticsearchRepository reads candidates from the search index. Documents
// are denormalized: the user's name and image live on the influencer doc.
type ElasticsearchRepository struct {
	client  *elasticsearch.Client
	index   string
	poolCap int
	logger  Logger
}

func NewElasticsearchRepository(client *elasticsearch.Client, index string, poolCap int, log Logger) *ElasticsearchRepository {
	if index == "" {
		index = DefaultIndex
	}
	return &ElasticsearchRepository{
		client:  client,
		index:   index,
		poolCap: clampPoolCap(poolCap),
		logger:  log,
	}
}

type influencerDoc struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Username     string  `json:"username"`
	Niche        string  `json:"niche"`
	PricePerPost float64 `json:"price_per_post"`
	Bio          string  `json:"bio"`
	InstagramURL string  `json:"instagram_url"`
	TikTokURL    string  `json:"tiktok_url"`
	YouTubeURL   string  `json:"youtube_url"`
	ProfileImage string  `json:"profile_image"`
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string        `json:"_id"`
			Source influencerDoc `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (r *ElasticsearchRepository) Query(ctx context.Context, filters models.CandidateFilters) ([]models.CandidateProfile, error) {
	limit := effectiveLimit(filters.Limit, r.poolCap)

	body, err := json.Marshal(buildSearchBody(filters, limit))
	if err != nil {
		return nil, errors.NewInternalError(fmt.Errorf("elasticsearch: encode query: %w", err))
	}

	r.logger.Debug("searching candidates", filterFields(filters, limit))

	req := esapi.SearchRequest{
		Index: []string{r.index},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, r.client)
	if err != nil {
		r.logger.Error("candidate search failed", map[string]interface{}{"error": err})
		return nil, errors.NewInternalError(fmt.Errorf("elasticsearch: search: %w", err))
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, errors.NewInternalError(fmt.Errorf("elasticsearch: search failed: %s", res.Status()))
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, errors.NewInternalError(fmt.Errorf("elasticsearch: decode response: %w", err))
	}

	pool := make([]models.CandidateProfile, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		doc := hit.Source
		id := doc.ID
		if id == "" {
			id = hit.ID
		}
		pool = append(pool, models.CandidateProfile{
			ID:           id,
			Name:         doc.Name,
			Username:     doc.Username,
			Niche:        doc.Niche,
			PricePerPost: doc.PricePerPost,
			Bio:          doc.Bio,
			Platforms:    models.PlatformsFromURLs(doc.InstagramURL, doc.TikTokURL, doc.YouTubeURL),
			InstagramURL: doc.InstagramURL,
			TikTokURL:    doc.TikTokURL,
			YouTubeURL:   doc.YouTubeURL,
			ProfileImage: doc.ProfileImage,
		})
		if len(pool) == limit {
			break
		}
	}

	r.logger.Info("candidates fetched", map[string]interface{}{"count": len(pool), "source": "elasticsearch"})
	return pool, nil
}

func buildSearchBody(filters models.CandidateFilters, limit int) map[string]interface{} {
	filterClauses := []interface{}{}

	if niche := normalizeNiche(filters.Niche); niche != "" {
		filterClauses = append(filterClauses, map[string]interface{}{
			"wildcard": map[string]interface{}{
				"niche": map[string]interface{}{
					"value":            "*" + escapeWildcard(niche) + "*",
					"case_insensitive": true,
				},
			},
		})
	}
	if filters.MaxPrice != nil {
		filterClauses = append(filterClauses, map[string]interface{}{
			"range": map[string]interface{}{
				"price_per_post": map[string]interface{}{"lte": *filters.MaxPrice},
			},
		})
	}

	return map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"filter": filterClauses},
		},
		"sort": []interface{}{
			map[string]interface{}{"reputation_score": map[string]interface{}{"order": "desc", "missing": "_last"}},
			map[string]interface{}{"id": map[string]interface{}{"order": "asc"}},
		},
	}
}

var wildcardEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`)

func escapeWildcard(s string) string {
	return wildcardEscaper.Replace(s)
}
