// test/e2e/e2e_test.go
package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"influencer-match/internal/api"
	"influencer-match/internal/common/database"
	"influencer-match/internal/common/logger"
	"influencer-match/internal/match/candidates"
	"influencer-match/internal/match/guard"
	"influencer-match/internal/match/orchestrator"
	"influencer-match/internal/match/prompt"
	"influencer-match/internal/match/ranking"
	"influencer-match/internal/stats"
)

var candidateColumns = []string{
	"id", "name", "username", "niche", "price_per_post", "bio",
	"instagram_url", "tiktok_url", "youtube_url", "profile_image",
}

// stack is the full server wired the way cmd/match-server wires it, with
// fakes at the process boundary.
type stack struct {
	server      *httptest.Server
	dbMock      sqlmock.Sqlmock
	redis       *miniredis.Miniredis
	rankerCalls *int32
}

func newStack(t *testing.T, rankingHandler http.HandlerFunc) *stack {
	t.Helper()
	log := logger.NewTestLogger(t)

	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		rankingHandler(w, r)
	}))
	t.Cleanup(upstream.Close)

	ranker := ranking.NewClient(ranking.Config{
		BaseURL: upstream.URL,
		APIKey:  "test-key",
		Timeout: 2 * time.Second,
	}, nil, logger.ForComponent(log, "ranking"))

	matcher := orchestrator.NewService(
		candidates.NewPostgresRepository(db, 10, logger.ForComponent(log, "candidates")),
		prompt.NewBuilder(prompt.Config{}),
		ranker,
		10,
		logger.ForComponent(log, "orchestrator"),
	)

	handler := api.NewHandler(api.Deps{
		Guard:   guard.New(guard.Config{Cooldown: time.Minute}, guard.NewRedisCooldownStore(rdb), logger.ForComponent(log, "guard")),
		Matcher: matcher,
		Stats:   stats.NewService(stats.Config{}, db, rdb, logger.ForComponent(log, "stats")),
		Ready:   map[string]api.Pinger{"redis": &database.RedisClient{Client: rdb}},
		Logger:  logger.ForComponent(log, "http"),
	})

	server := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(server.Close)

	return &stack{server: server, dbMock: dbMock, redis: mr, rankerCalls: &calls}
}

func completion(content string) string {
	body, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
	return string(body)
}

func (s *stack) post(t *testing.T, client, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/match", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(guard.HeaderClientID, client)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func expectPool(mock sqlmock.Sqlmock, ids ...string) {
	rows := sqlmock.NewRows(candidateColumns)
	for _, id := range ids {
		rows.AddRow(id, "Influencer "+id, "user"+id, "Food", 1500000.0, "Jakarta food reviews",
			"https://instagram.com/user"+id, "", "", "")
	}
	mock.ExpectQuery(`SELECT .+ FROM influencers i`).
		WithArgs("%Food%", 5000000.0, 10).
		WillReturnRows(rows)
}

const brief = `{"budget":5000000,"niche":"Food","targetAudience":"Gen Z in Jakarta","campaignGoal":"Launch a coffee menu","_honeypot":""}`

func TestMatchFlow(t *testing.T) {
	s := newStack(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(completion(`{"recommendations":[` +
			`{"id":"3","match_score":88,"reasoning":"Coffee content"},` +
			`{"id":"404","match_score":99,"reasoning":"Invented"},` +
			`{"id":1,"match_score":93.6,"reasoning":"Gen Z reach"}]}`)))
	})
	expectPool(s.dbMock, "1", "2", "3", "4", "5")

	resp, body := s.post(t, "sme-1", brief)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data := body["data"].(map[string]interface{})
	assert.Equal(t, orchestrator.MessageComplete, data["message"])
	influencers := data["influencers"].([]interface{})
	require.Len(t, influencers, 2, "ids outside the pool are dropped")

	first := influencers[0].(map[string]interface{})
	assert.Equal(t, "1", first["id"])
	assert.Equal(t, float64(94), first["match_score"])
	assert.Equal(t, "Influencer 1", first["name"])
	assert.Equal(t, true, first["platforms"].(map[string]interface{})["instagram"])
	assert.Equal(t, "3", influencers[1].(map[string]interface{})["id"])

	assert.True(t, s.redis.Exists("match:cooldown:sme-1"))
	assert.NoError(t, s.dbMock.ExpectationsWereMet())
}

func TestCooldownAcrossRequests(t *testing.T) {
	s := newStack(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(completion(`{"recommendations":[]}`)))
	})
	expectPool(s.dbMock, "1")

	resp, _ := s.post(t, "sme-2", brief)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := s.post(t, "sme-2", brief)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))
	assert.Equal(t, float64(60), body["retryAfter"])
	assert.Equal(t, int32(1), atomic.LoadInt32(s.rankerCalls))
}

func TestHoneypotNeverReachesDatastoreOrModel(t *testing.T) {
	s := newStack(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("ranking upstream must not be called")
	})

	resp, body := s.post(t, "bot-1", `{"budget":5000000,"niche":"Food","_honeypot":"https://spam.example"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Invalid request", body["error"])
	assert.Equal(t, int32(0), atomic.LoadInt32(s.rankerCalls))
	assert.False(t, s.redis.Exists("match:cooldown:bot-1"))
	assert.NoError(t, s.dbMock.ExpectationsWereMet())
}

func TestEmptyPoolSkipsModel(t *testing.T) {
	s := newStack(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("ranking upstream must not be called")
	})
	expectPool(s.dbMock)

	resp, body := s.post(t, "sme-3", brief)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, orchestrator.MessageNoCandidates, data["message"])
	assert.Empty(t, data["influencers"])
	assert.Equal(t, int32(0), atomic.LoadInt32(s.rankerCalls))
}

func TestUpstreamFailures(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
	}{
		{
			name: "slow model",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(5 * time.Second):
				}
			},
			wantStatus: http.StatusGatewayTimeout,
		},
		{
			name: "bad key",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "prose instead of json",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(completion("I think influencer 3 is best.")))
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStack(t, tt.handler)
			expectPool(s.dbMock, "1", "2")

			resp, body := s.post(t, "sme-4", brief)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
			assert.NotContains(t, body["error"], "invalid api key")
			assert.NotContains(t, body["error"], "influencer 3")
		})
	}
}

func TestStatsEndpoint(t *testing.T) {
	s := newStack(t, func(http.ResponseWriter, *http.Request) {})
	s.dbMock.ExpectQuery(`SELECT COUNT\(\*\) FROM users`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(40)))
	s.dbMock.ExpectQuery(`SELECT COUNT\(\*\) FROM influencers`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(250)))

	for i := 0; i < 2; i++ {
		resp, err := http.Get(s.server.URL + "/stats")
		require.NoError(t, err)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, float64(40), body["totalSMEs"])
		assert.Equal(t, float64(250), body["totalInfluencers"])
	}

	assert.True(t, s.redis.Exists("stats"))
	assert.NoError(t, s.dbMock.ExpectationsWereMet(), "second read is served from cache")
}
