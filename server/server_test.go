package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/pasarloka/tokenledger/ads"
	"github.com/pasarloka/tokenledger/campaign"
	"github.com/pasarloka/tokenledger/ledger"
	"github.com/pasarloka/tokenledger/models"
	"github.com/pasarloka/tokenledger/withdrawal"
)

var (
	testNow        = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	testAdminToken = uuid.NewString() + "|admin"
)

type testEnv struct {
	ts *httptest.Server
	db *gorm.DB
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))

	now := func() time.Time { return testNow }
	l := ledger.New(ledger.Config{DB: db, Now: now})
	srv := New(Config{
		DB:          db,
		Ledger:      l,
		Ads:         ads.New(ads.Config{DB: db, Ledger: l, Now: now}),
		Campaigns:   campaign.New(campaign.Config{DB: db, Ledger: l, Now: now}),
		Withdrawals: withdrawal.New(withdrawal.Config{DB: db, Now: now}),
		Now:         now,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, db: db}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any, headers ...[2]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, h := range headers {
		req.Header.Set(h[0], h[1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (e *testEnv) creditShop(t *testing.T, shopID uuid.UUID, amount int64) {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/ops/wallets/"+shopID.String()+"/credit", testAdminToken, map[string]any{
		"amount":        amount,
		"expiresInDays": 365,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupTestServer(t)

	resp, body := env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))

	resp, _ = env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMarketplaceFlow(t *testing.T) {
	env := setupTestServer(t)
	shopID, creatorID := uuid.New(), uuid.New()
	shopToken := shopID.String() + "|shop"
	creatorToken := creatorID.String() + "|creator"

	env.creditShop(t, shopID, 5000)

	// Wallet report shows the freshly credited batch.
	resp, body := env.do(t, http.MethodGet, "/api/v1/wallet", shopToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report struct {
		Wallet struct {
			Balance int64 `json:"balance"`
		} `json:"wallet"`
	}
	require.NoError(t, json.Unmarshal(body, &report))
	require.Equal(t, int64(5000), report.Wallet.Balance)

	// Fresh batch quotes a 10% discount on a two-day SUBDISTRICT placement.
	resp, body = env.do(t, http.MethodGet, "/api/v1/ads/quote?scope=SUBDISTRICT&durationDays=2", shopToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var quote ledger.Quote
	require.NoError(t, json.Unmarshal(body, &quote))
	require.Equal(t, int64(100), quote.BaseCost)
	require.Equal(t, int64(90), quote.FinalCost)

	resp, body = env.do(t, http.MethodPost, "/api/v1/ads", shopToken, map[string]any{
		"scope":        "SUBDISTRICT",
		"durationDays": 2,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var purchased struct {
		Ad    models.Advertisement `json:"ad"`
		Quote ledger.Quote         `json:"quote"`
	}
	require.NoError(t, json.Unmarshal(body, &purchased))
	require.Equal(t, int64(90), purchased.Ad.TokensPaid)

	// Fund a campaign and walk a job through to settlement.
	resp, body = env.do(t, http.MethodPost, "/api/v1/campaigns", shopToken, map[string]any{
		"title":       "spring launch",
		"totalBudget": 1000,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var c models.Campaign
	require.NoError(t, json.Unmarshal(body, &c))

	resp, body = env.do(t, http.MethodPost, "/api/v1/campaigns/"+c.ID.String()+"/jobs", shopToken, map[string]any{
		"creatorId":   creatorID,
		"agreedPrice": 300,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var job models.CampaignJob
	require.NoError(t, json.Unmarshal(body, &job))

	for _, step := range []string{"accept", "start"} {
		resp, body = env.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID.String()+"/"+step, creatorToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	}
	resp, body = env.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID.String()+"/submit", creatorToken, map[string]any{
		"links": []string{"https://example.com/post"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = env.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID.String()+"/approve", shopToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var settled models.CampaignJob
	require.NoError(t, json.Unmarshal(body, &settled))
	require.Equal(t, models.JobCompleted, settled.Status)
	require.Equal(t, int64(300), settled.CreatorEarning)

	// Creator withdraws the earnings.
	resp, body = env.do(t, http.MethodGet, "/api/v1/creator/balance", creatorToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var balance models.CreatorBalance
	require.NoError(t, json.Unmarshal(body, &balance))
	require.Equal(t, int64(300), balance.AvailableBalance)

	resp, body = env.do(t, http.MethodPost, "/api/v1/withdrawals", creatorToken, map[string]any{
		"amount": 300,
		"bank": map[string]string{
			"bankName":    "Bank Mandiri",
			"bankAccount": "1234567890",
			"accountName": "A Creator",
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var wr models.WithdrawalRequest
	require.NoError(t, json.Unmarshal(body, &wr))

	resp, _ = env.do(t, http.MethodPost, "/ops/withdrawals/"+wr.ID.String()+"/process", testAdminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// A fee above the withdrawn amount is a client error, not a 500.
	resp, _ = env.do(t, http.MethodPost, "/ops/withdrawals/"+wr.ID.String()+"/complete", testAdminToken, map[string]any{"fee": 9999})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = env.do(t, http.MethodPost, "/ops/withdrawals/"+wr.ID.String()+"/complete", testAdminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var completed models.WithdrawalRequest
	require.NoError(t, json.Unmarshal(body, &completed))
	require.Equal(t, models.WithdrawalCompleted, completed.Status)
	require.Equal(t, int64(300), completed.NetAmount)
}

func TestAuthAndRoleEnforcement(t *testing.T) {
	env := setupTestServer(t)
	shopID, creatorID := uuid.New(), uuid.New()

	resp, _ := env.do(t, http.MethodGet, "/api/v1/wallet", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/v1/wallet", creatorID.String()+"|creator", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/v1/creator/balance", shopID.String()+"|shop", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/ops/sweep", shopID.String()+"|shop", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/ops/sweep", testAdminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestErrorMapping(t *testing.T) {
	env := setupTestServer(t)
	shopID := uuid.New()
	shopToken := shopID.String() + "|shop"
	env.creditShop(t, shopID, 50)

	// Not enough tokens for the cheapest placement over two days.
	resp, body := env.do(t, http.MethodPost, "/api/v1/ads", shopToken, map[string]any{
		"scope":        "SUBDISTRICT",
		"durationDays": 2,
	})
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode, string(body))

	resp, _ = env.do(t, http.MethodPost, "/api/v1/ads", shopToken, map[string]any{
		"scope":        "GALAXY",
		"durationDays": 2,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/v1/campaigns/"+uuid.NewString(), shopToken, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Wallet report for a shop that never topped up.
	resp, _ = env.do(t, http.MethodGet, "/api/v1/wallet", uuid.NewString()+"|shop", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestApproveRequiresSubmittedOverHTTP(t *testing.T) {
	env := setupTestServer(t)
	shopID, creatorID := uuid.New(), uuid.New()
	shopToken := shopID.String() + "|shop"
	env.creditShop(t, shopID, 5000)

	resp, body := env.do(t, http.MethodPost, "/api/v1/campaigns", shopToken, map[string]any{
		"title":       "spring launch",
		"totalBudget": 1000,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var c models.Campaign
	require.NoError(t, json.Unmarshal(body, &c))

	resp, body = env.do(t, http.MethodPost, "/api/v1/campaigns/"+c.ID.String()+"/jobs", shopToken, map[string]any{
		"creatorId":   creatorID,
		"agreedPrice": 300,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var job models.CampaignJob
	require.NoError(t, json.Unmarshal(body, &job))

	resp, _ = env.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID.String()+"/approve", shopToken, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestIdempotencyKeyReplaysResponse(t *testing.T) {
	env := setupTestServer(t)
	shopID := uuid.New()
	shopToken := shopID.String() + "|shop"
	env.creditShop(t, shopID, 5000)

	key := [2]string{"Idempotency-Key", uuid.NewString()}
	payload := map[string]any{"scope": "SUBDISTRICT", "durationDays": 2}

	resp, first := env.do(t, http.MethodPost, "/api/v1/ads", shopToken, payload, key)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, second := env.do(t, http.MethodPost, "/api/v1/ads", shopToken, payload, key)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.JSONEq(t, string(first), string(second))

	// Only the first request actually bought an ad.
	var count int64
	require.NoError(t, env.db.Model(&models.Advertisement{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}
