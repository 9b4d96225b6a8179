package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pasarloka/tokenledger/models"
)

func TestAgeDiscountTiers(t *testing.T) {
	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	day := 24 * time.Hour

	cases := []struct {
		name        string
		purchasedAt time.Time
		expiresAt   time.Time
		want        int
	}{
		{"fresh batch", now.Add(-10 * day), now.Add(90 * day), 10},
		{"medium batch", now.Add(-40 * day), now.Add(90 * day), 7},
		{"old batch", now.Add(-90 * day), now.Add(90 * day), 5},
		{"near expiry overrides age", now.Add(-10 * day), now.Add(5 * day), 0},
		{"near expiry overrides old age", now.Add(-90 * day), now.Add(14 * day), 0},
		{"exactly thirty days old", now.Add(-30 * day), now.Add(90 * day), 10},
		{"missing purchase date", time.Time{}, now.Add(90 * day), 0},
		{"missing expiry date", now.Add(-10 * day), time.Time{}, 0},
		{"purchased in the future", now.Add(10 * day), now.Add(90 * day), 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, AgeDiscount(tc.purchasedAt, tc.expiresAt, now))
		})
	}
}

func TestCombinedDiscountTakesMaxNeverSum(t *testing.T) {
	inactive := OGStatus{UsageDiscountPercent: 30}
	percent, ogApplied := CombinedDiscount(10, inactive)
	require.Equal(t, 10, percent)
	require.False(t, ogApplied)

	active := OGStatus{Active: true, UsageDiscountPercent: 30}
	percent, ogApplied = CombinedDiscount(10, active)
	require.Equal(t, 30, percent)
	require.True(t, ogApplied)

	// A better age tier beats a weaker configured OG discount.
	weak := OGStatus{Active: true, UsageDiscountPercent: 5}
	percent, ogApplied = CombinedDiscount(10, weak)
	require.Equal(t, 10, percent)
	require.False(t, ogApplied)
}

func TestFinalCostIntegerCeiling(t *testing.T) {
	require.Equal(t, int64(90), FinalCost(100, 10))
	require.Equal(t, int64(70), FinalCost(100, 30))
	require.Equal(t, int64(93), FinalCost(100, 7))
	// 33 * 0.9 = 29.7, ceiling 30
	require.Equal(t, int64(30), FinalCost(33, 10))
	require.Equal(t, int64(1), FinalCost(1, 10))
	require.Equal(t, int64(100), FinalCost(100, 0))
	require.Equal(t, int64(0), FinalCost(100, 100))
}

func TestOGStatusDerivation(t *testing.T) {
	now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	cfg := OGConfig{
		CampaignStart: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		CampaignEnd:   time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC),
	}.Normalize()

	require.False(t, cfg.Status(nil, now).Active)

	joined := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	status := cfg.Status(&models.OGMembership{JoinedAt: joined}, now)
	require.True(t, status.Active)
	require.Equal(t, joined.AddDate(0, 0, DefaultOGBenefitsDays), status.BenefitsUntil)
	require.Equal(t, DefaultOGUsageDiscountPercent, status.UsageDiscountPercent)

	// Joined outside the campaign window.
	outside := cfg.Status(&models.OGMembership{JoinedAt: time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)}, now)
	require.False(t, outside.Active)

	// Benefits lapsed.
	lapsed := cfg.Status(&models.OGMembership{JoinedAt: joined}, joined.AddDate(0, 0, DefaultOGBenefitsDays+1))
	require.False(t, lapsed.Active)
}
