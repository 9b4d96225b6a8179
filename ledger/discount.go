package ledger

import "time"

const (
	nearExpiryWindow = 14 * 24 * time.Hour
	freshAge         = 30 * 24 * time.Hour
	mediumAge        = 60 * 24 * time.Hour
)

// AgeDiscount returns the age-based discount percent for a single batch.
// Batches within fourteen days of expiry never discount, regardless of age.
// Malformed or missing dates fall through to 0% rather than failing a spend.
func AgeDiscount(purchasedAt, expiresAt, now time.Time) int {
	if purchasedAt.IsZero() || expiresAt.IsZero() {
		return 0
	}
	if now.Before(purchasedAt) {
		return 0
	}
	if expiresAt.Sub(now) <= nearExpiryWindow {
		return 0
	}
	switch age := now.Sub(purchasedAt); {
	case age <= freshAge:
		return 10
	case age <= mediumAge:
		return 7
	default:
		return 5
	}
}

// CombinedDiscount resolves the single percent applied to a spend: the OG
// usage discount when benefits are active, otherwise the age discount.
// Discounts are never summed; only the highest applicable tier is used.
func CombinedDiscount(ageDiscount int, og OGStatus) (percent int, ogApplied bool) {
	if og.Active && og.UsageDiscountPercent > ageDiscount {
		return og.UsageDiscountPercent, true
	}
	return ageDiscount, false
}

// FinalCost applies a percent discount to a base cost with integer ceiling,
// matching ceil(base * (100 - percent) / 100) without float drift.
func FinalCost(baseCost int64, percent int) int64 {
	if percent <= 0 {
		return baseCost
	}
	if percent >= 100 {
		return 0
	}
	return (baseCost*int64(100-percent) + 99) / 100
}
