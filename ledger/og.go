package ledger

import (
	"time"

	"github.com/pasarloka/tokenledger/models"
)

// Defaults for the OG membership program.
const (
	DefaultOGBenefitsDays         = 730
	DefaultOGTokenMultiplierBps   = 20000 // 2.0x grant on top-ups
	DefaultOGUsageDiscountPercent = 30
)

// OGConfig is the injected snapshot of the OG campaign settings. It is
// plain data handed to the ledger at construction and replaced wholesale
// when operators change the campaign; there is no hidden cache behind it.
type OGConfig struct {
	CampaignStart        time.Time
	CampaignEnd          time.Time
	BenefitsDays         int
	TokenMultiplierBps   int
	UsageDiscountPercent int
}

// Normalize fills zero-valued fields with program defaults.
func (c OGConfig) Normalize() OGConfig {
	if c.BenefitsDays <= 0 {
		c.BenefitsDays = DefaultOGBenefitsDays
	}
	if c.TokenMultiplierBps <= 0 {
		c.TokenMultiplierBps = DefaultOGTokenMultiplierBps
	}
	if c.UsageDiscountPercent <= 0 {
		c.UsageDiscountPercent = DefaultOGUsageDiscountPercent
	}
	return c
}

// OGStatus is the derived membership state for a single account at a
// point in time.
type OGStatus struct {
	Active               bool
	JoinedAt             time.Time
	BenefitsUntil        time.Time
	TokenMultiplierBps   int
	UsageDiscountPercent int
}

// Status derives an account's OG membership state from its subscription
// record and the configured campaign window. A nil membership, or one
// joined outside the window, yields an inactive status.
func (c OGConfig) Status(m *models.OGMembership, now time.Time) OGStatus {
	c = c.Normalize()
	status := OGStatus{
		TokenMultiplierBps:   c.TokenMultiplierBps,
		UsageDiscountPercent: c.UsageDiscountPercent,
	}
	if m == nil || m.JoinedAt.IsZero() {
		return status
	}
	status.JoinedAt = m.JoinedAt
	status.BenefitsUntil = m.JoinedAt.AddDate(0, 0, c.BenefitsDays)
	if !c.CampaignStart.IsZero() && m.JoinedAt.Before(c.CampaignStart) {
		return status
	}
	if !c.CampaignEnd.IsZero() && m.JoinedAt.After(c.CampaignEnd) {
		return status
	}
	status.Active = now.Before(status.BenefitsUntil)
	return status
}
