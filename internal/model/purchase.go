package model

import (
	"time"
)

type Purchase struct {
	ID                 string         `db:"id" json:"id"`
	AccountID          string         `db:"account_id" json:"accountId"`
	PolicyID           string         `db:"policy_id" json:"policyId"`
	SelectedPeriod     int            `db:"selected_period" json:"selectedPeriod"`
	CalculatedPremium  float64        `db:"calculated_premium" json:"calculatedPremium"`
	Status             PurchaseStatus `db:"status" json:"status"`
	PurchasedAt        time.Time      `db:"purchased_at" json:"purchasedAt"`
	StartsAt           time.Time      `db:"starts_at" json:"startsAt"`
	EndsAt             time.Time      `db:"ends_at" json:"endsAt"`
	CancelledAt        *time.Time     `db:"cancelled_at" json:"cancelledAt,omitempty"`
	RegistryPurchaseID *int64         `db:"registry_purchase_id" json:"registryPurchaseId,omitempty"`
	CreatedAt          time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updatedAt"`
}

// EffectiveStatus derives Expired from the coverage window; the stored status
// may lag until the cleanup job persists it.
func (p *Purchase) EffectiveStatus(now time.Time) PurchaseStatus {
	if p.Status == PurchaseStatusActive && !now.Before(p.EndsAt) {
		return PurchaseStatusExpired
	}
	return p.Status
}

type CreatePurchaseParams struct {
	AccountID         string
	PolicyID          string
	SelectedPeriod    int
	CalculatedPremium float64
	StartsAt          time.Time
	EndsAt            time.Time
}
