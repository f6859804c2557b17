package model

import (
	"time"

	"github.com/lib/pq"
)

type Policy struct {
	ID               string        `db:"id" json:"id"`
	CompanyID        *string       `db:"company_id" json:"companyId"`
	Name             string        `db:"name" json:"name"`
	CoverageAmount   float64       `db:"coverage_amount" json:"coverageAmount"`
	Premium          float64       `db:"premium" json:"premium"`
	Deductible       float64       `db:"deductible" json:"deductible"`
	EffectiveDate    time.Time     `db:"effective_date" json:"effectiveDate"`
	ExpiryDate       time.Time     `db:"expiry_date" json:"expiryDate"`
	CoverageDetails  string        `db:"coverage_details" json:"coverageDetails"`
	PeriodOptions    pq.Int64Array `db:"period_options" json:"periodOptions"`
	IsActive         bool          `db:"is_active" json:"isActive"`
	RegistryPolicyID *int64        `db:"registry_policy_id" json:"registryPolicyId,omitempty"`
	CreatedAt        time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updatedAt"`
}

// OwnedBy reports whether the account may administer this policy as its company.
func (p *Policy) OwnedBy(accountID string) bool {
	return p.CompanyID != nil && *p.CompanyID == accountID
}

// AllowsPeriod reports whether years is one of the policy's purchasable periods.
func (p *Policy) AllowsPeriod(years int) bool {
	for _, opt := range p.PeriodOptions {
		if int(opt) == years {
			return true
		}
	}
	return false
}

// PolicyOption is the purchase-ready projection of a policy.
type PolicyOption struct {
	ID             string        `db:"id" json:"id"`
	Name           string        `db:"name" json:"name"`
	CoverageAmount float64       `db:"coverage_amount" json:"coverageAmount"`
	PeriodOptions  pq.Int64Array `db:"period_options" json:"periodOptions"`
}

type CreatePolicyParams struct {
	CompanyID       *string
	Name            string
	CoverageAmount  float64
	Premium         float64
	Deductible      float64
	EffectiveDate   time.Time
	ExpiryDate      time.Time
	CoverageDetails string
	PeriodOptions   []int64
	IsActive        bool
}

type UpdatePolicyParams struct {
	Name            *string
	CoverageAmount  *float64
	Premium         *float64
	Deductible      *float64
	EffectiveDate   *time.Time
	ExpiryDate      *time.Time
	CoverageDetails *string
	PeriodOptions   []int64
	IsActive        *bool
}

// PolicySortField names a sortable policy attribute as exposed by the API.
type PolicySortField string

const (
	PolicySortName           PolicySortField = "name"
	PolicySortCoverageAmount PolicySortField = "coverageAmount"
	PolicySortPremium        PolicySortField = "premium"
	PolicySortDeductible     PolicySortField = "deductible"
	PolicySortEffectiveDate  PolicySortField = "effectiveDate"
	PolicySortExpiryDate     PolicySortField = "expiryDate"
	PolicySortCreatedAt      PolicySortField = "createdAt"
)

type PolicySortKey struct {
	Field      PolicySortField
	Descending bool
}

type PolicyFilter struct {
	Search    string
	Active    *bool
	CompanyID *string
	Sort      []PolicySortKey
	Limit     int
	Offset    int
}
