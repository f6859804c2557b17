package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/coverchain/policy-server-go/internal/database"
	apperrors "github.com/coverchain/policy-server-go/internal/errors"
	"github.com/coverchain/policy-server-go/internal/model"
	"github.com/coverchain/policy-server-go/internal/repository"
	"github.com/coverchain/policy-server-go/internal/util"
)

const (
	maxPolicyNameLength    = 100
	maxCoverageDetailsLen  = 1000
	minCoverageAmount      = 100
	minPremium             = 1
	defaultPolicyListLimit = 20
	dateLayout             = "2006-01-02"
)

var defaultPeriodOptions = []int64{1, 2, 3}

// PolicyFields carries policy attributes from a request. Nil means absent.
type PolicyFields struct {
	Name            *string  `json:"name"`
	CoverageAmount  *float64 `json:"coverageAmount"`
	Premium         *float64 `json:"premium"`
	Deductible      *float64 `json:"deductible"`
	EffectiveDate   *string  `json:"effectiveDate"`
	ExpiryDate      *string  `json:"expiryDate"`
	CoverageDetails *string  `json:"coverageDetails"`
	PeriodOptions   []int64  `json:"periodOptions"`
	IsActive        *bool    `json:"isActive"`
	CompanyID       *string  `json:"companyId"`
}

// CreatePolicyFields lists the keys accepted when creating a policy.
var CreatePolicyFields = []string{
	"name", "coverageAmount", "premium", "deductible", "effectiveDate",
	"expiryDate", "coverageDetails", "periodOptions", "isActive", "companyId",
}

// UpdatePolicyFields lists the keys a policy patch may contain.
var UpdatePolicyFields = []string{
	"name", "coverageAmount", "premium", "deductible", "effectiveDate",
	"expiryDate", "coverageDetails", "periodOptions", "isActive",
}

type ListPoliciesInput struct {
	Search    string
	Sort      string
	Active    *bool
	CompanyID *string
	Limit     int
	Offset    int
}

type PolicyPage struct {
	Items  []model.Policy `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

type CatalogService struct {
	db           database.Transactor
	policyRepo   repository.PolicyRepository
	purchaseRepo repository.PurchaseRepository
	accountRepo  repository.AccountRepository
}

func NewCatalogService(
	db database.Transactor,
	policyRepo repository.PolicyRepository,
	purchaseRepo repository.PurchaseRepository,
	accountRepo repository.AccountRepository,
) *CatalogService {
	return &CatalogService{
		db:           db,
		policyRepo:   policyRepo,
		purchaseRepo: purchaseRepo,
		accountRepo:  accountRepo,
	}
}

func (s *CatalogService) Create(ctx context.Context, caller *model.Account, f PolicyFields) (*model.Policy, error) {
	companyID, err := s.resolveIssuer(ctx, caller, f.CompanyID)
	if err != nil {
		return nil, err
	}

	var missing []string
	if f.Name == nil || strings.TrimSpace(*f.Name) == "" {
		missing = append(missing, "name")
	}
	if f.CoverageAmount == nil {
		missing = append(missing, "coverageAmount")
	}
	if f.Premium == nil {
		missing = append(missing, "premium")
	}
	if f.Deductible == nil {
		missing = append(missing, "deductible")
	}
	if f.EffectiveDate == nil || strings.TrimSpace(*f.EffectiveDate) == "" {
		missing = append(missing, "effectiveDate")
	}
	if f.ExpiryDate == nil || strings.TrimSpace(*f.ExpiryDate) == "" {
		missing = append(missing, "expiryDate")
	}
	if f.CoverageDetails == nil || strings.TrimSpace(*f.CoverageDetails) == "" {
		missing = append(missing, "coverageDetails")
	}
	if len(missing) > 0 {
		return nil, apperrors.MissingFields(missing)
	}

	if err := validatePolicyValues(f); err != nil {
		return nil, err
	}
	effective, expiry, err := parsePolicyDates(f)
	if err != nil {
		return nil, err
	}
	if !effective.Before(*expiry) {
		return nil, apperrors.ValidationError("effectiveDate must be before expiryDate")
	}

	periods := defaultPeriodOptions
	if f.PeriodOptions != nil {
		if periods, err = normalizePeriodOptions(f.PeriodOptions); err != nil {
			return nil, err
		}
	}

	isActive := true
	if f.IsActive != nil {
		isActive = *f.IsActive
	}

	policy, err := s.policyRepo.Create(ctx, model.CreatePolicyParams{
		CompanyID:       companyID,
		Name:            strings.TrimSpace(*f.Name),
		CoverageAmount:  *f.CoverageAmount,
		Premium:         *f.Premium,
		Deductible:      *f.Deductible,
		EffectiveDate:   *effective,
		ExpiryDate:      *expiry,
		CoverageDetails: strings.TrimSpace(*f.CoverageDetails),
		PeriodOptions:   periods,
		IsActive:        isActive,
	})
	if err != nil {
		return nil, storageError(err, "A policy with this name already exists")
	}

	log.Info().Str("policyId", policy.ID).Str("createdBy", caller.ID).Msg("policy created")
	return policy, nil
}

// resolveIssuer decides which company a new policy belongs to. Admins may
// name a verified company or create a platform-wide policy; verified
// companies always issue their own.
func (s *CatalogService) resolveIssuer(ctx context.Context, caller *model.Account, requested *string) (*string, error) {
	switch {
	case caller.IsAdmin():
		if requested == nil {
			return nil, nil
		}
		if !util.IsValidUUID(*requested) {
			return nil, apperrors.InvalidInput("companyId", "must be a UUID")
		}
		company, err := s.accountRepo.FindByID(ctx, *requested)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		if company == nil {
			return nil, apperrors.NotFound("Company")
		}
		if !company.IsCompany() || !company.IsVerified {
			return nil, apperrors.ValidationError("companyId must reference a verified company")
		}
		return &company.ID, nil

	case caller.IsCompany() && caller.IsVerified:
		if requested != nil && *requested != caller.ID {
			return nil, apperrors.Forbidden("Companies can only create their own policies")
		}
		id := caller.ID
		return &id, nil

	default:
		return nil, apperrors.Forbidden("Only verified companies or administrators can create policies")
	}
}

// Update applies a partial change. Keys outside UpdatePolicyFields are
// rejected before anything is read or written.
func (s *CatalogService) Update(ctx context.Context, caller *model.Account, id string, patch map[string]json.RawMessage) (*model.Policy, error) {
	if !util.IsValidUUID(id) {
		return nil, apperrors.InvalidInput("id", "must be a UUID")
	}
	if unknown := UnknownKeys(patch, UpdatePolicyFields); len(unknown) > 0 {
		return nil, apperrors.UnknownFields(unknown)
	}
	if len(patch) == 0 {
		return nil, apperrors.ValidationError("No fields to update")
	}

	f, err := decodePolicyPatch(patch)
	if err != nil {
		return nil, err
	}

	policy, err := s.policyRepo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if policy == nil {
		return nil, apperrors.NotFound("Policy")
	}
	if !caller.IsAdmin() && !policy.OwnedBy(caller.ID) {
		return nil, apperrors.Forbidden("Only the issuing company or an administrator can update this policy")
	}

	if f.Name != nil && strings.TrimSpace(*f.Name) == "" {
		return nil, apperrors.InvalidInput("name", "must not be empty")
	}
	if f.CoverageDetails != nil && strings.TrimSpace(*f.CoverageDetails) == "" {
		return nil, apperrors.InvalidInput("coverageDetails", "must not be empty")
	}
	if err := validatePolicyValues(f); err != nil {
		return nil, err
	}
	effective, expiry, err := parsePolicyDates(f)
	if err != nil {
		return nil, err
	}

	finalEffective, finalExpiry := policy.EffectiveDate, policy.ExpiryDate
	if effective != nil {
		finalEffective = *effective
	}
	if expiry != nil {
		finalExpiry = *expiry
	}
	if !finalEffective.Before(finalExpiry) {
		return nil, apperrors.ValidationError("effectiveDate must be before expiryDate")
	}

	params := model.UpdatePolicyParams{
		CoverageAmount: f.CoverageAmount,
		Premium:        f.Premium,
		Deductible:     f.Deductible,
		EffectiveDate:  effective,
		ExpiryDate:     expiry,
		IsActive:       f.IsActive,
	}
	if f.Name != nil {
		name := strings.TrimSpace(*f.Name)
		params.Name = &name
	}
	if f.CoverageDetails != nil {
		details := strings.TrimSpace(*f.CoverageDetails)
		params.CoverageDetails = &details
	}
	if f.PeriodOptions != nil {
		if params.PeriodOptions, err = normalizePeriodOptions(f.PeriodOptions); err != nil {
			return nil, err
		}
	}

	updated, err := s.policyRepo.Update(ctx, id, params)
	if err != nil {
		return nil, storageError(err, "A policy with this name already exists")
	}
	if updated == nil {
		return nil, apperrors.NotFound("Policy")
	}

	log.Info().Str("policyId", id).Str("updatedBy", caller.ID).Msg("policy updated")
	return updated, nil
}

func (s *CatalogService) Get(ctx context.Context, id string) (*model.Policy, error) {
	if !util.IsValidUUID(id) {
		return nil, apperrors.InvalidInput("id", "must be a UUID")
	}
	policy, err := s.policyRepo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if policy == nil {
		return nil, apperrors.NotFound("Policy")
	}
	return policy, nil
}

func (s *CatalogService) List(ctx context.Context, in ListPoliciesInput) (*PolicyPage, error) {
	keys, err := ParsePolicySort(in.Sort)
	if err != nil {
		return nil, err
	}
	if in.CompanyID != nil && !util.IsValidUUID(*in.CompanyID) {
		return nil, apperrors.InvalidInput("companyId", "must be a UUID")
	}

	limit := in.Limit
	if limit < 1 {
		limit = defaultPolicyListLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	offset := in.Offset
	if offset < 0 {
		offset = 0
	}

	items, total, err := s.policyRepo.List(ctx, model.PolicyFilter{
		Search:    in.Search,
		Active:    in.Active,
		CompanyID: in.CompanyID,
		Sort:      keys,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if items == nil {
		items = []model.Policy{}
	}

	return &PolicyPage{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// Delete removes a policy nobody has purchased.
func (s *CatalogService) Delete(ctx context.Context, caller *model.Account, id string) error {
	if !util.IsValidUUID(id) {
		return apperrors.InvalidInput("id", "must be a UUID")
	}

	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		policies := s.policyRepo.WithTx(tx)
		purchases := s.purchaseRepo.WithTx(tx)

		policy, err := policies.FindByID(ctx, id)
		if err != nil {
			return apperrors.Database(err)
		}
		if policy == nil {
			return apperrors.NotFound("Policy")
		}
		if !caller.IsAdmin() && !policy.OwnedBy(caller.ID) {
			return apperrors.Forbidden("Only the issuing company or an administrator can delete this policy")
		}

		count, err := purchases.CountByPolicyID(ctx, id)
		if err != nil {
			return apperrors.Database(err)
		}
		if count > 0 {
			return apperrors.Conflict("Policy has purchases and cannot be deleted")
		}

		deleted, err := policies.Delete(ctx, id)
		if err != nil {
			return storageError(err, "Policy has purchases and cannot be deleted")
		}
		if !deleted {
			return apperrors.NotFound("Policy")
		}
		return nil
	})
	if err != nil {
		return storageError(err, "Policy has purchases and cannot be deleted")
	}

	log.Info().Str("policyId", id).Str("deletedBy", caller.ID).Msg("policy deleted")
	return nil
}

// ParsePolicySort reads "field:dir,field:dir". Direction defaults to asc.
func ParsePolicySort(raw string) ([]model.PolicySortKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var keys []model.PolicySortKey
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		field, dir, _ := strings.Cut(part, ":")
		key := model.PolicySortKey{Field: model.PolicySortField(strings.TrimSpace(field))}
		if !repository.IsSortablePolicyField(key.Field) {
			return nil, apperrors.InvalidInput("sort", fmt.Sprintf("unknown field %q", key.Field))
		}
		switch strings.ToLower(strings.TrimSpace(dir)) {
		case "", "asc":
		case "desc":
			key.Descending = true
		default:
			return nil, apperrors.InvalidInput("sort", fmt.Sprintf("unknown direction %q", dir))
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// UnknownKeys returns the keys of body not in allowed, sorted.
func UnknownKeys(body map[string]json.RawMessage, allowed []string) []string {
	permitted := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		permitted[k] = true
	}
	var unknown []string
	for k := range body {
		if !permitted[k] {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	return unknown
}

func decodePolicyPatch(patch map[string]json.RawMessage) (PolicyFields, error) {
	var f PolicyFields
	targets := map[string]any{
		"name":            &f.Name,
		"coverageAmount":  &f.CoverageAmount,
		"premium":         &f.Premium,
		"deductible":      &f.Deductible,
		"effectiveDate":   &f.EffectiveDate,
		"expiryDate":      &f.ExpiryDate,
		"coverageDetails": &f.CoverageDetails,
		"periodOptions":   &f.PeriodOptions,
		"isActive":        &f.IsActive,
	}

	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		raw := patch[key]
		if strings.TrimSpace(string(raw)) == "null" {
			return f, apperrors.InvalidInput(key, "must not be null")
		}
		if err := json.Unmarshal(raw, targets[key]); err != nil {
			return f, apperrors.InvalidInput(key, "has the wrong type")
		}
	}
	return f, nil
}

func validatePolicyValues(f PolicyFields) error {
	if f.Name != nil && len([]rune(strings.TrimSpace(*f.Name))) > maxPolicyNameLength {
		return apperrors.InvalidInput("name", fmt.Sprintf("must be at most %d characters", maxPolicyNameLength))
	}
	if f.CoverageAmount != nil && *f.CoverageAmount < minCoverageAmount {
		return apperrors.InvalidInput("coverageAmount", fmt.Sprintf("must be at least %d", minCoverageAmount))
	}
	if f.Premium != nil && *f.Premium < minPremium {
		return apperrors.InvalidInput("premium", fmt.Sprintf("must be at least %d", minPremium))
	}
	if f.Deductible != nil && *f.Deductible < 0 {
		return apperrors.InvalidInput("deductible", "must not be negative")
	}
	if f.CoverageDetails != nil && len([]rune(strings.TrimSpace(*f.CoverageDetails))) > maxCoverageDetailsLen {
		return apperrors.InvalidInput("coverageDetails", fmt.Sprintf("must be at most %d characters", maxCoverageDetailsLen))
	}
	return nil
}

func parsePolicyDates(f PolicyFields) (effective, expiry *time.Time, err error) {
	if f.EffectiveDate != nil {
		if effective, err = parseDate("effectiveDate", *f.EffectiveDate); err != nil {
			return nil, nil, err
		}
	}
	if f.ExpiryDate != nil {
		if expiry, err = parseDate("expiryDate", *f.ExpiryDate); err != nil {
			return nil, nil, err
		}
	}
	return effective, expiry, nil
}

// parseDate accepts YYYY-MM-DD or RFC 3339 and keeps the calendar date.
func parseDate(field, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(dateLayout, value); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, apperrors.InvalidInput(field, "must be a date (YYYY-MM-DD)")
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d, nil
}

func normalizePeriodOptions(options []int64) ([]int64, error) {
	if len(options) == 0 {
		return nil, apperrors.InvalidInput("periodOptions", "must not be empty")
	}
	seen := make(map[int64]bool, 3)
	out := make([]int64, 0, 3)
	for _, opt := range options {
		if opt < 1 || opt > 3 {
			return nil, apperrors.InvalidInput("periodOptions", "values must be 1, 2 or 3")
		}
		if !seen[opt] {
			seen[opt] = true
			out = append(out, opt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
