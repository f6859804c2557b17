package repository

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/coverchain/policy-server-go/internal/model"
)

type PolicyRepository interface {
	FindByID(ctx context.Context, id string) (*model.Policy, error)
	List(ctx context.Context, filter model.PolicyFilter) ([]model.Policy, int, error)
	ListOptions(ctx context.Context) ([]model.PolicyOption, error)
	Create(ctx context.Context, params model.CreatePolicyParams) (*model.Policy, error)
	Update(ctx context.Context, id string, params model.UpdatePolicyParams) (*model.Policy, error)
	Delete(ctx context.Context, id string) (bool, error)
	SetRegistryPolicyID(ctx context.Context, id string, registryID int64) error
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) PolicyRepository
}

// policySortColumns maps API sort fields to SQL expressions. Text columns are
// lowered so ordering is case-insensitive under the database collation.
var policySortColumns = map[model.PolicySortField]string{
	model.PolicySortName:           "LOWER(name)",
	model.PolicySortCoverageAmount: "coverage_amount",
	model.PolicySortPremium:        "premium",
	model.PolicySortDeductible:     "deductible",
	model.PolicySortEffectiveDate:  "effective_date",
	model.PolicySortExpiryDate:     "expiry_date",
	model.PolicySortCreatedAt:      "created_at",
}

// IsSortablePolicyField reports whether field can appear in a sort key.
func IsSortablePolicyField(field model.PolicySortField) bool {
	_, ok := policySortColumns[field]
	return ok
}

type policyRepo struct {
	db sqlxDB
}

func NewPolicyRepository(db *sqlx.DB) PolicyRepository {
	return &policyRepo{db: db}
}

func (r *policyRepo) WithTx(tx *sqlx.Tx) PolicyRepository {
	return &policyRepo{db: tx}
}

func (r *policyRepo) FindByID(ctx context.Context, id string) (*model.Policy, error) {
	var policy model.Policy
	err := r.db.GetContext(ctx, &policy, `
		SELECT * FROM policies WHERE id = $1
	`, id)
	return HandleNotFound(&policy, err)
}

func (r *policyRepo) List(ctx context.Context, filter model.PolicyFilter) ([]model.Policy, int, error) {
	var policies []model.Policy
	var total int

	where := ` WHERE 1=1`
	args := []interface{}{}
	argIndex := 1

	if search := strings.TrimSpace(filter.Search); search != "" {
		where += ` AND (to_tsvector('simple', name || ' ' || coverage_details) @@ plainto_tsquery('simple', $` + strconv.Itoa(argIndex) + `)` +
			` OR name ILIKE $` + strconv.Itoa(argIndex+1) + ` OR coverage_details ILIKE $` + strconv.Itoa(argIndex+1) + `)`
		args = append(args, search, "%"+escapeLike(search)+"%")
		argIndex += 2
	}

	if filter.Active != nil {
		where += ` AND is_active = $` + strconv.Itoa(argIndex)
		args = append(args, *filter.Active)
		argIndex++
	}

	if filter.CompanyID != nil {
		where += ` AND company_id = $` + strconv.Itoa(argIndex)
		args = append(args, *filter.CompanyID)
		argIndex++
	}

	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM policies`+where, args...); err != nil {
		return nil, 0, err
	}

	query := `SELECT * FROM policies` + where + orderBy(filter.Sort) +
		` LIMIT $` + strconv.Itoa(argIndex) + ` OFFSET $` + strconv.Itoa(argIndex+1)
	args = append(args, filter.Limit, filter.Offset)

	if err := r.db.SelectContext(ctx, &policies, query, args...); err != nil {
		return nil, 0, err
	}

	return policies, total, nil
}

func orderBy(keys []model.PolicySortKey) string {
	if len(keys) == 0 {
		return ` ORDER BY created_at DESC, id`
	}

	parts := make([]string, 0, len(keys)+1)
	for _, key := range keys {
		column, ok := policySortColumns[key.Field]
		if !ok {
			continue
		}
		if key.Descending {
			column += " DESC"
		} else {
			column += " ASC"
		}
		parts = append(parts, column)
	}
	if len(parts) == 0 {
		return ` ORDER BY created_at DESC, id`
	}
	parts = append(parts, "id")
	return ` ORDER BY ` + strings.Join(parts, ", ")
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *policyRepo) ListOptions(ctx context.Context) ([]model.PolicyOption, error) {
	var options []model.PolicyOption
	err := r.db.SelectContext(ctx, &options, `
		SELECT id, name, coverage_amount, period_options FROM policies
		WHERE is_active = TRUE
		ORDER BY LOWER(name)
	`)
	if err != nil {
		return nil, err
	}
	return options, nil
}

func (r *policyRepo) Create(ctx context.Context, params model.CreatePolicyParams) (*model.Policy, error) {
	var policy model.Policy
	err := r.db.GetContext(ctx, &policy, `
		INSERT INTO policies (company_id, name, coverage_amount, premium, deductible,
			effective_date, expiry_date, coverage_details, period_options, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING *
	`, params.CompanyID, params.Name, params.CoverageAmount, params.Premium, params.Deductible,
		params.EffectiveDate, params.ExpiryDate, params.CoverageDetails, pq.Int64Array(params.PeriodOptions),
		params.IsActive)
	if err != nil {
		return nil, translateError(err)
	}
	return &policy, nil
}

func (r *policyRepo) Update(ctx context.Context, id string, params model.UpdatePolicyParams) (*model.Policy, error) {
	var policy model.Policy
	err := r.db.GetContext(ctx, &policy, `
		UPDATE policies SET
			name = COALESCE($2, name),
			coverage_amount = COALESCE($3, coverage_amount),
			premium = COALESCE($4, premium),
			deductible = COALESCE($5, deductible),
			effective_date = COALESCE($6, effective_date),
			expiry_date = COALESCE($7, expiry_date),
			coverage_details = COALESCE($8, coverage_details),
			period_options = COALESCE($9, period_options),
			is_active = COALESCE($10, is_active),
			updated_at = $11
		WHERE id = $1
		RETURNING *
	`, id, params.Name, params.CoverageAmount, params.Premium, params.Deductible,
		params.EffectiveDate, params.ExpiryDate, params.CoverageDetails,
		pq.Int64Array(params.PeriodOptions), params.IsActive, time.Now())
	return HandleNotFound(&policy, err)
}

func (r *policyRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM policies WHERE id = $1`, id)
	if err != nil {
		return false, translateError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *policyRepo) SetRegistryPolicyID(ctx context.Context, id string, registryID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE policies SET registry_policy_id = $2, updated_at = $3 WHERE id = $1
	`, id, registryID, time.Now())
	return err
}
