package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/coverchain/policy-server-go/internal/model"
)

type PurchaseRepository interface {
	FindByID(ctx context.Context, id string) (*model.Purchase, error)
	// FindActive returns the pair's purchase that is active and still within
	// its window at now.
	FindActive(ctx context.Context, accountID, policyID string, now time.Time) (*model.Purchase, error)
	FindByAccountID(ctx context.Context, accountID string) ([]model.Purchase, error)
	CountByPolicyID(ctx context.Context, policyID string) (int, error)
	Create(ctx context.Context, params model.CreatePurchaseParams) (*model.Purchase, error)
	// ExpireLapsed persists Expired for the pair's active rows whose window
	// closed before now.
	ExpireLapsed(ctx context.Context, accountID, policyID string, now time.Time) (int64, error)
	Cancel(ctx context.Context, id string, now time.Time) (*model.Purchase, error)
	MarkExpired(ctx context.Context) (int64, error)
	SetRegistryPurchaseID(ctx context.Context, id string, registryID int64) error
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) PurchaseRepository
}

type purchaseRepo struct {
	db sqlxDB
}

func NewPurchaseRepository(db *sqlx.DB) PurchaseRepository {
	return &purchaseRepo{db: db}
}

func (r *purchaseRepo) WithTx(tx *sqlx.Tx) PurchaseRepository {
	return &purchaseRepo{db: tx}
}

func (r *purchaseRepo) FindByID(ctx context.Context, id string) (*model.Purchase, error) {
	var purchase model.Purchase
	err := r.db.GetContext(ctx, &purchase, `
		SELECT * FROM purchases WHERE id = $1
	`, id)
	return HandleNotFound(&purchase, err)
}

func (r *purchaseRepo) FindActive(ctx context.Context, accountID, policyID string, now time.Time) (*model.Purchase, error) {
	var purchase model.Purchase
	err := r.db.GetContext(ctx, &purchase, `
		SELECT * FROM purchases
		WHERE account_id = $1 AND policy_id = $2
		AND status = 'active' AND ends_at > $3
	`, accountID, policyID, now)
	return HandleNotFound(&purchase, err)
}

func (r *purchaseRepo) FindByAccountID(ctx context.Context, accountID string) ([]model.Purchase, error) {
	var purchases []model.Purchase
	err := r.db.SelectContext(ctx, &purchases, `
		SELECT * FROM purchases
		WHERE account_id = $1
		ORDER BY purchased_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	return purchases, nil
}

func (r *purchaseRepo) CountByPolicyID(ctx context.Context, policyID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM purchases WHERE policy_id = $1
	`, policyID)
	return count, err
}

func (r *purchaseRepo) Create(ctx context.Context, params model.CreatePurchaseParams) (*model.Purchase, error) {
	var purchase model.Purchase
	err := r.db.GetContext(ctx, &purchase, `
		INSERT INTO purchases (account_id, policy_id, selected_period, calculated_premium, starts_at, ends_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *
	`, params.AccountID, params.PolicyID, params.SelectedPeriod, params.CalculatedPremium,
		params.StartsAt, params.EndsAt)
	if err != nil {
		return nil, translateError(err)
	}
	return &purchase, nil
}

func (r *purchaseRepo) ExpireLapsed(ctx context.Context, accountID, policyID string, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE purchases SET
			status = 'expired',
			updated_at = $3
		WHERE account_id = $1 AND policy_id = $2
		AND status = 'active' AND ends_at <= $3
	`, accountID, policyID, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Cancel moves an in-window active purchase to cancelled. It returns nil when
// no such purchase exists.
func (r *purchaseRepo) Cancel(ctx context.Context, id string, now time.Time) (*model.Purchase, error) {
	var purchase model.Purchase
	err := r.db.GetContext(ctx, &purchase, `
		UPDATE purchases SET
			status = 'cancelled',
			cancelled_at = $2,
			updated_at = $2
		WHERE id = $1 AND status = 'active' AND ends_at > $2
		RETURNING *
	`, id, now)
	return HandleNotFound(&purchase, err)
}

func (r *purchaseRepo) MarkExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE purchases SET
			status = 'expired',
			updated_at = NOW()
		WHERE status = 'active' AND ends_at <= NOW()
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *purchaseRepo) SetRegistryPurchaseID(ctx context.Context, id string, registryID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE purchases SET registry_purchase_id = $2, updated_at = $3 WHERE id = $1
	`, id, registryID, time.Now())
	return err
}
