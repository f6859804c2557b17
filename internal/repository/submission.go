package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/coverchain/policy-server-go/internal/model"
)

type SubmissionRepository interface {
	FindByID(ctx context.Context, id string) (*model.RegistrySubmission, error)
	FindPendingByAccountID(ctx context.Context, accountID string) (*model.RegistrySubmission, error)
	// FindOpenBySubject returns the pending or confirmed submission for a subject.
	FindOpenBySubject(ctx context.Context, kind model.SubmissionKind, subjectID string) (*model.RegistrySubmission, error)
	FindByAccountID(ctx context.Context, accountID string, limit, offset int) ([]model.RegistrySubmission, error)
	FindPending(ctx context.Context, limit int) ([]model.RegistrySubmission, error)
	// Create claims a pending submission before anything is sent. The partial
	// unique indexes reject a second pending row for the account or subject.
	Create(ctx context.Context, params model.CreateSubmissionParams) (*model.RegistrySubmission, error)
	// SetTxHash records the hash of the sent transaction on a pending
	// submission that has none yet.
	SetTxHash(ctx context.Context, id, txHash string) (*model.RegistrySubmission, error)
	// Resolve finalizes a pending submission. It returns nil if the row was
	// already resolved by a concurrent reconciler.
	Resolve(ctx context.Context, id string, params model.ResolveSubmissionParams) (*model.RegistrySubmission, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) SubmissionRepository
}

type submissionRepo struct {
	db sqlxDB
}

func NewSubmissionRepository(db *sqlx.DB) SubmissionRepository {
	return &submissionRepo{db: db}
}

func (r *submissionRepo) WithTx(tx *sqlx.Tx) SubmissionRepository {
	return &submissionRepo{db: tx}
}

func (r *submissionRepo) FindByID(ctx context.Context, id string) (*model.RegistrySubmission, error) {
	var sub model.RegistrySubmission
	err := r.db.GetContext(ctx, &sub, `
		SELECT * FROM registry_submissions WHERE id = $1
	`, id)
	return HandleNotFound(&sub, err)
}

func (r *submissionRepo) FindPendingByAccountID(ctx context.Context, accountID string) (*model.RegistrySubmission, error) {
	var sub model.RegistrySubmission
	err := r.db.GetContext(ctx, &sub, `
		SELECT * FROM registry_submissions
		WHERE account_id = $1 AND status = 'pending'
	`, accountID)
	return HandleNotFound(&sub, err)
}

func (r *submissionRepo) FindOpenBySubject(ctx context.Context, kind model.SubmissionKind, subjectID string) (*model.RegistrySubmission, error) {
	var sub model.RegistrySubmission
	err := r.db.GetContext(ctx, &sub, `
		SELECT * FROM registry_submissions
		WHERE kind = $1 AND subject_id = $2 AND status IN ('pending', 'confirmed')
		ORDER BY created_at DESC
		LIMIT 1
	`, kind, subjectID)
	return HandleNotFound(&sub, err)
}

func (r *submissionRepo) FindByAccountID(ctx context.Context, accountID string, limit, offset int) ([]model.RegistrySubmission, error) {
	var subs []model.RegistrySubmission
	err := r.db.SelectContext(ctx, &subs, `
		SELECT * FROM registry_submissions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *submissionRepo) FindPending(ctx context.Context, limit int) ([]model.RegistrySubmission, error) {
	var subs []model.RegistrySubmission
	err := r.db.SelectContext(ctx, &subs, `
		SELECT * FROM registry_submissions
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *submissionRepo) Create(ctx context.Context, params model.CreateSubmissionParams) (*model.RegistrySubmission, error) {
	var sub model.RegistrySubmission
	err := r.db.GetContext(ctx, &sub, `
		INSERT INTO registry_submissions (account_id, kind, subject_id)
		VALUES ($1, $2, $3)
		RETURNING *
	`, params.AccountID, params.Kind, params.SubjectID)
	if err != nil {
		return nil, translateError(err)
	}
	return &sub, nil
}

func (r *submissionRepo) SetTxHash(ctx context.Context, id, txHash string) (*model.RegistrySubmission, error) {
	var sub model.RegistrySubmission
	err := r.db.GetContext(ctx, &sub, `
		UPDATE registry_submissions SET
			tx_hash = $2,
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND tx_hash IS NULL
		RETURNING *
	`, id, txHash)
	return HandleNotFound(&sub, err)
}

func (r *submissionRepo) Resolve(ctx context.Context, id string, params model.ResolveSubmissionParams) (*model.RegistrySubmission, error) {
	var sub model.RegistrySubmission
	now := time.Now()
	err := r.db.GetContext(ctx, &sub, `
		UPDATE registry_submissions SET
			status = $2,
			reason = $3,
			registry_ref = $4,
			resolved_at = $5,
			updated_at = $5
		WHERE id = $1 AND status = 'pending'
		RETURNING *
	`, id, params.Status, params.Reason, params.RegistryRef, now)
	return HandleNotFound(&sub, err)
}
