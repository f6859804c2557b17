package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/coverchain/policy-server-go/internal/model"
)

type AccountRepository interface {
	FindByID(ctx context.Context, id string) (*model.Account, error)
	FindByEmail(ctx context.Context, category model.AccountCategory, email string) (*model.Account, error)
	FindByWalletAddress(ctx context.Context, address string) (*model.Account, error)
	FindAll(ctx context.Context, limit, offset int) ([]model.Account, error)
	Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error)
	MarkVerified(ctx context.Context, id string) (*model.Account, error)
	SetWalletAddress(ctx context.Context, id string, address *string) (*model.Account, error)
	Count(ctx context.Context) (int, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) AccountRepository
}

type accountRepo struct {
	db sqlxDB
}

func NewAccountRepository(db *sqlx.DB) AccountRepository {
	return &accountRepo{db: db}
}

func (r *accountRepo) WithTx(tx *sqlx.Tx) AccountRepository {
	return &accountRepo{db: tx}
}

func (r *accountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM accounts WHERE id = $1
	`, id)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) FindByEmail(ctx context.Context, category model.AccountCategory, email string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM accounts
		WHERE category = $1 AND LOWER(email) = LOWER($2)
	`, category, email)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) FindByWalletAddress(ctx context.Context, address string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM accounts
		WHERE LOWER(wallet_address) = LOWER($1)
	`, address)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) FindAll(ctx context.Context, limit, offset int) ([]model.Account, error) {
	var accounts []model.Account
	err := r.db.SelectContext(ctx, &accounts, `
		SELECT * FROM accounts
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *accountRepo) Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		INSERT INTO accounts (category, name, email, password_hash, role, wallet_address, company_code, website, contact_phone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING *
	`, params.Category, params.Name, params.Email, params.PasswordHash, params.Role,
		params.WalletAddress, params.CompanyCode, params.Website, params.ContactPhone)
	if err != nil {
		return nil, translateError(err)
	}
	return &account, nil
}

// MarkVerified sets the verification flag. Already verified accounts are
// returned unchanged.
func (r *accountRepo) MarkVerified(ctx context.Context, id string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		UPDATE accounts SET
			is_verified = TRUE,
			updated_at = CASE WHEN is_verified THEN updated_at ELSE $2 END
		WHERE id = $1
		RETURNING *
	`, id, time.Now())
	return HandleNotFound(&account, err)
}

func (r *accountRepo) SetWalletAddress(ctx context.Context, id string, address *string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		UPDATE accounts SET
			wallet_address = $2,
			updated_at = $3
		WHERE id = $1
		RETURNING *
	`, id, address, time.Now())
	return HandleNotFound(&account, err)
}

func (r *accountRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM accounts`)
	return count, err
}
