package model

import (
	"time"
)

type Account struct {
	ID            string          `db:"id" json:"id"`
	Category      AccountCategory `db:"category" json:"category"`
	Name          string          `db:"name" json:"name"`
	Email         string          `db:"email" json:"email"`
	PasswordHash  string          `db:"password_hash" json:"-"`
	Role          AccountRole     `db:"role" json:"role"`
	IsVerified    bool            `db:"is_verified" json:"isVerified"`
	WalletAddress *string         `db:"wallet_address" json:"walletAddress,omitempty"`
	CompanyCode   *string         `db:"company_code" json:"companyCode,omitempty"`
	Website       *string         `db:"website" json:"website,omitempty"`
	ContactPhone  *string         `db:"contact_phone" json:"contactPhone,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updatedAt"`
}

func (a *Account) IsAdmin() bool {
	return a != nil && a.Role == AccountRoleAdmin
}

func (a *Account) IsCompany() bool {
	return a != nil && a.Category == AccountCategoryCompany
}

type CreateAccountParams struct {
	Category      AccountCategory
	Name          string
	Email         string
	PasswordHash  string
	Role          AccountRole
	WalletAddress *string
	CompanyCode   *string
	Website       *string
	ContactPhone  *string
}
