package model

type AccountCategory string

const (
	AccountCategoryUser    AccountCategory = "user"
	AccountCategoryCompany AccountCategory = "company"
)

func (c AccountCategory) Valid() bool {
	return c == AccountCategoryUser || c == AccountCategoryCompany
}

type AccountRole string

const (
	AccountRoleMember AccountRole = "member"
	AccountRoleAdmin  AccountRole = "admin"
)

func (r AccountRole) Valid() bool {
	return r == AccountRoleMember || r == AccountRoleAdmin
}

type PurchaseStatus string

const (
	PurchaseStatusActive    PurchaseStatus = "active"
	PurchaseStatusExpired   PurchaseStatus = "expired"
	PurchaseStatusCancelled PurchaseStatus = "cancelled"
)

type SubmissionKind string

const (
	SubmissionKindAccountRegistration SubmissionKind = "account_registration"
	SubmissionKindCompanyRegistration SubmissionKind = "company_registration"
	SubmissionKindCompanyVerification SubmissionKind = "company_verification"
	SubmissionKindPolicyCreation      SubmissionKind = "policy_creation"
	SubmissionKindPurchase            SubmissionKind = "purchase"
	SubmissionKindCancellation        SubmissionKind = "cancellation"
)

type SubmissionStatus string

const (
	SubmissionStatusPending   SubmissionStatus = "pending"
	SubmissionStatusConfirmed SubmissionStatus = "confirmed"
	SubmissionStatusFailed    SubmissionStatus = "failed"
	SubmissionStatusAbandoned SubmissionStatus = "abandoned"
)
