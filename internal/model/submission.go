package model

import (
	"time"
)

// RegistrySubmission tracks one state-changing call sent to the external
// registry until its confirmation is observed. TxHash is nil between claiming
// the submission and the node accepting the transaction.
type RegistrySubmission struct {
	ID          string           `db:"id" json:"id"`
	AccountID   string           `db:"account_id" json:"accountId"`
	Kind        SubmissionKind   `db:"kind" json:"kind"`
	SubjectID   string           `db:"subject_id" json:"subjectId"`
	TxHash      *string          `db:"tx_hash" json:"txHash"`
	Status      SubmissionStatus `db:"status" json:"status"`
	Reason      *string          `db:"reason" json:"reason,omitempty"`
	RegistryRef *string          `db:"registry_ref" json:"registryRef,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updatedAt"`
	ResolvedAt  *time.Time       `db:"resolved_at" json:"resolvedAt,omitempty"`
}

type CreateSubmissionParams struct {
	AccountID string
	Kind      SubmissionKind
	SubjectID string
}

type ResolveSubmissionParams struct {
	Status      SubmissionStatus
	Reason      *string
	RegistryRef *string
}
