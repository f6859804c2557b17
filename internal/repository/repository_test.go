package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverchain/policy-server-go/internal/model"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

var policyColumns = []string{
	"id", "company_id", "name", "coverage_amount", "premium", "deductible",
	"effective_date", "expiry_date", "coverage_details", "period_options",
	"is_active", "registry_policy_id", "created_at", "updated_at",
}

func policyRow(rows *sqlmock.Rows, id, name string) *sqlmock.Rows {
	now := time.Now()
	return rows.AddRow(
		id, nil, name, 1000.0, 50.0, 10.0,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		"x", []byte("{1,2,3}"), true, nil, now, now,
	)
}

func TestTranslateError(t *testing.T) {
	t.Run("unique violation", func(t *testing.T) {
		err := translateError(&pq.Error{Code: "23505", Constraint: "policies_name_key"})
		assert.True(t, errors.Is(err, ErrUniqueViolation))

		var pqErr *pq.Error
		require.True(t, errors.As(err, &pqErr))
		assert.Equal(t, "policies_name_key", pqErr.Constraint)
	})

	t.Run("foreign key violation", func(t *testing.T) {
		err := translateError(&pq.Error{Code: "23503"})
		assert.True(t, errors.Is(err, ErrForeignKeyViolation))
	})

	t.Run("check violation", func(t *testing.T) {
		err := translateError(&pq.Error{Code: "23514"})
		assert.True(t, errors.Is(err, ErrCheckViolation))
	})

	t.Run("other errors pass through", func(t *testing.T) {
		original := errors.New("connection reset")
		assert.Equal(t, original, translateError(original))

		syntax := &pq.Error{Code: "42601"}
		assert.Equal(t, error(syntax), translateError(syntax))
	})
}

func TestHandleNotFound(t *testing.T) {
	t.Run("no rows is nil without error", func(t *testing.T) {
		var p model.Policy
		result, err := HandleNotFound(&p, sql.ErrNoRows)
		assert.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("translates constraint errors", func(t *testing.T) {
		var p model.Policy
		_, err := HandleNotFound(&p, &pq.Error{Code: "23505"})
		assert.True(t, errors.Is(err, ErrUniqueViolation))
	})
}

func TestOrderBy(t *testing.T) {
	tests := []struct {
		name     string
		keys     []model.PolicySortKey
		expected string
	}{
		{"default", nil, " ORDER BY created_at DESC, id"},
		{"single ascending", []model.PolicySortKey{{Field: model.PolicySortName}}, " ORDER BY LOWER(name) ASC, id"},
		{
			"compound",
			[]model.PolicySortKey{{Field: model.PolicySortPremium, Descending: true}, {Field: model.PolicySortExpiryDate}},
			" ORDER BY premium DESC, expiry_date ASC, id",
		},
		{"unknown fields ignored", []model.PolicySortKey{{Field: "owner"}}, " ORDER BY created_at DESC, id"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, orderBy(tc.keys))
		})
	}
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\%`, escapeLike("100%"))
	assert.Equal(t, `a\_b`, escapeLike("a_b"))
	assert.Equal(t, `c:\\x`, escapeLike(`c:\x`))
}

func TestPolicyRepository_List(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPolicyRepository(db)
	ctx := context.Background()

	active := true
	filter := model.PolicyFilter{
		Search: "dental",
		Active: &active,
		Sort:   []model.PolicySortKey{{Field: model.PolicySortName}},
		Limit:  10,
		Offset: 0,
	}

	where := ` WHERE 1=1 AND (to_tsvector('simple', name || ' ' || coverage_details) @@ plainto_tsquery('simple', $1) OR name ILIKE $2 OR coverage_details ILIKE $2) AND is_active = $3`

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM policies` + where)).
		WithArgs("dental", "%dental%", true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM policies` + where + ` ORDER BY LOWER(name) ASC, id LIMIT $4 OFFSET $5`)).
		WithArgs("dental", "%dental%", true, 10, 0).
		WillReturnRows(policyRow(sqlmock.NewRows(policyColumns), "p1", "Dental Basic"))

	policies, total, err := repo.List(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, policies, 1)
	assert.Equal(t, "Dental Basic", policies[0].Name)
	assert.Equal(t, pq.Int64Array{1, 2, 3}, policies[0].PeriodOptions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPolicyRepository_Create(t *testing.T) {
	t.Run("duplicate name is a unique violation", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPolicyRepository(db)

		mock.ExpectQuery("INSERT INTO policies").
			WillReturnError(&pq.Error{Code: "23505", Constraint: "policies_name_key"})

		_, err := repo.Create(context.Background(), model.CreatePolicyParams{Name: "Basic", PeriodOptions: []int64{1, 2, 3}})
		assert.True(t, errors.Is(err, ErrUniqueViolation))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPolicyRepository_Delete(t *testing.T) {
	t.Run("referenced policy is a foreign key violation", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPolicyRepository(db)

		mock.ExpectExec("DELETE FROM policies").
			WithArgs("p1").
			WillReturnError(&pq.Error{Code: "23503", Constraint: "purchases_policy_id_fkey"})

		_, err := repo.Delete(context.Background(), "p1")
		assert.True(t, errors.Is(err, ErrForeignKeyViolation))
	})

	t.Run("reports whether a row was removed", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPolicyRepository(db)

		mock.ExpectExec("DELETE FROM policies").WithArgs("p1").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("DELETE FROM policies").WithArgs("p2").WillReturnResult(sqlmock.NewResult(0, 0))

		deleted, err := repo.Delete(context.Background(), "p1")
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = repo.Delete(context.Background(), "p2")
		require.NoError(t, err)
		assert.False(t, deleted)
	})
}

func TestAccountRepository_FindByEmail(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE category = $1 AND LOWER(email) = LOWER($2)`)).
		WithArgs(model.AccountCategoryUser, "Alice@Example.com").
		WillReturnError(sql.ErrNoRows)

	account, err := repo.FindByEmail(context.Background(), model.AccountCategoryUser, "Alice@Example.com")
	assert.NoError(t, err)
	assert.Nil(t, account)
}

func TestAccountRepository_FindAll(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountRepository(db)
	now := time.Now()

	columns := []string{"id", "category", "name", "email", "password_hash", "role", "is_verified",
		"wallet_address", "company_code", "website", "contact_phone", "created_at", "updated_at"}

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY created_at DESC, id DESC`)).
		WithArgs(10, 10).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("a1", "user", "Alice", "alice@example.com", "$2a$12$hash", "member", false, nil, nil, nil, nil, now, now))

	accounts, err := repo.FindAll(context.Background(), 10, 10)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, model.AccountCategoryUser, accounts[0].Category)
	assert.Equal(t, "$2a$12$hash", accounts[0].PasswordHash)
}

func TestPurchaseRepository_Create(t *testing.T) {
	t.Run("second active purchase is a unique violation", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPurchaseRepository(db)

		mock.ExpectQuery("INSERT INTO purchases").
			WillReturnError(&pq.Error{Code: "23505", Constraint: "purchases_one_active_key"})

		_, err := repo.Create(context.Background(), model.CreatePurchaseParams{AccountID: "a1", PolicyID: "p1", SelectedPeriod: 2})
		assert.True(t, errors.Is(err, ErrUniqueViolation))
	})
}

func TestPurchaseRepository_Cancel(t *testing.T) {
	t.Run("returns nil when nothing is cancellable", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPurchaseRepository(db)

		now := time.Now()
		mock.ExpectQuery("UPDATE purchases SET").
			WithArgs("pu1", now).
			WillReturnError(sql.ErrNoRows)

		purchase, err := repo.Cancel(context.Background(), "pu1", now)
		assert.NoError(t, err)
		assert.Nil(t, purchase)
	})
}

func TestPurchaseRepository_WindowUsesCallerClock(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("find active", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPurchaseRepository(db)

		mock.ExpectQuery(regexp.QuoteMeta(`AND status = 'active' AND ends_at > $3`)).
			WithArgs("a1", "p1", now).
			WillReturnError(sql.ErrNoRows)

		purchase, err := repo.FindActive(context.Background(), "a1", "p1", now)
		require.NoError(t, err)
		assert.Nil(t, purchase)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expire lapsed", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPurchaseRepository(db)

		mock.ExpectExec(regexp.QuoteMeta(`AND status = 'active' AND ends_at <= $3`)).
			WithArgs("a1", "p1", now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		n, err := repo.ExpireLapsed(context.Background(), "a1", "p1", now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPurchaseRepository_MarkExpired(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPurchaseRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`WHERE status = 'active' AND ends_at <= NOW()`)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := repo.MarkExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestSessionRepository_Replace(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepository(db)
	expiresAt := time.Now().Add(time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta(`ON CONFLICT (account_id) DO UPDATE SET`)).
		WithArgs("a1", "hash", expiresAt).
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "token_hash", "expires_at", "created_at"}).
			AddRow("s1", "a1", "hash", expiresAt, time.Now()))

	session, err := repo.Replace(context.Background(), model.CreateSessionParams{
		AccountID: "a1",
		TokenHash: "hash",
		ExpiresAt: expiresAt,
	})
	require.NoError(t, err)
	assert.Equal(t, "s1", session.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionRepository_Create(t *testing.T) {
	t.Run("second pending submission is a unique violation", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewSubmissionRepository(db)

		mock.ExpectQuery("INSERT INTO registry_submissions").
			WillReturnError(&pq.Error{Code: "23505", Constraint: "registry_submissions_one_pending_key"})

		_, err := repo.Create(context.Background(), model.CreateSubmissionParams{AccountID: "a1"})
		assert.True(t, errors.Is(err, ErrUniqueViolation))
		assert.Equal(t, ConstraintSubmissionPending, ConstraintOf(err))
	})

	t.Run("claims without a transaction hash", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewSubmissionRepository(db)

		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO registry_submissions (account_id, kind, subject_id)")).
			WithArgs("a1", model.SubmissionKindPurchase, "pu1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "kind", "subject_id", "tx_hash", "status"}).
				AddRow("s1", "a1", "purchase", "pu1", nil, "pending"))

		sub, err := repo.Create(context.Background(), model.CreateSubmissionParams{
			AccountID: "a1", Kind: model.SubmissionKindPurchase, SubjectID: "pu1",
		})
		require.NoError(t, err)
		assert.Nil(t, sub.TxHash)
		assert.Equal(t, model.SubmissionStatusPending, sub.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSubmissionRepository_SetTxHash(t *testing.T) {
	t.Run("records the hash on an unsent claim", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewSubmissionRepository(db)

		mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND status = 'pending' AND tx_hash IS NULL")).
			WithArgs("s1", "0xabc").
			WillReturnRows(sqlmock.NewRows([]string{"id", "tx_hash", "status"}).AddRow("s1", "0xabc", "pending"))

		sub, err := repo.SetTxHash(context.Background(), "s1", "0xabc")
		require.NoError(t, err)
		require.NotNil(t, sub.TxHash)
		assert.Equal(t, "0xabc", *sub.TxHash)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("resolved claim returns nil", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewSubmissionRepository(db)

		mock.ExpectQuery("UPDATE registry_submissions").
			WithArgs("s1", "0xabc").
			WillReturnError(sql.ErrNoRows)

		sub, err := repo.SetTxHash(context.Background(), "s1", "0xabc")
		require.NoError(t, err)
		assert.Nil(t, sub)
	})
}

func TestConstraintOf(t *testing.T) {
	wrapped := fmt.Errorf("%w: %w", ErrUniqueViolation, &pq.Error{Code: "23505", Constraint: ConstraintAccountWallet})
	assert.Equal(t, ConstraintAccountWallet, ConstraintOf(wrapped))
	assert.Equal(t, "", ConstraintOf(errors.New("boom")))
}

func TestSubmissionRepository_FindOpenBySubject(t *testing.T) {
	t.Run("no open submission returns nil", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewSubmissionRepository(db)

		mock.ExpectQuery(regexp.QuoteMeta("status IN ('pending', 'confirmed')")).
			WithArgs(model.SubmissionKindPolicyCreation, "p1").
			WillReturnError(sql.ErrNoRows)

		sub, err := repo.FindOpenBySubject(context.Background(), model.SubmissionKindPolicyCreation, "p1")
		require.NoError(t, err)
		assert.Nil(t, sub)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
