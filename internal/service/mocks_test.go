package service

import (
	"context"
	"math/big"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/coverchain/policy-server-go/internal/database"
	"github.com/coverchain/policy-server-go/internal/model"
	"github.com/coverchain/policy-server-go/internal/registry"
	"github.com/coverchain/policy-server-go/internal/repository"
	"github.com/coverchain/policy-server-go/internal/sse"
)

// fakeTx runs the function without a transaction; mock repositories return
// themselves from WithTx.
type fakeTx struct{}

func (fakeTx) WithTx(ctx context.Context, fn database.TxFunc) error {
	return fn(nil)
}

type mockAccountRepo struct {
	mock.Mock
}

func (m *mockAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountRepo) FindByEmail(ctx context.Context, category model.AccountCategory, email string) (*model.Account, error) {
	args := m.Called(ctx, category, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountRepo) FindByWalletAddress(ctx context.Context, address string) (*model.Account, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountRepo) FindAll(ctx context.Context, limit, offset int) ([]model.Account, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Account), args.Error(1)
}

func (m *mockAccountRepo) Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountRepo) MarkVerified(ctx context.Context, id string) (*model.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountRepo) SetWalletAddress(ctx context.Context, id string, address *string) (*model.Account, error) {
	args := m.Called(ctx, id, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockAccountRepo) WithTx(tx *sqlx.Tx) repository.AccountRepository {
	return m
}

type mockSessionRepo struct {
	mock.Mock
}

func (m *mockSessionRepo) FindActiveByTokenHash(ctx context.Context, tokenHash string) (*model.Session, error) {
	args := m.Called(ctx, tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionRepo) Replace(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionRepo) DeleteByAccountID(ctx context.Context, accountID string) error {
	return m.Called(ctx, accountID).Error(0)
}

func (m *mockSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockSessionRepo) WithTx(tx *sqlx.Tx) repository.SessionRepository {
	return m
}

type mockPolicyRepo struct {
	mock.Mock
}

func (m *mockPolicyRepo) FindByID(ctx context.Context, id string) (*model.Policy, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Policy), args.Error(1)
}

func (m *mockPolicyRepo) List(ctx context.Context, filter model.PolicyFilter) ([]model.Policy, int, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]model.Policy), args.Int(1), args.Error(2)
}

func (m *mockPolicyRepo) ListOptions(ctx context.Context) ([]model.PolicyOption, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.PolicyOption), args.Error(1)
}

func (m *mockPolicyRepo) Create(ctx context.Context, params model.CreatePolicyParams) (*model.Policy, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Policy), args.Error(1)
}

func (m *mockPolicyRepo) Update(ctx context.Context, id string, params model.UpdatePolicyParams) (*model.Policy, error) {
	args := m.Called(ctx, id, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Policy), args.Error(1)
}

func (m *mockPolicyRepo) Delete(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockPolicyRepo) SetRegistryPolicyID(ctx context.Context, id string, registryID int64) error {
	return m.Called(ctx, id, registryID).Error(0)
}

func (m *mockPolicyRepo) WithTx(tx *sqlx.Tx) repository.PolicyRepository {
	return m
}

type mockPurchaseRepo struct {
	mock.Mock
}

func (m *mockPurchaseRepo) FindByID(ctx context.Context, id string) (*model.Purchase, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Purchase), args.Error(1)
}

func (m *mockPurchaseRepo) FindActive(ctx context.Context, accountID, policyID string, now time.Time) (*model.Purchase, error) {
	args := m.Called(ctx, accountID, policyID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Purchase), args.Error(1)
}

func (m *mockPurchaseRepo) FindByAccountID(ctx context.Context, accountID string) ([]model.Purchase, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Purchase), args.Error(1)
}

func (m *mockPurchaseRepo) CountByPolicyID(ctx context.Context, policyID string) (int, error) {
	args := m.Called(ctx, policyID)
	return args.Int(0), args.Error(1)
}

func (m *mockPurchaseRepo) Create(ctx context.Context, params model.CreatePurchaseParams) (*model.Purchase, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Purchase), args.Error(1)
}

func (m *mockPurchaseRepo) ExpireLapsed(ctx context.Context, accountID, policyID string, now time.Time) (int64, error) {
	args := m.Called(ctx, accountID, policyID, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockPurchaseRepo) Cancel(ctx context.Context, id string, now time.Time) (*model.Purchase, error) {
	args := m.Called(ctx, id, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Purchase), args.Error(1)
}

func (m *mockPurchaseRepo) MarkExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockPurchaseRepo) SetRegistryPurchaseID(ctx context.Context, id string, registryID int64) error {
	return m.Called(ctx, id, registryID).Error(0)
}

func (m *mockPurchaseRepo) WithTx(tx *sqlx.Tx) repository.PurchaseRepository {
	return m
}

type mockSubmissionRepo struct {
	mock.Mock
}

func (m *mockSubmissionRepo) FindByID(ctx context.Context, id string) (*model.RegistrySubmission, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RegistrySubmission), args.Error(1)
}

func (m *mockSubmissionRepo) FindPendingByAccountID(ctx context.Context, accountID string) (*model.RegistrySubmission, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RegistrySubmission), args.Error(1)
}

func (m *mockSubmissionRepo) FindOpenBySubject(ctx context.Context, kind model.SubmissionKind, subjectID string) (*model.RegistrySubmission, error) {
	args := m.Called(ctx, kind, subjectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RegistrySubmission), args.Error(1)
}

func (m *mockSubmissionRepo) FindByAccountID(ctx context.Context, accountID string, limit, offset int) ([]model.RegistrySubmission, error) {
	args := m.Called(ctx, accountID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RegistrySubmission), args.Error(1)
}

func (m *mockSubmissionRepo) FindPending(ctx context.Context, limit int) ([]model.RegistrySubmission, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RegistrySubmission), args.Error(1)
}

func (m *mockSubmissionRepo) Create(ctx context.Context, params model.CreateSubmissionParams) (*model.RegistrySubmission, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RegistrySubmission), args.Error(1)
}

func (m *mockSubmissionRepo) SetTxHash(ctx context.Context, id, txHash string) (*model.RegistrySubmission, error) {
	args := m.Called(ctx, id, txHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RegistrySubmission), args.Error(1)
}

func (m *mockSubmissionRepo) Resolve(ctx context.Context, id string, params model.ResolveSubmissionParams) (*model.RegistrySubmission, error) {
	args := m.Called(ctx, id, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RegistrySubmission), args.Error(1)
}

func (m *mockSubmissionRepo) WithTx(tx *sqlx.Tx) repository.SubmissionRepository {
	return m
}

type mockRegistry struct {
	mock.Mock
}

func (m *mockRegistry) pending(args mock.Arguments) (*registry.PendingTx, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*registry.PendingTx), args.Error(1)
}

func (m *mockRegistry) IsAccountRegistered(ctx context.Context, address registry.Address) (bool, error) {
	args := m.Called(ctx, address)
	return args.Bool(0), args.Error(1)
}

func (m *mockRegistry) RegisterAccount(ctx context.Context, signer registry.Address, f registry.AccountFields) (*registry.PendingTx, error) {
	return m.pending(m.Called(ctx, signer, f))
}

func (m *mockRegistry) RegisterCompany(ctx context.Context, signer registry.Address, f registry.CompanyFields) (*registry.PendingTx, error) {
	return m.pending(m.Called(ctx, signer, f))
}

func (m *mockRegistry) IsCompanyVerified(ctx context.Context, address registry.Address) (bool, error) {
	args := m.Called(ctx, address)
	return args.Bool(0), args.Error(1)
}

func (m *mockRegistry) ClaimOwner(ctx context.Context, address registry.Address) (*registry.OwnerCapability, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*registry.OwnerCapability), args.Error(1)
}

func (m *mockRegistry) VerifyCompany(ctx context.Context, owner registry.OwnerCapability, company registry.Address) (*registry.PendingTx, error) {
	return m.pending(m.Called(ctx, owner, company))
}

func (m *mockRegistry) CreatePolicy(ctx context.Context, signer registry.Address, f registry.PolicyFields) (*registry.PendingTx, error) {
	return m.pending(m.Called(ctx, signer, f))
}

func (m *mockRegistry) PurchasePolicy(ctx context.Context, signer registry.Address, registryPolicyID int64, value *big.Int) (*registry.PendingTx, error) {
	return m.pending(m.Called(ctx, signer, registryPolicyID, value))
}

func (m *mockRegistry) CancelPolicy(ctx context.Context, signer registry.Address, registryPurchaseID int64) (*registry.PendingTx, error) {
	return m.pending(m.Called(ctx, signer, registryPurchaseID))
}

func (m *mockRegistry) Receipt(ctx context.Context, tx registry.PendingTx) (*registry.Receipt, error) {
	args := m.Called(ctx, tx.Hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*registry.Receipt), args.Error(1)
}

func (m *mockRegistry) WaitForReceipt(ctx context.Context, tx registry.PendingTx, pollInterval time.Duration) (*registry.Receipt, error) {
	args := m.Called(ctx, tx.Hash, pollInterval)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*registry.Receipt), args.Error(1)
}

func (m *mockRegistry) AccountCount(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockRegistry) PolicyCount(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockRegistry) PolicyDetails(ctx context.Context, id int64) (*registry.PolicyDetails, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*registry.PolicyDetails), args.Error(1)
}

func (m *mockRegistry) PurchaseDetails(ctx context.Context, id int64) (*registry.PurchaseDetails, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*registry.PurchaseDetails), args.Error(1)
}

func (m *mockRegistry) InsuranceAddress() registry.Address {
	return m.Called().Get(0).(registry.Address)
}

type recordingPublisher struct {
	events map[string][]sse.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, accountID string, event sse.Event) error {
	if p.events == nil {
		p.events = make(map[string][]sse.Event)
	}
	p.events[accountID] = append(p.events[accountID], event)
	return nil
}
