package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/coverchain/policy-server-go/internal/database"
	apperrors "github.com/coverchain/policy-server-go/internal/errors"
	"github.com/coverchain/policy-server-go/internal/metrics"
	"github.com/coverchain/policy-server-go/internal/model"
	"github.com/coverchain/policy-server-go/internal/registry"
	"github.com/coverchain/policy-server-go/internal/repository"
	"github.com/coverchain/policy-server-go/internal/sse"
	"github.com/coverchain/policy-server-go/internal/util"
)

const (
	reconcileBatchSize     = 100
	defaultSubmissionLimit = 20

	msgSubmissionPending = "A registry submission is already pending for this account"
	msgSubjectSubmitted  = "This subject has already been submitted to the registry"
)

// EventPublisher delivers registry outcomes to an account's event stream.
type EventPublisher interface {
	Publish(ctx context.Context, accountID string, event sse.Event) error
}

type RegistryStatus struct {
	Address    string `json:"address"`
	Registered bool   `json:"registered"`
	Verified   bool   `json:"verified"`
}

type RegistryStats struct {
	Accounts uint64 `json:"accounts"`
	Policies uint64 `json:"policies"`
}

type RegistryConfig struct {
	// CredentialSecret keys the digest sent in place of account credentials.
	CredentialSecret string
	ConfirmTimeout   time.Duration
	// OwnerAddress signs verifications for administrators without a wallet.
	OwnerAddress registry.Address
}

// RegistryService submits state-changing calls to the external registry and
// tracks them until they are confirmed, rejected or abandoned. The local
// ledger stays authoritative throughout.
type RegistryService struct {
	registry       registry.Registry
	db             database.Transactor
	accountRepo    repository.AccountRepository
	policyRepo     repository.PolicyRepository
	purchaseRepo   repository.PurchaseRepository
	submissionRepo repository.SubmissionRepository
	events         EventPublisher
	cfg            RegistryConfig
	metrics        *metrics.Metrics
	now            func() time.Time
}

// NewRegistryService builds the service. reg may be nil when no registry is
// configured; every operation then reports the registry as unavailable.
func NewRegistryService(
	reg registry.Registry,
	db database.Transactor,
	accountRepo repository.AccountRepository,
	policyRepo repository.PolicyRepository,
	purchaseRepo repository.PurchaseRepository,
	submissionRepo repository.SubmissionRepository,
	events EventPublisher,
	cfg RegistryConfig,
	m *metrics.Metrics,
) *RegistryService {
	return &RegistryService{
		registry:       reg,
		db:             db,
		accountRepo:    accountRepo,
		policyRepo:     policyRepo,
		purchaseRepo:   purchaseRepo,
		submissionRepo: submissionRepo,
		events:         events,
		cfg:            cfg,
		metrics:        m,
		now:            time.Now,
	}
}

func (s *RegistryService) Enabled() bool {
	return s.registry != nil
}

func (s *RegistryService) available() error {
	if s.registry == nil {
		return apperrors.RegistryUnavailable("registry is not configured").WithCause(registry.ErrDisabled)
	}
	return nil
}

func (s *RegistryService) Status(ctx context.Context, address string) (*RegistryStatus, error) {
	if err := s.available(); err != nil {
		return nil, err
	}
	if !util.IsValidWalletAddress(address) {
		return nil, apperrors.InvalidInput("address", "must be a 0x-prefixed 20-byte hex address")
	}

	status := &RegistryStatus{Address: address}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		status.Registered, err = s.registry.IsAccountRegistered(gctx, registry.Address(address))
		return err
	})
	g.Go(func() error {
		var err error
		status.Verified, err = s.registry.IsCompanyVerified(gctx, registry.Address(address))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, registryError(err)
	}
	return status, nil
}

func (s *RegistryService) Stats(ctx context.Context) (*RegistryStats, error) {
	if err := s.available(); err != nil {
		return nil, err
	}

	stats := &RegistryStats{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats.Accounts, err = s.registry.AccountCount(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		stats.Policies, err = s.registry.PolicyCount(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, registryError(err)
	}
	return stats, nil
}

func (s *RegistryService) PolicyDetails(ctx context.Context, rawID string) (*registry.PolicyDetails, error) {
	if err := s.available(); err != nil {
		return nil, err
	}
	id, err := parseRegistryID(rawID)
	if err != nil {
		return nil, err
	}
	details, err := s.registry.PolicyDetails(ctx, id)
	if err != nil {
		return nil, registryError(err)
	}
	return details, nil
}

func (s *RegistryService) PurchaseDetails(ctx context.Context, rawID string) (*registry.PurchaseDetails, error) {
	if err := s.available(); err != nil {
		return nil, err
	}
	id, err := parseRegistryID(rawID)
	if err != nil {
		return nil, err
	}
	details, err := s.registry.PurchaseDetails(ctx, id)
	if err != nil {
		return nil, registryError(err)
	}
	return details, nil
}

// Submissions lists the caller's own submissions, newest first.
func (s *RegistryService) Submissions(ctx context.Context, caller *model.Account, limit, offset int) ([]model.RegistrySubmission, error) {
	if limit < 1 {
		limit = defaultSubmissionLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	subs, err := s.submissionRepo.FindByAccountID(ctx, caller.ID, limit, offset)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if subs == nil {
		subs = []model.RegistrySubmission{}
	}
	return subs, nil
}

// SubmitAccountRegistration writes the caller's profile to the user or
// company registry, depending on the account category.
func (s *RegistryService) SubmitAccountRegistration(ctx context.Context, caller *model.Account) (*model.RegistrySubmission, error) {
	if err := s.available(); err != nil {
		return nil, err
	}
	signer, err := walletOf(caller)
	if err != nil {
		return nil, err
	}

	kind := model.SubmissionKindAccountRegistration
	if caller.IsCompany() {
		kind = model.SubmissionKindCompanyRegistration
	}

	registered, err := s.registry.IsAccountRegistered(ctx, signer)
	if err != nil {
		return nil, registryError(err)
	}
	if registered {
		return nil, apperrors.Conflict("Account is already registered on the registry")
	}

	digest := util.HmacSHA256(s.cfg.CredentialSecret, caller.PasswordHash)
	return s.submit(ctx, caller, kind, caller.ID, func() (*registry.PendingTx, error) {
		if caller.IsCompany() {
			return s.registry.RegisterCompany(ctx, signer, registry.CompanyFields{
				Name:             caller.Name,
				Email:            caller.Email,
				CompanyCode:      deref(caller.CompanyCode),
				CredentialDigest: digest,
				Website:          deref(caller.Website),
				ContactPhone:     deref(caller.ContactPhone),
			})
		}
		return s.registry.RegisterAccount(ctx, signer, registry.AccountFields{
			Name:             caller.Name,
			Email:            caller.Email,
			CredentialDigest: digest,
		})
	})
}

// SubmitCompanyVerification marks a company verified on the registry. The
// signer, the caller's wallet or else the configured owner address, must be
// the registry owner.
func (s *RegistryService) SubmitCompanyVerification(ctx context.Context, caller *model.Account, companyID string) (*model.RegistrySubmission, error) {
	if err := s.available(); err != nil {
		return nil, err
	}
	if !caller.IsAdmin() {
		return nil, apperrors.Forbidden("Only administrators can verify companies")
	}
	if !util.IsValidUUID(companyID) {
		return nil, apperrors.InvalidInput("id", "must be a UUID")
	}
	signer, err := walletOf(caller)
	if err != nil {
		if s.cfg.OwnerAddress == "" {
			return nil, err
		}
		signer = s.cfg.OwnerAddress
	}

	company, err := s.accountRepo.FindByID(ctx, companyID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if company == nil {
		return nil, apperrors.NotFound("Account")
	}
	if !company.IsCompany() {
		return nil, apperrors.ValidationError("Only company accounts can be verified")
	}
	companyAddr, err := walletOf(company)
	if err != nil {
		return nil, err
	}

	owner, err := s.registry.ClaimOwner(ctx, signer)
	if err != nil {
		return nil, registryError(err)
	}

	return s.submit(ctx, caller, model.SubmissionKindCompanyVerification, company.ID, func() (*registry.PendingTx, error) {
		return s.registry.VerifyCompany(ctx, *owner, companyAddr)
	})
}

// SubmitPolicy publishes a local policy to the insurance contract.
func (s *RegistryService) SubmitPolicy(ctx context.Context, caller *model.Account, policyID string) (*model.RegistrySubmission, error) {
	if err := s.available(); err != nil {
		return nil, err
	}
	if !util.IsValidUUID(policyID) {
		return nil, apperrors.InvalidInput("id", "must be a UUID")
	}

	policy, err := s.policyRepo.FindByID(ctx, policyID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if policy == nil {
		return nil, apperrors.NotFound("Policy")
	}
	if !caller.IsAdmin() && !policy.OwnedBy(caller.ID) {
		return nil, apperrors.Forbidden("Only the issuing company or an administrator can publish this policy")
	}
	if policy.RegistryPolicyID != nil {
		return nil, apperrors.Conflict("Policy is already published")
	}
	signer, err := walletOf(caller)
	if err != nil {
		return nil, err
	}

	fields := registry.PolicyFields{
		Name:           policy.Name,
		Description:    policy.CoverageDetails,
		CoverageAmount: registry.ToWei(policy.CoverageAmount),
		DurationDays:   uint64(policy.ExpiryDate.Sub(policy.EffectiveDate).Hours() / 24),
		CoverageScope:  policy.CoverageDetails,
	}
	return s.submit(ctx, caller, model.SubmissionKindPolicyCreation, policy.ID, func() (*registry.PendingTx, error) {
		return s.registry.CreatePolicy(ctx, signer, fields)
	})
}

// SubmitPurchase records an active local purchase on the insurance contract,
// paying the calculated premium.
func (s *RegistryService) SubmitPurchase(ctx context.Context, caller *model.Account, purchaseID string) (*model.RegistrySubmission, error) {
	if err := s.available(); err != nil {
		return nil, err
	}
	purchase, err := s.ownedPurchase(ctx, caller, purchaseID)
	if err != nil {
		return nil, err
	}
	if purchase.EffectiveStatus(s.now()) != model.PurchaseStatusActive {
		return nil, apperrors.Conflict("Only active purchases can be recorded")
	}
	if purchase.RegistryPurchaseID != nil {
		return nil, apperrors.Conflict("Purchase is already recorded")
	}

	policy, err := s.policyRepo.FindByID(ctx, purchase.PolicyID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if policy == nil {
		return nil, apperrors.NotFound("Policy")
	}
	if policy.RegistryPolicyID == nil {
		return nil, apperrors.Conflict("Policy is not published on the registry")
	}

	signer, err := walletOf(caller)
	if err != nil {
		return nil, err
	}
	registered, err := s.registry.IsAccountRegistered(ctx, signer)
	if err != nil {
		return nil, registryError(err)
	}
	if !registered {
		return nil, apperrors.Conflict("Account is not registered on the registry")
	}

	value := registry.ToWei(purchase.CalculatedPremium)
	registryPolicyID := *policy.RegistryPolicyID
	return s.submit(ctx, caller, model.SubmissionKindPurchase, purchase.ID, func() (*registry.PendingTx, error) {
		return s.registry.PurchasePolicy(ctx, signer, registryPolicyID, value)
	})
}

// SubmitCancellation cancels a recorded purchase on the insurance contract.
// Once confirmed, the local purchase is cancelled too if it is still active.
func (s *RegistryService) SubmitCancellation(ctx context.Context, caller *model.Account, purchaseID string) (*model.RegistrySubmission, error) {
	if err := s.available(); err != nil {
		return nil, err
	}
	purchase, err := s.ownedPurchase(ctx, caller, purchaseID)
	if err != nil {
		return nil, err
	}
	if purchase.EffectiveStatus(s.now()) == model.PurchaseStatusExpired {
		return nil, apperrors.Conflict("Expired purchases cannot be cancelled")
	}
	if purchase.RegistryPurchaseID == nil {
		return nil, apperrors.Conflict("Purchase is not recorded on the registry")
	}
	signer, err := walletOf(caller)
	if err != nil {
		return nil, err
	}

	registryPurchaseID := *purchase.RegistryPurchaseID
	return s.submit(ctx, caller, model.SubmissionKindCancellation, purchase.ID, func() (*registry.PendingTx, error) {
		return s.registry.CancelPolicy(ctx, signer, registryPurchaseID)
	})
}

func (s *RegistryService) ownedPurchase(ctx context.Context, caller *model.Account, id string) (*model.Purchase, error) {
	if !util.IsValidUUID(id) {
		return nil, apperrors.InvalidInput("id", "must be a UUID")
	}
	purchase, err := s.purchaseRepo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if purchase == nil {
		return nil, apperrors.NotFound("Purchase")
	}
	if purchase.AccountID != caller.ID {
		return nil, apperrors.Forbidden("Only the purchasing account can submit this purchase")
	}
	return purchase, nil
}

// submit claims a pending submission, sends one transaction and records its
// hash. The claim comes first so that concurrent requests for the same
// account or subject cannot both reach the registry. A call the registry
// rejects releases the claim as failed.
func (s *RegistryService) submit(
	ctx context.Context,
	caller *model.Account,
	kind model.SubmissionKind,
	subjectID string,
	send func() (*registry.PendingTx, error),
) (*model.RegistrySubmission, error) {
	inFlight, err := s.submissionRepo.FindPendingByAccountID(ctx, caller.ID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if inFlight != nil {
		return nil, apperrors.Conflict(msgSubmissionPending).
			WithDetails(map[string]any{"submissionId": inFlight.ID})
	}
	open, err := s.submissionRepo.FindOpenBySubject(ctx, kind, subjectID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if open != nil {
		return nil, apperrors.Conflict(msgSubjectSubmitted).
			WithDetails(map[string]any{"submissionId": open.ID})
	}

	claim, err := s.submissionRepo.Create(ctx, model.CreateSubmissionParams{
		AccountID: caller.ID,
		Kind:      kind,
		SubjectID: subjectID,
	})
	if err != nil {
		if repository.ConstraintOf(err) == repository.ConstraintSubmissionSubject {
			return nil, storageError(err, msgSubjectSubmitted)
		}
		return nil, storageError(err, msgSubmissionPending)
	}

	// The claim must be settled even if the request goes away mid-call.
	bg := context.WithoutCancel(ctx)

	tx, err := send()
	if err != nil {
		s.release(bg, claim, err)
		s.metrics.IncrementRegistrySubmissions(string(kind), "rejected")
		return nil, registryError(err)
	}

	sub, err := s.submissionRepo.SetTxHash(bg, claim.ID, tx.Hash)
	if err == nil && sub == nil {
		err = errors.New("submission resolved before its hash was recorded")
	}
	if err != nil {
		log.Error().Err(err).
			Str("submissionId", claim.ID).
			Str("accountId", caller.ID).
			Str("txHash", tx.Hash).
			Msg("registry transaction sent but hash not recorded")
		return nil, apperrors.Database(err)
	}

	s.metrics.IncrementRegistrySubmissions(string(kind), string(model.SubmissionStatusPending))
	log.Info().
		Str("submissionId", sub.ID).
		Str("accountId", caller.ID).
		Str("kind", string(kind)).
		Str("txHash", tx.Hash).
		Msg("registry submission sent")
	return sub, nil
}

// release marks a claimed submission failed after its call was refused.
func (s *RegistryService) release(ctx context.Context, claim *model.RegistrySubmission, cause error) {
	reason := "registry call failed"
	var regErr *registry.Error
	if errors.As(cause, &regErr) && regErr.Reason != "" {
		reason = regErr.Reason
	}
	_, err := s.submissionRepo.Resolve(ctx, claim.ID, model.ResolveSubmissionParams{
		Status: model.SubmissionStatusFailed,
		Reason: &reason,
	})
	if err != nil {
		log.Error().Err(err).Str("submissionId", claim.ID).Msg("failed to release registry submission")
	}
}

// Reconcile resolves pending submissions against their receipts. It returns
// the number of submissions resolved.
func (s *RegistryService) Reconcile(ctx context.Context) (int, error) {
	if s.registry == nil {
		return 0, nil
	}

	pending, err := s.submissionRepo.FindPending(ctx, reconcileBatchSize)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for i := range pending {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		ok, err := s.reconcileOne(ctx, &pending[i])
		if err != nil {
			log.Error().Err(err).Str("submissionId", pending[i].ID).Msg("failed to reconcile submission")
			continue
		}
		if ok {
			resolved++
		}
	}
	return resolved, nil
}

func (s *RegistryService) reconcileOne(ctx context.Context, sub *model.RegistrySubmission) (bool, error) {
	var (
		receipt *registry.Receipt
		err     error
	)
	if sub.TxHash == nil {
		err = registry.ErrPending
	} else {
		receipt, err = s.registry.Receipt(ctx, registry.PendingTx{Hash: *sub.TxHash, SubmittedAt: sub.CreatedAt})
	}

	var params model.ResolveSubmissionParams
	switch {
	case sub.TxHash == nil && s.now().Sub(sub.CreatedAt) >= s.cfg.ConfirmTimeout:
		reason := "transaction hash was never recorded"
		params = model.ResolveSubmissionParams{Status: model.SubmissionStatusAbandoned, Reason: &reason}
	case errors.Is(err, registry.ErrPending):
		if s.now().Sub(sub.CreatedAt) < s.cfg.ConfirmTimeout {
			return false, nil
		}
		reason := "confirmation timed out"
		params = model.ResolveSubmissionParams{Status: model.SubmissionStatusAbandoned, Reason: &reason}
	case registry.KindOf(err) == registry.KindRejected:
		reason := "transaction reverted"
		var regErr *registry.Error
		if errors.As(err, &regErr) && regErr.Reason != "" {
			reason = regErr.Reason
		}
		params = model.ResolveSubmissionParams{Status: model.SubmissionStatusFailed, Reason: &reason}
	case err != nil:
		return false, err
	default:
		params = model.ResolveSubmissionParams{Status: model.SubmissionStatusConfirmed}
	}

	var result *model.RegistrySubmission
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		result, err = s.submissionRepo.WithTx(tx).Resolve(ctx, sub.ID, s.withRegistryRef(sub, receipt, params))
		if err != nil || result == nil {
			return err
		}
		if result.Status != model.SubmissionStatusConfirmed {
			return nil
		}
		if sub.Kind == model.SubmissionKindCancellation {
			// nil when the purchase was already cancelled locally
			_, err := s.purchaseRepo.WithTx(tx).Cancel(ctx, sub.SubjectID, s.now())
			return err
		}
		if result.RegistryRef == nil {
			return nil
		}
		ref, err := strconv.ParseInt(*result.RegistryRef, 10, 64)
		if err != nil {
			return err
		}
		switch sub.Kind {
		case model.SubmissionKindPolicyCreation:
			return s.policyRepo.WithTx(tx).SetRegistryPolicyID(ctx, sub.SubjectID, ref)
		case model.SubmissionKindPurchase:
			return s.purchaseRepo.WithTx(tx).SetRegistryPurchaseID(ctx, sub.SubjectID, ref)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if result == nil {
		// Another reconciler got there first.
		return false, nil
	}

	s.metrics.IncrementRegistrySubmissions(string(result.Kind), string(result.Status))
	log.Info().
		Str("submissionId", result.ID).
		Str("accountId", result.AccountID).
		Str("status", string(result.Status)).
		Msg("registry submission resolved")
	s.notify(ctx, result)
	return true, nil
}

// withRegistryRef attaches the id the contract assigned to a confirmed
// policy or purchase.
func (s *RegistryService) withRegistryRef(sub *model.RegistrySubmission, receipt *registry.Receipt, params model.ResolveSubmissionParams) model.ResolveSubmissionParams {
	if params.Status != model.SubmissionStatusConfirmed || receipt == nil {
		return params
	}
	var topic string
	switch sub.Kind {
	case model.SubmissionKindPolicyCreation:
		topic = registry.TopicPolicyCreated
	case model.SubmissionKindPurchase:
		topic = registry.TopicPolicyPurchased
	default:
		return params
	}
	if id, ok := receipt.EventID(s.registry.InsuranceAddress(), topic); ok {
		ref := strconv.FormatInt(id, 10)
		params.RegistryRef = &ref
	} else {
		log.Warn().Str("submissionId", sub.ID).Msg("confirmed receipt carries no registry id")
	}
	return params
}

func (s *RegistryService) notify(ctx context.Context, sub *model.RegistrySubmission) {
	if s.events == nil {
		return
	}
	var eventType string
	switch sub.Status {
	case model.SubmissionStatusConfirmed:
		eventType = sse.EventRegistryConfirmed
	case model.SubmissionStatusFailed:
		eventType = sse.EventRegistryFailed
	default:
		eventType = sse.EventRegistryAbandoned
	}
	event, err := sse.NewEvent(eventType, sub)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode registry event")
		return
	}
	if err := s.events.Publish(ctx, sub.AccountID, event); err != nil {
		log.Warn().Err(err).Str("accountId", sub.AccountID).Msg("failed to publish registry event")
	}
}

func walletOf(account *model.Account) (registry.Address, error) {
	if account.WalletAddress == nil || *account.WalletAddress == "" {
		return "", apperrors.ValidationError("A linked wallet address is required for registry operations")
	}
	return registry.Address(*account.WalletAddress), nil
}

func parseRegistryID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, apperrors.InvalidInput("id", "must be a non-negative integer")
	}
	return id, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
