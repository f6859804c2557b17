package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/coverchain/policy-server-go/internal/database"
	apperrors "github.com/coverchain/policy-server-go/internal/errors"
	"github.com/coverchain/policy-server-go/internal/metrics"
	"github.com/coverchain/policy-server-go/internal/model"
	"github.com/coverchain/policy-server-go/internal/repository"
	"github.com/coverchain/policy-server-go/internal/util"
)

const msgAlreadyPurchased = "Policy already purchased"

type PurchaseInput struct {
	AccountID      string
	PolicyID       string
	SelectedPeriod int
}

type PurchaseResult struct {
	PurchaseID        string               `json:"purchaseId"`
	CalculatedPremium float64              `json:"calculatedPremium"`
	AccountID         string               `json:"accountId"`
	PolicyID          string               `json:"policyId"`
	SelectedPeriod    int                  `json:"selectedPeriod"`
	Status            model.PurchaseStatus `json:"status"`
	StartsAt          time.Time            `json:"startsAt"`
	EndsAt            time.Time            `json:"endsAt"`
}

type PurchaseService struct {
	db           database.Transactor
	accountRepo  repository.AccountRepository
	policyRepo   repository.PolicyRepository
	purchaseRepo repository.PurchaseRepository
	metrics      *metrics.Metrics
	now          func() time.Time
}

func NewPurchaseService(
	db database.Transactor,
	accountRepo repository.AccountRepository,
	policyRepo repository.PolicyRepository,
	purchaseRepo repository.PurchaseRepository,
	m *metrics.Metrics,
) *PurchaseService {
	return &PurchaseService{
		db:           db,
		accountRepo:  accountRepo,
		policyRepo:   policyRepo,
		purchaseRepo: purchaseRepo,
		metrics:      m,
		now:          time.Now,
	}
}

func (s *PurchaseService) ListOptions(ctx context.Context) ([]model.PolicyOption, error) {
	options, err := s.policyRepo.ListOptions(ctx)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if options == nil {
		options = []model.PolicyOption{}
	}
	return options, nil
}

// Purchase records a new active purchase of a policy for an account.
func (s *PurchaseService) Purchase(ctx context.Context, in PurchaseInput) (*PurchaseResult, error) {
	result, err := s.purchase(ctx, in)
	switch code := apperrors.GetCode(err); {
	case err == nil:
		s.metrics.RecordPurchase(metrics.OutcomeSuccess, result.CalculatedPremium)
	case code == apperrors.ErrCodeConflict:
		s.metrics.RecordPurchase(metrics.OutcomeConflict, 0)
	case code == apperrors.ErrCodeDatabase || code == apperrors.ErrCodeInternal:
		s.metrics.RecordPurchase(metrics.OutcomeError, 0)
	default:
		s.metrics.RecordPurchase(metrics.OutcomeRejected, 0)
	}
	return result, err
}

func (s *PurchaseService) purchase(ctx context.Context, in PurchaseInput) (*PurchaseResult, error) {
	if !util.IsValidUUID(in.AccountID) {
		return nil, apperrors.InvalidInput("accountId", "must be a UUID")
	}
	if !util.IsValidUUID(in.PolicyID) {
		return nil, apperrors.InvalidInput("policyId", "must be a UUID")
	}
	if in.SelectedPeriod < 1 || in.SelectedPeriod > 3 {
		return nil, apperrors.InvalidInput("selectedPeriod", "must be 1, 2 or 3")
	}

	account, err := s.accountRepo.FindByID(ctx, in.AccountID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if account == nil {
		return nil, apperrors.NotFound("Account")
	}

	policy, err := s.policyRepo.FindByID(ctx, in.PolicyID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if policy == nil {
		return nil, apperrors.NotFound("Policy")
	}
	if !policy.IsActive {
		return nil, apperrors.Conflict("Policy is not active")
	}
	if !policy.AllowsPeriod(in.SelectedPeriod) {
		return nil, apperrors.InvalidInput("selectedPeriod", "is not offered by this policy")
	}

	startsAt := s.now()
	existing, err := s.purchaseRepo.FindActive(ctx, in.AccountID, in.PolicyID, startsAt)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if existing != nil {
		return nil, apperrors.Conflict(msgAlreadyPurchased)
	}

	premium := CalculatePremium(policy.Name, policy.CoverageAmount, in.SelectedPeriod)
	endsAt := startsAt.AddDate(in.SelectedPeriod, 0, 0)

	var purchase *model.Purchase
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		purchases := s.purchaseRepo.WithTx(tx)

		if _, err := purchases.ExpireLapsed(ctx, in.AccountID, in.PolicyID, startsAt); err != nil {
			return err
		}

		var err error
		purchase, err = purchases.Create(ctx, model.CreatePurchaseParams{
			AccountID:         in.AccountID,
			PolicyID:          in.PolicyID,
			SelectedPeriod:    in.SelectedPeriod,
			CalculatedPremium: premium,
			StartsAt:          startsAt,
			EndsAt:            endsAt,
		})
		return err
	})
	if err != nil {
		return nil, storageError(err, msgAlreadyPurchased)
	}

	log.Info().
		Str("purchaseId", purchase.ID).
		Str("accountId", in.AccountID).
		Str("policyId", in.PolicyID).
		Int("period", in.SelectedPeriod).
		Float64("premium", premium).
		Msg("policy purchased")

	return &PurchaseResult{
		PurchaseID:        purchase.ID,
		CalculatedPremium: purchase.CalculatedPremium,
		AccountID:         purchase.AccountID,
		PolicyID:          purchase.PolicyID,
		SelectedPeriod:    purchase.SelectedPeriod,
		Status:            purchase.EffectiveStatus(startsAt),
		StartsAt:          purchase.StartsAt,
		EndsAt:            purchase.EndsAt,
	}, nil
}

// Get returns a purchase visible to caller with its effective status.
func (s *PurchaseService) Get(ctx context.Context, caller *model.Account, id string) (*model.Purchase, error) {
	purchase, err := s.load(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	purchase.Status = purchase.EffectiveStatus(s.now())
	return purchase, nil
}

func (s *PurchaseService) ListForAccount(ctx context.Context, caller *model.Account, accountID string) ([]model.Purchase, error) {
	if !util.IsValidUUID(accountID) {
		return nil, apperrors.InvalidInput("id", "must be a UUID")
	}
	if !caller.IsAdmin() && caller.ID != accountID {
		return nil, apperrors.Forbidden("Purchases of other accounts are not visible")
	}

	purchases, err := s.purchaseRepo.FindByAccountID(ctx, accountID)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	now := s.now()
	for i := range purchases {
		purchases[i].Status = purchases[i].EffectiveStatus(now)
	}
	if purchases == nil {
		purchases = []model.Purchase{}
	}
	return purchases, nil
}

// Cancel ends an active purchase early. Cancelled is terminal.
func (s *PurchaseService) Cancel(ctx context.Context, caller *model.Account, id string) (*model.Purchase, error) {
	purchase, err := s.load(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if purchase.EffectiveStatus(now) != model.PurchaseStatusActive {
		return nil, apperrors.Conflict("Only active purchases can be cancelled")
	}

	cancelled, err := s.purchaseRepo.Cancel(ctx, id, now)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if cancelled == nil {
		return nil, apperrors.Conflict("Only active purchases can be cancelled")
	}

	log.Info().Str("purchaseId", id).Str("cancelledBy", caller.ID).Msg("purchase cancelled")
	return cancelled, nil
}

func (s *PurchaseService) load(ctx context.Context, caller *model.Account, id string) (*model.Purchase, error) {
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
	if !caller.IsAdmin() && caller.ID != purchase.AccountID {
		return nil, apperrors.Forbidden("Purchases of other accounts are not visible")
	}
	return purchase, nil
}
