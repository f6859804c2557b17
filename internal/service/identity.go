package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/coverchain/policy-server-go/internal/errors"
	"github.com/coverchain/policy-server-go/internal/metrics"
	"github.com/coverchain/policy-server-go/internal/model"
	"github.com/coverchain/policy-server-go/internal/repository"
	"github.com/coverchain/policy-server-go/internal/util"
)

const (
	maxNameLength     = 100
	minPasswordLength = 6

	DefaultPageLimit = 10
	MaxPageLimit     = 100

	msgWalletLinked = "Wallet address is linked to another account"
)

type RegisterInput struct {
	Name          string
	Email         string
	Password      string
	Role          model.AccountRole
	Category      model.AccountCategory
	WalletAddress *string
	CompanyCode   *string
	Website       *string
	ContactPhone  *string
	// BootstrapSecret authorizes an admin registration without an admin caller.
	BootstrapSecret string
}

type LoginResult struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
	Account   *model.Account `json:"account"`
}

type Pagination struct {
	CurrentPage int `json:"currentPage"`
	TotalPages  int `json:"totalPages"`
	TotalItems  int `json:"totalItems"`
	Limit       int `json:"limit"`
}

type AccountPage struct {
	Items      []model.Account `json:"items"`
	Pagination Pagination      `json:"pagination"`
}

type IdentityConfig struct {
	SessionSecret      string
	SessionTTL         time.Duration
	AdminBootstrapHash string
	BcryptCost         int
}

type IdentityService struct {
	accountRepo repository.AccountRepository
	sessionRepo repository.SessionRepository
	cfg         IdentityConfig
	metrics     *metrics.Metrics
}

func NewIdentityService(
	accountRepo repository.AccountRepository,
	sessionRepo repository.SessionRepository,
	cfg IdentityConfig,
	m *metrics.Metrics,
) *IdentityService {
	return &IdentityService{
		accountRepo: accountRepo,
		sessionRepo: sessionRepo,
		cfg:         cfg,
		metrics:     m,
	}
}

// Register creates an account. caller may be nil for anonymous sign-up.
func (s *IdentityService) Register(ctx context.Context, caller *model.Account, in RegisterInput) (*model.Account, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = util.NormalizeEmail(in.Email)

	var missing []string
	if in.Name == "" {
		missing = append(missing, "name")
	}
	if in.Email == "" {
		missing = append(missing, "email")
	}
	if in.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return nil, apperrors.MissingFields(missing)
	}

	if len([]rune(in.Name)) > maxNameLength {
		return nil, apperrors.InvalidInput("name", fmt.Sprintf("must be at most %d characters", maxNameLength))
	}
	if !util.IsValidEmail(in.Email) {
		return nil, apperrors.InvalidInput("email", "must be a valid email address")
	}
	if len(in.Password) < minPasswordLength {
		return nil, apperrors.InvalidInput("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}

	if in.Category == "" {
		in.Category = model.AccountCategoryUser
	}
	if !in.Category.Valid() {
		return nil, apperrors.InvalidInput("category", "must be user or company")
	}
	if in.Role == "" {
		in.Role = model.AccountRoleMember
	}
	if !in.Role.Valid() {
		return nil, apperrors.InvalidInput("role", "must be member or admin")
	}
	if in.WalletAddress != nil && !util.IsValidWalletAddress(*in.WalletAddress) {
		return nil, apperrors.InvalidInput("walletAddress", "must be a 0x-prefixed 20-byte hex address")
	}

	if in.Role == model.AccountRoleAdmin && !s.mayGrantAdmin(caller, in.BootstrapSecret) {
		return nil, apperrors.Forbidden("Only administrators can create administrator accounts")
	}

	existing, err := s.accountRepo.FindByEmail(ctx, in.Category, in.Email)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if existing != nil {
		return nil, apperrors.Conflict("Email already registered")
	}

	hash, err := util.HashPassword(in.Password, s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	account, err := s.accountRepo.Create(ctx, model.CreateAccountParams{
		Category:      in.Category,
		Name:          in.Name,
		Email:         in.Email,
		PasswordHash:  hash,
		Role:          in.Role,
		WalletAddress: in.WalletAddress,
		CompanyCode:   in.CompanyCode,
		Website:       in.Website,
		ContactPhone:  in.ContactPhone,
	})
	if err != nil {
		if repository.ConstraintOf(err) == repository.ConstraintAccountWallet {
			return nil, storageError(err, msgWalletLinked)
		}
		return nil, storageError(err, "Email already registered")
	}

	s.metrics.IncrementAccountsRegistered(string(account.Category))
	log.Info().
		Str("accountId", account.ID).
		Str("category", string(account.Category)).
		Str("role", string(account.Role)).
		Msg("account registered")

	return account, nil
}

func (s *IdentityService) mayGrantAdmin(caller *model.Account, bootstrapSecret string) bool {
	if caller.IsAdmin() {
		return true
	}
	if s.cfg.AdminBootstrapHash == "" || bootstrapSecret == "" {
		return false
	}
	return util.CheckPasswordHash(bootstrapSecret, s.cfg.AdminBootstrapHash)
}

// Authenticate checks credentials and issues a session token, replacing any
// session the account already had.
func (s *IdentityService) Authenticate(ctx context.Context, email, password string, category model.AccountCategory) (*LoginResult, error) {
	email = util.NormalizeEmail(email)
	if category == "" {
		category = model.AccountCategoryUser
	}

	var missing []string
	if email == "" {
		missing = append(missing, "email")
	}
	if password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return nil, apperrors.MissingFields(missing)
	}
	if !category.Valid() {
		return nil, apperrors.InvalidInput("category", "must be user or company")
	}

	account, err := s.accountRepo.FindByEmail(ctx, category, email)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if account == nil {
		return nil, apperrors.NotFound("Account")
	}
	if !util.CheckPasswordHash(password, account.PasswordHash) {
		return nil, apperrors.Unauthorized("Invalid credentials")
	}

	token, err := util.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	expiresAt := time.Now().Add(s.cfg.SessionTTL)

	if _, err := s.sessionRepo.Replace(ctx, model.CreateSessionParams{
		AccountID: account.ID,
		TokenHash: util.HmacSHA256(s.cfg.SessionSecret, token),
		ExpiresAt: expiresAt,
	}); err != nil {
		return nil, apperrors.Database(err)
	}

	log.Info().Str("accountId", account.ID).Time("expiresAt", expiresAt).Msg("session issued")

	return &LoginResult{Token: token, ExpiresAt: expiresAt, Account: account}, nil
}

// ValidateToken resolves a bearer token to its account. It returns nil when
// the token is unknown or expired.
func (s *IdentityService) ValidateToken(ctx context.Context, token string) (*model.Account, error) {
	if token == "" {
		return nil, nil
	}
	session, err := s.sessionRepo.FindActiveByTokenHash(ctx, util.HmacSHA256(s.cfg.SessionSecret, token))
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if session == nil {
		return nil, nil
	}
	return s.accountRepo.FindByID(ctx, session.AccountID)
}

func (s *IdentityService) Logout(ctx context.Context, account *model.Account) error {
	if err := s.sessionRepo.DeleteByAccountID(ctx, account.ID); err != nil {
		return apperrors.Database(err)
	}
	return nil
}

// Verify marks a company account as verified. Verifying twice is a no-op.
func (s *IdentityService) Verify(ctx context.Context, caller *model.Account, accountID string) (*model.Account, error) {
	if !caller.IsAdmin() {
		return nil, apperrors.Forbidden("Only administrators can verify companies")
	}
	if !util.IsValidUUID(accountID) {
		return nil, apperrors.InvalidInput("id", "must be a UUID")
	}

	account, err := s.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if account == nil {
		return nil, apperrors.NotFound("Account")
	}
	if !account.IsCompany() {
		return nil, apperrors.ValidationError("Only company accounts can be verified")
	}
	if account.IsVerified {
		return account, nil
	}

	verified, err := s.accountRepo.MarkVerified(ctx, accountID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if verified == nil {
		return nil, apperrors.NotFound("Account")
	}

	log.Info().Str("accountId", accountID).Str("verifiedBy", caller.ID).Msg("company verified")
	return verified, nil
}

// List returns one page of accounts, newest first.
func (s *IdentityService) List(ctx context.Context, caller *model.Account, page, limit int) (*AccountPage, error) {
	if !caller.IsAdmin() {
		return nil, apperrors.Forbidden("Only administrators can list accounts")
	}
	page, limit = normalizePage(page, limit)
	offset := (page - 1) * limit

	var (
		items []model.Account
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = s.accountRepo.FindAll(gctx, limit, offset)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.accountRepo.Count(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, apperrors.Database(err)
	}

	if items == nil {
		items = []model.Account{}
	}
	return &AccountPage{
		Items: items,
		Pagination: Pagination{
			CurrentPage: page,
			TotalPages:  totalPages(total, limit),
			TotalItems:  total,
			Limit:       limit,
		},
	}, nil
}

// SetWallet links or clears the caller's wallet address.
func (s *IdentityService) SetWallet(ctx context.Context, caller *model.Account, address *string) (*model.Account, error) {
	if address != nil {
		trimmed := strings.TrimSpace(*address)
		if !util.IsValidWalletAddress(trimmed) {
			return nil, apperrors.InvalidInput("walletAddress", "must be a 0x-prefixed 20-byte hex address")
		}
		address = &trimmed
	}

	account, err := s.accountRepo.SetWalletAddress(ctx, caller.ID, address)
	if err != nil {
		return nil, storageError(err, msgWalletLinked)
	}
	if account == nil {
		return nil, apperrors.NotFound("Account")
	}
	return account, nil
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}

func totalPages(total, limit int) int {
	if total == 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
