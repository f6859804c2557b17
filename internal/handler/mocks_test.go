package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/stretchr/testify/mock"

	"github.com/coverchain/policy-server-go/internal/middleware"
	"github.com/coverchain/policy-server-go/internal/model"
	"github.com/coverchain/policy-server-go/internal/registry"
	"github.com/coverchain/policy-server-go/internal/service"
)

const (
	memberToken = "member-token"
	adminToken  = "admin-token"

	memberID = "11111111-1111-1111-1111-111111111111"
	adminID  = "33333333-3333-3333-3333-333333333333"
	policyID = "44444444-4444-4444-4444-444444444444"
)

var (
	testMember = &model.Account{ID: memberID, Name: "Member", Role: model.AccountRoleMember, Category: model.AccountCategoryUser}
	testAdmin  = &model.Account{ID: adminID, Name: "Admin", Role: model.AccountRoleAdmin, Category: model.AccountCategoryUser}
)

type tokenValidator map[string]*model.Account

func (v tokenValidator) ValidateToken(ctx context.Context, token string) (*model.Account, error) {
	return v[token], nil
}

func testGuards() Guards {
	return Guards{
		Auth: middleware.NewAuthMiddleware(tokenValidator{
			memberToken: testMember,
			adminToken:  testAdmin,
		}),
	}
}

func newRequest(method, target, token, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type errorBody struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details"`
}

func decodeError(rec *httptest.ResponseRecorder) errorBody {
	var body errorBody
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return body
}

type mockAccountService struct {
	mock.Mock
}

func (m *mockAccountService) Register(ctx context.Context, caller *model.Account, in service.RegisterInput) (*model.Account, error) {
	args := m.Called(ctx, caller, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountService) Authenticate(ctx context.Context, email, password string, category model.AccountCategory) (*service.LoginResult, error) {
	args := m.Called(ctx, email, password, category)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.LoginResult), args.Error(1)
}

func (m *mockAccountService) Logout(ctx context.Context, account *model.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *mockAccountService) Verify(ctx context.Context, caller *model.Account, accountID string) (*model.Account, error) {
	args := m.Called(ctx, caller, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountService) List(ctx context.Context, caller *model.Account, page, limit int) (*service.AccountPage, error) {
	args := m.Called(ctx, caller, page, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.AccountPage), args.Error(1)
}

func (m *mockAccountService) SetWallet(ctx context.Context, caller *model.Account, address *string) (*model.Account, error) {
	args := m.Called(ctx, caller, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

type mockCatalogService struct {
	mock.Mock
}

func (m *mockCatalogService) Create(ctx context.Context, caller *model.Account, f service.PolicyFields) (*model.Policy, error) {
	args := m.Called(ctx, caller, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Policy), args.Error(1)
}

func (m *mockCatalogService) Update(ctx context.Context, caller *model.Account, id string, patch map[string]json.RawMessage) (*model.Policy, error) {
	args := m.Called(ctx, caller, id, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Policy), args.Error(1)
}

func (m *mockCatalogService) Get(ctx context.Context, id string) (*model.Policy, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Policy), args.Error(1)
}

func (m *mockCatalogService) List(ctx context.Context, in service.ListPoliciesInput) (*service.PolicyPage, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PolicyPage), args.Error(1)
}

func (m *mockCatalogService) Delete(ctx context.Context, caller *model.Account, id string) error {
	args := m.Called(ctx, caller, id)
	return args.Error(0)
}

type mockPurchaseService struct {
	mock.Mock
}

func (m *mockPurchaseService) ListOptions(ctx context.Context) ([]model.PolicyOption, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.PolicyOption), args.Error(1)
}

func (m *mockPurchaseService) Purchase(ctx context.Context, in service.PurchaseInput) (*service.PurchaseResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PurchaseResult), args.Error(1)
}

func (m *mockPurchaseService) Get(ctx context.Context, caller *model.Account, id string) (*model.Purchase, error) {
	args := m.Called(ctx, caller, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Purchase), args.Error(1)
}

func (m *mockPurchaseService) Cancel(ctx context.Context, caller *model.Account, id string) (*model.Purchase, error) {
	args := m.Called(ctx, caller, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Purchase), args.Error(1)
}

func (m *mockPurchaseService) ListForAccount(ctx context.Context, caller *model.Account, accountID string) ([]model.Purchase, error) {
	args := m.Called(ctx, caller, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Purchase), args.Error(1)
}

type mockRegistryService struct {
	mock.Mock
}

func (m *mockRegistryService) Status(ctx context.Context, address string) (*service.RegistryStatus, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RegistryStatus), args.Error(1)
}

func (m *mockRegistryService) Stats(ctx context.Context) (*service.RegistryStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RegistryStats), args.Error(1)
}

func (m *mockRegistryService) PolicyDetails(ctx context.Context, rawID string) (*registry.PolicyDetails, error) {
	args := m.Called(ctx, rawID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*registry.PolicyDetails), args.Error(1)
}

func (m *mockRegistryService) PurchaseDetails(ctx context.Context, rawID string) (*registry.PurchaseDetails, error) {
	args := m.Called(ctx, rawID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*registry.PurchaseDetails), args.Error(1)
}

func (m *mockRegistryService) Submissions(ctx context.Context, caller *model.Account, limit, offset int) ([]model.RegistrySubmission, error) {
	args := m.Called(ctx, caller, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RegistrySubmission), args.Error(1)
}

func (m *mockRegistryService) submission(args mock.Arguments) (*model.RegistrySubmission, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RegistrySubmission), args.Error(1)
}

func (m *mockRegistryService) SubmitAccountRegistration(ctx context.Context, caller *model.Account) (*model.RegistrySubmission, error) {
	return m.submission(m.Called(ctx, caller))
}

func (m *mockRegistryService) SubmitCompanyVerification(ctx context.Context, caller *model.Account, companyID string) (*model.RegistrySubmission, error) {
	return m.submission(m.Called(ctx, caller, companyID))
}

func (m *mockRegistryService) SubmitPolicy(ctx context.Context, caller *model.Account, policyID string) (*model.RegistrySubmission, error) {
	return m.submission(m.Called(ctx, caller, policyID))
}

func (m *mockRegistryService) SubmitPurchase(ctx context.Context, caller *model.Account, purchaseID string) (*model.RegistrySubmission, error) {
	return m.submission(m.Called(ctx, caller, purchaseID))
}

func (m *mockRegistryService) SubmitCancellation(ctx context.Context, caller *model.Account, purchaseID string) (*model.RegistrySubmission, error) {
	return m.submission(m.Called(ctx, caller, purchaseID))
}
