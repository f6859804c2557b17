// Package registry adapts the externally deployed user registry, company
// registry and insurance contracts.
package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Registry is the collaborator contract the services depend on. No method is
// retried automatically.
type Registry interface {
	IsAccountRegistered(ctx context.Context, address Address) (bool, error)
	RegisterAccount(ctx context.Context, signer Address, fields AccountFields) (*PendingTx, error)
	RegisterCompany(ctx context.Context, signer Address, fields CompanyFields) (*PendingTx, error)
	IsCompanyVerified(ctx context.Context, address Address) (bool, error)
	ClaimOwner(ctx context.Context, address Address) (*OwnerCapability, error)
	VerifyCompany(ctx context.Context, owner OwnerCapability, company Address) (*PendingTx, error)
	CreatePolicy(ctx context.Context, signer Address, fields PolicyFields) (*PendingTx, error)
	PurchasePolicy(ctx context.Context, signer Address, registryPolicyID int64, value *big.Int) (*PendingTx, error)
	CancelPolicy(ctx context.Context, signer Address, registryPurchaseID int64) (*PendingTx, error)
	// Receipt returns ErrPending while the transaction is unconfirmed and a
	// KindRejected error alongside the receipt when it reverted.
	Receipt(ctx context.Context, tx PendingTx) (*Receipt, error)
	WaitForReceipt(ctx context.Context, tx PendingTx, pollInterval time.Duration) (*Receipt, error)
	AccountCount(ctx context.Context) (uint64, error)
	PolicyCount(ctx context.Context) (uint64, error)
	PolicyDetails(ctx context.Context, id int64) (*PolicyDetails, error)
	PurchaseDetails(ctx context.Context, id int64) (*PurchaseDetails, error)
	// InsuranceAddress is the contract emitting policy and purchase events.
	InsuranceAddress() Address
}

// Topic hashes of the events emitted by the insurance contract.
var (
	TopicPolicyCreated   = insuranceABI.Events["PolicyCreated"].ID.Hex()
	TopicPolicyPurchased = insuranceABI.Events["PolicyPurchased"].ID.Hex()
)

type Config struct {
	ChainID         uint64
	UserRegistry    Address
	CompanyRegistry Address
	Insurance       Address
}

// EthRegistry talks to the contracts through an Ethereum JSON-RPC node.
// Transactions are signed by accounts the node manages.
type EthRegistry struct {
	client *Client
	cfg    Config

	mu           sync.Mutex
	chainChecked bool
}

var _ Registry = (*EthRegistry)(nil)

func New(client *Client, cfg Config) *EthRegistry {
	return &EthRegistry{client: client, cfg: cfg}
}

func (r *EthRegistry) InsuranceAddress() Address {
	return r.cfg.Insurance
}

// ensureChain verifies once that the node serves the configured network.
func (r *EthRegistry) ensureChain(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.chainChecked {
		return nil
	}
	id, err := r.client.ChainID(ctx)
	if err != nil {
		return err
	}
	if id != r.cfg.ChainID {
		return &Error{
			Kind:   KindNetworkMismatch,
			Reason: fmt.Sprintf("node is on chain %d, expected %d", id, r.cfg.ChainID),
		}
	}
	r.chainChecked = true
	return nil
}

func (r *EthRegistry) call(ctx context.Context, to Address, contract abi.ABI, method string, args ...any) ([]any, error) {
	if err := r.ensureChain(ctx); err != nil {
		return nil, err
	}
	data, err := packCall(contract, method, args...)
	if err != nil {
		return nil, rejected(err.Error())
	}
	out, err := r.client.EthCall(ctx, to, data)
	if err != nil {
		return nil, err
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, unavailable("undecodable result for "+method, err)
	}
	return values, nil
}

func (r *EthRegistry) send(ctx context.Context, from, to Address, value *big.Int, contract abi.ABI, method string, args ...any) (*PendingTx, error) {
	if _, err := from.common(); err != nil {
		return nil, rejected("signer address is invalid")
	}
	if err := r.ensureChain(ctx); err != nil {
		return nil, err
	}
	data, err := packCall(contract, method, args...)
	if err != nil {
		return nil, rejected(err.Error())
	}
	hash, err := r.client.SendTransaction(ctx, from, to, data, value)
	if err != nil {
		return nil, err
	}
	return &PendingTx{Hash: hash, From: from, SubmittedAt: time.Now()}, nil
}

func (r *EthRegistry) IsAccountRegistered(ctx context.Context, address Address) (bool, error) {
	values, err := r.call(ctx, r.cfg.UserRegistry, userRegistryABI, "isUserRegistered", address)
	if err != nil {
		return false, err
	}
	return values[0].(bool), nil
}

func (r *EthRegistry) RegisterAccount(ctx context.Context, signer Address, f AccountFields) (*PendingTx, error) {
	return r.send(ctx, signer, r.cfg.UserRegistry, nil, userRegistryABI, "registerUser",
		f.Name, f.Email, f.CredentialDigest)
}

func (r *EthRegistry) RegisterCompany(ctx context.Context, signer Address, f CompanyFields) (*PendingTx, error) {
	return r.send(ctx, signer, r.cfg.CompanyRegistry, nil, companyRegistryABI, "registerCompany",
		f.Name, f.Email, f.CompanyCode, f.CredentialDigest, f.Website, f.ContactPhone)
}

func (r *EthRegistry) IsCompanyVerified(ctx context.Context, address Address) (bool, error) {
	values, err := r.call(ctx, r.cfg.CompanyRegistry, companyRegistryABI, "isCompanyVerified", address)
	if err != nil {
		return false, err
	}
	return values[0].(bool), nil
}

func (r *EthRegistry) ClaimOwner(ctx context.Context, address Address) (*OwnerCapability, error) {
	values, err := r.call(ctx, r.cfg.CompanyRegistry, companyRegistryABI, "owner")
	if err != nil {
		return nil, err
	}
	owner := fromCommon(values[0].(common.Address))
	if !strings.EqualFold(string(owner), string(address)) {
		return nil, &Error{Kind: KindUnauthorized, Reason: "only the registry owner can verify companies"}
	}
	return &OwnerCapability{address: owner}, nil
}

func (r *EthRegistry) VerifyCompany(ctx context.Context, owner OwnerCapability, company Address) (*PendingTx, error) {
	if owner.address == "" {
		return nil, &Error{Kind: KindUnauthorized, Reason: "owner capability required"}
	}
	return r.send(ctx, owner.address, r.cfg.CompanyRegistry, nil, companyRegistryABI, "verifyCompany", company)
}

func (r *EthRegistry) CreatePolicy(ctx context.Context, signer Address, f PolicyFields) (*PendingTx, error) {
	coverage := f.CoverageAmount
	if coverage == nil {
		coverage = new(big.Int)
	}
	return r.send(ctx, signer, r.cfg.Insurance, nil, insuranceABI, "createPolicy",
		f.Name, f.Description, f.InsuranceType, coverage,
		new(big.Int).SetUint64(f.WaitingPeriodDays), new(big.Int).SetUint64(f.DurationDays), f.CoverageScope)
}

func (r *EthRegistry) PurchasePolicy(ctx context.Context, signer Address, registryPolicyID int64, value *big.Int) (*PendingTx, error) {
	return r.send(ctx, signer, r.cfg.Insurance, value, insuranceABI, "purchasePolicy", big.NewInt(registryPolicyID))
}

func (r *EthRegistry) CancelPolicy(ctx context.Context, signer Address, registryPurchaseID int64) (*PendingTx, error) {
	return r.send(ctx, signer, r.cfg.Insurance, nil, insuranceABI, "cancelPolicy", big.NewInt(registryPurchaseID))
}

func (r *EthRegistry) Receipt(ctx context.Context, tx PendingTx) (*Receipt, error) {
	receipt, err := r.client.TransactionReceipt(ctx, tx.Hash)
	if err != nil {
		return nil, err
	}
	if !receipt.Success {
		return receipt, rejected("transaction reverted")
	}
	return receipt, nil
}

// WaitForReceipt polls Receipt until the transaction is mined or ctx is done.
func (r *EthRegistry) WaitForReceipt(ctx context.Context, tx PendingTx, pollInterval time.Duration) (*Receipt, error) {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := r.Receipt(ctx, tx)
		if !errors.Is(err, ErrPending) {
			return receipt, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *EthRegistry) AccountCount(ctx context.Context) (uint64, error) {
	return r.count(ctx, r.cfg.UserRegistry, userRegistryABI, "getUserCount")
}

func (r *EthRegistry) PolicyCount(ctx context.Context) (uint64, error) {
	return r.count(ctx, r.cfg.Insurance, insuranceABI, "policyCount")
}

func (r *EthRegistry) count(ctx context.Context, to Address, contract abi.ABI, method string) (uint64, error) {
	values, err := r.call(ctx, to, contract, method)
	if err != nil {
		return 0, err
	}
	n := values[0].(*big.Int)
	if !n.IsUint64() {
		return 0, unavailable("count overflows uint64", nil)
	}
	return n.Uint64(), nil
}

func (r *EthRegistry) PolicyDetails(ctx context.Context, id int64) (*PolicyDetails, error) {
	values, err := r.call(ctx, r.cfg.Insurance, insuranceABI, "getPolicyDetails", big.NewInt(id))
	if err != nil {
		return nil, err
	}
	v := *abi.ConvertType(values[0], new(policyTuple)).(*policyTuple)

	return &PolicyDetails{
		PolicyID:          v.PolicyId.Int64(),
		Name:              v.Name,
		Description:       v.Description,
		InsuranceType:     v.InsuranceType,
		CompanyAddress:    fromCommon(v.Company),
		IsActive:          v.IsActive,
		CoverageAmountWei: v.CoverageAmount.String(),
		WaitingPeriodDays: v.WaitingPeriodDays.Int64(),
		DurationDays:      v.DurationDays.Int64(),
		CreationDate:      time.Unix(v.CreationDate.Int64(), 0).UTC(),
		CoverageScope:     v.CoverageScope,
	}, nil
}

func (r *EthRegistry) PurchaseDetails(ctx context.Context, id int64) (*PurchaseDetails, error) {
	v, err := r.call(ctx, r.cfg.Insurance, insuranceABI, "getPurchaseDetails", big.NewInt(id))
	if err != nil {
		return nil, err
	}

	status := "Unknown"
	if s := v[5].(uint8); int(s) < len(purchaseStatuses) {
		status = purchaseStatuses[s]
	}

	return &PurchaseDetails{
		PurchaseID:   id,
		PolicyID:     v[0].(*big.Int).Int64(),
		UserAddress:  fromCommon(v[1].(common.Address)),
		PurchaseDate: time.Unix(v[2].(*big.Int).Int64(), 0).UTC(),
		StartDate:    time.Unix(v[3].(*big.Int).Int64(), 0).UTC(),
		EndDate:      time.Unix(v[4].(*big.Int).Int64(), 0).UTC(),
		Status:       status,
	}, nil
}
