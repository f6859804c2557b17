package registry

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Address is a 0x-prefixed, 20-byte hex account or contract address.
type Address string

func (a Address) common() (common.Address, error) {
	if !strings.HasPrefix(string(a), "0x") || !common.IsHexAddress(string(a)) {
		return common.Address{}, fmt.Errorf("invalid address %q", string(a))
	}
	return common.HexToAddress(string(a)), nil
}

func fromCommon(a common.Address) Address {
	return Address(strings.ToLower(a.Hex()))
}

const userRegistryJSON = `[
	{"type":"function","name":"isUserRegistered","stateMutability":"view",
	 "inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"registerUser","stateMutability":"nonpayable",
	 "inputs":[{"name":"name","type":"string"},{"name":"email","type":"string"},{"name":"password","type":"string"}],
	 "outputs":[]},
	{"type":"function","name":"getUserCount","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

const companyRegistryJSON = `[
	{"type":"function","name":"registerCompany","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"name","type":"string"},{"name":"email","type":"string"},{"name":"companyCode","type":"string"},
		{"name":"password","type":"string"},{"name":"website","type":"string"},{"name":"contactPhone","type":"string"}],
	 "outputs":[]},
	{"type":"function","name":"isCompanyVerified","stateMutability":"view",
	 "inputs":[{"name":"company","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"owner","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"verifyCompany","stateMutability":"nonpayable",
	 "inputs":[{"name":"company","type":"address"}],"outputs":[]}
]`

const insuranceJSON = `[
	{"type":"function","name":"createPolicy","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"name","type":"string"},{"name":"description","type":"string"},{"name":"insuranceType","type":"uint8"},
		{"name":"coverageAmount","type":"uint256"},{"name":"waitingPeriodDays","type":"uint256"},
		{"name":"durationDays","type":"uint256"},{"name":"coverageScope","type":"string"}],
	 "outputs":[]},
	{"type":"function","name":"purchasePolicy","stateMutability":"payable",
	 "inputs":[{"name":"policyId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"cancelPolicy","stateMutability":"nonpayable",
	 "inputs":[{"name":"purchaseId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"policyCount","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getPolicyDetails","stateMutability":"view",
	 "inputs":[{"name":"policyId","type":"uint256"}],
	 "outputs":[{"name":"","type":"tuple","components":[
		{"name":"policyId","type":"uint256"},{"name":"name","type":"string"},{"name":"description","type":"string"},
		{"name":"insuranceType","type":"uint8"},{"name":"company","type":"address"},{"name":"isActive","type":"bool"},
		{"name":"coverageAmount","type":"uint256"},{"name":"waitingPeriodDays","type":"uint256"},
		{"name":"durationDays","type":"uint256"},{"name":"creationDate","type":"uint256"},
		{"name":"coverageScope","type":"string"}]}]},
	{"type":"function","name":"getPurchaseDetails","stateMutability":"view",
	 "inputs":[{"name":"purchaseId","type":"uint256"}],
	 "outputs":[
		{"name":"policyId","type":"uint256"},{"name":"user","type":"address"},{"name":"purchaseDate","type":"uint256"},
		{"name":"startDate","type":"uint256"},{"name":"endDate","type":"uint256"},{"name":"status","type":"uint8"}]},
	{"type":"event","name":"PolicyCreated","anonymous":false,
	 "inputs":[{"name":"policyId","type":"uint256","indexed":true},{"name":"name","type":"string","indexed":false},
		{"name":"company","type":"address","indexed":true}]},
	{"type":"event","name":"PolicyPurchased","anonymous":false,
	 "inputs":[{"name":"purchaseId","type":"uint256","indexed":true},{"name":"policyId","type":"uint256","indexed":true},
		{"name":"user","type":"address","indexed":true}]}
]`

var (
	userRegistryABI    = mustParseABI(userRegistryJSON)
	companyRegistryABI = mustParseABI(companyRegistryJSON)
	insuranceABI       = mustParseABI(insuranceJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("registry: invalid contract ABI: %v", err))
	}
	return parsed
}

// policyTuple mirrors the getPolicyDetails return struct. Field names follow
// the ABI component names so the decoder can fill it.
type policyTuple struct {
	PolicyId          *big.Int
	Name              string
	Description       string
	InsuranceType     uint8
	Company           common.Address
	IsActive          bool
	CoverageAmount    *big.Int
	WaitingPeriodDays *big.Int
	DurationDays      *big.Int
	CreationDate      *big.Int
	CoverageScope     string
}

// packCall builds calldata for method. Address arguments are validated and
// converted; all other arguments must already have the Go type the ABI
// expects.
func packCall(contract abi.ABI, method string, args ...any) ([]byte, error) {
	converted := make([]any, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case Address:
			addr, err := v.common()
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			converted[i] = addr
		case *big.Int:
			if v == nil || v.Sign() < 0 {
				return nil, fmt.Errorf("argument %d: unsigned integer required", i)
			}
			converted[i] = v
		default:
			converted[i] = arg
		}
	}
	return contract.Pack(method, converted...)
}
