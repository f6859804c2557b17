package registry

import (
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AccountFields is the profile written to the user registry. CredentialDigest
// replaces the plaintext credential, which never leaves the backend.
type AccountFields struct {
	Name             string
	Email            string
	CredentialDigest string
}

type CompanyFields struct {
	Name             string
	Email            string
	CompanyCode      string
	CredentialDigest string
	Website          string
	ContactPhone     string
}

type PolicyFields struct {
	Name              string
	Description       string
	InsuranceType     uint8
	CoverageAmount    *big.Int
	WaitingPeriodDays uint64
	DurationDays      uint64
	CoverageScope     string
}

// PendingTx identifies a submitted, not yet confirmed transaction.
type PendingTx struct {
	Hash        string    `json:"txHash"`
	From        Address   `json:"from"`
	SubmittedAt time.Time `json:"submittedAt"`
}

type Log struct {
	Address Address
	Topics  []string
	Data    string
}

type Receipt struct {
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
	Success     bool   `json:"success"`
	Logs        []Log  `json:"-"`
}

// EventID extracts the uint256 id carried by the first log of contract whose
// topic0 is topic. The id is read from topics[1] when indexed, otherwise from
// the first data word.
func (r *Receipt) EventID(contract Address, topic string) (int64, bool) {
	for _, l := range r.Logs {
		if !strings.EqualFold(string(l.Address), string(contract)) {
			continue
		}
		if len(l.Topics) == 0 || !strings.EqualFold(l.Topics[0], topic) {
			continue
		}
		var raw string
		if len(l.Topics) > 1 {
			raw = l.Topics[1]
		} else {
			raw = l.Data
		}
		b, err := hexutil.Decode(raw)
		if err != nil || len(b) < common.HashLength {
			continue
		}
		id := new(big.Int).SetBytes(b[:common.HashLength])
		if !id.IsInt64() {
			continue
		}
		return id.Int64(), true
	}
	return 0, false
}

// OwnerCapability proves the holder was checked against the registry owner.
// It can only be obtained from ClaimOwner.
type OwnerCapability struct {
	address Address
}

func (c OwnerCapability) Address() Address {
	return c.address
}

type PolicyDetails struct {
	PolicyID          int64     `json:"policyId"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	InsuranceType     uint8     `json:"insuranceType"`
	CompanyAddress    Address   `json:"companyAddress"`
	IsActive          bool      `json:"isActive"`
	CoverageAmountWei string    `json:"coverageAmountWei"`
	WaitingPeriodDays int64     `json:"waitingPeriodDays"`
	DurationDays      int64     `json:"durationDays"`
	CreationDate      time.Time `json:"creationDate"`
	CoverageScope     string    `json:"coverageScope"`
}

type PurchaseDetails struct {
	PurchaseID   int64     `json:"purchaseId"`
	PolicyID     int64     `json:"policyId"`
	UserAddress  Address   `json:"userAddress"`
	PurchaseDate time.Time `json:"purchaseDate"`
	StartDate    time.Time `json:"startDate"`
	EndDate      time.Time `json:"endDate"`
	Status       string    `json:"status"`
}

var purchaseStatuses = []string{"Active", "Expired", "Cancelled"}

var weiPerCent = new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil)

// ToWei converts a currency amount, rounded to cents, to 18-decimal base units.
func ToWei(amount float64) *big.Int {
	cents := int64(math.Round(amount * 100))
	return new(big.Int).Mul(big.NewInt(cents), weiPerCent)
}
