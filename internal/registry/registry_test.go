package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const (
	userContract      = Address("0x1111111111111111111111111111111111111111")
	companyContract   = Address("0x2222222222222222222222222222222222222222")
	insuranceContract = Address("0x3333333333333333333333333333333333333333")
	ownerAddress      = Address("0x4444444444444444444444444444444444444444")
	companyAddress    = Address("0x5555555555555555555555555555555555555555")
)

type rpcHandler func(params gjson.Result) (any, *RPCError)

// fakeNode is an in-process JSON-RPC endpoint keyed by method name.
type fakeNode struct {
	mu       sync.Mutex
	handlers map[string]rpcHandler
	calls    []string
}

func newFakeNode(t *testing.T, chainID string) (*fakeNode, *httptest.Server) {
	t.Helper()
	node := &fakeNode{handlers: map[string]rpcHandler{
		"eth_chainId": func(gjson.Result) (any, *RPCError) { return chainID, nil },
	}}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		req := gjson.ParseBytes(body)
		method := req.Get("method").String()

		node.mu.Lock()
		node.calls = append(node.calls, method)
		handler, ok := node.handlers[method]
		node.mu.Unlock()

		resp := map[string]any{"jsonrpc": "2.0", "id": req.Get("id").String()}
		if !ok {
			resp["error"] = RPCError{Code: -32601, Message: "method not found"}
		} else {
			result, rpcErr := handler(req.Get("params"))
			if rpcErr != nil {
				resp["error"] = rpcErr
			} else {
				resp["result"] = result
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return node, server
}

func (n *fakeNode) on(method string, h rpcHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[method] = h
}

// onCall answers eth_call by method name.
func (n *fakeNode) onCall(results map[string][]byte) {
	n.on("eth_call", func(params gjson.Result) (any, *RPCError) {
		data, err := hexutil.Decode(params.Get("0.data").String())
		if err != nil {
			return nil, &RPCError{Code: -32602, Message: "invalid data"}
		}
		for name, out := range results {
			if bytes.HasPrefix(data, method(name).ID) {
				return hexutil.Encode(out), nil
			}
		}
		return nil, &RPCError{Code: 3, Message: "execution reverted: unknown selector"}
	})
}

func method(name string) abi.Method {
	for _, contract := range []abi.ABI{userRegistryABI, companyRegistryABI, insuranceABI} {
		if m, ok := contract.Methods[name]; ok {
			return m
		}
	}
	panic("unknown method " + name)
}

// returns encodes the outputs of a contract method.
func returns(name string, values ...any) []byte {
	out, err := method(name).Outputs.Pack(values...)
	if err != nil {
		panic(err)
	}
	return out
}

func newTestRegistry(t *testing.T, url string) *EthRegistry {
	t.Helper()
	client, err := NewClient(url, time.Second, nil)
	require.NoError(t, err)
	return New(client, Config{
		ChainID:         11155111,
		UserRegistry:    userContract,
		CompanyRegistry: companyContract,
		Insurance:       insuranceContract,
	})
}

func TestNewClient(t *testing.T) {
	_, err := NewClient("", time.Second, nil)
	assert.Error(t, err)
}

func TestEthRegistry_ChainCheck(t *testing.T) {
	t.Run("mismatched network", func(t *testing.T) {
		_, server := newFakeNode(t, "0x1")
		reg := newTestRegistry(t, server.URL)

		_, err := reg.IsAccountRegistered(context.Background(), companyAddress)
		assert.Equal(t, KindNetworkMismatch, KindOf(err))
	})

	t.Run("checked once", func(t *testing.T) {
		node, server := newFakeNode(t, "0xaa36a7")
		node.onCall(map[string][]byte{"isUserRegistered": returns("isUserRegistered", true)})
		reg := newTestRegistry(t, server.URL)

		for i := 0; i < 3; i++ {
			ok, err := reg.IsAccountRegistered(context.Background(), companyAddress)
			require.NoError(t, err)
			assert.True(t, ok)
		}

		chainCalls := 0
		for _, m := range node.calls {
			if m == "eth_chainId" {
				chainCalls++
			}
		}
		assert.Equal(t, 1, chainCalls)
	})

	t.Run("unreachable node", func(t *testing.T) {
		_, server := newFakeNode(t, "0xaa36a7")
		reg := newTestRegistry(t, server.URL)
		server.Close()

		_, err := reg.PolicyCount(context.Background())
		assert.Equal(t, KindUnavailable, KindOf(err))
	})
}

func TestEthRegistry_Send(t *testing.T) {
	t.Run("revert reason is surfaced", func(t *testing.T) {
		node, server := newFakeNode(t, "0xaa36a7")
		node.on("eth_sendTransaction", func(gjson.Result) (any, *RPCError) {
			return nil, &RPCError{Code: 3, Message: "execution reverted: User already registered"}
		})
		reg := newTestRegistry(t, server.URL)

		_, err := reg.RegisterAccount(context.Background(), companyAddress, AccountFields{Name: "A", Email: "a@example.com"})
		var regErr *Error
		require.True(t, errors.As(err, &regErr))
		assert.Equal(t, KindRejected, regErr.Kind)
		assert.Equal(t, "User already registered", regErr.Reason)
	})

	t.Run("purchase carries value", func(t *testing.T) {
		node, server := newFakeNode(t, "0xaa36a7")
		var sent gjson.Result
		node.on("eth_sendTransaction", func(params gjson.Result) (any, *RPCError) {
			sent = params.Get("0")
			return "0xabc", nil
		})
		reg := newTestRegistry(t, server.URL)

		tx, err := reg.PurchasePolicy(context.Background(), companyAddress, 3, ToWei(2000))
		require.NoError(t, err)
		assert.Equal(t, "0xabc", tx.Hash)
		assert.Equal(t, companyAddress, tx.From)
		assert.Equal(t, string(insuranceContract), sent.Get("to").String())
		assert.Equal(t, hexutil.EncodeBig(ToWei(2000)), sent.Get("value").String())
		assert.True(t, strings.HasPrefix(sent.Get("data").String(), hexutil.Encode(method("purchasePolicy").ID)))
	})

	t.Run("invalid signer is rejected locally", func(t *testing.T) {
		node, server := newFakeNode(t, "0xaa36a7")
		reg := newTestRegistry(t, server.URL)

		_, err := reg.CancelPolicy(context.Background(), "not-an-address", 1)
		assert.Equal(t, KindRejected, KindOf(err))
		assert.Empty(t, node.calls)
	})
}

func TestEthRegistry_Owner(t *testing.T) {
	node, server := newFakeNode(t, "0xaa36a7")
	node.onCall(map[string][]byte{"owner": returns("owner", common.HexToAddress(string(ownerAddress)))})
	node.on("eth_sendTransaction", func(params gjson.Result) (any, *RPCError) {
		return "0xdef", nil
	})
	reg := newTestRegistry(t, server.URL)
	ctx := context.Background()

	t.Run("non owner is unauthorized", func(t *testing.T) {
		_, err := reg.ClaimOwner(ctx, companyAddress)
		assert.Equal(t, KindUnauthorized, KindOf(err))
	})

	t.Run("zero capability is unauthorized", func(t *testing.T) {
		_, err := reg.VerifyCompany(ctx, OwnerCapability{}, companyAddress)
		assert.Equal(t, KindUnauthorized, KindOf(err))
	})

	t.Run("owner verifies", func(t *testing.T) {
		owner, err := reg.ClaimOwner(ctx, Address(strings.ToUpper(string(ownerAddress))))
		require.NoError(t, err)

		tx, err := reg.VerifyCompany(ctx, *owner, companyAddress)
		require.NoError(t, err)
		assert.Equal(t, ownerAddress, tx.From)
	})
}

func TestEthRegistry_Receipt(t *testing.T) {
	node, server := newFakeNode(t, "0xaa36a7")
	reg := newTestRegistry(t, server.URL)
	ctx := context.Background()
	tx := PendingTx{Hash: "0xfeed"}

	t.Run("pending", func(t *testing.T) {
		node.on("eth_getTransactionReceipt", func(gjson.Result) (any, *RPCError) { return nil, nil })
		_, err := reg.Receipt(ctx, tx)
		assert.ErrorIs(t, err, ErrPending)
	})

	t.Run("reverted", func(t *testing.T) {
		node.on("eth_getTransactionReceipt", func(gjson.Result) (any, *RPCError) {
			return map[string]any{"status": "0x0", "blockNumber": "0x10", "logs": []any{}}, nil
		})
		receipt, err := reg.Receipt(ctx, tx)
		assert.Equal(t, KindRejected, KindOf(err))
		require.NotNil(t, receipt)
		assert.Equal(t, uint64(16), receipt.BlockNumber)
	})

	t.Run("confirmed with event", func(t *testing.T) {
		node.on("eth_getTransactionReceipt", func(gjson.Result) (any, *RPCError) {
			return map[string]any{
				"status":      "0x1",
				"blockNumber": "0x11",
				"logs": []any{map[string]any{
					"address": string(insuranceContract),
					"topics":  []string{TopicPolicyCreated, common.BigToHash(big.NewInt(9)).Hex()},
					"data":    "0x",
				}},
			}, nil
		})
		receipt, err := reg.Receipt(ctx, tx)
		require.NoError(t, err)
		id, ok := receipt.EventID(insuranceContract, TopicPolicyCreated)
		assert.True(t, ok)
		assert.Equal(t, int64(9), id)
	})

	t.Run("wait polls until mined", func(t *testing.T) {
		var mu sync.Mutex
		polls := 0
		node.on("eth_getTransactionReceipt", func(gjson.Result) (any, *RPCError) {
			mu.Lock()
			defer mu.Unlock()
			polls++
			if polls < 3 {
				return nil, nil
			}
			return map[string]any{"status": "0x1", "blockNumber": "0x12", "logs": []any{}}, nil
		})

		receipt, err := reg.WaitForReceipt(ctx, tx, 10*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, receipt.Success)
	})

	t.Run("wait honours context", func(t *testing.T) {
		node.on("eth_getTransactionReceipt", func(gjson.Result) (any, *RPCError) { return nil, nil })
		waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()

		_, err := reg.WaitForReceipt(waitCtx, tx, 10*time.Millisecond)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestEthRegistry_Details(t *testing.T) {
	node, server := newFakeNode(t, "0xaa36a7")

	node.onCall(map[string][]byte{
		"getPolicyDetails": returns("getPolicyDetails", policyTuple{
			PolicyId:          big.NewInt(4),
			Name:              "Basic",
			Description:       "outpatient",
			Company:           common.HexToAddress(string(companyAddress)),
			IsActive:          true,
			CoverageAmount:    ToWei(1000),
			WaitingPeriodDays: big.NewInt(0),
			DurationDays:      big.NewInt(365),
			CreationDate:      big.NewInt(1700000000),
			CoverageScope:     "dental",
		}),
		"getPurchaseDetails": returns("getPurchaseDetails",
			big.NewInt(4), common.HexToAddress(string(companyAddress)),
			big.NewInt(1700000000), big.NewInt(1700000000), big.NewInt(1731536000), uint8(2)),
		"policyCount":  returns("policyCount", big.NewInt(12)),
		"getUserCount": returns("getUserCount", big.NewInt(30)),
	})
	reg := newTestRegistry(t, server.URL)
	ctx := context.Background()

	policy, err := reg.PolicyDetails(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), policy.PolicyID)
	assert.Equal(t, "Basic", policy.Name)
	assert.Equal(t, companyAddress, policy.CompanyAddress)
	assert.True(t, policy.IsActive)
	assert.Equal(t, ToWei(1000).String(), policy.CoverageAmountWei)
	assert.Equal(t, int64(365), policy.DurationDays)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), policy.CreationDate)
	assert.Equal(t, "dental", policy.CoverageScope)

	purchase, err := reg.PurchaseDetails(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, int64(8), purchase.PurchaseID)
	assert.Equal(t, int64(4), purchase.PolicyID)
	assert.Equal(t, companyAddress, purchase.UserAddress)
	assert.Equal(t, "Cancelled", purchase.Status)

	policies, err := reg.PolicyCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), policies)

	accounts, err := reg.AccountCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), accounts)
}
