package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// RPCRequest is a JSON-RPC 2.0 request.
type RPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      string `json:"id"`
}

// RPCError is the error object of a JSON-RPC response.
type RPCError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Observer receives the duration of each RPC call.
type Observer func(method string, d time.Duration)

// Client is a minimal Ethereum JSON-RPC client.
type Client struct {
	rpcURL     string
	httpClient *http.Client
	observe    Observer
}

func NewClient(rpcURL string, timeout time.Duration, observe Observer) (*Client, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		rpcURL:     rpcURL,
		httpClient: &http.Client{Timeout: timeout},
		observe:    observe,
	}, nil
}

// Call performs a JSON-RPC call and returns the raw "result" member. Transport
// failures are reported as KindUnavailable, RPC error objects are classified.
func (c *Client) Call(ctx context.Context, method string, params ...any) (gjson.Result, error) {
	if params == nil {
		params = []any{}
	}
	req := RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      uuid.NewString(),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	defer func() {
		if c.observe != nil {
			c.observe(method, time.Since(start))
		}
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return gjson.Result{}, unavailable("node unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, unavailable("read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, unavailable(fmt.Sprintf("node returned HTTP %d", resp.StatusCode), nil)
	}
	if !gjson.ValidBytes(respBody) {
		return gjson.Result{}, unavailable("malformed response", nil)
	}

	parsed := gjson.ParseBytes(respBody)
	if rpcErr := parsed.Get("error"); rpcErr.Exists() {
		return gjson.Result{}, classifyRPCError(&RPCError{
			Code:    rpcErr.Get("code").Int(),
			Message: rpcErr.Get("message").String(),
			Data:    rpcErr.Get("data").String(),
		})
	}
	if got := parsed.Get("id").String(); got != req.ID {
		return gjson.Result{}, unavailable(fmt.Sprintf("response id %q does not match request", got), nil)
	}

	return parsed.Get("result"), nil
}

// ChainID returns the chain id the node reports.
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	result, err := c.Call(ctx, "eth_chainId")
	if err != nil {
		return 0, err
	}
	id, err := hexutil.DecodeUint64(result.String())
	if err != nil {
		return 0, unavailable("invalid chain id", err)
	}
	return id, nil
}

// EthCall executes a read-only contract call at the latest block.
func (c *Client) EthCall(ctx context.Context, to Address, data []byte) ([]byte, error) {
	result, err := c.Call(ctx, "eth_call", map[string]string{
		"to":   string(to),
		"data": hexutil.Encode(data),
	}, "latest")
	if err != nil {
		return nil, err
	}
	out, err := hexutil.Decode(result.String())
	if err != nil {
		return nil, unavailable("invalid call result", err)
	}
	return out, nil
}

// SendTransaction submits a transaction signed by a node-managed account and
// returns its hash.
func (c *Client) SendTransaction(ctx context.Context, from, to Address, data []byte, value *big.Int) (string, error) {
	tx := map[string]string{
		"from": string(from),
		"to":   string(to),
		"data": hexutil.Encode(data),
	}
	if value != nil && value.Sign() > 0 {
		tx["value"] = hexutil.EncodeBig(value)
	}
	result, err := c.Call(ctx, "eth_sendTransaction", tx)
	if err != nil {
		return "", err
	}
	hash := result.String()
	if hash == "" {
		return "", unavailable("empty transaction hash", nil)
	}
	return hash, nil
}

// TransactionReceipt returns the receipt for hash, or ErrPending if the node
// does not know a mined receipt yet.
func (c *Client) TransactionReceipt(ctx context.Context, hash string) (*Receipt, error) {
	result, err := c.Call(ctx, "eth_getTransactionReceipt", hash)
	if err != nil {
		return nil, err
	}
	if !result.Exists() || result.Type == gjson.Null {
		return nil, ErrPending
	}

	receipt := &Receipt{
		TxHash:  hash,
		Success: result.Get("status").String() == "0x1",
	}
	if n, err := hexutil.DecodeUint64(result.Get("blockNumber").String()); err == nil {
		receipt.BlockNumber = n
	}
	for _, entry := range result.Get("logs").Array() {
		l := Log{
			Address: Address(entry.Get("address").String()),
			Data:    entry.Get("data").String(),
		}
		for _, topic := range entry.Get("topics").Array() {
			l.Topics = append(l.Topics, topic.String())
		}
		receipt.Logs = append(receipt.Logs, l)
	}
	return receipt, nil
}
