package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// RPC error codes returned by the ledger node.
const (
	rpcCodeInsufficientFunds = -32010
	rpcCodeInvalidAccount    = -32011
	rpcCodeDuplicateTransfer = -32012
)

// HTTPClient implements Client using HTTP JSON-RPC 2.0.
// Read methods retry with exponential backoff; CreateAccount and Transfer
// are submitted exactly once because retrying either can move money twice.
type HTTPClient struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts for read methods.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a new ledger JSON-RPC client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError represents a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// callOnce performs a single JSON-RPC call with no retries.
func (c *HTTPClient) callOnce(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqID := c.requestID.Add(1)
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return rpcResp.Error
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}

	return nil
}

// call performs a JSON-RPC call with retries and exponential backoff.
// RPC-level errors are not retried; only transport failures are.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		err := c.callOnce(ctx, method, params, result)
		if err == nil {
			return nil
		}

		var rerr *rpcError
		if errors.As(err, &rerr) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// createAccountResult is the raw RPC response for createAccount.
type createAccountResult struct {
	AccountID string `json:"accountId"`
}

// CreateAccount creates and funds a new account for publicKey.
// The public key must be a base58-encoded ed25519 key; it is validated
// client-side before any treasury funds move.
func (c *HTTPClient) CreateAccount(ctx context.Context, publicKey string, initialBalance decimal.Decimal) (string, error) {
	if err := ValidateAccountKey(publicKey); err != nil {
		return "", fmt.Errorf("validate public key: %w", err)
	}

	params := []interface{}{
		map[string]interface{}{
			"publicKey":      publicKey,
			"initialBalance": initialBalance.String(),
		},
	}

	var result createAccountResult
	if err := c.callOnce(ctx, "createAccount", params, &result); err != nil {
		return "", fmt.Errorf("createAccount: %w", err)
	}

	if result.AccountID == "" {
		return "", fmt.Errorf("createAccount: node returned empty account id")
	}

	return result.AccountID, nil
}

// transferResult is the raw RPC response for submitTransfer.
type transferResult struct {
	TxID        string `json:"txId"`
	State       string `json:"state"`
	Reason      string `json:"reason"`
	ConsensusAt int64  `json:"consensusAt"`
}

// Transfer submits exactly one transfer and classifies the outcome.
func (c *HTTPClient) Transfer(ctx context.Context, req TransferRequest) (*TransferReceipt, error) {
	params := []interface{}{
		map[string]interface{}{
			"from":       req.From,
			"to":         req.To,
			"amount":     req.Amount.String(),
			"token":      req.Token,
			"memo":       req.Memo,
			"transferId": req.TransferID,
		},
	}

	var result transferResult
	err := c.callOnce(ctx, "submitTransfer", params, &result)
	if err != nil {
		return nil, classifyTransferError(err)
	}

	switch result.State {
	case StateSettled:
		return &TransferReceipt{TxID: result.TxID, ConsensusAt: result.ConsensusAt}, nil
	case StateRejected:
		kind := KindLedgerRejected
		if result.Reason == "INSUFFICIENT_FUNDS" {
			kind = KindInsufficientFunds
		}
		return nil, &TransferError{Kind: kind, Err: fmt.Errorf("rejected: %s", result.Reason)}
	default:
		// The node accepted the submission but consensus is still out.
		return nil, &TransferError{Kind: KindIndeterminate, Err: fmt.Errorf("state %q awaiting consensus", result.State)}
	}
}

// classifyTransferError translates a raw submission failure into a typed
// TransferError. Transport failures are indeterminate: the request may
// have reached the node before the connection died.
func classifyTransferError(err error) error {
	var rerr *rpcError
	if errors.As(err, &rerr) {
		switch rerr.Code {
		case rpcCodeInsufficientFunds:
			return &TransferError{Kind: KindInsufficientFunds, Code: rerr.Code, Err: rerr}
		case rpcCodeDuplicateTransfer:
			// The idempotency key was already used: a previous attempt did
			// reach the node. Settlement state must come from GetTransfer.
			return &TransferError{Kind: KindIndeterminate, Code: rerr.Code, Err: rerr}
		default:
			return &TransferError{Kind: KindLedgerRejected, Code: rerr.Code, Err: rerr}
		}
	}
	return &TransferError{Kind: KindIndeterminate, Err: err}
}

// getBalanceResult is the raw RPC response for getBalance.
type getBalanceResult struct {
	Balance string `json:"balance"`
}

// GetBalance retrieves an account's balance of the given token.
func (c *HTTPClient) GetBalance(ctx context.Context, accountID, token string) (decimal.Decimal, error) {
	params := []interface{}{
		map[string]interface{}{
			"accountId": accountID,
			"token":     token,
		},
	}

	var result getBalanceResult
	if err := c.call(ctx, "getBalance", params, &result); err != nil {
		return decimal.Zero, fmt.Errorf("getBalance: %w", err)
	}

	balance, err := decimal.NewFromString(result.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse balance %q: %w", result.Balance, err)
	}

	return balance, nil
}

// getTransferResult is the raw RPC response for getTransfer.
type getTransferResult struct {
	TransferID string `json:"transferId"`
	TxID       string `json:"txId"`
	State      string `json:"state"`
	Reason     string `json:"reason"`
	SettledAt  int64  `json:"settledAt"`
}

// GetTransfer retrieves a transfer's settlement state.
// Returns nil if the ledger has no record of the transfer ID.
func (c *HTTPClient) GetTransfer(ctx context.Context, transferID string) (*TransferState, error) {
	params := []interface{}{
		map[string]interface{}{"transferId": transferID},
	}

	var result getTransferResult
	if err := c.call(ctx, "getTransfer", params, &result); err != nil {
		return nil, fmt.Errorf("getTransfer: %w", err)
	}

	if result.TransferID == "" {
		// Transfer not known to the ledger
		return nil, nil
	}

	return &TransferState{
		TransferID: result.TransferID,
		TxID:       result.TxID,
		State:      result.State,
		Reason:     result.Reason,
		SettledAt:  result.SettledAt,
	}, nil
}
