package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
)

const codeNotFound = -32004

// RPCClient talks to a ledger node over its JSON HTTP interface.
type RPCClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewRPCClient constructs a ledger client against baseURL.
func NewRPCClient(baseURL string, logger *zap.Logger) *RPCClient {
	return &RPCClient{
		baseURL: baseURL,
		logger:  logger,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 90 * time.Second,
				}).DialContext,
				MaxIdleConns:    100,
				IdleConnTimeout: 90 * time.Second,
			},
		},
	}
}

var _ Client = (*RPCClient)(nil)

type rpcRequest struct {
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error,omitempty"`
}

// call performs one RPC round trip, retrying a transport failure once.
// Absent accounts surface as ErrNotFound, never as a transport error.
func (c *RPCClient) call(ctx context.Context, method string, params, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying ledger query", zap.String("method", method), zap.Error(lastErr))
		}
		lastErr = c.callOnce(ctx, method, params, out)
		if lastErr == nil || lastErr == ErrNotFound || ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

func (c *RPCClient) callOnce(ctx context.Context, method string, params, out interface{}) error {
	body, err := json.Marshal(rpcRequest{Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if envelope.Error != nil {
		if envelope.Error.Code == codeNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("%s: ledger error %d: %s", method, envelope.Error.Code, envelope.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

type refParam struct {
	Ref Ref `json:"ref"`
}

type wireProposal struct {
	Ref           Ref    `json:"ref"`
	Moderator     Ref    `json:"moderator"`
	Seq           uint64 `json:"seq"`
	State         string `json:"state"`
	CreatedAt     int64  `json:"created_at"`
	LengthSecs    int64  `json:"length_secs"`
	WarmupSecs    int64  `json:"warmup_secs"`
	OptionCount   int    `json:"option_count"`
	OptionPools   []Ref  `json:"option_pools"`
	WinningOption *int   `json:"winning_option,omitempty"`
}

// FetchProposal fetches and decodes a proposal account.
func (c *RPCClient) FetchProposal(ctx context.Context, ref Ref) (*ProposalAccount, error) {
	var w wireProposal
	if err := c.call(ctx, "getProposal", refParam{ref}, &w); err != nil {
		return nil, err
	}
	phase, ok := ParsePhase(w.State)
	if !ok {
		return nil, fmt.Errorf("proposal %s: unknown state tag %q", ref.Short(), w.State)
	}
	return &ProposalAccount{
		Ref:           w.Ref,
		Moderator:     w.Moderator,
		Seq:           w.Seq,
		Phase:         phase,
		CreatedAt:     w.CreatedAt,
		LengthSecs:    w.LengthSecs,
		WarmupSecs:    w.WarmupSecs,
		OptionCount:   w.OptionCount,
		OptionPools:   w.OptionPools,
		WinningOption: w.WinningOption,
	}, nil
}

// FetchModerator fetches a moderator namespace account.
func (c *RPCClient) FetchModerator(ctx context.Context, ref Ref) (*ModeratorAccount, error) {
	var m ModeratorAccount
	if err := c.call(ctx, "getModerator", refParam{ref}, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// FetchMint fetches an asset issuance account.
func (c *RPCClient) FetchMint(ctx context.Context, ref Ref) (*MintAccount, error) {
	var m MintAccount
	if err := c.call(ctx, "getMint", refParam{ref}, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// FetchPool fetches a pool account.
func (c *RPCClient) FetchPool(ctx context.Context, ref Ref) (*PoolAccount, error) {
	var p PoolAccount
	if err := c.call(ctx, "getPool", refParam{ref}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// FetchAddressTable fetches an address-compaction table and its entries.
func (c *RPCClient) FetchAddressTable(ctx context.Context, ref Ref) (*AddressTable, error) {
	var t AddressTable
	if err := c.call(ctx, "getAddressTable", refParam{ref}, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// TokenBalance returns owner's balance of asset in base units.
func (c *RPCClient) TokenBalance(ctx context.Context, owner, asset Ref) (uint64, error) {
	var out struct {
		Amount uint64 `json:"amount"`
	}
	params := struct {
		Owner Ref `json:"owner"`
		Asset Ref `json:"asset"`
	}{owner, asset}
	if err := c.call(ctx, "getTokenBalance", params, &out); err != nil {
		if err == ErrNotFound {
			return 0, nil // no token account yet means zero balance
		}
		return 0, err
	}
	return out.Amount, nil
}

// NativeBalance returns owner's native fee-asset balance in base units.
func (c *RPCClient) NativeBalance(ctx context.Context, owner Ref) (uint64, error) {
	var out struct {
		Amount uint64 `json:"amount"`
	}
	if err := c.call(ctx, "getBalance", refParam{owner}, &out); err != nil {
		if err == ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	return out.Amount, nil
}

// Submit sends a signed change to the ledger and returns its submission id.
func (c *RPCClient) Submit(ctx context.Context, tx *SignedTx) (SubmissionID, error) {
	var out struct {
		Submission SubmissionID `json:"submission"`
	}
	if err := c.call(ctx, "submit", tx, &out); err != nil {
		return "", err
	}
	c.logger.Info("submitted change",
		zap.String("submission", string(out.Submission)),
		zap.String("payer", tx.Tx.Payer.Short()))
	return out.Submission, nil
}

// Confirm polls the submission status until the ledger reports it finalized
// or timeout elapses. The ledger does not guarantee immediate visibility of
// a just-submitted change, so every write workflow confirms before its next
// step reads.
func (c *RPCClient) Confirm(ctx context.Context, id SubmissionID, timeout time.Duration) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = timeout

	op := func() error {
		var out struct {
			Status string `json:"status"`
		}
		params := struct {
			Submission SubmissionID `json:"submission"`
		}{id}
		if err := c.call(ctx, "getSubmissionStatus", params, &out); err != nil {
			if err == ErrNotFound {
				return fmt.Errorf("submission %s not yet visible", id)
			}
			return err
		}
		switch out.Status {
		case "finalized":
			return nil
		case "failed":
			return backoff.Permanent(fmt.Errorf("submission %s failed on the ledger", id))
		default:
			return fmt.Errorf("submission %s still %s", id, out.Status)
		}
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return fmt.Errorf("confirm %s: %w", id, err)
	}
	return nil
}

// DeriveAddress is deterministic address derivation; no network call.
func (c *RPCClient) DeriveAddress(seeds ...[]byte) Ref {
	return Derive(seeds...)
}
