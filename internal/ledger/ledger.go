// Package ledger reads crowdfunding campaigns from the on-chain loan ledger.
// The contract is treated as an opaque data source: one read-only call per
// campaign, returning the funding state including the outstanding amount.
package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"
)

const (
	// IDRDecimals is the fixed-point scale of IDR amounts on the contract.
	IDRDecimals = 6

	defaultTimeout = 15 * time.Second

	getCampaignSignature = "getCampaign(uint256)"

	// campaignTupleWords is the number of 32-byte words in the static
	// campaign tuple returned by the contract.
	campaignTupleWords = 14
)

// CampaignStatus is the lifecycle state of a crowdfunding campaign.
type CampaignStatus uint8

const (
	StatusActive CampaignStatus = iota
	StatusFundingFailed
	StatusPendingSignOff
	StatusLoanActive
	StatusRepaid
	StatusDefaulted
	StatusCancelled
	StatusCompleted
)

// Campaign is the decoded on-chain campaign record.
type Campaign struct {
	SrgTokenID           *big.Int
	SrgTokenContract     string
	Borrower             string
	TargetAmount         *big.Int
	CurrentAmount        *big.Int
	CreatedAt            *big.Int
	FundingDeadline      *big.Int
	InterestRateBps      *big.Int
	LoanStartTime        *big.Int
	MaxPayoutDate        *big.Int
	TotalRepaymentAmount *big.Int
	Status               CampaignStatus
	OriginalSrgOwner     string
	AdminFeePercentage   *big.Int
}

// CurrentAmountIDR converts the fixed-point outstanding amount to IDR.
func (c *Campaign) CurrentAmountIDR() decimal.Decimal {
	return decimal.NewFromBigInt(c.CurrentAmount, -IDRDecimals)
}

// CampaignReader is the ledger surface the CCR calculator consumes.
type CampaignReader interface {
	GetCampaign(ctx context.Context, campaignID int64) (*Campaign, error)
}

// Client reads campaigns over JSON-RPC 2.0 eth_call.
type Client struct {
	endpoint  string
	contract  string
	client    *http.Client
	requestID atomic.Uint64
	selector  []byte
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates a ledger client for the given RPC endpoint and contract
// address.
func NewClient(endpoint, contract string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: endpoint,
		contract: contract,
		client:   &http.Client{Timeout: defaultTimeout},
		selector: methodSelector(getCampaignSignature),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// methodSelector returns the first four bytes of the keccak256 hash of the
// canonical method signature.
func methodSelector(signature string) []byte {
	hash := sha3.NewLegacyKeccak256()
	hash.Write([]byte(signature))
	return hash.Sum(nil)[:4]
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// callParams is the eth_call transaction object.
type callParams struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

// GetCampaign fetches and decodes the campaign tuple for the given ID.
func (c *Client) GetCampaign(ctx context.Context, campaignID int64) (*Campaign, error) {
	data := make([]byte, 0, 4+32)
	data = append(data, c.selector...)
	data = append(data, leftPad32(big.NewInt(campaignID).Bytes())...)

	params := []interface{}{
		callParams{To: c.contract, Data: "0x" + hex.EncodeToString(data)},
		"latest",
	}

	var result string
	if err := c.call(ctx, "eth_call", params, &result); err != nil {
		return nil, fmt.Errorf("get campaign %d: %w", campaignID, err)
	}

	campaign, err := decodeCampaign(result)
	if err != nil {
		return nil, fmt.Errorf("decode campaign %d: %w", campaignID, err)
	}
	return campaign, nil
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("rpc request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from rpc endpoint", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if rpcResp.Result == nil {
		return fmt.Errorf("rpc response carries no result")
	}

	return json.Unmarshal(rpcResp.Result, result)
}

// decodeCampaign parses the hex-encoded static tuple returned by eth_call.
func decodeCampaign(result string) (*Campaign, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(result, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	if len(raw) < campaignTupleWords*32 {
		return nil, fmt.Errorf("short campaign tuple: %d bytes", len(raw))
	}

	word := func(i int) []byte {
		return raw[i*32 : (i+1)*32]
	}

	return &Campaign{
		SrgTokenID:           new(big.Int).SetBytes(word(0)),
		SrgTokenContract:     wordToAddress(word(1)),
		Borrower:             wordToAddress(word(2)),
		TargetAmount:         new(big.Int).SetBytes(word(3)),
		CurrentAmount:        new(big.Int).SetBytes(word(4)),
		CreatedAt:            new(big.Int).SetBytes(word(5)),
		FundingDeadline:      new(big.Int).SetBytes(word(6)),
		InterestRateBps:      new(big.Int).SetBytes(word(7)),
		LoanStartTime:        new(big.Int).SetBytes(word(8)),
		MaxPayoutDate:        new(big.Int).SetBytes(word(9)),
		TotalRepaymentAmount: new(big.Int).SetBytes(word(10)),
		Status:               CampaignStatus(new(big.Int).SetBytes(word(11)).Uint64()),
		OriginalSrgOwner:     wordToAddress(word(12)),
		AdminFeePercentage:   new(big.Int).SetBytes(word(13)),
	}, nil
}

func wordToAddress(word []byte) string {
	return "0x" + hex.EncodeToString(word[12:])
}

func leftPad32(b []byte) []byte {
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}
