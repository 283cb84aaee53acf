package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"

	"devbout/utils"
)

// DirectContractBackend settles through the platform's hackathon smart
// contract. Submissions go to the contract relay (the sidecar that holds the
// platform wallet key and signs recordContribution / claimPrize calls);
// status queries go straight to the chain's JSON-RPC endpoint. The external
// reference is the transaction hash, and an action is FINAL once its receipt
// is buried under the configured confirmation depth.
type DirectContractBackend struct {
	RelayURL      string
	RPCURL        string
	Token         string
	Confirmations int64
	HTTPClient    *http.Client
}

func NewDirectContractBackend() *DirectContractBackend {
	relayURL := os.Getenv("CONTRACT_RELAY_URL")
	if relayURL == "" {
		log.Fatal("CONTRACT_RELAY_URL environment variable is required for contract settlement")
	}
	rpcURL := os.Getenv("CHAIN_RPC_URL")
	if rpcURL == "" {
		log.Fatal("CHAIN_RPC_URL environment variable is required for contract settlement")
	}
	token := os.Getenv("CONTRACT_RELAY_TOKEN")

	confirmations := int64(1)
	if v := os.Getenv("CHAIN_CONFIRMATIONS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			confirmations = n
		}
	}

	return &DirectContractBackend{
		RelayURL:      relayURL,
		RPCURL:        rpcURL,
		Token:         token,
		Confirmations: confirmations,
		HTTPClient:    utils.HTTPClient,
	}
}

type relaySubmission struct {
	HackathonID    string `json:"hackathon_id"`
	Address        string `json:"address"`
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
	TeamPrizeID    string `json:"team_prize_id,omitempty"`
}

func (b *DirectContractBackend) SubmitContribution(ctx context.Context, req ContributionRequest) (*Receipt, error) {
	return b.submit(ctx, "/contract/record-contribution", relaySubmission{
		HackathonID:    req.HackathonID,
		Address:        req.ContributorAddress,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
	})
}

func (b *DirectContractBackend) SubmitPrizeClaim(ctx context.Context, req ClaimRequest) (*Receipt, error) {
	return b.submit(ctx, "/contract/claim-prize", relaySubmission{
		HackathonID:    req.HackathonID,
		Address:        req.WinnerAddress,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
		TeamPrizeID:    req.TeamPrizeID,
	})
}

func (b *DirectContractBackend) submit(ctx context.Context, path string, body relaySubmission) (*Receipt, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode relay payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", b.RelayURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create relay request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.Token != "" {
		httpReq.Header.Set("X-Service-Token", b.Token)
	}

	resp, err := b.HTTPClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, &TimeoutError{Op: "relay submit", Err: err}
		}
		return nil, fmt.Errorf("failed to call contract relay: %w", err)
	}
	defer resp.Body.Close()

	// 4xx means the relay (or the contract itself) refused the call — a
	// permanent rejection. 5xx is treated as transient.
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = fmt.Sprintf("relay returned status %d", resp.StatusCode)
		}
		return nil, &RejectedError{Reason: e.Error}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("relay returned status %d: %s", resp.StatusCode, string(msg))
	}

	var out struct {
		TxHash string `json:"tx_hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode relay response: %w", err)
	}
	if out.TxHash == "" {
		return nil, fmt.Errorf("relay accepted submission but returned no transaction hash")
	}
	return &Receipt{ExternalRef: out.TxHash, Accepted: true}, nil
}

// QueryStatus resolves a transaction hash against the chain. A receipt with
// success status and enough confirmations is FINAL; a known but unmined or
// shallow transaction is PENDING_EXTERNAL; an unknown hash (dropped from the
// mempool, or reverted) is NOT_FOUND.
func (b *DirectContractBackend) QueryStatus(ctx context.Context, externalRef string) (ExternalStatus, error) {
	var receipt struct {
		Status      string `json:"status"`
		BlockNumber string `json:"blockNumber"`
	}
	found, err := b.rpcCall(ctx, "eth_getTransactionReceipt", []interface{}{externalRef}, &receipt)
	if err != nil {
		return "", err
	}
	if !found {
		// No receipt yet. Distinguish "still in the mempool" from "gone".
		var tx json.RawMessage
		known, err := b.rpcCall(ctx, "eth_getTransactionByHash", []interface{}{externalRef}, &tx)
		if err != nil {
			return "", err
		}
		if known {
			return StatusPendingExternal, nil
		}
		return StatusNotFound, nil
	}

	if receipt.Status != "0x1" {
		return StatusNotFound, nil
	}

	minedAt, err := hexToInt(receipt.BlockNumber)
	if err != nil {
		return "", fmt.Errorf("bad block number in receipt: %w", err)
	}
	var headHex string
	if _, err := b.rpcCall(ctx, "eth_blockNumber", []interface{}{}, &headHex); err != nil {
		return "", err
	}
	head, err := hexToInt(headHex)
	if err != nil {
		return "", fmt.Errorf("bad head block number: %w", err)
	}

	if head-minedAt+1 >= b.Confirmations {
		return StatusFinal, nil
	}
	return StatusPendingExternal, nil
}

// LookupByIdempotencyKey asks the relay whether it already broadcast a
// transaction under this key.
func (b *DirectContractBackend) LookupByIdempotencyKey(ctx context.Context, key string) (*Receipt, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", b.RelayURL+"/contract/submissions/"+key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create relay lookup request: %w", err)
	}
	if b.Token != "" {
		httpReq.Header.Set("X-Service-Token", b.Token)
	}

	resp, err := b.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call contract relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoSubmission
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("relay lookup returned status %d: %s", resp.StatusCode, string(msg))
	}

	var out struct {
		TxHash string `json:"tx_hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode relay lookup response: %w", err)
	}
	return &Receipt{ExternalRef: out.TxHash, Accepted: true}, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// rpcCall performs a JSON-RPC request. Returns false when the result is null
// (e.g., unknown transaction hash).
func (b *DirectContractBackend) rpcCall(ctx context.Context, method string, params []interface{}, out interface{}) (bool, error) {
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return false, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", b.RPCURL, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.HTTPClient.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("failed to call chain rpc: %w", err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return false, fmt.Errorf("failed to decode rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return false, fmt.Errorf("chain rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return false, fmt.Errorf("failed to decode rpc result: %w", err)
	}
	return true, nil
}

func hexToInt(s string) (int64, error) {
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	return strconv.ParseInt(s, 16, 64)
}
