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

	"devbout/utils"

	"github.com/shopspring/decimal"
)

// InvoiceNetworkBackend settles through an off-chain invoicing network: each
// action becomes a signed payment request against a fee-proxy contract,
// created and persisted via the network's gateway. The external reference is
// the request id; an action is FINAL once the gateway reports the request's
// balance covering the expected amount.
type InvoiceNetworkBackend struct {
	GatewayURL      string
	Network         string
	PlatformAddress string
	FeeAddress      string
	FeePercent      decimal.Decimal
	HTTPClient      *http.Client
}

func NewInvoiceNetworkBackend() *InvoiceNetworkBackend {
	gatewayURL := os.Getenv("INVOICE_GATEWAY_URL")
	if gatewayURL == "" {
		gatewayURL = "https://sepolia.gateway.request.network"
	}
	platformAddress := os.Getenv("PLATFORM_WALLET_ADDRESS")
	if platformAddress == "" {
		log.Fatal("PLATFORM_WALLET_ADDRESS environment variable is required for invoice settlement")
	}
	feeAddress := os.Getenv("INVOICE_FEE_ADDRESS")
	if feeAddress == "" {
		feeAddress = platformAddress
	}
	network := os.Getenv("INVOICE_NETWORK")
	if network == "" {
		network = "sepolia"
	}

	feePercent := decimal.Zero
	if v := os.Getenv("INVOICE_FEE_PERCENT"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil && d.Sign() >= 0 {
			feePercent = d
		}
	}

	return &InvoiceNetworkBackend{
		GatewayURL:      gatewayURL,
		Network:         network,
		PlatformAddress: platformAddress,
		FeeAddress:      feeAddress,
		FeePercent:      feePercent,
		HTTPClient:      utils.HTTPClient,
	}
}

// invoiceRequest mirrors the fee-proxy payment request the gateway expects:
// who pays, who gets paid, where the platform fee goes, and a reference that
// doubles as the idempotency key.
type invoiceRequest struct {
	Network        string        `json:"network"`
	PaymentNetwork string        `json:"payment_network"`
	PayerAddress   string        `json:"payer_address"`
	PaymentAddress string        `json:"payment_address"`
	ExpectedAmount string        `json:"expected_amount"`
	FeeAddress     string        `json:"fee_address"`
	FeeAmount      string        `json:"fee_amount"`
	Reference      string        `json:"reference"`
	Note           string        `json:"note"`
	Items          []invoiceItem `json:"items"`
}

type invoiceItem struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

func (b *InvoiceNetworkBackend) SubmitContribution(ctx context.Context, req ContributionRequest) (*Receipt, error) {
	return b.createRequest(ctx, req.ContributorAddress, req.Amount, req.IdempotencyKey,
		"Hackathon Contribution",
		fmt.Sprintf("Contribution to hackathon %s on %s.", req.HackathonID, b.Network))
}

func (b *InvoiceNetworkBackend) SubmitPrizeClaim(ctx context.Context, req ClaimRequest) (*Receipt, error) {
	// For a payout the platform is the payer and the winner the payee.
	amount, feeAmount, total := b.splitFee(req.Amount)

	inv := invoiceRequest{
		Network:        b.Network,
		PaymentNetwork: "eth-fee-proxy-contract",
		PayerAddress:   b.PlatformAddress,
		PaymentAddress: req.WinnerAddress,
		ExpectedAmount: total,
		FeeAddress:     b.FeeAddress,
		FeeAmount:      feeAmount,
		Reference:      req.IdempotencyKey,
		Note:           fmt.Sprintf("Prize claim for hackathon %s on %s.", req.HackathonID, b.Network),
		Items: []invoiceItem{
			{Name: "Hackathon Prize", Quantity: 1, UnitPrice: amount},
		},
	}
	return b.postRequest(ctx, inv)
}

func (b *InvoiceNetworkBackend) createRequest(ctx context.Context, payerAddress, amount, key, itemName, note string) (*Receipt, error) {
	base, feeAmount, total := b.splitFee(amount)

	inv := invoiceRequest{
		Network:        b.Network,
		PaymentNetwork: "eth-fee-proxy-contract",
		PayerAddress:   payerAddress,
		PaymentAddress: b.PlatformAddress,
		ExpectedAmount: total,
		FeeAddress:     b.FeeAddress,
		FeeAmount:      feeAmount,
		Reference:      key,
		Note:           note,
		Items: []invoiceItem{
			{Name: itemName, Quantity: 1, UnitPrice: base},
		},
	}
	return b.postRequest(ctx, inv)
}

func (b *InvoiceNetworkBackend) postRequest(ctx context.Context, inv invoiceRequest) (*Receipt, error) {
	payload, err := json.Marshal(inv)
	if err != nil {
		return nil, fmt.Errorf("failed to encode invoice request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", b.GatewayURL+"/requests", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.HTTPClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, &TimeoutError{Op: "invoice create", Err: err}
		}
		return nil, fmt.Errorf("failed to call invoice gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = fmt.Sprintf("gateway returned status %d", resp.StatusCode)
		}
		return nil, &RejectedError{Reason: e.Error}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(msg))
	}

	var out struct {
		RequestID string `json:"request_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode gateway response: %w", err)
	}
	if out.RequestID == "" {
		return nil, fmt.Errorf("gateway accepted request but returned no request id")
	}
	return &Receipt{ExternalRef: out.RequestID, Accepted: true}, nil
}

// QueryStatus reads the request's balance from the gateway. Paid in full is
// FINAL, anything outstanding is PENDING_EXTERNAL, an unknown id NOT_FOUND.
func (b *InvoiceNetworkBackend) QueryStatus(ctx context.Context, externalRef string) (ExternalStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", b.GatewayURL+"/requests/"+externalRef, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create gateway status request: %w", err)
	}

	resp, err := b.HTTPClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to call invoice gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return StatusNotFound, nil
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("gateway status returned %d: %s", resp.StatusCode, string(msg))
	}

	var out struct {
		ExpectedAmount string `json:"expected_amount"`
		Balance        string `json:"balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode gateway status response: %w", err)
	}

	expected, err := decimal.NewFromString(out.ExpectedAmount)
	if err != nil {
		return "", fmt.Errorf("gateway returned bad expected amount %q: %w", out.ExpectedAmount, err)
	}
	balance, err := decimal.NewFromString(out.Balance)
	if err != nil {
		balance = decimal.Zero
	}

	if balance.GreaterThanOrEqual(expected) {
		return StatusFinal, nil
	}
	return StatusPendingExternal, nil
}

func (b *InvoiceNetworkBackend) LookupByIdempotencyKey(ctx context.Context, key string) (*Receipt, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", b.GatewayURL+"/requests?reference="+key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway lookup request: %w", err)
	}

	resp, err := b.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call invoice gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoSubmission
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("gateway lookup returned %d: %s", resp.StatusCode, string(msg))
	}

	var out struct {
		Requests []struct {
			RequestID string `json:"request_id"`
		} `json:"requests"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode gateway lookup response: %w", err)
	}
	if len(out.Requests) == 0 {
		return nil, ErrNoSubmission
	}
	return &Receipt{ExternalRef: out.Requests[0].RequestID, Accepted: true}, nil
}

// splitFee returns (base, fee, total) as decimal strings.
func (b *InvoiceNetworkBackend) splitFee(amount string) (string, string, string) {
	base, err := decimal.NewFromString(amount)
	if err != nil {
		return amount, "0", amount
	}
	fee := base.Mul(b.FeePercent).Div(decimal.NewFromInt(100))
	return base.String(), fee.String(), base.Add(fee).String()
}
