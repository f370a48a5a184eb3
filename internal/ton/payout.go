package ton

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tola_ledger/internal/settlement"
)

var _ settlement.Settler = (*PayoutClient)(nil)

// PayoutClient sends payouts to the treasury payout service over HTTP.
// The service signs and broadcasts the on-chain transfer; it must treat
// the Idempotency-Key header as the dedupe key.
type PayoutClient struct {
	baseURL    string
	apiKey     string
	network    Network
	httpClient *http.Client
}

// NewPayoutClient creates a new payout client
func NewPayoutClient(baseURL string, network Network, apiKey string) *PayoutClient {
	return &PayoutClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		network: network,
		httpClient: &http.Client{
			Timeout: DefaultPayoutTimeout,
		},
	}
}

type payoutRequest struct {
	Destination    string `json:"destination"`
	Amount         string `json:"amount"`
	AmountNano     int64  `json:"amount_nano,omitempty"`
	Currency       string `json:"currency"`
	Network        string `json:"network"`
	IdempotencyKey string `json:"idempotency_key"`
}

type payoutResponse struct {
	Status string `json:"status"`
	TxHash string `json:"tx_hash"`
	Error  string `json:"error"`
}

// Settle implements settlement.Settler
func (c *PayoutClient) Settle(ctx context.Context, req settlement.Request) (settlement.Receipt, error) {
	dest, err := NormalizeAddress(req.Destination)
	if err != nil {
		return settlement.Receipt{}, fmt.Errorf("%w: %v", settlement.ErrRejected, err)
	}

	body := payoutRequest{
		Destination:    FriendlyAddress(dest, c.network),
		Amount:         req.Amount.String(),
		Currency:       req.Currency,
		Network:        string(c.network),
		IdempotencyKey: req.IdempotencyKey,
	}
	if strings.EqualFold(req.Currency, "TON") {
		body.AmountNano = ToNano(req.Amount)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return settlement.Receipt{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payouts", bytes.NewReader(payload))
	if err != nil {
		return settlement.Receipt{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return settlement.Receipt{}, err
	}
	defer resp.Body.Close()

	// 409 means the key was already paid out; the body carries the original tx
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusConflict {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode >= 500 {
			return settlement.Receipt{}, fmt.Errorf("payout API error: %s - %s", resp.Status, string(b))
		}
		return settlement.Receipt{}, fmt.Errorf("%w: %s - %s", settlement.ErrRejected, resp.Status, string(b))
	}

	var out payoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return settlement.Receipt{}, fmt.Errorf("decode payout response after %s: %w", time.Since(start), err)
	}
	if out.Status == "failed" || out.TxHash == "" {
		return settlement.Receipt{}, fmt.Errorf("%w: %s", settlement.ErrRejected, out.Error)
	}
	return settlement.Receipt{Reference: out.TxHash}, nil
}
