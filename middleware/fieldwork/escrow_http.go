package fieldwork

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fieldproof-backend/core/fieldwork"
)

type httpEscrowProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPEscrowProvider builds a provider that talks to a custody API over JSON.
func NewHTTPEscrowProvider(baseURL string) EscrowProvider {
	if baseURL == "" {
		baseURL = "http://localhost:8090"
	}
	return &httpEscrowProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *httpEscrowProvider) Name() string { return "http" }

type escrowResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// do performs one call. Transport errors and 5xx answers are transient;
// 4xx answers and an explicit "rejected" status are permanent.
func (p *httpEscrowProvider) do(ctx context.Context, method, path, idemKey string, body any) (escrowResponse, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return escrowResponse{}, err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return escrowResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return escrowResponse{}, fmt.Errorf("%w: %v", fieldwork.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	var out escrowResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out)
	switch {
	case resp.StatusCode >= 500:
		return escrowResponse{}, fmt.Errorf("%w: %s %s: %s", fieldwork.ErrProviderUnavailable, method, path, resp.Status)
	case resp.StatusCode >= 400:
		return escrowResponse{}, fmt.Errorf("%w: %s %s: %s %s", fieldwork.ErrProviderRejected, method, path, resp.Status, out.Reason)
	case decodeErr != nil && decodeErr != io.EOF:
		return escrowResponse{}, fmt.Errorf("%w: decode %s: %v", fieldwork.ErrProviderUnavailable, path, decodeErr)
	}
	if out.Status == "rejected" {
		return out, fmt.Errorf("%w: %s", fieldwork.ErrProviderRejected, out.Reason)
	}
	return out, nil
}

func (p *httpEscrowProvider) Fund(ctx context.Context, taskID string, amount fieldwork.Money) (FundingReceipt, error) {
	out, err := p.do(ctx, http.MethodPost, "/escrows", taskID+":fund", map[string]any{
		"task_id":  taskID,
		"amount":   amount.Amount,
		"currency": amount.Currency,
	})
	if err != nil {
		return FundingReceipt{}, err
	}
	if out.Reference == "" {
		return FundingReceipt{}, fmt.Errorf("%w: funding response without reference", fieldwork.ErrProviderUnavailable)
	}
	return FundingReceipt{Reference: out.Reference, Confirmed: out.Status == "funded"}, nil
}

func (p *httpEscrowProvider) FundingConfirmed(ctx context.Context, reference string) (bool, error) {
	out, err := p.do(ctx, http.MethodGet, "/escrows/"+url.PathEscape(reference), "", nil)
	if err != nil {
		return false, err
	}
	return out.Status == "funded" || out.Status == "locked", nil
}

func (p *httpEscrowProvider) Lock(ctx context.Context, reference string) error {
	_, err := p.do(ctx, http.MethodPost, "/escrows/"+url.PathEscape(reference)+"/lock", reference+":lock", nil)
	return err
}

func (p *httpEscrowProvider) settle(ctx context.Context, op, reference string, line fieldwork.SettlementLine) (LineReceipt, error) {
	out, err := p.do(ctx, http.MethodPost, "/escrows/"+url.PathEscape(reference)+"/"+op, line.IdempotencyKey, map[string]any{
		"to":              line.To,
		"amount":          line.Amount,
		"idempotency_key": line.IdempotencyKey,
	})
	if err != nil {
		return LineReceipt{}, err
	}
	return LineReceipt{Reference: out.Reference, Confirmed: out.Status == "confirmed"}, nil
}

func (p *httpEscrowProvider) Release(ctx context.Context, reference string, line fieldwork.SettlementLine) (LineReceipt, error) {
	return p.settle(ctx, "release", reference, line)
}

func (p *httpEscrowProvider) Refund(ctx context.Context, reference string, line fieldwork.SettlementLine) (LineReceipt, error) {
	return p.settle(ctx, "refund", reference, line)
}
