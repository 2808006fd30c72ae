package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lightning-pos/config"
	"lightning-pos/internal/core/domain"
	"lightning-pos/internal/core/ports"
	"lightning-pos/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const defaultRequestTimeout = 10 * time.Second

// Client implements ports.ProcessorClient over the processor's REST API.
// Every call carries its own request timeout, separate from the caller's
// polling cadence and session deadline.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	requestTimeout time.Duration
	log            zerolog.Logger
}

// NewClient creates a processor API client.
func NewClient(cfg config.ProcessorConfig, log zerolog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		httpClient:     &http.Client{},
		baseURL:        strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		requestTimeout: timeout,
		log:            log,
	}
}

type createInvoiceRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Description   string          `json:"description"`
	CorrelationID string          `json:"correlationId"`
}

type createInvoiceResponse struct {
	InvoiceID   string    `json:"invoiceId"`
	State       string    `json:"state"`
	Created     time.Time `json:"created"`
	Description string    `json:"description"`
}

type quoteResponse struct {
	PaymentRequestString string          `json:"paymentRequestString"`
	Expiration           time.Time       `json:"expiration"`
	SourceAmount         decimal.Decimal `json:"sourceAmount"`
	TargetAmount         decimal.Decimal `json:"targetAmount"`
}

type statusResponse struct {
	State string `json:"state"`
}

type tickerEntry struct {
	SourceCurrency string          `json:"sourceCurrency"`
	TargetCurrency string          `json:"targetCurrency"`
	Amount         decimal.Decimal `json:"amount"`
}

// CreateInvoice creates an invoice for the given fiat amount.
func (c *Client) CreateInvoice(ctx context.Context, req ports.CreateInvoiceRequest) (*ports.ProcessorInvoice, error) {
	payload := createInvoiceRequest{
		Amount:        req.Amount,
		Currency:      req.Currency,
		Description:   req.Description,
		CorrelationID: req.CorrelationID,
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/invoices", payload)
	if err != nil {
		return nil, err
	}

	var resp createInvoiceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperror.ErrMalformedResponse(fmt.Errorf("decode create invoice response: %w", err))
	}
	if resp.InvoiceID == "" {
		return nil, apperror.ErrMalformedResponse(fmt.Errorf("create invoice response missing invoiceId"))
	}

	return &ports.ProcessorInvoice{
		InvoiceID:   resp.InvoiceID,
		State:       domain.InvoiceState(resp.State),
		Created:     resp.Created,
		Description: resp.Description,
	}, nil
}

// GetQuote obtains the renderable payment string for an invoice. The
// provider's stated expiration is propagated verbatim.
func (c *Client) GetQuote(ctx context.Context, invoiceID string) (*ports.InvoiceQuote, error) {
	path := fmt.Sprintf("/invoices/%s/quote", invoiceID)
	body, err := c.doRequest(ctx, http.MethodPost, path, nil)
	if err != nil {
		return nil, err
	}

	var resp quoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperror.ErrMalformedResponse(fmt.Errorf("decode quote response: %w", err))
	}
	if resp.PaymentRequestString == "" || resp.Expiration.IsZero() {
		return nil, apperror.ErrMalformedResponse(fmt.Errorf("quote response missing payment request or expiration"))
	}

	return &ports.InvoiceQuote{
		PaymentRequest: resp.PaymentRequestString,
		Expiration:     resp.Expiration,
		SourceAmount:   resp.SourceAmount,
		TargetAmount:   resp.TargetAmount,
	}, nil
}

// GetInvoiceStatus fetches the current invoice state.
func (c *Client) GetInvoiceStatus(ctx context.Context, invoiceID string) (domain.InvoiceState, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/invoices/"+invoiceID, nil)
	if err != nil {
		return "", err
	}

	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", apperror.ErrMalformedResponse(fmt.Errorf("decode status response: %w", err))
	}

	state := domain.InvoiceState(resp.State)
	switch state {
	case domain.InvoiceStateUnpaid, domain.InvoiceStatePaid, domain.InvoiceStateCancelled, domain.InvoiceStateExpired:
		return state, nil
	}
	return "", apperror.ErrMalformedResponse(fmt.Errorf("unknown invoice state %q", resp.State))
}

// GetTicker fetches the exchange-rate ticker.
func (c *Client) GetTicker(ctx context.Context) ([]ports.TickerEntry, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/rates/ticker", nil)
	if err != nil {
		return nil, err
	}

	var resp []tickerEntry
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperror.ErrMalformedResponse(fmt.Errorf("decode ticker response: %w", err))
	}

	entries := make([]ports.TickerEntry, 0, len(resp))
	for _, e := range resp {
		entries = append(entries, ports.TickerEntry{
			SourceCurrency: e.SourceCurrency,
			TargetCurrency: e.TargetCurrency,
			Amount:         e.Amount,
		})
	}
	return entries, nil
}

// doRequest performs one HTTP call with the per-request timeout and
// classifies failures into the transport error taxonomy.
func (c *Client) doRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("marshal request body: %w", err))
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("build request: %w", err))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperror.ErrTransport(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperror.ErrTransport(fmt.Errorf("read response body: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, apperror.ErrRateLimited(fmt.Errorf("%s %s: status=429", method, path))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Debug().Int("status", resp.StatusCode).Str("path", path).Msg("processor returned non-2xx")
		return nil, apperror.ErrTransport(fmt.Errorf("%s %s: status=%d", method, path, resp.StatusCode))
	}

	return body, nil
}
