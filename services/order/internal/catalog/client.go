// Package catalog is the order service's client for the catalog service's
// product read and stock adjustment endpoints.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/sony/gobreaker/v2"

	apperrors "github.com/shopline/commerce/pkg/errors"
	"github.com/shopline/commerce/pkg/httpclient"
	"github.com/shopline/commerce/pkg/idempotency"
)

const serviceName = "catalog"

// ErrOutcomeUnknown marks a stock adjustment whose effect on the ledger could
// not be determined: the request may or may not have been applied.
var ErrOutcomeUnknown = errors.New("catalog: adjustment outcome unknown")

// Product is the catalog's view of a product relevant to order placement.
type Product struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
	Stock int    `json:"stock"`
}

// Adjustment is the ledger's answer to a stock adjustment.
type Adjustment struct {
	ProductID string `json:"product_id"`
	Stock     int    `json:"stock"`
	Delta     int    `json:"delta"`
	Replayed  bool   `json:"replayed"`
}

// Client calls the catalog service through a circuit breaker.
type Client struct {
	baseURL string
	http    *httpclient.CircuitBreakerClient
	logger  *slog.Logger
}

// NewClient creates a catalog client rooted at baseURL.
func NewClient(baseURL string, http *httpclient.CircuitBreakerClient, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http,
		logger:  logger,
	}
}

type envelope[T any] struct {
	Data T `json:"data"`
}

type adjustStockRequest struct {
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason,omitempty"`
}

// GetProduct reads a product. An unknown product yields an error wrapping
// apperrors.ErrNotFound; any other failure means the catalog was unreachable
// or misbehaved.
func (c *Client) GetProduct(ctx context.Context, productID string) (*Product, error) {
	endpoint := c.baseURL + "/api/v1/products/" + url.PathEscape(productID)

	resp, err := c.http.Get(ctx, endpoint)
	if err != nil {
		return nil, c.transportError("get product", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, serviceName)
	}
	defer func() { _ = resp.Body.Close() }()

	var body envelope[Product]
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperrors.BadGateway("catalog returned an unreadable product", err)
	}
	return &body.Data, nil
}

// AdjustStock applies delta to the product's stock under idempotencyKey.
//
// A rejection for insufficient stock wraps apperrors.ErrInsufficientStock and
// carries the ledger's product_id, requested and available details. Timeouts,
// transport errors, 5xx answers and unreadable 2xx bodies wrap
// ErrOutcomeUnknown. An open circuit never sends the request and is reported
// as a plain 503.
func (c *Client) AdjustStock(ctx context.Context, productID string, delta int, idempotencyKey, reason string) (*Adjustment, error) {
	endpoint := c.baseURL + "/api/v1/products/" + url.PathEscape(productID) + "/stock"

	payload, err := json.Marshal(adjustStockRequest{Quantity: delta, Reason: reason})
	if err != nil {
		return nil, fmt.Errorf("marshal adjust stock request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create adjust stock request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(idempotency.Header, idempotencyKey)

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		if breakerRejected(err) {
			return nil, c.transportError("adjust stock", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrOutcomeUnknown, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: %w", ErrOutcomeUnknown, httpclient.ParseResponseError(resp, serviceName))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, serviceName)
	}
	defer func() { _ = resp.Body.Close() }()

	var body envelope[Adjustment]
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode adjust stock response: %w", ErrOutcomeUnknown, err)
	}

	if body.Data.Replayed {
		c.logger.InfoContext(ctx, "stock adjustment replayed by catalog",
			slog.String("product_id", productID),
			slog.String("idempotency_key", idempotencyKey),
		)
	}
	return &body.Data, nil
}

// breakerRejected is true when the circuit breaker refused to send the request.
func breakerRejected(err error) bool {
	return errors.Is(err, httpclient.ErrCircuitOpen) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func (c *Client) transportError(op string, err error) error {
	if breakerRejected(err) {
		return apperrors.ServiceUnavailable("catalog circuit open: " + op)
	}
	return apperrors.BadGateway("catalog unreachable: "+op, err)
}
