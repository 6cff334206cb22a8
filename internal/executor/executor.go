package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"futures-trading-engine/internal/strategies"
)

// ErrNotConfirmed marks an order whose outcome is unknown: timeout,
// transport failure, or a response without a fill price. The caller
// must treat it as not filled and must not retry; a phantom fill costs
// far more than a missed entry.
var ErrNotConfirmed = errors.New("order not confirmed")

// ErrRejected marks an explicit venue rejection.
var ErrRejected = errors.New("order rejected by venue")

// OrderRequest is what the execution webhook accepts.
type OrderRequest struct {
	OrderID  string `json:"order_id"`
	Symbol   string `json:"symbol"`
	Side     string `json:"side"` // BUY or SELL
	Quantity int    `json:"quantity"`
}

// Fill is a confirmed execution. RawResponse carries the venue's full
// payload untouched for the audit trail; control flow never parses it
// beyond the status and price fields.
type Fill struct {
	OrderID     string          `json:"order_id"`
	Price       float64         `json:"price"`
	FilledAt    time.Time       `json:"filled_at"`
	RawResponse json.RawMessage `json:"raw_response"`
}

// venueResponse is the narrow validated slice of the venue payload.
type venueResponse struct {
	Status    string  `json:"status"`
	FillPrice float64 `json:"fill_price"`
	Reason    string  `json:"reason"`
}

// Client submits orders to the execution venue collaborator over a
// webhook. Every call carries a bounded timeout so a hung venue never
// blocks the decision loop.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// NewClient builds an execution client. timeout bounds each submit.
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
		logger:  logger.With().Str("component", "executor").Logger(),
	}
}

// Submit sends one order. Returns the fill on confirmation, ErrRejected
// on an explicit decline, ErrNotConfirmed on anything ambiguous.
func (c *Client) Submit(ctx context.Context, symbol string, direction strategies.Direction, quantity int) (*Fill, error) {
	side := "BUY"
	if direction == strategies.Short {
		side = "SELL"
	}
	req := OrderRequest{
		OrderID:  uuid.NewString(),
		Symbol:   symbol,
		Side:     side,
		Quantity: quantity,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build order request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Error().Err(err).Str("order_id", req.OrderID).Msg("order submit failed, treating as not confirmed")
		return nil, fmt.Errorf("%w: %v", ErrNotConfirmed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading venue response: %v", ErrNotConfirmed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error().Int("status", resp.StatusCode).Str("order_id", req.OrderID).Msg("venue returned error status")
		return nil, fmt.Errorf("%w: venue status %d", ErrNotConfirmed, resp.StatusCode)
	}

	var vr venueResponse
	if err := json.Unmarshal(raw, &vr); err != nil {
		return nil, fmt.Errorf("%w: malformed venue response: %v", ErrNotConfirmed, err)
	}

	switch vr.Status {
	case "filled":
		if vr.FillPrice <= 0 {
			return nil, fmt.Errorf("%w: fill without price", ErrNotConfirmed)
		}
		c.logger.Info().
			Str("order_id", req.OrderID).
			Str("side", side).
			Float64("price", vr.FillPrice).
			Msg("order filled")
		return &Fill{
			OrderID:     req.OrderID,
			Price:       vr.FillPrice,
			FilledAt:    time.Now().UTC(),
			RawResponse: json.RawMessage(raw),
		}, nil
	case "rejected":
		c.logger.Warn().Str("order_id", req.OrderID).Str("reason", vr.Reason).Msg("order rejected")
		return nil, fmt.Errorf("%w: %s", ErrRejected, vr.Reason)
	default:
		return nil, fmt.Errorf("%w: venue status %q", ErrNotConfirmed, vr.Status)
	}
}
