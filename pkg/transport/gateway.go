// Package transport delivers customer messages and staff notifications
// through the messaging gateway's HTTP API.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/marketflow/pkg/protocol"
)

const (
	DefaultTimeout    = 10 * time.Second
	DefaultRetryDelay = 500 * time.Millisecond

	messagesPath      = "/v1/messages"
	notificationsPath = "/v1/staff-notifications"
)

var (
	// ErrGatewayServerError is returned when every attempt ended with a 5xx status.
	ErrGatewayServerError = errors.New("gateway server error")
	// ErrBaseURLRequired is returned by NewGateway without a base URL.
	ErrBaseURLRequired = errors.New("gateway base URL is required")
)

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RetryAttempts is the total number of tries for 5xx and network errors.
	RetryAttempts int
	RetryDelay    time.Duration
}

// Gateway implements protocol.MessageTransport.
type Gateway struct {
	client *http.Client
	config Config
	logger *slog.Logger
}

type messageRequest struct {
	ShopID     string    `json:"shop_id"`
	CustomerID string    `json:"customer_id"`
	TemplateID string    `json:"template_id"`
	CouponCode string    `json:"coupon_code,omitempty"`
	SendAt     time.Time `json:"send_at"`
}

type gatewayResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

func NewGateway(config Config, logger *slog.Logger) (*Gateway, error) {
	if config.BaseURL == "" {
		return nil, ErrBaseURLRequired
	}

	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 1
	}

	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultRetryDelay
	}

	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Gateway{
		client: &http.Client{Timeout: config.Timeout},
		config: config,
		logger: logger.With("module", "gateway_transport"),
	}, nil
}

func (g *Gateway) SendTemplate(ctx context.Context, shopID, customerID, templateID string, sendAt time.Time) (bool, error) {
	return g.post(ctx, messagesPath, messageRequest{
		ShopID:     shopID,
		CustomerID: customerID,
		TemplateID: templateID,
		SendAt:     sendAt.UTC(),
	})
}

func (g *Gateway) SendTemplateWithCoupon(ctx context.Context, shopID, customerID, templateID, couponCode string, sendAt time.Time) (bool, error) {
	return g.post(ctx, messagesPath, messageRequest{
		ShopID:     shopID,
		CustomerID: customerID,
		TemplateID: templateID,
		CouponCode: couponCode,
		SendAt:     sendAt.UTC(),
	})
}

func (g *Gateway) CreateStaffNotification(ctx context.Context, notification protocol.StaffNotification) (bool, error) {
	return g.post(ctx, notificationsPath, notification)
}

func (g *Gateway) post(ctx context.Context, path string, payload any) (bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("failed to encode gateway request: %w", err)
	}

	var lastErr error

	for attempt := 1; attempt <= g.config.RetryAttempts; attempt++ {
		if attempt > 1 {
			g.logger.DebugContext(ctx, "Retrying gateway request", "path", path, "attempt", attempt, "error", lastErr)

			select {
			case <-time.After(g.config.RetryDelay):
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}

		accepted, retry, err := g.do(ctx, path, body)
		if !retry {
			return accepted, err
		}

		lastErr = err
	}

	return false, fmt.Errorf("all %d gateway attempts failed: %w", g.config.RetryAttempts, lastErr)
}

// do performs one request; retry reports whether the failure is transient.
func (g *Gateway) do(ctx context.Context, path string, body []byte) (accepted bool, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return false, false, fmt.Errorf("failed to create gateway request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if g.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.config.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return false, ctx.Err() == nil, fmt.Errorf("gateway request failed: %w", err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			g.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return false, true, fmt.Errorf("failed to read gateway response: %w", err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return false, true, fmt.Errorf("%w: status %d", ErrGatewayServerError, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		g.logger.WarnContext(ctx, "Gateway refused request",
			"path", path,
			"status", resp.StatusCode,
			"body", strings.TrimSpace(string(data)))

		return false, false, nil
	}

	var decoded gatewayResponse
	if len(data) == 0 {
		return true, false, nil
	}

	if err := json.Unmarshal(data, &decoded); err != nil {
		return false, false, fmt.Errorf("failed to decode gateway response: %w", err)
	}

	if !decoded.Accepted {
		g.logger.DebugContext(ctx, "Gateway declined request", "path", path, "reason", decoded.Reason)
	}

	return decoded.Accepted, false, nil
}
