package describer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"nexus/internal/transfer/models"
	id "nexus/pkg/domain"
	"nexus/pkg/platform/circuit"
)

// ErrUnavailable is returned without a network call while the breaker is open.
var ErrUnavailable = errors.New("remote describer unavailable")

type describeRequest struct {
	TenantID string   `json:"tenant_id"`
	IDs      []string `json:"ids"`
}

type describeResponse struct {
	Items []models.DisplayItem `json:"items"`
}

// Remote asks another service for display names. The owning domain may
// live outside this process; it answers POST /describe.
type Remote struct {
	client  *resty.Client
	breaker *circuit.Breaker
	logger  *slog.Logger
}

// RemoteOption configures a Remote describer.
type RemoteOption func(*Remote)

func WithRemoteLogger(logger *slog.Logger) RemoteOption {
	return func(r *Remote) {
		r.logger = logger
	}
}

// WithBreaker replaces the default breaker, which opens after five failed
// calls and tries again after thirty seconds.
func WithBreaker(b *circuit.Breaker) RemoteOption {
	return func(r *Remote) {
		r.breaker = b
	}
}

// WithRetries sets how many times failed calls are retried.
func WithRetries(n int) RemoteOption {
	return func(r *Remote) {
		r.client.SetRetryCount(n)
	}
}

func NewRemote(baseURL string, timeout time.Duration, opts ...RemoteOption) *Remote {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(100*time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	r := &Remote{
		client:  client,
		breaker: circuit.New("describer " + baseURL),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Describe treats 403 and 404 as "nothing visible" rather than failures.
func (r *Remote) Describe(ctx context.Context, scope id.TenantID, ids []string) ([]models.DisplayItem, error) {
	if !r.breaker.Allow() {
		return nil, ErrUnavailable
	}
	items, err := r.describe(ctx, scope, ids)
	if err != nil {
		if _, change := r.breaker.RecordFailure(); change.Opened {
			r.logger.WarnContext(ctx, "remote describer circuit opened",
				"breaker", r.breaker.Name(),
				"error", err,
			)
		}
		return nil, err
	}
	if _, change := r.breaker.RecordSuccess(); change.Closed {
		r.logger.InfoContext(ctx, "remote describer circuit closed", "breaker", r.breaker.Name())
	}
	return items, nil
}

func (r *Remote) describe(ctx context.Context, scope id.TenantID, ids []string) ([]models.DisplayItem, error) {
	var out describeResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(describeRequest{TenantID: scope.String(), IDs: ids}).
		SetResult(&out).
		Post("/describe")
	if err != nil {
		return nil, fmt.Errorf("remote describe: %w", err)
	}

	switch status := resp.StatusCode(); {
	case status == http.StatusForbidden || status == http.StatusNotFound:
		r.logger.DebugContext(ctx, "remote describer hid items",
			"status", status,
			"tenant_id", scope.String(),
			"requested", len(ids),
		)
		return []models.DisplayItem{}, nil
	case status >= http.StatusBadRequest:
		return nil, fmt.Errorf("remote describe: unexpected status %d", status)
	}
	if out.Items == nil {
		return []models.DisplayItem{}, nil
	}
	return out.Items, nil
}
