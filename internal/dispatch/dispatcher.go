// Package dispatch delivers replies to the outbound transport.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/capitalize-ai/prompt-engine/internal/model"
)

// OutboundPath is the transport webhook path.
const OutboundPath = "/botMsg/adapterOutbound"

// ErrNotConfigured is returned when no transport URL is set.
var ErrNotConfigured = errors.New("transport url not configured")

// Dispatcher posts outbound messages to the transport.
type Dispatcher struct {
	client  *resty.Client
	enabled bool
}

// NewDispatcher creates a dispatcher for the transport at baseURL. An empty
// baseURL yields a dispatcher whose Send returns ErrNotConfigured.
func NewDispatcher(baseURL string, timeout time.Duration) *Dispatcher {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)

	return &Dispatcher{client: client, enabled: baseURL != ""}
}

// Send delivers msg. The transport's response body is ignored.
func (d *Dispatcher) Send(ctx context.Context, msg *model.OutboundMessage) error {
	if !d.enabled {
		return ErrNotConfigured
	}

	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(msg).
		Post(OutboundPath)
	if err != nil {
		return fmt.Errorf("failed to send outbound message: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("transport rejected message: status %d", resp.StatusCode())
	}
	return nil
}
