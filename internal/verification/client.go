// Package verification is the client for the one-time code service used by
// the application status flow.
package verification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client sends and verifies one-time codes.
type Client struct {
	client *resty.Client
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL, authHeader string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	if authHeader != "" {
		c.SetHeader("Authorization", authHeader)
	}
	return &Client{client: c}
}

type sendRequest struct {
	Identifier string `json:"identifier"`
}

type verifyRequest struct {
	Identifier string `json:"identifier"`
	OTP        string `json:"otp"`
}

type verifyResponse struct {
	Verified bool   `json:"verified"`
	Status   string `json:"status"`
}

// SendCode asks the service to send a code to the identifier's phone.
func (c *Client) SendCode(ctx context.Context, identifier string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(sendRequest{Identifier: identifier}).
		Post("/otp/send")
	if err != nil {
		return fmt.Errorf("failed to send otp: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("otp send rejected: status %d", resp.StatusCode())
	}
	return nil
}

// VerifyCode checks code and returns the application status on success. A
// wrong code is reported as ok=false with a nil error.
func (c *Client) VerifyCode(ctx context.Context, identifier, code string) (string, bool, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(verifyRequest{Identifier: identifier, OTP: code}).
		Post("/otp/verify")
	if err != nil {
		return "", false, fmt.Errorf("failed to verify otp: %w", err)
	}
	if resp.StatusCode() == 401 || resp.StatusCode() == 422 {
		return "", false, nil
	}
	if resp.IsError() {
		return "", false, fmt.Errorf("otp verify rejected: status %d", resp.StatusCode())
	}

	var out verifyResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", false, fmt.Errorf("failed to decode verify response: %w", err)
	}
	if !out.Verified {
		return "", false, nil
	}
	return out.Status, true, nil
}
