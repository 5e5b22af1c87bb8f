package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"laundry-orchestrator/config"
)

// PixClient drives push-payment charges through the local terminal's /pix
// endpoints. The terminal owns the charge lifecycle; this client only
// generates, polls and cancels.
type PixClient struct {
	baseURL       string
	automationKey string
	expirySeconds int
	client        *http.Client
}

// NewPixClient creates a PixClient against the given terminal.
func NewPixClient(terminal *config.TerminalConfig, pix *config.PixConfig) *PixClient {
	return &PixClient{
		baseURL:       fmt.Sprintf("http://%s:%d", terminal.Host, terminal.Port),
		automationKey: terminal.AutomationKey,
		expirySeconds: pix.ExpirySeconds,
		client:        &http.Client{Timeout: terminal.Timeout},
	}
}

type pixGenerateBody struct {
	AmountCents int    `json:"amount_cents"`
	OrderID     string `json:"orderId"`
	ExpiresIn   int    `json:"expiresIn"`
}

type pixGenerateReply struct {
	QRCode       string `json:"qrCode"`
	QRCodeBase64 string `json:"qrCodeBase64"`
	PixKey       string `json:"pixKey"`
}

// GenerateQR asks the terminal for a new charge and returns its QR payload.
func (p *PixClient) GenerateQR(ctx context.Context, req Request) (*PixCharge, error) {
	body, err := json.Marshal(pixGenerateBody{
		AmountCents: req.AmountCents,
		OrderID:     req.OrderID,
		ExpiresIn:   p.expirySeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode charge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/pix/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create charge request: %w", err)
	}
	p.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMethodUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: terminal answered %d", ErrMethodUnreachable, resp.StatusCode)
	}

	var reply pixGenerateReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("failed to decode charge reply: %w", err)
	}
	return &PixCharge{
		OrderID:      req.OrderID,
		QRCode:       reply.QRCode,
		QRCodeBase64: reply.QRCodeBase64,
		PixKey:       reply.PixKey,
		ExpiresIn:    p.expirySeconds,
	}, nil
}

// PollStatus fetches the current state of a charge.
func (p *PixClient) PollStatus(ctx context.Context, orderID string) (*PixStatus, error) {
	url := fmt.Sprintf("%s/pix/status/%s", p.baseURL, orderID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMethodUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: terminal answered %d", ErrMethodUnreachable, resp.StatusCode)
	}

	var status PixStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status reply: %w", err)
	}
	if status.OrderID == "" {
		status.OrderID = orderID
	}
	return &status, nil
}

// Cancel voids a pending charge. Cancelling an already settled or expired
// charge is the terminal's call; its error is passed through.
func (p *PixClient) Cancel(ctx context.Context, orderID string) error {
	url := fmt.Sprintf("%s/pix/cancel/%s", p.baseURL, orderID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create cancel request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMethodUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("terminal answered %d to cancel", resp.StatusCode)
	}
	return nil
}

func (p *PixClient) setHeaders(req *http.Request) {
	if p.automationKey != "" {
		req.Header.Set("X-Automation-Key", p.automationKey)
	}
}
