package finance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"
)

// GatewayDecision is the external approval gateway's verdict on a request
type GatewayDecision struct {
	RequestID   string  `json:"request_id"`
	Approved    bool    `json:"approved"`
	ApprovedAmt float64 `json:"approved_amount"`
	Reason      string  `json:"reason"`
}

// ApprovalGateway evaluates a finance request against the external approval
// system
type ApprovalGateway interface {
	Evaluate(ctx context.Context, requestID, customerID string, amount float64) (*GatewayDecision, error)
}

// HTTPGateway calls the approval gateway over HTTP with bounded connect and
// read timeouts so a hung gateway cannot stall decision processing.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGateway creates a gateway client
func NewHTTPGateway(baseURL string, connectTimeout, readTimeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: readTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
	}
}

// Evaluate submits the request for an approval verdict
func (g *HTTPGateway) Evaluate(ctx context.Context, requestID, customerID string, amount float64) (*GatewayDecision, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"request_id":  requestID,
		"customer_id": customerID,
		"amount":      amount,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/api/approvals", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("approval gateway call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("approval gateway returned status %d", resp.StatusCode)
	}

	var decision GatewayDecision
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return nil, fmt.Errorf("failed to decode gateway response: %w", err)
	}

	return &decision, nil
}
