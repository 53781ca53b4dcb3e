package saga

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"purchase-service/config"
	"purchase-service/internal/models"
)

// CustomerService covers the customer-facing collaborator calls the saga
// makes: existence checks, on-the-fly registration, and loyalty.
type CustomerService interface {
	Exists(ctx context.Context, customerID string) (bool, error)
	AutoRegister(ctx context.Context, customerID, name string) error
	LoyaltyDiscount(ctx context.Context, customerID string) (*LoyaltyInfo, error)
	RecordPurchase(ctx context.Context, customerID, orderID string, amount float64, items string) (*LoyaltyRecord, error)
}

// StoreDirectory resolves store identifiers
type StoreDirectory interface {
	Exists(ctx context.Context, storeID string) (bool, error)
}

// PricingService prices an order with promotions applied
type PricingService interface {
	PriceOrder(ctx context.Context, items []models.PurchaseItem) (*PricingResult, error)
}

// DeliveryService quotes and records delivery charges
type DeliveryService interface {
	Charge(ctx context.Context, req *DeliveryQuoteRequest) (*DeliveryResult, error)
}

// LoyaltyInfo is a customer's current discount standing
type LoyaltyInfo struct {
	DiscountPercentage int    `json:"discount_percentage"`
	Tier               string `json:"tier"`
}

// LoyaltyRecord is the result of recording a purchase against a loyalty
// account.
type LoyaltyRecord struct {
	PointsEarned int    `json:"points_earned"`
	Tier         string `json:"tier"`
}

// PricingResult is a priced order with its promotion breakdown
type PricingResult struct {
	Subtotal            float64  `json:"subtotal"`
	PromotionalDiscount float64  `json:"promotional_discount"`
	FinalTotal          float64  `json:"final_total"`
	AppliedPromotions   []string `json:"applied_promotions"`
}

// DeliveryQuoteRequest asks the delivery collaborator to quote and record a
// delivery for an order.
type DeliveryQuoteRequest struct {
	OrderID    string  `json:"order_id"`
	CustomerID string  `json:"customer_id"`
	StoreID    string  `json:"store_id"`
	OrderValue float64 `json:"order_value"`
	Distance   float64 `json:"distance_km"`
	Address    string  `json:"address"`
	IsExpress  bool    `json:"is_express"`
}

// DeliveryResult is the quoted delivery charge
type DeliveryResult struct {
	TotalCharge float64 `json:"total_charge"`
}

// HTTPCollaborators talks to the loyalty, pricing, delivery, and store
// services over HTTP with bounded connect and read timeouts, so a stalled
// collaborator degrades the saga instead of hanging it.
type HTTPCollaborators struct {
	loyaltyURL  string
	pricingURL  string
	deliveryURL string
	storeURL    string
	client      *http.Client
}

// NewHTTPCollaborators builds HTTP clients from the collaborator config
func NewHTTPCollaborators(cfg config.CollaboratorConfig) *HTTPCollaborators {
	return &HTTPCollaborators{
		loyaltyURL:  cfg.LoyaltyURL,
		pricingURL:  cfg.PricingURL,
		deliveryURL: cfg.DeliveryURL,
		storeURL:    cfg.StoreURL,
		client: &http.Client{
			Timeout: cfg.ReadTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: cfg.ConnectTimeout,
				}).DialContext,
			},
		},
	}
}

// Exists reports whether a loyalty customer is registered. A 404 is a clean
// "no"; transport errors bubble up.
func (hc *HTTPCollaborators) Exists(ctx context.Context, customerID string) (bool, error) {
	resp, err := hc.get(ctx, hc.loyaltyURL+"/api/customers/"+customerID)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("customer lookup returned status %d", resp.StatusCode)
	}
}

// AutoRegister creates a loyalty customer record for a first-time buyer
func (hc *HTTPCollaborators) AutoRegister(ctx context.Context, customerID, name string) error {
	if name == "" {
		name = "Customer " + customerID
	}
	payload := map[string]string{
		"customer_id": customerID,
		"name":        name,
	}
	resp, err := hc.post(ctx, hc.loyaltyURL+"/api/customers", payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("customer registration returned status %d", resp.StatusCode)
	}
	return nil
}

// LoyaltyDiscount fetches the customer's current discount percentage and tier
func (hc *HTTPCollaborators) LoyaltyDiscount(ctx context.Context, customerID string) (*LoyaltyInfo, error) {
	resp, err := hc.get(ctx, hc.loyaltyURL+"/api/customers/"+customerID+"/discount")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("loyalty discount returned status %d", resp.StatusCode)
	}

	var info LoyaltyInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode loyalty discount: %w", err)
	}
	return &info, nil
}

// RecordPurchase posts a completed purchase to the loyalty service so points
// accrue.
func (hc *HTTPCollaborators) RecordPurchase(ctx context.Context, customerID, orderID string, amount float64, items string) (*LoyaltyRecord, error) {
	payload := map[string]interface{}{
		"customer_id": customerID,
		"order_id":    orderID,
		"amount":      amount,
		"items":       items,
		"timestamp":   time.Now().Format(time.RFC3339),
	}
	resp, err := hc.post(ctx, hc.loyaltyURL+"/api/purchases", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("loyalty purchase record returned status %d", resp.StatusCode)
	}

	var record LoyaltyRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("failed to decode loyalty record: %w", err)
	}
	return &record, nil
}

// PriceOrder asks the pricing service for a promotion-aware total
func (hc *HTTPCollaborators) PriceOrder(ctx context.Context, items []models.PurchaseItem) (*PricingResult, error) {
	payload := map[string]interface{}{"items": items}
	resp, err := hc.post(ctx, hc.pricingURL+"/api/pricing/calculate", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pricing returned status %d", resp.StatusCode)
	}

	var result PricingResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode pricing result: %w", err)
	}
	return &result, nil
}

// Charge quotes and records a delivery for an order
func (hc *HTTPCollaborators) Charge(ctx context.Context, req *DeliveryQuoteRequest) (*DeliveryResult, error) {
	resp, err := hc.post(ctx, hc.deliveryURL+"/api/deliveries", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("delivery quote returned status %d", resp.StatusCode)
	}

	var result DeliveryResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode delivery result: %w", err)
	}
	return &result, nil
}

// StoreExistsFunc adapts a function to the StoreDirectory interface
type StoreExistsFunc func(ctx context.Context, storeID string) (bool, error)

func (f StoreExistsFunc) Exists(ctx context.Context, storeID string) (bool, error) {
	return f(ctx, storeID)
}

// StoreLookup returns a StoreDirectory backed by the store management
// collaborator.
func (hc *HTTPCollaborators) StoreLookup() StoreDirectory {
	return StoreExistsFunc(func(ctx context.Context, storeID string) (bool, error) {
		resp, err := hc.get(ctx, hc.storeURL+"/api/stores/"+storeID)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
			return true, nil
		case http.StatusNotFound:
			return false, nil
		default:
			return false, fmt.Errorf("store lookup returned status %d", resp.StatusCode)
		}
	})
}

func (hc *HTTPCollaborators) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	return hc.client.Do(req)
}

func (hc *HTTPCollaborators) post(ctx context.Context, url string, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return hc.client.Do(req)
}
