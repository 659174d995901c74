package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"petshop-checkout/internal/config"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrWebhookNotConfigured = errors.New("paypal webhook id not configured")

type PaypalClient interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResponse, error)
	CaptureOrder(ctx context.Context, orderID string) (*CaptureResult, error)
	RefundCapture(ctx context.Context, captureID string, amount decimal.Decimal, currency string) (*RefundResult, error)
	AddTracker(ctx context.Context, tracker Tracker) error
	VerifyWebhookSignature(ctx context.Context, header http.Header, body []byte) (bool, error)
}

type paypalClientImpl struct {
	httpClient         *http.Client
	baseApiURL         string
	paypalClientID     string
	paypalClientSecret string
	webhookID          string
}

type PaypalLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

type PaypalCreateOrderResult struct {
	ID     string       `json:"id"`
	Links  []PaypalLink `json:"links"`
	Status string       `json:"status"`
}

type CreateOrderRequest struct {
	Amount        decimal.Decimal
	Currency      string
	InvoiceNumber string
	ReturnURL     string
	CancelURL     string
}

type CreateOrderResponse struct {
	OrderID    string
	ApproveURL string
}

type CaptureResult struct {
	OrderID       string
	Status        string
	CaptureID     string
	CaptureStatus string
}

// Completed reports whether funds were actually captured.
func (r *CaptureResult) Completed() bool {
	return r.Status == "COMPLETED" && r.CaptureID != "" && r.CaptureStatus == "COMPLETED"
}

type Tracker struct {
	CaptureID      string
	Status         string
	TrackingNumber string
	Carrier        string
	ShipmentDate   time.Time
}

type paypalErrorBody struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func NewPaypalClient(paypalCfg *config.Paypal) PaypalClient {
	return &paypalClientImpl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseApiURL:         strings.TrimRight(paypalCfg.BaseApiURL, "/"),
		paypalClientID:     paypalCfg.ClientID,
		paypalClientSecret: paypalCfg.ClientSecret,
		webhookID:          paypalCfg.WebhookID,
	}
}

func (c *paypalClientImpl) getAccessToken(ctx context.Context) (string, error) {
	auth := base64.StdEncoding.EncodeToString(
		[]byte(c.paypalClientID + ":" + c.paypalClientSecret),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseApiURL+"/v1/oauth2/token",
		bytes.NewBufferString("grant_type=client_credentials"))
	if err != nil {
		return "", fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http client do: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", paypalError(resp.StatusCode, body)
	}

	var res struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if res.AccessToken == "" {
		return "", fmt.Errorf("empty paypal access token")
	}

	return res.AccessToken, nil
}

// do sends an authenticated JSON request and decodes a 2xx body into out.
func (c *paypalClientImpl) do(ctx context.Context, method, path string, payload, out interface{}) ([]byte, error) {
	accessToken, err := c.getAccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("get paypal access token: %w", err)
	}

	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal req payload: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseApiURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("PayPal-Request-Id", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("paypal request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read paypal response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, paypalError(resp.StatusCode, body)
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return body, fmt.Errorf("decode paypal response: %w", err)
		}
	}

	return body, nil
}

func (c *paypalClientImpl) CreateOrder(ctx context.Context, in CreateOrderRequest) (*CreateOrderResponse, error) {
	payload := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{
			{
				"invoice_id": in.InvoiceNumber,
				"amount": map[string]string{
					"currency_code": in.Currency,
					"value":         in.Amount.StringFixed(2),
				},
			},
		},
		"application_context": map[string]string{
			"return_url": in.ReturnURL,
			"cancel_url": in.CancelURL,
		},
	}

	var result PaypalCreateOrderResult
	if _, err := c.do(ctx, http.MethodPost, "/v2/checkout/orders", payload, &result); err != nil {
		return nil, err
	}

	return &CreateOrderResponse{
		OrderID:    result.ID,
		ApproveURL: extractApproveURL(result.Links),
	}, nil
}

func (c *paypalClientImpl) CaptureOrder(ctx context.Context, orderID string) (*CaptureResult, error) {
	var result struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		PurchaseUnits []struct {
			Payments struct {
				Captures []struct {
					ID     string `json:"id"`
					Status string `json:"status"`
				} `json:"captures"`
			} `json:"payments"`
		} `json:"purchase_units"`
	}

	path := fmt.Sprintf("/v2/checkout/orders/%s/capture", orderID)
	if _, err := c.do(ctx, http.MethodPost, path, nil, &result); err != nil {
		return nil, err
	}

	capture := &CaptureResult{
		OrderID: result.ID,
		Status:  result.Status,
	}
	for _, unit := range result.PurchaseUnits {
		if len(unit.Payments.Captures) > 0 {
			capture.CaptureID = unit.Payments.Captures[0].ID
			capture.CaptureStatus = unit.Payments.Captures[0].Status
			break
		}
	}

	return capture, nil
}

func (c *paypalClientImpl) RefundCapture(ctx context.Context, captureID string, amount decimal.Decimal, currency string) (*RefundResult, error) {
	payload := map[string]interface{}{
		"amount": map[string]string{
			"value":         amount.StringFixed(2),
			"currency_code": currency,
		},
	}

	var result struct {
		ID         string    `json:"id"`
		Status     string    `json:"status"`
		CreateTime time.Time `json:"create_time"`
	}
	path := fmt.Sprintf("/v2/payments/captures/%s/refund", captureID)
	raw, err := c.do(ctx, http.MethodPost, path, payload, &result)
	if err != nil {
		return nil, err
	}

	if result.CreateTime.IsZero() {
		result.CreateTime = time.Now()
	}

	return &RefundResult{
		ID:        result.ID,
		Status:    result.Status,
		CreatedAt: result.CreateTime,
		Raw:       raw,
	}, nil
}

func (c *paypalClientImpl) AddTracker(ctx context.Context, tracker Tracker) error {
	shipmentDate := tracker.ShipmentDate
	if shipmentDate.IsZero() {
		shipmentDate = time.Now()
	}

	payload := map[string]interface{}{
		"trackers": []map[string]interface{}{
			{
				"transaction_id":            tracker.CaptureID,
				"status":                    tracker.Status,
				"tracking_number":           tracker.TrackingNumber,
				"carrier":                   tracker.Carrier,
				"tracking_number_type":      "CARRIER_PROVIDED",
				"shipment_date":             shipmentDate.Format("2006-01-02"),
				"notify_buyer":              true,
				"quantity":                  1,
				"tracking_number_validated": true,
			},
		},
	}

	var result struct {
		Errors []struct {
			Name    string `json:"name"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/v1/shipping/trackers-batch", payload, &result); err != nil {
		return err
	}
	if len(result.Errors) > 0 {
		return &ProviderError{Provider: "paypal", StatusCode: http.StatusOK, Message: result.Errors[0].Message}
	}

	return nil
}

func (c *paypalClientImpl) VerifyWebhookSignature(ctx context.Context, header http.Header, body []byte) (bool, error) {
	if c.webhookID == "" {
		return false, ErrWebhookNotConfigured
	}

	payload := map[string]interface{}{
		"auth_algo":         header.Get("PAYPAL-AUTH-ALGO"),
		"cert_url":          header.Get("PAYPAL-CERT-URL"),
		"transmission_id":   header.Get("PAYPAL-TRANSMISSION-ID"),
		"transmission_sig":  header.Get("PAYPAL-TRANSMISSION-SIG"),
		"transmission_time": header.Get("PAYPAL-TRANSMISSION-TIME"),
		"webhook_id":        c.webhookID,
		"webhook_event":     json.RawMessage(body),
	}

	var result struct {
		VerificationStatus string `json:"verification_status"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", payload, &result); err != nil {
		return false, err
	}

	return result.VerificationStatus == "SUCCESS", nil
}

func paypalError(status int, body []byte) error {
	var parsed paypalErrorBody
	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch {
		case len(parsed.Details) > 0 && parsed.Details[0].Description != "":
			message = parsed.Details[0].Description
		case parsed.Message != "":
			message = parsed.Message
		}
	}

	return &ProviderError{Provider: "paypal", StatusCode: status, Message: message}
}

func extractApproveURL(links []PaypalLink) string {
	for _, link := range links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			return link.Href
		}
	}
	return ""
}
