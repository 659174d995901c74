package client

import (
	"context"
	"fmt"
	"petshop-checkout/internal/config"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const (
	netsRequestPath = "/api/v1/common/payments/nets-qr/request"
	netsQueryPath   = "/api/v1/common/payments/nets-qr/query"
)

type NetsClient interface {
	RequestQR(ctx context.Context, txnID string, amount decimal.Decimal) (*NetsQR, error)
	QueryStatus(ctx context.Context, txnRetrievalRef string, frontendTimeout bool) (*NetsStatus, error)
}

type NetsQR struct {
	ResponseCode    string `json:"response_code"`
	QRCode          string `json:"qr_code"`
	TxnRetrievalRef string `json:"txn_retrieval_ref"`
	NetworkStatus   int    `json:"network_status"`
}

// Ok reports whether a QR code was issued.
func (q *NetsQR) Ok() bool {
	return q.ResponseCode == "00" && q.TxnRetrievalRef != "" && q.QRCode != ""
}

type NetsStatus struct {
	ResponseCode string `json:"response_code"`
	TxnStatus    int    `json:"txn_status"`
}

// Paid is the terminal success state of a NETS QR transaction.
func (s *NetsStatus) Paid() bool {
	return s.ResponseCode == "00" && s.TxnStatus == 1
}

type netsEnvelope[T any] struct {
	Result struct {
		Data T `json:"data"`
	} `json:"result"`
}

type netsClientImpl struct {
	http *resty.Client
}

func NewNetsClient(cfg *config.Nets) NetsClient {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseApiURL).
		SetTimeout(30 * time.Second).
		SetHeaders(map[string]string{
			"api-key":      cfg.APIKey,
			"project-id":   cfg.ProjectID,
			"Content-Type": "application/json",
			"Accept":       "application/json",
		})

	return &netsClientImpl{http: httpClient}
}

func (c *netsClientImpl) RequestQR(ctx context.Context, txnID string, amount decimal.Decimal) (*NetsQR, error) {
	var envelope netsEnvelope[NetsQR]
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"txn_id":         txnID,
			"amt_in_dollars": amount.StringFixed(2),
			"notify_mobile":  0,
		}).
		SetResult(&envelope).
		Post(netsRequestPath)
	if err != nil {
		return nil, fmt.Errorf("nets qr request: %w", err)
	}
	if resp.IsError() {
		return nil, &ProviderError{Provider: "nets", StatusCode: resp.StatusCode(), Message: resp.String()}
	}

	return &envelope.Result.Data, nil
}

func (c *netsClientImpl) QueryStatus(ctx context.Context, txnRetrievalRef string, frontendTimeout bool) (*NetsStatus, error) {
	timeoutStatus := 0
	if frontendTimeout {
		timeoutStatus = 1
	}

	var envelope netsEnvelope[NetsStatus]
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"txn_retrieval_ref":       txnRetrievalRef,
			"frontend_timeout_status": timeoutStatus,
		}).
		SetResult(&envelope).
		Post(netsQueryPath)
	if err != nil {
		return nil, fmt.Errorf("nets status query: %w", err)
	}
	if resp.IsError() {
		return nil, &ProviderError{Provider: "nets", StatusCode: resp.StatusCode(), Message: resp.String()}
	}

	return &envelope.Result.Data, nil
}
