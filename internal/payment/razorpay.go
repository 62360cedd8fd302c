package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"printshop-orders/internal/models"
	"printshop-orders/internal/util"

	"go.uber.org/zap"
)

// RazorpayClient relays intent creation to the domestic instant gateway
type RazorpayClient struct {
	keyID      string
	keySecret  string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewRazorpayClient creates a client; empty credentials surface as
// KindConfiguration on first use
func NewRazorpayClient(keyID, keySecret, baseURL string, timeout time.Duration) *RazorpayClient {
	return &RazorpayClient{
		keyID:      keyID,
		keySecret:  keySecret,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     util.Named("razorpay"),
	}
}

type razorpayOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes"`
}

type razorpayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// CreateIntent creates a gateway order for req.AmountMinor
func (r *RazorpayClient) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	ctx, span := util.StartSpan(ctx, "RazorpayClient.CreateIntent")
	defer span.End()

	if r.keyID == "" || r.keySecret == "" {
		return nil, newError(KindConfiguration, models.PaymentMethodRazorpay, "gateway credentials not configured", nil)
	}

	start := time.Now()
	defer func() {
		util.PaymentLatency.WithLabelValues("razorpay", "create_order").Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(razorpayOrderRequest{
		Amount:   req.AmountMinor,
		Currency: req.Currency,
		Receipt:  req.Reference,
		Notes: map[string]string{
			"order_id":       req.Reference,
			"customer_email": req.CustomerEmail,
			"customer_name":  req.CustomerName,
			"customer_phone": req.CustomerPhone,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(r.keyID, r.keySecret)

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		util.RecordError(span, err)
		return nil, newError(KindUnavailable, models.PaymentMethodRazorpay, "gateway unreachable", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.logger.Error("Gateway order creation failed",
			zap.Int("status", resp.StatusCode),
			zap.String("reference", req.Reference),
			zap.ByteString("body", raw))
		return nil, newError(KindUnavailable, models.PaymentMethodRazorpay,
			fmt.Sprintf("gateway returned %d", resp.StatusCode), nil)
	}

	var order razorpayOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, newError(KindUnavailable, models.PaymentMethodRazorpay, "unreadable gateway response", err)
	}

	return &Intent{
		ExternalOrderID: order.ID,
		AmountMinor:     order.Amount,
		Currency:        order.Currency,
		PublicKey:       r.keyID,
		Reference:       req.Reference,
	}, nil
}

// VerifySignature checks a success callback against the key secret
func (r *RazorpayClient) VerifySignature(externalOrderID, paymentID, signature string) (bool, error) {
	if r.keySecret == "" {
		return false, newError(KindConfiguration, models.PaymentMethodRazorpay, "gateway credentials not configured", nil)
	}
	return VerifySignature(r.keySecret, externalOrderID, paymentID, signature), nil
}
