package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"printshop-orders/internal/models"
	"printshop-orders/internal/pricing"
	"printshop-orders/internal/util"

	"go.uber.org/zap"
)

// StripeClient relays hosted checkout session creation
type StripeClient struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewStripeClient creates a client for the international redirect gateway
func NewStripeClient(secretKey, baseURL string, timeout time.Duration) *StripeClient {
	return &StripeClient{
		secretKey:  secretKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     util.Named("stripe"),
	}
}

type stripeSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateSession posts a form-encoded checkout session
func (s *StripeClient) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	ctx, span := util.StartSpan(ctx, "StripeClient.CreateSession")
	defer span.End()

	if s.secretKey == "" {
		return nil, newError(KindConfiguration, models.PaymentMethodStripe, "gateway credentials not configured", nil)
	}

	start := time.Now()
	defer func() {
		util.PaymentLatency.WithLabelValues("stripe", "create_session").Observe(time.Since(start).Seconds())
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/checkout/sessions",
		strings.NewReader(sessionForm(req).Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.secretKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		util.RecordError(span, err)
		return nil, newError(KindUnavailable, models.PaymentMethodStripe, "gateway unreachable", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Error("Checkout session creation failed",
			zap.Int("status", resp.StatusCode),
			zap.String("reference", req.Reference),
			zap.ByteString("body", raw))
		return nil, newError(KindUnavailable, models.PaymentMethodStripe,
			fmt.Sprintf("gateway returned %d", resp.StatusCode), nil)
	}

	var session stripeSession
	if err := json.Unmarshal(raw, &session); err != nil || session.URL == "" {
		return nil, newError(KindUnavailable, models.PaymentMethodStripe, "unreadable gateway response", err)
	}
	return &Session{ID: session.ID, URL: session.URL}, nil
}

func sessionForm(req SessionRequest) url.Values {
	currency := strings.ToLower(req.Currency)
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("customer_email", req.CustomerEmail)
	form.Set("metadata[order_id]", req.Reference)
	form.Set("success_url", req.SuccessURL)
	form.Set("cancel_url", req.CancelURL)
	for i, item := range req.LineItems {
		prefix := fmt.Sprintf("line_items[%d]", i)
		form.Set(prefix+"[price_data][currency]", currency)
		form.Set(prefix+"[price_data][product_data][name]", item.Name)
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(pricing.ToMinorUnits(item.UnitPrice), 10))
		form.Set(prefix+"[quantity]", strconv.Itoa(item.Quantity))
	}
	return form
}
