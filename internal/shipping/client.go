// Package shipping talks to the carrier aggregator for rates, shipments
// and tracking.
package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"printshop-orders/internal/models"
	"printshop-orders/internal/service"
	"printshop-orders/internal/util"

	"go.uber.org/zap"
)

const maxQuotes = 5

var (
	ErrNotConfigured = errors.New("shipping credentials not configured")
	ErrUnauthorized  = errors.New("shipping api rejected token")
)

// Config holds the aggregator account and parcel defaults
type Config struct {
	BaseURL          string
	AccountEmail     string
	AccountSecret    string
	PickupPostalCode string
	TokenLifetime    time.Duration
	TokenMargin      time.Duration
	TaxRate          float64
	ParcelWeightKg   float64
	Timeout          time.Duration
}

// Client is the fulfillment API client
type Client struct {
	cfg        Config
	httpClient *http.Client
	tokens     *TokenCache
	logger     *zap.Logger
}

// NewClient creates a client whose token cache runs on now
func NewClient(cfg Config, now func() time.Time) *Client {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     util.Named("shipping"),
	}
	c.cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c.tokens = NewTokenCache(c.login, now, cfg.TokenLifetime, cfg.TokenMargin)
	return c
}

type loginResponse struct {
	Token string `json:"token"`
}

func (c *Client) login(ctx context.Context) (string, error) {
	if c.cfg.AccountEmail == "" || c.cfg.AccountSecret == "" {
		return "", ErrNotConfigured
	}
	body, _ := json.Marshal(map[string]string{"email": c.cfg.AccountEmail, "password": c.cfg.AccountSecret})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		util.ShippingTokenRefreshes.WithLabelValues("error").Inc()
		return "", fmt.Errorf("shipping auth failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		util.ShippingTokenRefreshes.WithLabelValues("rejected").Inc()
		return "", fmt.Errorf("shipping auth failed: status %d", resp.StatusCode)
	}
	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil || lr.Token == "" {
		util.ShippingTokenRefreshes.WithLabelValues("error").Inc()
		return "", fmt.Errorf("shipping auth returned no token")
	}
	util.ShippingTokenRefreshes.WithLabelValues("ok").Inc()
	c.logger.Info("Shipping token refreshed")
	return lr.Token, nil
}

// do sends an authenticated request, refreshing once on 401
func (c *Client) do(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return err
		}

		var body io.Reader
		if payload != nil {
			raw, err := json.Marshal(payload)
			if err != nil {
				return fmt.Errorf("failed to marshal request: %w", err)
			}
			body = bytes.NewReader(raw)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("shipping request failed: %w", err)
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			c.tokens.Invalidate()
			continue
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			var apiErr struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(raw, &apiErr)
			if apiErr.Message == "" {
				apiErr.Message = http.StatusText(resp.StatusCode)
			}
			return fmt.Errorf("shipping api %s %s: %d %s", method, path, resp.StatusCode, apiErr.Message)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode shipping response: %w", err)
		}
		return nil
	}
	return ErrUnauthorized
}

type serviceabilityResponse struct {
	Data struct {
		AvailableCourierCompanies []struct {
			CourierName      string  `json:"courier_name"`
			CourierCompanyID int64   `json:"courier_company_id"`
			FreightCharge    float64 `json:"freight_charge"`
			ETD              string  `json:"etd"`
		} `json:"available_courier_companies"`
	} `json:"data"`
}

// GetRates returns up to five quotes. Any failure yields an empty slice so
// checkout can continue on the flat fee.
func (c *Client) GetRates(ctx context.Context, req service.RateRequest) []models.ShippingRateQuote {
	ctx, span := util.StartSpan(ctx, "ShippingClient.GetRates")
	defer span.End()

	q := url.Values{}
	q.Set("pickup_postcode", c.cfg.PickupPostalCode)
	q.Set("delivery_postcode", req.DeliveryPostalCode)
	q.Set("weight", strconv.FormatFloat(req.WeightKg, 'f', -1, 64))
	cod := "0"
	if req.COD {
		cod = "1"
	}
	q.Set("cod", cod)

	var out serviceabilityResponse
	if err := c.do(ctx, http.MethodGet, "/courier/serviceability/?"+q.Encode(), nil, &out); err != nil {
		util.ShippingRateFallbacks.Inc()
		util.RecordError(span, err)
		c.logger.Warn("Rate lookup failed, falling back to flat fee",
			zap.String("postal_code", req.DeliveryPostalCode), zap.Error(err))
		return []models.ShippingRateQuote{}
	}

	companies := out.Data.AvailableCourierCompanies
	if len(companies) > maxQuotes {
		companies = companies[:maxQuotes]
	}
	quotes := make([]models.ShippingRateQuote, 0, len(companies))
	for _, co := range companies {
		etd := co.ETD
		if etd == "" {
			etd = "N/A"
		}
		quotes = append(quotes, models.ShippingRateQuote{
			CourierName:           co.CourierName,
			CourierID:             co.CourierCompanyID,
			RateAmount:            int64(math.Round(co.FreightCharge)),
			EstimatedDeliveryDays: etd,
		})
	}
	return quotes
}

type shipmentItem struct {
	Name         string `json:"name"`
	SKU          string `json:"sku"`
	Units        int    `json:"units"`
	SellingPrice int64  `json:"selling_price"`
	Discount     int64  `json:"discount"`
	Tax          int64  `json:"tax"`
}

type shipmentRequest struct {
	OrderID          string         `json:"order_id"`
	OrderDate        string         `json:"order_date"`
	PickupLocation   string         `json:"pickup_location"`
	BillingFirstName string         `json:"billing_customer_name"`
	BillingLastName  string         `json:"billing_last_name"`
	BillingAddress   string         `json:"billing_address"`
	BillingCity      string         `json:"billing_city"`
	BillingPincode   string         `json:"billing_pincode"`
	BillingState     string         `json:"billing_state"`
	BillingCountry   string         `json:"billing_country"`
	BillingEmail     string         `json:"billing_email"`
	BillingPhone     string         `json:"billing_phone"`
	ShippingIsBill   bool           `json:"shipping_is_billing"`
	OrderItems       []shipmentItem `json:"order_items"`
	PaymentMethod    string         `json:"payment_method"`
	SubTotal         int64          `json:"sub_total"`
	Length           float64        `json:"length"`
	Breadth          float64        `json:"breadth"`
	Height           float64        `json:"height"`
	Weight           float64        `json:"weight"`
}

type shipmentResponse struct {
	ShipmentID json.Number `json:"shipment_id"`
	OrderID    json.Number `json:"order_id"`
	Status     string      `json:"status"`
}

// CreateShipment registers the order with the carrier and returns the
// shipment id
func (c *Client) CreateShipment(ctx context.Context, order *models.Order) (string, error) {
	ctx, span := util.StartSpan(ctx, "ShippingClient.CreateShipment")
	defer span.End()

	var out shipmentResponse
	if err := c.do(ctx, http.MethodPost, "/orders/create/adhoc", c.shipmentPayload(order), &out); err != nil {
		util.ShipmentsCreatedTotal.WithLabelValues("error").Inc()
		util.RecordError(span, err)
		return "", err
	}
	id := out.ShipmentID.String()
	if id == "" {
		util.ShipmentsCreatedTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("shipping api returned no shipment id")
	}
	util.ShipmentsCreatedTotal.WithLabelValues("ok").Inc()
	c.logger.Info("Shipment created", zap.String("order_id", order.OrderID), zap.String("shipment_id", id))
	return id, nil
}

func (c *Client) shipmentPayload(order *models.Order) shipmentRequest {
	items := make([]shipmentItem, 0, len(order.Items))
	for _, it := range order.Items {
		sku := it.ProductID
		if sku == "" {
			sku = "SKU-" + order.OrderID
		}
		items = append(items, shipmentItem{
			Name:         it.Name,
			SKU:          sku,
			Units:        it.Quantity,
			SellingPrice: it.UnitPrice,
			Tax:          int64(math.Round(float64(it.UnitPrice) * c.cfg.TaxRate)),
		})
	}
	method := "Prepaid"
	if order.PaymentMethod == models.PaymentMethodCOD {
		method = "COD"
	}
	addr := order.ShippingAddress
	return shipmentRequest{
		OrderID:          order.OrderID,
		OrderDate:        order.CreatedAt.Format("2006-01-02"),
		PickupLocation:   "Primary",
		BillingFirstName: addr.FirstName(),
		BillingLastName:  addr.LastName(),
		BillingAddress:   addr.SingleLine(),
		BillingCity:      addr.City,
		BillingPincode:   addr.PostalCode,
		BillingState:     addr.State,
		BillingCountry:   "India",
		BillingEmail:     order.UserEmail,
		BillingPhone:     addr.Phone,
		ShippingIsBill:   true,
		OrderItems:       items,
		PaymentMethod:    method,
		SubTotal:         order.Total,
		Length:           20,
		Breadth:          15,
		Height:           10,
		Weight:           c.cfg.ParcelWeightKg,
	}
}

// Track returns the carrier's tracking document as-is. A shipment id is
// preferred; otherwise the business order id is used.
func (c *Client) Track(ctx context.Context, shipmentID, orderID string) (json.RawMessage, error) {
	ctx, span := util.StartSpan(ctx, "ShippingClient.Track")
	defer span.End()

	var path string
	switch {
	case shipmentID != "":
		path = "/courier/track/shipment/" + url.PathEscape(shipmentID)
	case orderID != "":
		path = "/courier/track?order_id=" + url.QueryEscape(orderID)
	default:
		return nil, fmt.Errorf("shipment id or order id required")
	}

	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	return out, nil
}
