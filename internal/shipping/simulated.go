package shipping

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"printshop-orders/internal/models"
	"printshop-orders/internal/service"
)

// Simulated answers like the carrier aggregator without any network calls.
// It is used when no shipping account is configured.
type Simulated struct {
	now func() time.Time
}

// NewSimulated creates a local carrier
func NewSimulated(now func() time.Time) *Simulated {
	if now == nil {
		now = time.Now
	}
	return &Simulated{now: now}
}

// GetRates returns two fixed quotes
func (s *Simulated) GetRates(_ context.Context, _ service.RateRequest) []models.ShippingRateQuote {
	return []models.ShippingRateQuote{
		{CourierName: "DTDC", CourierID: 1, RateAmount: 80, EstimatedDeliveryDays: "5-7 days"},
		{CourierName: "Delhivery", CourierID: 2, RateAmount: 150, EstimatedDeliveryDays: "2-3 days"},
	}
}

// CreateShipment returns a development shipment id
func (s *Simulated) CreateShipment(_ context.Context, _ *models.Order) (string, error) {
	return fmt.Sprintf("SHIP_DEV_%d", s.now().UnixMilli()), nil
}

// Track returns a canned in-transit document
func (s *Simulated) Track(_ context.Context, shipmentID, orderID string) (json.RawMessage, error) {
	now := s.now().UTC()
	doc := map[string]interface{}{
		"tracking_data": map[string]interface{}{
			"track_status":    1,
			"shipment_status": 5,
			"shipment_id":     shipmentID,
			"order_id":        orderID,
			"shipment_track": []map[string]string{
				{"current_status": "In Transit", "origin": "Mumbai", "destination": "Delhi"},
			},
			"shipment_track_activities": []map[string]string{
				{"date": now.Format(time.RFC3339), "activity": "Shipment picked up", "location": "Mumbai"},
				{"date": now.Add(-24 * time.Hour).Format(time.RFC3339), "activity": "Order created", "location": "Mumbai"},
			},
		},
	}
	return json.Marshal(doc)
}
