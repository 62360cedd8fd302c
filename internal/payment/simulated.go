package payment

import (
	"context"
	"fmt"
	"time"

	"printshop-orders/internal/models"
	"printshop-orders/internal/util"

	"go.uber.org/zap"
)

// simulatedSecret signs development payments when no real secret is set
const simulatedSecret = "dev-simulated-secret"

// SimulatedInstant stands in for the instant gateway in development. Intents
// are created locally and signatures use a fixed secret.
type SimulatedInstant struct {
	secret string
	now    func() time.Time
	logger *zap.Logger
}

// NewSimulatedInstant creates a local instant gateway
func NewSimulatedInstant() *SimulatedInstant {
	return &SimulatedInstant{secret: simulatedSecret, now: time.Now, logger: util.Named("payments-sim")}
}

// CreateIntent returns a locally generated intent
func (s *SimulatedInstant) CreateIntent(_ context.Context, req IntentRequest) (*Intent, error) {
	id := fmt.Sprintf("order_dev_%d", s.now().UnixMilli())
	s.logger.Warn("Simulated payment intent", zap.String("reference", req.Reference), zap.Int64("amount", req.AmountMinor))
	return &Intent{
		ExternalOrderID: id,
		AmountMinor:     req.AmountMinor,
		Currency:        req.Currency,
		PublicKey:       "rzp_dev",
		Reference:       req.Reference,
	}, nil
}

// VerifySignature checks against the simulated secret
func (s *SimulatedInstant) VerifySignature(externalOrderID, paymentID, signature string) (bool, error) {
	return VerifySignature(s.secret, externalOrderID, paymentID, signature), nil
}

// Widget returns a widget that always pays successfully
func (s *SimulatedInstant) Widget() Widget {
	return simulatedWidget{secret: s.secret, now: s.now}
}

type simulatedWidget struct {
	secret string
	now    func() time.Time
}

func (w simulatedWidget) Open(_ context.Context, intent *Intent) (WidgetResult, error) {
	paymentID := fmt.Sprintf("pay_dev_%d", w.now().UnixMilli())
	return WidgetResult{
		Status:          WidgetSucceeded,
		PaymentID:       paymentID,
		ExternalOrderID: intent.ExternalOrderID,
		Signature:       Sign(w.secret, intent.ExternalOrderID, paymentID),
	}, nil
}

// SimulatedRedirect returns a session that lands straight on the success URL
type SimulatedRedirect struct {
	now func() time.Time
}

// NewSimulatedRedirect creates a local redirect gateway
func NewSimulatedRedirect() *SimulatedRedirect {
	return &SimulatedRedirect{now: time.Now}
}

// CreateSession returns a session pointing at the success URL
func (s *SimulatedRedirect) CreateSession(_ context.Context, req SessionRequest) (*Session, error) {
	if req.SuccessURL == "" {
		return nil, newError(KindValidation, models.PaymentMethodStripe, "success url required", nil)
	}
	id := fmt.Sprintf("stripe_session_dev_%d", s.now().UnixMilli())
	return &Session{ID: id, URL: expandSessionID(req.SuccessURL, id)}, nil
}
