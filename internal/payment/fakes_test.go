package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"printshop-orders/internal/models"
)

type call struct {
	op   string
	info models.PaymentInfo
}

type fakeLedger struct {
	mu        sync.Mutex
	orders    map[string]*models.Order
	calls     []call
	createErr error
	attachErr error
	seq       int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{orders: map[string]*models.Order{}}
}

func (f *fakeLedger) CreateOrder(_ context.Context, draft models.OrderDraft) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{op: "create"})
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.seq++
	o := &models.Order{
		ID:              fmt.Sprintf("doc-%d", f.seq),
		OrderID:         fmt.Sprintf("TS-%d", f.seq),
		UserID:          draft.UserID,
		UserEmail:       draft.UserEmail,
		Items:           draft.Items,
		Subtotal:        1000,
		Tax:             180,
		ShippingCost:    250,
		Total:           1430,
		Status:          models.OrderStatusConfirmed,
		PaymentMethod:   draft.PaymentMethod,
		ShippingAddress: draft.ShippingAddress,
		StatusHistory:   []models.StatusEntry{{Status: models.OrderStatusConfirmed, Note: "Order placed"}},
	}
	if p := draft.Payment; p != nil {
		o.PaymentMethod = p.PaymentMethod
		o.PaymentID = p.PaymentID
		o.ExternalPaymentOrderID = p.ExternalPaymentOrderID
		o.PaymentStatus = p.PaymentStatus
	}
	f.orders[o.ID] = o
	return o, nil
}

func (f *fakeLedger) AttachPaymentInfo(_ context.Context, docID string, info models.PaymentInfo) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{op: "attach", info: info})
	if f.attachErr != nil {
		return nil, f.attachErr
	}
	o, ok := f.orders[docID]
	if !ok {
		return nil, models.ErrNotFound
	}
	o.PaymentMethod = info.PaymentMethod
	o.PaymentID = info.PaymentID
	o.ExternalPaymentOrderID = info.ExternalPaymentOrderID
	o.PaymentStatus = info.PaymentStatus
	cp := *o
	return &cp, nil
}

func (f *fakeLedger) TransitionStatus(_ context.Context, docID string, status models.OrderStatus, note string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{op: "transition:" + string(status)})
	o, ok := f.orders[docID]
	if !ok {
		return nil, models.ErrNotFound
	}
	o.Status = status
	o.StatusHistory = append(o.StatusHistory, models.StatusEntry{Status: status, Note: note})
	cp := *o
	return &cp, nil
}

func (f *fakeLedger) GetOrderByOrderID(_ context.Context, orderID string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.OrderID == orderID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeLedger) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.op)
	}
	return out
}

type fakeInstantGateway struct {
	secret    string
	createErr error
	created   int
}

func (g *fakeInstantGateway) CreateIntent(_ context.Context, req IntentRequest) (*Intent, error) {
	g.created++
	if g.createErr != nil {
		return nil, g.createErr
	}
	return &Intent{ExternalOrderID: "order_ext_1", AmountMinor: req.AmountMinor, Currency: req.Currency, Reference: req.Reference}, nil
}

func (g *fakeInstantGateway) VerifySignature(ext, pid, sig string) (bool, error) {
	return VerifySignature(g.secret, ext, pid, sig), nil
}

type failingWidget struct{}

func (failingWidget) Open(context.Context, *Intent) (WidgetResult, error) {
	return WidgetResult{}, errors.New("script blocked")
}

type fakeRedirectGateway struct {
	ledger   *fakeLedger
	err      error
	requests []SessionRequest
	// orders seen in the ledger when the session was created
	ordersAtCall int
}

func (g *fakeRedirectGateway) CreateSession(_ context.Context, req SessionRequest) (*Session, error) {
	g.requests = append(g.requests, req)
	g.ordersAtCall = len(g.ledger.orders)
	if g.err != nil {
		return nil, g.err
	}
	return &Session{ID: "cs_test_1", URL: "https://pay.example/cs_test_1"}, nil
}
