package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"printshop-orders/internal/cart"
	"printshop-orders/internal/memstore"
	"printshop-orders/internal/models"
	"printshop-orders/internal/payment"
	"printshop-orders/internal/pricing"
	"printshop-orders/internal/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const instantSecret = "test-secret"

type stubInstant struct{}

func (stubInstant) CreateIntent(_ context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	return &payment.Intent{ExternalOrderID: "order_" + req.Reference, AmountMinor: req.AmountMinor, Currency: req.Currency, Reference: req.Reference}, nil
}

func (stubInstant) VerifySignature(ext, pid, sig string) (bool, error) {
	return payment.VerifySignature(instantSecret, ext, pid, sig), nil
}

type stubRedirect struct{}

func (stubRedirect) CreateSession(_ context.Context, req payment.SessionRequest) (*payment.Session, error) {
	return &payment.Session{ID: "cs_1", URL: "https://pay.example/cs_1"}, nil
}

type stubRates struct {
	quotes []models.ShippingRateQuote
	calls  int
}

func (s *stubRates) GetRates(_ context.Context, _ RateRequest) []models.ShippingRateQuote {
	s.calls++
	return s.quotes
}

type countingNotifier struct {
	mu     sync.Mutex
	orders []string
}

func (n *countingNotifier) OrderConfirmed(_ context.Context, o *models.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orders = append(n.orders, o.OrderID)
	return nil
}

type checkoutFixture struct {
	svc      *CheckoutService
	carts    *cart.Service
	ledger   *Ledger
	store    *memstore.Store
	kv       KeyValueStore
	rates    *stubRates
	notifier *countingNotifier
	profiles *ProfileService
}

// hookKV runs beforeSetNX ahead of each SetNX, letting a test slip another
// request in between two steps of a checkout
type hookKV struct {
	*memstore.KV
	beforeSetNX func(key string)
}

func (k *hookKV) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if k.beforeSetNX != nil {
		k.beforeSetNX(key)
	}
	return k.KV.SetNX(ctx, key, value, ttl)
}

// flakyOrders fails the next failInserts order inserts
type flakyOrders struct {
	*memstore.Store
	mu          sync.Mutex
	failInserts int
}

func (f *flakyOrders) InsertOrder(ctx context.Context, order *models.Order) error {
	f.mu.Lock()
	if f.failInserts > 0 {
		f.failInserts--
		f.mu.Unlock()
		return errors.New("write timeout")
	}
	f.mu.Unlock()
	return f.Store.InsertOrder(ctx, order)
}

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()
	store := memstore.New()
	return newCheckoutFixtureWith(t, store, store, memstore.NewKV())
}

func newCheckoutFixtureWith(t *testing.T, store *memstore.Store, orders OrderRepository, kv KeyValueStore) *checkoutFixture {
	t.Helper()
	ledger := NewLedger(orders, nil, pricing.DefaultRules())
	carts := cart.NewService(cart.NewMemoryStorage())
	rates := &stubRates{quotes: []models.ShippingRateQuote{
		{CourierName: "DTDC", CourierID: 11, RateAmount: 80, EstimatedDeliveryDays: "5"},
		{CourierName: "Delhivery", CourierID: 12, RateAmount: 150, EstimatedDeliveryDays: "2"},
	}}
	notifier := &countingNotifier{}
	profiles := NewProfileService(store)
	coord := payment.NewCoordinator(
		payment.NewInstant(stubInstant{}, ledger, "INR"),
		payment.NewRedirect(stubRedirect{}, ledger, "https://shop.example", "INR"),
		payment.NewOffline(ledger),
	)
	svc := NewCheckoutService(CheckoutDeps{
		Carts:       carts,
		Coordinator: coord,
		Ledger:      ledger,
		Profiles:    profiles,
		Guard:       NewSubmissionGuard(kv, time.Minute, time.Hour),
		KV:          kv,
		Rates:       rates,
		Notifier:    notifier,
		WeightKg:    0.5,
	})

	_, err := carts.AddItem(context.Background(), "user-1", models.Product{ID: "vase", Name: "Spiral Vase", Price: 1200}, 1)
	require.NoError(t, err)
	_, err = carts.AddItem(context.Background(), "user-1", models.Product{ID: "lamp", Name: "Moon Lamp", Price: 500}, 2)
	require.NoError(t, err)

	return &checkoutFixture{svc: svc, carts: carts, ledger: ledger, store: store, kv: kv, rates: rates, notifier: notifier, profiles: profiles}
}

func checkoutRequest(method models.PaymentMethod) CheckoutRequest {
	return CheckoutRequest{
		Session:       "user-1",
		UserID:        "user-1",
		Name:          "Asha Rao",
		Email:         "asha@example.com",
		Phone:         "9876543210",
		Address:       "12 MG Road",
		City:          "Pune",
		State:         "Maharashtra",
		PostalCode:    "411001",
		PaymentMethod: method,
	}
}

func (f *checkoutFixture) cartSize(t *testing.T) int {
	c, err := f.carts.Get(context.Background(), "user-1")
	require.NoError(t, err)
	return len(c.Items)
}

func (f *checkoutFixture) orderCount(t *testing.T) int {
	all, err := f.ledger.ListAllOrders(context.Background())
	require.NoError(t, err)
	return len(all)
}

func TestPlaceCashOnDelivery(t *testing.T) {
	f := newCheckoutFixture(t)

	res, err := f.svc.Place(context.Background(), checkoutRequest(models.PaymentMethodCOD))

	require.NoError(t, err)
	assert.Equal(t, payment.OutcomePending, res.Outcome)
	assert.Equal(t, models.OrderStatusConfirmed, res.Order.Status)
	assert.Equal(t, models.PaymentStatusNone, res.Order.PaymentStatus)
	assert.Len(t, res.Order.StatusHistory, 1)
	assert.Equal(t, 0, f.cartSize(t))
	assert.Equal(t, []string{res.Order.OrderID}, f.notifier.orders)
}

func TestRedirectReturnIgnoresOrdersPaidAnotherWay(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)
	res, err := f.svc.Place(ctx, checkoutRequest(models.PaymentMethodCOD))
	require.NoError(t, err)
	require.Len(t, f.notifier.orders, 1)

	_, err = f.svc.ReturnFromRedirect(ctx, res.Order.OrderID, "success")

	assert.True(t, payment.IsKind(err, payment.KindValidation))
	assert.Len(t, f.notifier.orders, 1)
}

func TestPlaceRejectsEmptyCartAndBadForm(t *testing.T) {
	f := newCheckoutFixture(t)
	require.NoError(t, f.carts.Clear(context.Background(), "user-1"))

	_, err := f.svc.Place(context.Background(), checkoutRequest(models.PaymentMethodCOD))
	assert.True(t, validation.IsValidation(err))

	req := checkoutRequest(models.PaymentMethodCOD)
	req.PostalCode = "41"
	_, err = f.svc.Place(context.Background(), req)
	assert.True(t, validation.IsValidation(err))

	req = checkoutRequest("cheque")
	_, err = f.svc.Place(context.Background(), req)
	assert.True(t, validation.IsValidation(err))
}

func TestInstantCheckoutPaysThenRecords(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)

	started, err := f.svc.Place(ctx, checkoutRequest(models.PaymentMethodRazorpay))
	require.NoError(t, err)
	require.NotNil(t, started.Intent)
	assert.Nil(t, started.Order)
	assert.Equal(t, 0, f.orderCount(t))
	assert.Equal(t, 2, f.cartSize(t))

	ext := started.Intent.ExternalOrderID
	result := payment.WidgetResult{
		Status:          payment.WidgetSucceeded,
		ExternalOrderID: ext,
		PaymentID:       "pay_1",
		Signature:       payment.Sign(instantSecret, ext, "pay_1"),
	}
	done, err := f.svc.Confirm(ctx, "user-1", result)

	require.NoError(t, err)
	assert.Equal(t, payment.OutcomePaid, done.Outcome)
	assert.Equal(t, models.PaymentStatusPaid, done.Order.PaymentStatus)
	assert.Equal(t, "pay_1", done.Order.PaymentID)
	assert.Equal(t, 0, f.cartSize(t))
	assert.Len(t, f.notifier.orders, 1)

	again, err := f.svc.Confirm(ctx, "user-1", result)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, done.Order.OrderID, again.Order.OrderID)
	assert.Equal(t, 1, f.orderCount(t))
}

func startInstant(t *testing.T, f *checkoutFixture, paymentID string) payment.WidgetResult {
	t.Helper()
	started, err := f.svc.Place(context.Background(), checkoutRequest(models.PaymentMethodRazorpay))
	require.NoError(t, err)
	require.NotNil(t, started.Intent)
	ext := started.Intent.ExternalOrderID
	return payment.WidgetResult{
		Status:          payment.WidgetSucceeded,
		ExternalOrderID: ext,
		PaymentID:       paymentID,
		Signature:       payment.Sign(instantSecret, ext, paymentID),
	}
}

func TestConfirmThatRacesAnotherRecordsOneOrder(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	kv := &hookKV{KV: memstore.NewKV()}
	f := newCheckoutFixtureWith(t, store, store, kv)
	result := startInstant(t, f, "pay_1")

	// the first confirm runs to completion just before the second takes the lock
	var first *PlaceResult
	kv.beforeSetNX = func(key string) {
		if key != intentLockKey(result.ExternalOrderID) {
			return
		}
		kv.beforeSetNX = nil
		var err error
		first, err = f.svc.Confirm(ctx, "user-1", result)
		require.NoError(t, err)
	}

	second, err := f.svc.Confirm(ctx, "user-1", result)

	require.NoError(t, err)
	require.NotNil(t, first)
	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.OrderID, second.Order.OrderID)
	assert.Equal(t, 1, f.orderCount(t))
	assert.Len(t, f.notifier.orders, 1)
}

func TestConfirmWhileIntentIsLockedIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)
	result := startInstant(t, f, "pay_1")
	ok, err := f.kv.SetNX(ctx, intentLockKey(result.ExternalOrderID), "someone-else", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.Confirm(ctx, "user-1", result)

	assert.ErrorIs(t, err, ErrCheckoutInProgress)
	assert.Equal(t, 0, f.orderCount(t))
}

func TestCapturedPaymentThatFailsToRecordIsNotWrittenTwice(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	orders := &flakyOrders{Store: store, failInserts: 1}
	f := newCheckoutFixtureWith(t, store, orders, memstore.NewKV())
	result := startInstant(t, f, "pay_1")

	_, err := f.svc.Confirm(ctx, "user-1", result)

	var perr *payment.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, payment.KindLedgerWrite, perr.Kind)
	assert.Equal(t, "pay_1", perr.PaymentID)
	assert.Equal(t, 0, f.orderCount(t))

	// the store has recovered but the retry must not record a second charge
	_, err = f.svc.Confirm(ctx, "user-1", result)

	require.True(t, errors.As(err, &perr))
	assert.Equal(t, payment.KindLedgerWrite, perr.Kind)
	assert.Equal(t, "pay_1", perr.PaymentID)
	assert.Equal(t, result.ExternalOrderID, perr.ExternalOrderID)
	assert.Equal(t, 0, f.orderCount(t))
	assert.Empty(t, f.notifier.orders)
}

func TestInstantVerificationFailureLeavesNoOrder(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)
	started, err := f.svc.Place(ctx, checkoutRequest(models.PaymentMethodRazorpay))
	require.NoError(t, err)

	ext := started.Intent.ExternalOrderID
	_, err = f.svc.Confirm(ctx, "user-1", payment.WidgetResult{
		Status:          payment.WidgetSucceeded,
		ExternalOrderID: ext,
		PaymentID:       "pay_1",
		Signature:       payment.Sign("forged", ext, "pay_1"),
	})

	assert.True(t, payment.IsKind(err, payment.KindVerification))
	assert.Equal(t, 0, f.orderCount(t))
	assert.Equal(t, 2, f.cartSize(t))
	assert.Empty(t, f.notifier.orders)
}

func TestInstantDismissKeepsCartAndIntent(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)
	started, err := f.svc.Place(ctx, checkoutRequest(models.PaymentMethodRazorpay))
	require.NoError(t, err)
	ext := started.Intent.ExternalOrderID

	_, err = f.svc.Confirm(ctx, "user-1", payment.WidgetResult{Status: payment.WidgetDismissed, ExternalOrderID: ext})
	assert.True(t, payment.IsKind(err, payment.KindCancelled))
	assert.Equal(t, 0, f.orderCount(t))
	assert.Equal(t, 2, f.cartSize(t))

	// the same intent can still be paid afterwards
	res, err := f.svc.Confirm(ctx, "user-1", payment.WidgetResult{
		Status: payment.WidgetSucceeded, ExternalOrderID: ext, PaymentID: "pay_2",
		Signature: payment.Sign(instantSecret, ext, "pay_2"),
	})
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomePaid, res.Outcome)
}

func TestConfirmChecksOwnerAndExistence(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)
	started, err := f.svc.Place(ctx, checkoutRequest(models.PaymentMethodRazorpay))
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, "intruder", payment.WidgetResult{Status: payment.WidgetSucceeded, ExternalOrderID: started.Intent.ExternalOrderID})
	assert.ErrorIs(t, err, ErrIntentOwner)

	_, err = f.svc.Confirm(ctx, "user-1", payment.WidgetResult{Status: payment.WidgetSucceeded, ExternalOrderID: "order_unknown"})
	assert.ErrorIs(t, err, ErrIntentNotFound)
}

func TestRedirectCheckoutAndReturn(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)

	res, err := f.svc.Place(ctx, checkoutRequest(models.PaymentMethodStripe))

	require.NoError(t, err)
	assert.Equal(t, payment.OutcomePending, res.Outcome)
	assert.Equal(t, "https://pay.example/cs_1", res.RedirectURL)
	assert.Equal(t, models.PaymentStatusPending, res.Order.PaymentStatus)
	assert.Equal(t, 0, f.cartSize(t))
	assert.Empty(t, f.notifier.orders)

	for i := 0; i < 2; i++ {
		back, err := f.svc.ReturnFromRedirect(ctx, res.Order.OrderID, "success")
		require.NoError(t, err)
		assert.Equal(t, payment.OutcomePending, back.Outcome)
	}
	assert.Equal(t, []string{res.Order.OrderID}, f.notifier.orders)
}

func TestIdempotencyKeyReplaysFirstOrder(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)
	req := checkoutRequest(models.PaymentMethodCOD)
	req.IdempotencyKey = "attempt-1"

	first, err := f.svc.Place(ctx, req)
	require.NoError(t, err)
	second, err := f.svc.Place(ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.OrderID, second.Order.OrderID)
	assert.Equal(t, 1, f.orderCount(t))
}

func TestConcurrentSubmissionIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)
	ok, err := f.kv.SetNX(ctx, lockKey("user-1"), "someone-else", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.Place(ctx, checkoutRequest(models.PaymentMethodCOD))

	assert.ErrorIs(t, err, ErrCheckoutInProgress)
	assert.Equal(t, 0, f.orderCount(t))
}

func TestSelectedCourierQuoteIsBakedIn(t *testing.T) {
	f := newCheckoutFixture(t)
	req := checkoutRequest(models.PaymentMethodCOD)
	req.CourierID = 12

	res, err := f.svc.Place(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, int64(150), res.Order.ShippingCost)
	assert.Equal(t, int64(2200+396+150), res.Order.Total)
}

func TestUnavailableCourierFallsBackToFlatFee(t *testing.T) {
	f := newCheckoutFixture(t)
	f.rates.quotes = nil
	req := checkoutRequest(models.PaymentMethodCOD)
	req.CourierID = 12

	res, err := f.svc.Place(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, int64(250), res.Order.ShippingCost)
}

func TestQuoteListsRatesAndTotals(t *testing.T) {
	f := newCheckoutFixture(t)

	q, err := f.svc.Quote(context.Background(), "user-1", "411001", models.PaymentMethodCOD, 11)

	require.NoError(t, err)
	assert.Len(t, q.Rates, 2)
	require.NotNil(t, q.Selected)
	assert.Equal(t, int64(80), q.Totals.ShippingCost)
	assert.Equal(t, int64(2200+396+80), q.Totals.Total)

	q, err = f.svc.Quote(context.Background(), "user-1", "", models.PaymentMethodCOD, 0)
	require.NoError(t, err)
	assert.Nil(t, q.Selected)
	assert.Equal(t, int64(250), q.Totals.ShippingCost)
}

func TestPrefillUsesDefaultAddress(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)
	phone := "9000000000"
	_, err := f.profiles.CreateOrUpdate(ctx, "user-1", ProfileUpdate{Phone: &phone})
	require.NoError(t, err)
	addr := testAddress()
	addr.AddressLine2 = "Flat 4"
	_, err = f.profiles.AddAddress(ctx, "user-1", addr)
	require.NoError(t, err)

	req, err := f.svc.Prefill(ctx, "user-1", "asha@example.com", "Asha")

	require.NoError(t, err)
	assert.Equal(t, "12 MG Road, Flat 4", req.Address)
	assert.Equal(t, "411001", req.PostalCode)
	assert.Equal(t, phone, req.Phone)
	assert.Equal(t, models.PaymentMethodCOD, req.PaymentMethod)
}
