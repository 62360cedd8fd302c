package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"printshop-orders/internal/admin"
	"printshop-orders/internal/auth"
	"printshop-orders/internal/cart"
	"printshop-orders/internal/memstore"
	"printshop-orders/internal/models"
	"printshop-orders/internal/payment"
	"printshop-orders/internal/pricing"
	"printshop-orders/internal/service"
	"printshop-orders/internal/shipping"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "api-test-secret"

type stubInstant struct{}

func (stubInstant) CreateIntent(_ context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	return &payment.Intent{ExternalOrderID: "order_" + req.Reference, AmountMinor: req.AmountMinor, Currency: req.Currency, Reference: req.Reference}, nil
}

func (stubInstant) VerifySignature(ext, pid, sig string) (bool, error) {
	return payment.VerifySignature(testSecret, ext, pid, sig), nil
}

type stubRedirect struct{}

func (stubRedirect) CreateSession(_ context.Context, _ payment.SessionRequest) (*payment.Session, error) {
	return &payment.Session{ID: "cs_1", URL: "https://pay.example/cs_1"}, nil
}

type testServer struct {
	router *gin.Engine
	ledger *service.Ledger
	carts  *cart.Service
}

func newTestServer(t *testing.T, ready map[string]PingFunc) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memstore.New()
	kv := memstore.NewKV()
	ledger := service.NewLedger(store, nil, pricing.DefaultRules())
	carts := cart.NewService(kv)
	profiles := service.NewProfileService(store)
	tickets := service.NewTicketService(store, nil, nil)
	carrier := shipping.NewSimulated(time.Now)
	coord := payment.NewCoordinator(
		payment.NewInstant(stubInstant{}, ledger, "INR"),
		payment.NewRedirect(stubRedirect{}, ledger, "https://shop.example", "INR"),
		payment.NewOffline(ledger),
	)
	checkout := service.NewCheckoutService(service.CheckoutDeps{
		Carts:       carts,
		Coordinator: coord,
		Ledger:      ledger,
		Profiles:    profiles,
		Guard:       service.NewSubmissionGuard(kv, time.Minute, time.Hour),
		KV:          kv,
		Rates:       carrier,
		WeightKg:    0.5,
	})

	h := NewHandler(Deps{
		Carts:       carts,
		Checkout:    checkout,
		Ledger:      ledger,
		Profiles:    profiles,
		Tickets:     tickets,
		Admin:       admin.NewViewModel(ledger, tickets),
		Auth:        auth.NewAuthenticator(auth.Config{Username: "ops", Password: "hunter22", Email: "ops@shop.example", TrustEmailHeader: true}),
		Coordinator: coord,
		Rates:       carrier,
		Tracker:     carrier,
		WeightKg:    0.5,
		Ready:       ready,
	})
	router := gin.New()
	h.SetupRoutes(router)
	return &testServer{router: router, ledger: ledger, carts: carts}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) fillCart(t *testing.T, session string) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/cart/"+session+"/items", gin.H{
		"product":  models.Product{ID: "vase", Name: "Spiral Vase", Price: 1200},
		"quantity": 2,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

var asha = map[string]string{HeaderUserID: "user-1", HeaderUserEmail: "asha@example.com", HeaderUserName: "Asha Rao"}

func withKey(key string) map[string]string {
	h := map[string]string{HeaderIdempotencyKey: key}
	for k, v := range asha {
		h[k] = v
	}
	return h
}

func checkoutForm(method models.PaymentMethod) gin.H {
	return gin.H{
		"session":        "sess-1",
		"name":           "Asha Rao",
		"email":          "asha@example.com",
		"phone":          "9876543210",
		"address":        "12 MG Road",
		"city":           "Pune",
		"state":          "Maharashtra",
		"postal_code":    "411001",
		"payment_method": method,
	}
}

func TestHealthAndReadiness(t *testing.T) {
	s := newTestServer(t, map[string]PingFunc{
		"store": func(context.Context) error { return nil },
	})
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/ready", nil, nil).Code)

	down := newTestServer(t, map[string]PingFunc{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	w := down.do(t, http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"unavailable"`)
}

func TestCartEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	s.fillCart(t, "sess-1")

	w := s.do(t, http.MethodPatch, "/api/v1/cart/sess-1/items/vase", gin.H{"quantity": 3}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		TotalItems int   `json:"total_items"`
		TotalPrice int64 `json:"total_price"`
	}
	decode(t, w, &body)
	assert.Equal(t, 3, body.TotalItems)
	assert.Equal(t, int64(3600), body.TotalPrice)

	w = s.do(t, http.MethodPost, "/api/v1/cart/sess-1/items", gin.H{"product": gin.H{"id": "vase"}, "quantity": -1}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/api/v1/cart/sess-1", nil, nil).Code)
	w = s.do(t, http.MethodGet, "/api/v1/cart/sess-1", nil, nil)
	decode(t, w, &body)
	assert.Zero(t, body.TotalItems)
}

func TestShippingRatesUseCarrierQuotes(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/api/v1/shipping/rates?postal_code=411001&cod=true", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Rates    []models.ShippingRateQuote `json:"rates"`
		Fallback bool                       `json:"fallback"`
	}
	decode(t, w, &body)
	assert.Len(t, body.Rates, 2)
	assert.False(t, body.Fallback)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/shipping/rates", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/shipping/rates?postal_code=1&weight=x", nil, nil).Code)
}

func TestCheckoutRequiresSignedInUser(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodPost, "/api/v1/checkout", checkoutForm(models.PaymentMethodCOD), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCashOnDeliveryCheckoutAndReplay(t *testing.T) {
	s := newTestServer(t, nil)
	s.fillCart(t, "sess-1")

	w := s.do(t, http.MethodPost, "/api/v1/checkout", checkoutForm(models.PaymentMethodCOD), withKey("k-1"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res service.PlaceResult
	decode(t, w, &res)
	require.NotNil(t, res.Order)
	assert.Equal(t, payment.OutcomePending, res.Outcome)
	assert.Equal(t, int64(2400), res.Order.Subtotal)

	c, err := s.carts.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())

	w = s.do(t, http.MethodPost, "/api/v1/checkout", checkoutForm(models.PaymentMethodCOD), withKey("k-1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var replay service.PlaceResult
	decode(t, w, &replay)
	assert.True(t, replay.Replayed)
	assert.Equal(t, res.Order.OrderID, replay.Order.OrderID)

	w = s.do(t, http.MethodGet, "/api/v1/orders/"+res.Order.OrderID, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/orders/TS-NOPE", nil, nil).Code)
}

func TestCheckoutValidationErrorsListFields(t *testing.T) {
	s := newTestServer(t, nil)
	s.fillCart(t, "sess-1")

	form := checkoutForm(models.PaymentMethodCOD)
	form["postal_code"] = "12"
	form["email"] = "not-an-email"
	w := s.do(t, http.MethodPost, "/api/v1/checkout", form, asha)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body struct {
		Fields map[string]string `json:"fields"`
	}
	decode(t, w, &body)
	assert.Contains(t, body.Fields, "postal_code")
	assert.Contains(t, body.Fields, "email")
}

func TestInstantPaymentMustUseIntentRoute(t *testing.T) {
	s := newTestServer(t, nil)
	s.fillCart(t, "sess-1")

	w := s.do(t, http.MethodPost, "/api/v1/checkout", checkoutForm(models.PaymentMethodRazorpay), asha)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInstantPaymentIntentAndConfirm(t *testing.T) {
	s := newTestServer(t, nil)
	s.fillCart(t, "sess-1")

	w := s.do(t, http.MethodPost, "/api/v1/checkout/intent", checkoutForm(models.PaymentMethodRazorpay), asha)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var opened service.PlaceResult
	decode(t, w, &opened)
	require.NotNil(t, opened.Intent)
	assert.Nil(t, opened.Order)

	ext := opened.Intent.ExternalOrderID
	result := payment.WidgetResult{
		Status:          payment.WidgetSucceeded,
		PaymentID:       "pay_1",
		ExternalOrderID: ext,
		Signature:       payment.Sign(testSecret, ext, "pay_1"),
	}

	other := map[string]string{HeaderUserID: "user-2"}
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/api/v1/checkout/confirm", result, other).Code)

	w = s.do(t, http.MethodPost, "/api/v1/checkout/confirm", result, asha)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var paid service.PlaceResult
	decode(t, w, &paid)
	assert.Equal(t, payment.OutcomePaid, paid.Outcome)
	assert.Equal(t, models.PaymentStatusPaid, paid.Order.PaymentStatus)

	w = s.do(t, http.MethodPost, "/api/v1/checkout/confirm", result, asha)
	require.Equal(t, http.StatusOK, w.Code)
	var again service.PlaceResult
	decode(t, w, &again)
	assert.True(t, again.Replayed)
	assert.Equal(t, paid.Order.OrderID, again.Order.OrderID)
}

func TestInstantPaymentBadSignatureIsPaymentRequired(t *testing.T) {
	s := newTestServer(t, nil)
	s.fillCart(t, "sess-1")

	w := s.do(t, http.MethodPost, "/api/v1/checkout/intent", checkoutForm(""), asha)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var opened service.PlaceResult
	decode(t, w, &opened)

	w = s.do(t, http.MethodPost, "/api/v1/checkout/confirm", payment.WidgetResult{
		Status:          payment.WidgetSucceeded,
		PaymentID:       "pay_1",
		ExternalOrderID: opened.Intent.ExternalOrderID,
		Signature:       "forged",
	}, asha)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	all, err := s.ledger.ListAllOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestVerifyPaymentRelay(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/api/v1/payments/verify", gin.H{
		"external_order_id": "order_1", "payment_id": "pay_1", "signature": payment.Sign(testSecret, "order_1", "pay_1"),
	}, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/payments/verify", gin.H{
		"external_order_id": "order_1", "payment_id": "pay_1", "signature": "nope",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRedirectCheckoutAndReturn(t *testing.T) {
	s := newTestServer(t, nil)
	s.fillCart(t, "sess-1")

	w := s.do(t, http.MethodPost, "/api/v1/checkout", checkoutForm(models.PaymentMethodStripe), asha)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res service.PlaceResult
	decode(t, w, &res)
	assert.Equal(t, "https://pay.example/cs_1", res.RedirectURL)

	w = s.do(t, http.MethodGet, "/api/v1/checkout/return?payment=success&order_id="+res.Order.OrderID, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/checkout/return?payment=cancelled&order_id="+res.Order.OrderID, nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestTrackingUsesCarrier(t *testing.T) {
	s := newTestServer(t, nil)
	s.fillCart(t, "sess-1")
	w := s.do(t, http.MethodPost, "/api/v1/checkout", checkoutForm(models.PaymentMethodCOD), asha)
	require.Equal(t, http.StatusCreated, w.Code)
	var res service.PlaceResult
	decode(t, w, &res)

	w = s.do(t, http.MethodGet, "/api/v1/orders/"+res.Order.OrderID+"/tracking", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"tracking"`)
}

func TestProfileAndAddresses(t *testing.T) {
	s := newTestServer(t, nil)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/me/profile", nil, asha).Code)

	addr := models.Address{Label: "Home", FullName: "Asha Rao", Phone: "9876543210", AddressLine1: "12 MG Road", City: "Pune", State: "Maharashtra", PostalCode: "411001"}
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/v1/me/addresses", addr, asha).Code)
	addr.Label = "Studio"
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/v1/me/addresses", addr, asha).Code)

	w := s.do(t, http.MethodPost, "/api/v1/me/addresses/1/default", nil, asha)
	require.Equal(t, http.StatusOK, w.Code)
	var p models.UserProfile
	decode(t, w, &p)
	require.Len(t, p.Addresses, 2)
	assert.False(t, p.Addresses[0].IsDefault)
	assert.True(t, p.Addresses[1].IsDefault)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/api/v1/me/addresses/5", nil, asha).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodDelete, "/api/v1/me/addresses/x", nil, asha).Code)

	name := "Asha R."
	w = s.do(t, http.MethodPut, "/api/v1/me/profile", service.ProfileUpdate{DisplayName: &name}, asha)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &p)
	assert.Equal(t, "Asha R.", p.DisplayName)
	assert.Equal(t, "asha@example.com", p.Email)
}

func TestCreateTicketFillsIdentity(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/api/v1/tickets", gin.H{
		"issue_type": "Defective Print",
		"message":    "The vase arrived with layer shifts.",
	}, asha)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var ticket models.SupportTicket
	decode(t, w, &ticket)
	assert.Equal(t, "user-1", ticket.UserID)
	assert.Equal(t, "asha@example.com", ticket.UserEmail)
	assert.Equal(t, models.TicketStatusOpen, ticket.Status)

	w = s.do(t, http.MethodPost, "/api/v1/tickets", gin.H{"issue_type": "Unknown", "message": "short"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminLoginAndTransitions(t *testing.T) {
	s := newTestServer(t, nil)
	s.fillCart(t, "sess-1")
	w := s.do(t, http.MethodPost, "/api/v1/checkout", checkoutForm(models.PaymentMethodCOD), asha)
	require.Equal(t, http.StatusCreated, w.Code)
	var res service.PlaceResult
	decode(t, w, &res)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/v1/admin/orders", nil, nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		s.do(t, http.MethodPost, "/api/v1/admin/login", gin.H{"username": "ops", "password": "wrong"}, nil).Code)

	w = s.do(t, http.MethodPost, "/api/v1/admin/login", gin.H{"username": "ops", "password": "hunter22"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var login struct {
		Token string `json:"token"`
	}
	decode(t, w, &login)
	bearer := map[string]string{"Authorization": "Bearer " + login.Token}

	w = s.do(t, http.MethodGet, "/api/v1/admin/orders?q=asha", nil, bearer)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), res.Order.OrderID)

	path := "/api/v1/admin/orders/" + res.Order.OrderID + "/status"
	w = s.do(t, http.MethodPost, path, gin.H{"status": models.OrderStatusProduction, "note": "printing"}, bearer)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var moved models.Order
	decode(t, w, &moved)
	assert.Equal(t, models.OrderStatusProduction, moved.Status)

	w = s.do(t, http.MethodPost, path, gin.H{"status": models.OrderStatusProduction}, bearer)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, path, gin.H{"status": "lost"}, bearer)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	opsEmail := map[string]string{HeaderUserEmail: "OPS@shop.example"}
	w = s.do(t, http.MethodGet, "/api/v1/admin/stats", nil, opsEmail)
	require.Equal(t, http.StatusOK, w.Code)
	var stats admin.Stats
	decode(t, w, &stats)
	assert.Equal(t, 1, stats.TotalOrders)
}

func TestLedgerWriteFailureAsksForReconciliation(t *testing.T) {
	h := &Handler{logger: zap.NewNop()}

	router := gin.New()
	router.GET("/x", func(c *gin.Context) {
		h.respondError(c, &payment.Error{Kind: payment.KindLedgerWrite, PaymentID: "pay_9", ExternalOrderID: "order_9"})
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, "RECONCILIATION_REQUIRED", body["code"])
	assert.Equal(t, "pay_9", body["payment_id"])
}
