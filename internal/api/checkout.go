package api

import (
	"net/http"

	"printshop-orders/internal/models"
	"printshop-orders/internal/payment"
	"printshop-orders/internal/service"
	"printshop-orders/internal/validation"

	"github.com/gin-gonic/gin"
)

type checkoutBody struct {
	Session string `json:"session" binding:"required"`
	service.CheckoutRequest
}

type quoteRequest struct {
	Session       string               `json:"session" binding:"required"`
	PostalCode    string               `json:"postal_code"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
	CourierID     int64                `json:"courier_id"`
}

type verifyRequest struct {
	ExternalOrderID string `json:"external_order_id" binding:"required"`
	PaymentID       string `json:"payment_id" binding:"required"`
	Signature       string `json:"signature" binding:"required"`
}

func (h *Handler) prefill(c *gin.Context) {
	req, err := h.d.Checkout.Prefill(c.Request.Context(), userID(c), c.GetHeader(HeaderUserEmail), c.GetHeader(HeaderUserName))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *Handler) quote(c *gin.Context) {
	var req quoteRequest
	if !bindJSON(c, &req) {
		return
	}
	q, err := h.d.Checkout.Quote(c.Request.Context(), req.Session, req.PostalCode, req.PaymentMethod, req.CourierID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

// placeOrder handles cash, manual and hosted-page checkouts
func (h *Handler) placeOrder(c *gin.Context) {
	req, ok := h.bindCheckout(c)
	if !ok {
		return
	}
	if req.PaymentMethod == models.PaymentMethodRazorpay {
		h.respondError(c, validation.Field("payment_method", "instant payments start at /checkout/intent"))
		return
	}
	h.place(c, req)
}

// createIntent opens an instant payment the browser widget completes
func (h *Handler) createIntent(c *gin.Context) {
	req, ok := h.bindCheckout(c)
	if !ok {
		return
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = models.PaymentMethodRazorpay
	}
	if req.PaymentMethod != models.PaymentMethodRazorpay {
		h.respondError(c, validation.Field("payment_method", "only instant payments open an intent"))
		return
	}
	h.place(c, req)
}

func (h *Handler) bindCheckout(c *gin.Context) (service.CheckoutRequest, bool) {
	var body checkoutBody
	if !bindJSON(c, &body) {
		return service.CheckoutRequest{}, false
	}
	req := body.CheckoutRequest
	req.Session = body.Session
	req.UserID = userID(c)
	req.IdempotencyKey = c.GetHeader(HeaderIdempotencyKey)
	return req, true
}

func (h *Handler) place(c *gin.Context, req service.CheckoutRequest) {
	res, err := h.d.Checkout.Place(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(placeStatus(res), res)
}

// confirmPayment takes the widget's callback and records the order
func (h *Handler) confirmPayment(c *gin.Context) {
	var result payment.WidgetResult
	if !bindJSON(c, &result) {
		return
	}
	res, err := h.d.Checkout.Confirm(c.Request.Context(), userID(c), result)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(placeStatus(res), res)
}

// redirectReturn is where the hosted payment page sends the browser back
func (h *Handler) redirectReturn(c *gin.Context) {
	res, err := h.d.Checkout.ReturnFromRedirect(c.Request.Context(), c.Query("order_id"), c.Query("payment"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// verifyPayment checks an instant-payment signature without touching orders
func (h *Handler) verifyPayment(c *gin.Context) {
	var req verifyRequest
	if !bindJSON(c, &req) {
		return
	}
	ok, err := h.d.Coordinator.VerifyInstant(req.ExternalOrderID, req.PaymentID, req.Signature)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"verified": false, "error": "signature mismatch"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": true})
}

func placeStatus(res *service.PlaceResult) int {
	if res.Replayed || res.Order == nil {
		return http.StatusOK
	}
	return http.StatusCreated
}
