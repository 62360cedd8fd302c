package api

import (
	"errors"
	"net/http"

	"printshop-orders/internal/auth"
	"printshop-orders/internal/cart"
	"printshop-orders/internal/payment"
	"printshop-orders/internal/service"
	"printshop-orders/internal/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const reconciliationMessage = "Your payment was received but the order could not be recorded. " +
	"Please contact support with this payment reference and do not pay again."

// respondError maps service and payment errors onto HTTP responses
func (h *Handler) respondError(c *gin.Context, err error) {
	var verr *validation.Error
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": verr.Fields})
		return
	}

	var perr *payment.Error
	if errors.As(err, &perr) {
		h.respondPaymentError(c, perr)
		return
	}

	switch {
	case errors.Is(err, service.ErrCheckoutInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "CHECKOUT_IN_PROGRESS"})
	case errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, service.ErrTicketNotFound),
		errors.Is(err, service.ErrProfileNotFound),
		errors.Is(err, service.ErrIntentNotFound),
		errors.Is(err, service.ErrAddressIndex):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrTerminalStatus),
		errors.Is(err, service.ErrNoStatusChange),
		errors.Is(err, service.ErrStatusConflict),
		errors.Is(err, service.ErrTicketResolved):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrInvalidProduct):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrIntentOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admin sign-in is not configured"})
	default:
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *Handler) respondPaymentError(c *gin.Context, perr *payment.Error) {
	body := gin.H{"error": perr.Reason, "kind": perr.Kind, "method": perr.Method}
	switch perr.Kind {
	case payment.KindValidation:
		c.JSON(http.StatusBadRequest, body)
	case payment.KindCancelled:
		c.JSON(http.StatusConflict, body)
	case payment.KindDeclined, payment.KindVerification:
		c.JSON(http.StatusPaymentRequired, body)
	case payment.KindConfiguration, payment.KindUnavailable, payment.KindLoadFailure:
		h.logger.Warn("Payment method unavailable", zap.String("kind", string(perr.Kind)), zap.Error(perr))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service unavailable", "kind": perr.Kind, "method": perr.Method})
	case payment.KindLedgerWrite:
		h.logger.Error("Payment captured without an order",
			zap.String("payment_id", perr.PaymentID),
			zap.String("external_order_id", perr.ExternalOrderID),
			zap.Error(perr))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":             reconciliationMessage,
			"code":              "RECONCILIATION_REQUIRED",
			"payment_id":        perr.PaymentID,
			"external_order_id": perr.ExternalOrderID,
		})
	default:
		c.JSON(http.StatusInternalServerError, body)
	}
}
