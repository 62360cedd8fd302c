package api

import (
	"net/http"
	"strconv"

	"printshop-orders/internal/cart"
	"printshop-orders/internal/models"
	"printshop-orders/internal/service"

	"github.com/gin-gonic/gin"
)

type addItemRequest struct {
	Product  models.Product `json:"product"`
	Quantity int            `json:"quantity"`
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) getCart(c *gin.Context) {
	ct, err := h.d.Carts.Get(c.Request.Context(), c.Param("session"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cartView(ct))
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req addItemRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	ct, err := h.d.Carts.AddItem(c.Request.Context(), c.Param("session"), req.Product, req.Quantity)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cartView(ct))
}

func (h *Handler) updateCartItem(c *gin.Context) {
	var req quantityRequest
	if !bindJSON(c, &req) {
		return
	}
	ct, err := h.d.Carts.UpdateQuantity(c.Request.Context(), c.Param("session"), c.Param("product"), req.Quantity)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cartView(ct))
}

func (h *Handler) removeCartItem(c *gin.Context) {
	ct, err := h.d.Carts.RemoveItem(c.Request.Context(), c.Param("session"), c.Param("product"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cartView(ct))
}

func (h *Handler) clearCart(c *gin.Context) {
	if err := h.d.Carts.Clear(c.Request.Context(), c.Param("session")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// shippingRates returns live quotes; an empty list means flat shipping applies
func (h *Handler) shippingRates(c *gin.Context) {
	postal := c.Query("postal_code")
	if postal == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "postal_code is required"})
		return
	}
	weight := h.d.WeightKg
	if w := c.Query("weight"); w != "" {
		parsed, err := strconv.ParseFloat(w, 64)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "weight must be a positive number"})
			return
		}
		weight = parsed
	}
	cod, _ := strconv.ParseBool(c.DefaultQuery("cod", "false"))

	rates := []models.ShippingRateQuote{}
	if h.d.Rates != nil {
		rates = h.d.Rates.GetRates(c.Request.Context(), service.RateRequest{
			DeliveryPostalCode: postal,
			WeightKg:           weight,
			COD:                cod,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"rates":    rates,
		"fallback": len(rates) == 0,
	})
}

func cartView(ct *cart.Cart) gin.H {
	return gin.H{
		"cart":        ct,
		"total_items": ct.TotalItemCount(),
		"total_price": ct.TotalPrice(),
	}
}
