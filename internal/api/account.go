package api

import (
	"net/http"
	"strconv"

	"printshop-orders/internal/models"
	"printshop-orders/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// getOrder looks an order up by its business id, as the tracking page does
func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.d.Ledger.GetOrderByOrderID(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) trackOrder(c *gin.Context) {
	order, err := h.d.Ledger.GetOrderByOrderID(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if h.d.Tracker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "tracking is not configured"})
		return
	}
	doc, err := h.d.Tracker.Track(c.Request.Context(), order.ShipmentID, order.OrderID)
	if err != nil {
		h.logger.Warn("Tracking lookup failed", zap.String("order_id", order.OrderID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "tracking unavailable", "status": order.Status})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order_id":    order.OrderID,
		"status":      order.Status,
		"shipment_id": order.ShipmentID,
		"tracking":    doc,
	})
}

func (h *Handler) myOrders(c *gin.Context) {
	orders, err := h.d.Ledger.ListUserOrders(c.Request.Context(), userID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) myTickets(c *gin.Context) {
	tickets, err := h.d.Tickets.ListUserTickets(c.Request.Context(), userID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": tickets})
}

func (h *Handler) getProfile(c *gin.Context) {
	p, err := h.d.Profiles.GetProfile(c.Request.Context(), userID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) updateProfile(c *gin.Context) {
	var upd service.ProfileUpdate
	if !bindJSON(c, &upd) {
		return
	}
	if upd.Email == nil {
		if email := c.GetHeader(HeaderUserEmail); email != "" {
			upd.Email = &email
		}
	}
	p, err := h.d.Profiles.CreateOrUpdate(c.Request.Context(), userID(c), upd)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) addAddress(c *gin.Context) {
	var addr models.Address
	if !bindJSON(c, &addr) {
		return
	}
	p, err := h.d.Profiles.AddAddress(c.Request.Context(), userID(c), addr)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) updateAddress(c *gin.Context) {
	index, ok := addressIndex(c)
	if !ok {
		return
	}
	var addr models.Address
	if !bindJSON(c, &addr) {
		return
	}
	p, err := h.d.Profiles.UpdateAddress(c.Request.Context(), userID(c), index, addr)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) deleteAddress(c *gin.Context) {
	index, ok := addressIndex(c)
	if !ok {
		return
	}
	p, err := h.d.Profiles.DeleteAddress(c.Request.Context(), userID(c), index)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) setDefaultAddress(c *gin.Context) {
	index, ok := addressIndex(c)
	if !ok {
		return
	}
	p, err := h.d.Profiles.SetDefaultAddress(c.Request.Context(), userID(c), index)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// createTicket accepts tickets from signed-in and anonymous customers
func (h *Handler) createTicket(c *gin.Context) {
	var req service.NewTicket
	if !bindJSON(c, &req) {
		return
	}
	req.UserID = userID(c)
	if req.UserEmail == "" {
		req.UserEmail = c.GetHeader(HeaderUserEmail)
	}
	if req.Name == "" {
		req.Name = c.GetHeader(HeaderUserName)
	}
	ticket, err := h.d.Tickets.CreateTicket(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ticket)
}

func addressIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid address index"})
		return 0, false
	}
	return index, true
}
