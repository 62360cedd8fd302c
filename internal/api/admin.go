package api

import (
	"net/http"

	"printshop-orders/internal/admin"
	"printshop-orders/internal/auth"
	"printshop-orders/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type orderStatusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
	Note   string             `json:"note"`
}

type ticketStatusRequest struct {
	Status models.TicketStatus `json:"status" binding:"required"`
}

func (h *Handler) adminLogin(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}
	token, expires, err := h.d.Auth.Login(req.Username, req.Password)
	if err != nil {
		h.logger.Warn("Admin login rejected", zap.String("username", req.Username), zap.Error(err))
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": expires})
}

func (h *Handler) adminOrders(c *gin.Context) {
	var f admin.Filter
	if err := c.ShouldBindQuery(&f); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid filter", "details": err.Error()})
		return
	}
	orders, err := h.d.Admin.Orders(c.Request.Context(), f)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (h *Handler) adminTransitionOrder(c *gin.Context) {
	var req orderStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	order, err := h.d.Admin.TransitionOrder(c.Request.Context(), c.Param("id"), req.Status, req.Note)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Info("Order status set by operator",
		zap.String("order_id", order.OrderID),
		zap.String("status", string(order.Status)),
		zap.String("operator", auth.Subject(c)))
	c.JSON(http.StatusOK, order)
}

func (h *Handler) adminTickets(c *gin.Context) {
	var f admin.Filter
	if err := c.ShouldBindQuery(&f); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid filter", "details": err.Error()})
		return
	}
	tickets, err := h.d.Admin.Tickets(c.Request.Context(), f)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": tickets, "count": len(tickets)})
}

func (h *Handler) adminTransitionTicket(c *gin.Context) {
	var req ticketStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	ticket, err := h.d.Admin.TransitionTicket(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

func (h *Handler) adminStats(c *gin.Context) {
	stats, err := h.d.Admin.Stats(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
