package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alejandrodnm/botfleet/internal/domain"
)

type createOrderRequest struct {
	BotID     string           `json:"bot_id"`
	PartnerID string           `json:"partner_id"`
	Items     []domain.ItemRef `json:"items"`
}

// handleOrdersCreate is the order intake: it stores a pending order that the
// bot's worker picks up on its next cycle.
func (s *Server) handleOrdersCreate(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, badRequest("body", err.Error()))
		return
	}
	if req.BotID != "" {
		if _, err := s.fleet.Get(req.BotID); err != nil {
			s.writeError(c, err)
			return
		}
	}
	order, err := domain.NewOrder(req.BotID, req.PartnerID, req.Items, s.now().UTC())
	if err != nil {
		s.writeError(c, err)
		return
	}
	if err := s.orders.CreateOrder(c.Request.Context(), order); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (s *Server) handleOrdersList(c *gin.Context) {
	status := domain.OrderStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		s.writeError(c, badRequest("status", "unknown order status"))
		return
	}
	orders, err := s.orders.ListOrders(c.Request.Context(), c.Query("bot_id"), status)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "total_count": len(orders)})
}

func (s *Server) handleOrderGet(c *gin.Context) {
	order, err := s.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
