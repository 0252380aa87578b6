// Package httpapi is the administrative HTTP surface of the fleet: bot
// lifecycle, order intake, notifications, stats and metrics.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alejandrodnm/botfleet/internal/application/fleet"
	"github.com/alejandrodnm/botfleet/internal/domain"
	"github.com/alejandrodnm/botfleet/internal/ports"
)

// Fleet is the registry as seen by the API.
type Fleet interface {
	Register(ctx context.Context, identity domain.BotIdentity) (string, error)
	Pause(ctx context.Context, botID string) error
	Resume(ctx context.Context, botID string) error
	Restart(ctx context.Context, botID string, force bool) error
	Delete(ctx context.Context, botID string) error
	List(filter domain.BotFilter) []domain.BotRecord
	Get(botID string) (domain.BotRecord, error)
	Inventory(botID string) (*domain.Inventory, error)
	AvailableItems() []fleet.BotItem
	Stats() fleet.Stats
}

// Orders is the order intake and history the API reads and writes.
type Orders interface {
	CreateOrder(ctx context.Context, order domain.Order) error
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context, botID string, status domain.OrderStatus) ([]domain.Order, error)
	ListOffers(ctx context.Context, botID string) ([]domain.Offer, error)
}

// Deps are the collaborators of the API server.
type Deps struct {
	Fleet         Fleet
	Orders        Orders
	Notifications ports.NotificationLog
	Hub           *Hub // optional; disables /ws/notifications when nil
	Logger        *slog.Logger
}

// Server serves the admin API.
type Server struct {
	fleet  Fleet
	orders Orders
	notes  ports.NotificationLog
	hub    *Hub
	log    *slog.Logger
	now    func() time.Time
	start  time.Time
}

// New creates the server.
func New(deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		fleet:  deps.Fleet,
		orders: deps.Orders,
		notes:  deps.Notifications,
		hub:    deps.Hub,
		log:    log,
		now:    time.Now,
		start:  time.Now(),
	}
}

// Router builds the gin engine.
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if s.hub != nil {
		r.GET("/ws/notifications", gin.WrapF(s.hub.ServeWS))
	}

	api := r.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/items", s.handleItems)

	bots := api.Group("/bots")
	bots.GET("", s.handleBotsList)
	bots.POST("", s.handleBotsCreate)
	botID := bots.Group("/:id")
	botID.GET("", s.handleBotGet)
	botID.DELETE("", s.handleBotDelete)
	botID.POST("/pause", s.handleBotPause)
	botID.POST("/resume", s.handleBotResume)
	botID.POST("/restart", s.handleBotRestart)
	botID.GET("/inventory", s.handleBotInventory)
	botID.GET("/offers", s.handleBotOffers)

	orders := api.Group("/orders")
	orders.GET("", s.handleOrdersList)
	orders.POST("", s.handleOrdersCreate)
	orders.GET("/:id", s.handleOrderGet)

	notes := api.Group("/notifications")
	notes.GET("", s.handleNotificationsList)
	notes.DELETE("", s.handleNotificationsClear)

	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// writeError maps domain errors to status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.Error("http: request failed", "path", c.FullPath(), "err", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func badRequest(field, reason string) error {
	return &domain.ValidationError{Field: field, Reason: reason}
}

func (s *Server) handleHealth(c *gin.Context) {
	st := s.fleet.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"timestamp":   s.now().UTC(),
		"uptime_s":    int64(s.now().Sub(s.start).Seconds()),
		"total_bots":  st.Total,
		"active_bots": st.Active,
	})
}

func (s *Server) handleStats(c *gin.Context) {
	st := s.fleet.Stats()
	resp := gin.H{
		"total_bots":     st.Total,
		"active_bots":    st.Active,
		"paused_bots":    st.Paused,
		"escalated_bots": st.Escalated,
		"total_items":    st.Items,
	}
	if s.notes != nil {
		if ns, err := s.notes.ListNotifications(c.Request.Context()); err == nil {
			resp["notifications"] = len(ns)
		}
	}
	if s.hub != nil {
		resp["ws_subscribers"] = s.hub.Subscribers()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleItems(c *gin.Context) {
	items := s.fleet.AvailableItems()
	if items == nil {
		items = []fleet.BotItem{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total_count": len(items)})
}

func (s *Server) handleNotificationsList(c *gin.Context) {
	ns, err := s.notes.ListNotifications(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": ns, "count": len(ns)})
}

func (s *Server) handleNotificationsClear(c *gin.Context) {
	if err := s.notes.ClearNotifications(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func parseBool(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}
