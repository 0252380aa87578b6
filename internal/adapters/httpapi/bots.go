package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/alejandrodnm/botfleet/internal/domain"
)

type createBotRequest struct {
	Name           string `json:"name"`
	AccountName    string `json:"account_name"`
	Username       string `json:"username"` // alias of account_name
	CredentialsRef string `json:"credentials_ref"`
	GameAppID      int    `json:"game_app_id"`
	Proxy          string `json:"proxy"`
}

func (r createBotRequest) identity() domain.BotIdentity {
	account := r.AccountName
	if account == "" {
		account = r.Username
	}
	return domain.BotIdentity{
		Name:           strings.TrimSpace(r.Name),
		AccountName:    strings.TrimSpace(account),
		CredentialsRef: strings.TrimSpace(r.CredentialsRef),
		GameAppID:      r.GameAppID,
		ProxyRef:       strings.TrimSpace(r.Proxy),
	}
}

func (s *Server) handleBotsList(c *gin.Context) {
	filter := domain.BotFilter{
		Name:        c.Query("name"),
		AccountName: c.Query("username"),
	}
	if v := c.Query("game_app_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(c, badRequest("game_app_id", "must be an integer"))
			return
		}
		filter.GameAppID = id
	}
	bots := s.fleet.List(filter)
	c.JSON(http.StatusOK, gin.H{"bots": bots, "total_count": len(bots)})
}

func (s *Server) handleBotsCreate(c *gin.Context) {
	var req createBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, badRequest("body", err.Error()))
		return
	}
	id, err := s.fleet.Register(c.Request.Context(), req.identity())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"bot_id": id})
}

func (s *Server) handleBotGet(c *gin.Context) {
	rec, err := s.fleet.Get(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleBotDelete(c *gin.Context) {
	if err := s.fleet.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bot_id": c.Param("id"), "status": "deleted"})
}

func (s *Server) handleBotPause(c *gin.Context) {
	if err := s.fleet.Pause(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bot_id": c.Param("id"), "status": "paused"})
}

func (s *Server) handleBotResume(c *gin.Context) {
	if err := s.fleet.Resume(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bot_id": c.Param("id"), "status": "resumed"})
}

func (s *Server) handleBotRestart(c *gin.Context) {
	force := parseBool(c.Query("force"))
	if err := s.fleet.Restart(c.Request.Context(), c.Param("id"), force); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bot_id": c.Param("id"), "status": "restarted", "force": force})
}

func (s *Server) handleBotInventory(c *gin.Context) {
	id := c.Param("id")
	inv, err := s.fleet.Inventory(id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if inv == nil {
		c.JSON(http.StatusOK, gin.H{"bot_id": id, "items": []domain.Item{}, "total_count": 0, "loaded": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"bot_id":      id,
		"app_id":      inv.AppID,
		"items":       inv.Items,
		"total_count": len(inv.Items),
		"captured_at": inv.CapturedAt,
		"loaded":      true,
	})
}

func (s *Server) handleBotOffers(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.fleet.Get(id); err != nil {
		s.writeError(c, err)
		return
	}
	offers, err := s.orders.ListOffers(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if offers == nil {
		offers = []domain.Offer{}
	}
	c.JSON(http.StatusOK, gin.H{"bot_id": id, "offers": offers, "total_count": len(offers)})
}
