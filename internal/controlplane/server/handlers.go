package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/craftbot/gocraft/internal/domain"
	"github.com/craftbot/gocraft/internal/manager"
	"github.com/craftbot/gocraft/internal/mcproto"
)

func writeError(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"error": msg})
}

// apiError maps lifecycle errors onto HTTP codes. Unknown errors are 500 and
// surface their text; this is an admin API, not a public one.
func apiError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, manager.ErrBotNotFound):
		writeError(c, http.StatusNotFound, "bot not found")
	case errors.Is(err, manager.ErrNotOwner):
		writeError(c, http.StatusForbidden, "bot belongs to another user")
	case errors.Is(err, manager.ErrAlreadyRunning):
		writeError(c, http.StatusConflict, "bot already running")
	case errors.Is(err, manager.ErrNotConnected):
		writeError(c, http.StatusConflict, "bot not connected")
	case errors.Is(err, manager.ErrDuplicateName):
		writeError(c, http.StatusConflict, "bot name already in use")
	case errors.Is(err, manager.ErrQuotaExceeded):
		writeError(c, http.StatusConflict, "per-user bot quota exceeded")
	case errors.Is(err, manager.ErrSessionLimit), errors.Is(err, manager.ErrClosed):
		writeError(c, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, domain.ErrInvalidConfig):
		writeError(c, http.StatusBadRequest, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	dbOK := true
	if err := s.db.Ping(ctx); err != nil {
		dbOK = false
	}
	code := http.StatusOK
	status := "ok"
	if !dbOK {
		code = http.StatusServiceUnavailable
		status = "degraded"
	}
	c.JSON(code, gin.H{
		"status":         status,
		"db":             dbOK,
		"live_sessions":  s.mgr.LiveSessions(),
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleBotsList(c *gin.Context) {
	ownerID, err := strconv.ParseInt(c.Query("owner_id"), 10, 64)
	if err != nil || ownerID <= 0 {
		writeError(c, http.StatusBadRequest, "owner_id query param is required")
		return
	}
	bots, err := s.mgr.ListBotsForOwner(c.Request.Context(), ownerID)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bots": bots})
}

type createBotRequest struct {
	OwnerID         int64  `json:"owner_id"`
	Name            string `json:"name"`
	ServerHost      string `json:"server_host"`
	ServerPort      int    `json:"server_port"`
	Edition         string `json:"edition"`
	ProtocolVersion string `json:"protocol_version"`
}

func (s *Server) handleBotsCreate(c *gin.Context) {
	var req createBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.OwnerID <= 0 {
		writeError(c, http.StatusBadRequest, "owner_id is required")
		return
	}
	rec, err := s.mgr.CreateBot(c.Request.Context(), req.OwnerID, manager.CreateConfig{
		Name:            strings.TrimSpace(req.Name),
		ServerHost:      strings.TrimSpace(req.ServerHost),
		ServerPort:      req.ServerPort,
		Edition:         domain.Edition(strings.ToLower(strings.TrimSpace(req.Edition))),
		ProtocolVersion: strings.TrimSpace(req.ProtocolVersion),
	})
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"bot": rec})
}

func (s *Server) handleBotGet(c *gin.Context) {
	st, err := s.mgr.GetStatus(c.Request.Context(), 0, c.Param("botID"))
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleBotDelete(c *gin.Context) {
	if err := s.mgr.DeleteBot(c.Request.Context(), 0, c.Param("botID")); err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleBotStart(c *gin.Context) {
	if err := s.mgr.StartBot(c.Request.Context(), 0, c.Param("botID")); err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleBotStop(c *gin.Context) {
	alreadyStopped, err := s.mgr.StopBot(c.Request.Context(), 0, c.Param("botID"))
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "already_stopped": alreadyStopped})
}

func (s *Server) handleBotSay(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		writeError(c, http.StatusBadRequest, "text is required")
		return
	}
	if err := s.mgr.SendMessage(c.Request.Context(), 0, c.Param("botID"), req.Text); err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleBotCommand(c *gin.Context) {
	var req struct {
		Command string `json:"command"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Command) == "" {
		writeError(c, http.StatusBadRequest, "command is required")
		return
	}
	if err := s.mgr.SendCommand(c.Request.Context(), 0, c.Param("botID"), req.Command); err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleBotEvents(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	botID := c.Param("botID")
	// 404 for unknown bots instead of an empty list
	if _, err := s.mgr.GetStatus(c.Request.Context(), 0, botID); err != nil {
		apiError(c, err)
		return
	}
	evs, err := s.db.ListEvents(c.Request.Context(), botID, limit)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

func (s *Server) handleProbe(c *gin.Context) {
	host := strings.TrimSpace(c.Query("host"))
	port, err := strconv.Atoi(c.Query("port"))
	if host == "" || err != nil {
		writeError(c, http.StatusBadRequest, "host and port query params are required")
		return
	}
	edition := domain.Edition(strings.ToLower(strings.TrimSpace(c.Query("edition"))))
	if edition == "" {
		edition = domain.EditionJava
	}
	if !domain.ValidHost(host) || !domain.ValidPort(port) || !edition.IsValid() {
		writeError(c, http.StatusBadRequest, "invalid host, port or edition")
		return
	}

	key := fmt.Sprintf("%s|%d|%s", host, port, edition)
	if res, ok := s.probeCache.Get(key); ok {
		c.JSON(http.StatusOK, res)
		return
	}
	res := mcproto.Probe(c.Request.Context(), host, port, edition, mcproto.DefaultProbeTimeout)
	s.probeCache.Set(key, res, probeCacheTTL)
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"live_sessions":  s.mgr.LiveSessions(),
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}
