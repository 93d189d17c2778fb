package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rift-companion/companion/internal/connector"
	"github.com/rift-companion/companion/internal/health"
)

const (
	defaultLogLimit = 200
	maxQueryLimit   = 1000
)

type statusResponse struct {
	connector.Status
	Game *health.GameState `json:"game,omitempty"`
}

// handleStatus reports the session together with the last game check.
func (s *Server) handleStatus(c *gin.Context) {
	resp := statusResponse{Status: s.presence.Status()}
	if s.game != nil {
		game := s.game.GameState()
		resp.Game = &game
	}
	c.JSON(http.StatusOK, resp)
}

// handleGame runs a fresh process check.
func (s *Server) handleGame(c *gin.Context) {
	if s.game == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "process checks are disabled"})
		return
	}
	c.JSON(http.StatusOK, s.game.CheckGame(c.Request.Context()))
}

// handleLogs returns the newest diagnostic log entries, limit=0 for all.
func (s *Server) handleLogs(c *gin.Context) {
	limit, ok := queryLimit(c, defaultLogLimit)
	if !ok {
		return
	}
	entries := s.presence.LogsTail(limit)
	c.JSON(http.StatusOK, gin.H{
		"logs":  entries,
		"total": len(entries),
	})
}

func (s *Server) handleFriends(c *gin.Context) {
	c.JSON(http.StatusOK, s.presence.Friends(c.Request.Context()))
}

func (s *Server) handleLocalPresences(c *gin.Context) {
	local, err := s.presence.CheckLocalPresences(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, local)
}

func (s *Server) handleLocalDiscover(c *gin.Context) {
	found, err := s.presence.DiscoverLocalAPI(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

func (s *Server) handleFriendHistory(c *gin.Context) {
	if !s.requireHistory(c) {
		return
	}
	limit, ok := queryLimit(c, 0)
	if !ok {
		return
	}

	records, err := s.history.FriendHistory(c.Request.Context(), c.Query("puuid"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": records, "total": len(records)})
}

func (s *Server) handleBroadcasts(c *gin.Context) {
	if !s.requireHistory(c) {
		return
	}
	limit, ok := queryLimit(c, 0)
	if !ok {
		return
	}

	records, err := s.history.Broadcasts(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"broadcasts": records, "total": len(records)})
}

func (s *Server) handleSessions(c *gin.Context) {
	if !s.requireHistory(c) {
		return
	}
	limit, ok := queryLimit(c, 0)
	if !ok {
		return
	}

	records, err := s.history.Sessions(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": records, "total": len(records)})
}

func (s *Server) requireHistory(c *gin.Context) bool {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence journal is disabled"})
		return false
	}
	return true
}

// queryLimit parses ?limit=, writing a 400 on bad input.
func queryLimit(c *gin.Context, def int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > maxQueryLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 0 and 1000"})
		return 0, false
	}
	return n, true
}
