package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/rift-companion/companion/internal/connector"
	"github.com/rift-companion/companion/internal/network"
	"github.com/rift-companion/companion/internal/protocol"
)

type rawRequest struct {
	Data string `json:"data" binding:"required"`
}

func (s *Server) handleConnect(c *gin.Context) {
	if err := s.presence.Connect(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.presence.Status())
}

func (s *Server) handleDisconnect(c *gin.Context) {
	if err := s.presence.Disconnect(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}

func (s *Server) handlePoll(c *gin.Context) {
	result, err := s.presence.Poll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": result})
}

// handleFakePresence takes a sparse overrides object; absent fields keep
// their captured values.
func (s *Server) handleFakePresence(c *gin.Context) {
	var o protocol.PresenceOverrides
	if err := c.ShouldBindJSON(&o); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.presence.SendFakePresence(c.Request.Context(), o); err != nil {
		respondError(c, err)
		return
	}
	log.Info().Str("show", o.ShowOrDefault()).Msg("API: fake presence sent")
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func (s *Server) handleRaw(c *gin.Context) {
	var req rawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.presence.SendRaw(c.Request.Context(), req.Data); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent", "length": len(req.Data)})
}

// respondError maps session errors to HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, connector.ErrNotConnected), errors.Is(err, connector.ErrNoTemplate):
		status = http.StatusConflict
	case errors.Is(err, connector.ErrNoCredentials), errors.Is(err, connector.ErrClientNotRunning):
		status = http.StatusServiceUnavailable
	case errors.Is(err, connector.ErrAuthFailed),
		errors.Is(err, connector.ErrBindFailed),
		errors.Is(err, connector.ErrInvalidToken),
		errors.Is(err, connector.ErrMissingField),
		errors.Is(err, network.ErrConnectionClosed):
		status = http.StatusBadGateway
	case errors.Is(err, network.ErrTimeout):
		status = http.StatusGatewayTimeout
	}

	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("API request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
