package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/rift-companion/companion/internal/config"
	"github.com/rift-companion/companion/internal/events"
)

type presenceFieldRequest struct {
	Key   string `json:"key" binding:"required"`
	Value any    `json:"value"`
}

// handleGetConfig returns the current configuration. Secrets never leave the
// process; they are excluded from JSON.
func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"presence":         s.cfg.GetPresence(),
		"riot":             s.cfg.GetRiot(),
		"application_data": s.cfg.GetApplicationData(),
	})
}

// handleSetPresenceField updates one presence setting, rejecting values that
// make the configuration invalid.
func (s *Server) handleSetPresenceField(c *gin.Context) {
	var req presenceFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	prev := s.cfg.GetPresence()
	if err := s.cfg.UpdatePresenceField(req.Key, req.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if result := config.Validate(s.cfg); !result.IsValid() {
		s.cfg.SetPresence(prev)
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Error())
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid configuration", "details": msgs})
		return
	}

	if err := s.cfg.Save(); err != nil {
		log.Error().Err(err).Msg("failed to save config")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	s.eventBus.Emit(c.Request.Context(), events.Event{
		Type:   events.EventConfigChanged,
		Source: "api",
		Payload: events.ConfigChangedPayload{
			Section: "presence",
			Key:     req.Key,
			Value:   req.Value,
		},
	})
	log.Info().Str("key", req.Key).Msg("API: presence setting updated")

	c.JSON(http.StatusOK, gin.H{
		"status":   "updated",
		"presence": s.cfg.GetPresence(),
	})
}
