package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/rift-companion/companion/internal/util"
)

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"service":   "companion",
		"version":   s.version,
		"connected": s.presence.Status().Connected,
	})
}

// handleVersion reports build and host details for the about screen.
func (s *Server) handleVersion(c *gin.Context) {
	sysInfo := util.GetSystemInfo()
	resp := gin.H{
		"version":  s.version,
		"platform": sysInfo.Platform,
		"os":       sysInfo.OS,
		"hostname": sysInfo.Hostname,
	}

	stats, err := util.GetProcessStats(c.Request.Context())
	if err != nil {
		log.Debug().Err(err).Msg("process stats unavailable")
	} else {
		resp["process"] = stats
	}
	c.JSON(http.StatusOK, resp)
}
