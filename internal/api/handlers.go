package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cinebot/attend/internal/session"
	"github.com/cinebot/attend/internal/version"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": version.Version,
	})
}

// activeEventView is the wire shape for a live event.
type activeEventView struct {
	GuildID   string    `json:"guild_id"`
	ChannelID string    `json:"channel_id"`
	EventDate string    `json:"event_date"`
	StartedAt time.Time `json:"started_at"`
}

func (s *Server) handleStatus(c *gin.Context) {
	events := s.engine.ActiveEvents()
	views := make([]activeEventView, 0, len(events))
	for _, ev := range events {
		views = append(views, activeEventView{
			GuildID:   ev.GuildID,
			ChannelID: ev.ChannelID,
			EventDate: ev.EventDate,
			StartedAt: ev.StartedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"recovery":      s.engine.GetRecoveryStatus(),
		"active_events": views,
	})
}

func (s *Server) handleAttendanceByDate(c *gin.Context) {
	guildID := c.Param("guild_id")
	date := c.Param("date")
	if _, err := time.Parse(session.DateFormat, date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}

	recs, err := s.ledger.ListAttendanceByDate(c.Request.Context(), guildID, date)
	if err != nil {
		s.logger.Error("attendance query failed", "guild_id", guildID, "date", date, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"guild_id":   guildID,
		"event_date": date,
		"records":    recs,
	})
}

func (s *Server) handleQualifiedCount(c *gin.Context) {
	guildID := c.Param("guild_id")
	userID := c.Param("user_id")

	count, err := s.engine.QualifiedEventCount(c.Request.Context(), guildID, userID)
	if err != nil {
		s.logger.Error("qualified count failed", "guild_id", guildID, "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"guild_id":        guildID,
		"user_id":         userID,
		"qualified_count": count,
	})
}

func (s *Server) handleGuildStats(c *gin.Context) {
	guildID := c.Param("guild_id")

	stats, err := s.ledger.GetGuildStats(c.Request.Context(), guildID)
	if err != nil {
		s.logger.Error("guild stats failed", "guild_id", guildID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"guild_id": guildID,
		"stats":    stats,
	})
}
