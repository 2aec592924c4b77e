package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/maximthomas/goradius/pkg/log"
	"github.com/maximthomas/goradius/pkg/session"
	"github.com/sirupsen/logrus"
)

type SessionController struct {
	sessions session.Repository
	logger   logrus.FieldLogger
}

// ListByUser returns the accounting sessions of the user in the path. With
// ?open=true only open sessions are listed.
func (sc *SessionController) ListByUser(c *gin.Context) {
	if sc.sessions == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "accounting is not configured"})
		return
	}
	user := c.Param("user")
	sessions, err := sc.sessions.ListByUser(c.Request.Context(), user)
	if err != nil {
		sc.logger.Errorf("error listing sessions of %q: %v", user, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error listing sessions"})
		return
	}
	if c.Query("open") == "true" {
		open := sessions[:0]
		for _, s := range sessions {
			if s.Open {
				open = append(open, s)
			}
		}
		sessions = open
	}
	if sessions == nil {
		sessions = []session.Session{}
	}
	c.JSON(http.StatusOK, sessions)
}

func NewSessionController(sessions session.Repository) *SessionController {
	return &SessionController{
		sessions: sessions,
		logger:   log.WithField("module", "SessionController"),
	}
}
