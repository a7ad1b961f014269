package api

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/aelira-dev/aelira/internal/session"
)

// readyFrame is the first frame of every control connection.
type readyFrame struct {
	Op        string `json:"op"`
	Resumed   bool   `json:"resumed"`
	SessionID string `json:"sessionId"`
}

// handleWebSocket upgrades a control connection, creates or resumes the
// session, and pumps the session's outbound channel onto the socket until
// the client goes away.
func (s *Server) handleWebSocket(c *gin.Context) {
	userID := c.GetHeader("User-Id")
	if !allDigits(userID) {
		abortWithError(c, http.StatusBadRequest, "User-Id header must be numeric")
		return
	}
	clientName := c.GetHeader("Client-Name")
	sessionID := c.GetHeader("Session-Id")

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	outbound := make(chan []byte, session.OutboundBuffer)
	var sess *session.Session
	resumed := false
	if sessionID != "" {
		if existing, ok := s.sessions.Resume(sessionID, outbound); ok {
			sess = existing
			resumed = true
		}
	}
	if sess == nil {
		sess = s.sessions.Create(userID, clientName, outbound)
		s.metrics.ActiveSessions.Add(c.Request.Context(), 1)
	}
	s.log.Info("control connection open",
		"sessionId", sess.ID(), "resumed", resumed, "clientName", clientName)

	sess.Send(readyFrame{Op: "ready", Resumed: resumed, SessionID: sess.ID()}, false)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case frame := <-outbound:
				if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	// The control protocol is server-to-client only; the read loop exists
	// to notice the client closing.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}
	cancel()
	conn.Close(websocket.StatusNormalClosure, "")
	s.log.Info("control connection closed", "sessionId", sess.ID())
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
