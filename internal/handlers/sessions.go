package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"

	"github.com/memohai/wxbridge/internal/bridge"
)

// SessionLister lists live bridge sessions.
type SessionLister interface {
	Sessions() []bridge.SessionInfo
	StartedAt() time.Time
}

type SessionsHandler struct {
	logger   *slog.Logger
	sessions SessionLister
	now      func() time.Time
}

type sessionView struct {
	bridge.SessionInfo
	LoginAge string `json:"login_age,omitempty"`
}

type sessionsResponse struct {
	Uptime   string        `json:"uptime"`
	Count    int           `json:"count"`
	Sessions []sessionView `json:"sessions"`
}

func NewSessionsHandler(log *slog.Logger, sessions SessionLister) *SessionsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &SessionsHandler{
		logger:   log.With(slog.String("handler", "sessions")),
		sessions: sessions,
		now:      time.Now,
	}
}

func (h *SessionsHandler) Register(e *echo.Echo) {
	e.GET("/sessions", h.List)
}

// List returns a snapshot of every live session.
func (h *SessionsHandler) List(c echo.Context) error {
	if h.sessions == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "bridge is not running")
	}
	now := h.now()
	infos := h.sessions.Sessions()
	views := make([]sessionView, 0, len(infos))
	for _, info := range infos {
		view := sessionView{SessionInfo: info}
		if !info.LoggedInAt.IsZero() {
			view.LoginAge = humanize.RelTime(info.LoggedInAt, now, "ago", "from now")
		}
		views = append(views, view)
	}
	return c.JSON(http.StatusOK, sessionsResponse{
		Uptime:   strings.TrimSpace(humanize.RelTime(h.sessions.StartedAt(), now, "", "")),
		Count:    len(views),
		Sessions: views,
	})
}
