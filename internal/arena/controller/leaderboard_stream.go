package controller

import (
	"net/http"
	"strings"
	"time"

	"codearena/internal/arena/service"
	"codearena/pkg/utils/logger"
	"codearena/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// StreamConfig controls the leaderboard websocket.
type StreamConfig struct {
	// AllowedOrigins lists origins allowed to connect. Empty means same origin only.
	AllowedOrigins []string      `yaml:"allowedOrigins"`
	PingInterval   time.Duration `yaml:"pingInterval"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
}

// LeaderboardStream pushes every published snapshot of a contest to
// websocket clients. Slow clients only see the latest snapshot.
type LeaderboardStream struct {
	arena    *service.Service
	cfg      StreamConfig
	upgrader websocket.Upgrader
}

// NewLeaderboardStream creates a new LeaderboardStream.
func NewLeaderboardStream(arena *service.Service, cfg StreamConfig) *LeaderboardStream {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	s := &LeaderboardStream{arena: arena, cfg: cfg}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}
	if len(cfg.AllowedOrigins) > 0 {
		s.upgrader.CheckOrigin = s.checkOrigin
	}
	return s
}

func (s *LeaderboardStream) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Serve upgrades the request and streams snapshots until the client goes away.
func (s *LeaderboardStream) Serve(c *gin.Context) {
	ctx := c.Request.Context()
	contestID := c.Param("id")
	updates, cancel, err := s.arena.WatchLeaderboard(ctx, contestID)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer cancel()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(ctx, "leaderboard websocket upgrade failed", zap.String("contest_id", contestID), zap.Error(err))
		return
	}
	defer conn.Close()

	pongWait := 2 * s.cfg.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "leaderboard closed"),
					time.Now().Add(s.cfg.WriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteJSON(snap); err != nil {
				logger.Debug(ctx, "leaderboard websocket write failed", zap.String("contest_id", contestID), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}
