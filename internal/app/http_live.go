package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = livePongWait * 9 / 10
)

func (s *HTTPServer) upgrader() websocket.Upgrader {
	origin := s.corsOrigin
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			if origin == "" || origin == "*" {
				return true
			}
			return strings.EqualFold(r.Header.Get("Origin"), origin)
		},
	}
}

// handleLive streams the project to the caller: the current document first, then the full
// document again after every change, each with recomputed insights. Snapshots the client
// has not read yet are replaced by newer ones.
func (s *HTTPServer) handleLive(w http.ResponseWriter, r *http.Request, code string) {
	token := bearerToken(r)
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	participant, err := s.service.ParticipantFromToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := s.service.Subscribe(ctx, participant, code)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	defer sub.Close()

	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade live connection", zap.String("join_code", code), zap.Error(err))
		return
	}
	defer conn.Close()

	logger := s.logger.With(
		zap.String("request_id", requestID(r.Context())),
		zap.String("join_code", code),
		zap.String("participant_id", participant.ID),
	)
	logger.Info("live feed opened")

	// The reader only handles control frames; a read error means the client went away.
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	lang := locale(r)
	ticker := time.NewTicker(livePingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("live feed closed")
			return
		case snap, ok := <-sub.Updates():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteJSON(s.service.Live(snap, lang)); err != nil {
				logger.Warn("write live snapshot", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
