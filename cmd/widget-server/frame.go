package main

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/fpang/heygen-widget/internal/frame"
)

// handleFrame upgrades the host page's connection to a websocket frame
// channel and runs the session lifecycle over it. The upgrade-time Origin
// header becomes the origin attached to every inbound message, so the
// messenger's allow-list keeps applying after the upgrade.
func (s *server) handleFrame(w http.ResponseWriter, r *http.Request) {
	allowed := make(map[string]bool, len(s.origins))
	for _, o := range s.origins {
		allowed[o] = true
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return allowed[r.Header.Get("Origin")]
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("origin", r.Header.Get("Origin")).Msg("Frame upgrade rejected")
		return
	}

	origin := r.Header.Get("Origin")
	transport := frame.NewWSTransport(conn, origin)
	messenger := frame.NewMessenger(transport, s.origins)

	sess := s.newSession(transport, messenger)
	ctx, cancel := context.WithCancel(context.Background())
	sess.ctx = ctx
	sess.cancel = cancel
	s.addSession(sess)

	log.Info().
		Str("sessionId", sess.id).
		Str("origin", origin).
		Msg("Frame channel opened")

	// The handshake races the read pump: READY goes out immediately, INIT
	// arrives through the pump below.
	go sess.run(ctx)

	transport.ReadLoop(messenger)

	cancel()
	transport.Close()
	s.removeSession(sess.id)
	log.Info().Str("sessionId", sess.id).Msg("Frame channel closed")
}
