package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/rift-companion/companion/internal/events"
)

const (
	streamBuffer    = 256
	streamWriteWait = 5 * time.Second
	streamPongWait  = 60 * time.Second
	streamPingEvery = 25 * time.Second
)

// handleStream upgrades to a websocket and forwards every bus event as a
// JSON message. Slow readers lose events rather than stall the bus.
func (s *Server) handleStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	name := "ws." + uuid.NewString()
	feed := make(chan events.Event, streamBuffer)
	s.eventBus.Subscribe(events.EventAny, name, func(ctx context.Context, e events.Event) error {
		select {
		case feed <- e:
		default:
		}
		return nil
	})
	defer s.eventBus.Unsubscribe(events.EventAny, name)

	log.Debug().Str("subscriber", name).Msg("event stream opened")

	// the read side only handles control frames and notices the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := s.writeEvent(conn, events.Event{
		Type:    events.EventSessionHeartbeat,
		Source:  "api",
		Payload: s.presence.Status(),
	}); err != nil {
		return
	}

	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			log.Debug().Str("subscriber", name).Msg("event stream closed")
			return
		case <-c.Request.Context().Done():
			return
		case e := <-feed:
			if err := s.writeEvent(conn, e); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, e events.Event) error {
	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(e)
}
