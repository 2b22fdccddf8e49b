package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chinedunewbirth/nhs-paperwork-agent/internal/metrics"
	"github.com/chinedunewbirth/nhs-paperwork-agent/internal/protocol"
	"github.com/chinedunewbirth/nhs-paperwork-agent/internal/session"
)

const (
	wsWriteTimeout  = 10 * time.Second
	wsMaxFrameBytes = 1 << 20 // 1 MiB, well above any sane audio frame
	outboundQueue   = 64
)

// Gateway upgrades /ws/audio/{id} requests and bridges the connection
// to the session: inbound frames feed the session, transcript segments
// and lifecycle events flow back out.
type Gateway struct {
	logger   *slog.Logger
	registry *session.Registry
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

// NewGateway creates a streaming gateway backed by the given registry.
func NewGateway(logger *slog.Logger, registry *session.Registry, m *metrics.Metrics) *Gateway {
	return &Gateway{
		logger:   logger,
		registry: registry,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// wsConn holds the per-connection state. All outbound frames go
// through the outbound channel so exactly one goroutine writes to the
// underlying connection.
type wsConn struct {
	conn     *websocket.Conn
	sess     *session.Session
	logger   *slog.Logger
	outbound chan protocol.Event
	done     chan struct{}
}

// send queues an event for delivery. Events are dropped rather than
// blocking the read loop when the client cannot keep up.
func (c *wsConn) send(ev protocol.Event) {
	select {
	case c.outbound <- ev:
	case <-c.done:
	default:
		c.logger.Warn("Outbound queue full, dropping event",
			slog.String("session_id", c.sess.ID()),
			slog.String("event_type", string(ev.Type)),
		)
	}
}

// HandleConnection implements GET /ws/audio/{id}. Unknown session ids
// are rejected before the upgrade so the client sees a plain 404.
func (g *Gateway) HandleConnection(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s, err := g.registry.Get(id)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("WebSocket upgrade failed",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
		return
	}

	g.metrics.RecordWSConnect()
	g.logger.Info("WebSocket connected", slog.String("session_id", id))

	g.serve(conn, s)
}

func (g *Gateway) serve(conn *websocket.Conn, s *session.Session) {
	c := &wsConn{
		conn:     conn,
		sess:     s,
		logger:   g.logger,
		outbound: make(chan protocol.Event, outboundQueue),
		done:     make(chan struct{}),
	}

	defer func() {
		close(c.done)
		s.Unsubscribe()
		conn.Close()
		// The connection owns the session: a disconnected client has
		// no way to reach it again.
		g.registry.Remove(s.ID())
		g.metrics.RecordWSDisconnect()
		g.logger.Info("WebSocket disconnected", slog.String("session_id", s.ID()))
	}()

	go c.writePump()
	go c.forwardSegments(s.Subscribe())

	c.send(protocol.Event{
		Type:      protocol.EventConnectionEstablished,
		SessionID: s.ID(),
		Timestamp: time.Now().UTC(),
	})

	conn.SetReadLimit(wsMaxFrameBytes)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			g.handleAudioFrame(c, data)
		case websocket.TextMessage:
			g.handleControl(c, data)
		}
	}
}

// writePump is the single writer for the connection.
func (c *wsConn) writePump() {
	for {
		select {
		case ev := <-c.outbound:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// forwardSegments pushes finished transcript segments to the client as
// transcription_update events.
func (c *wsConn) forwardSegments(segments <-chan session.Segment) {
	for {
		select {
		case seg, ok := <-segments:
			if !ok {
				return
			}
			c.send(protocol.Event{
				Type:      protocol.EventTranscriptionUpdate,
				SessionID: c.sess.ID(),
				Timestamp: time.Now().UTC(),
				Segment: &protocol.SegmentPayload{
					Text:       seg.Text,
					Timestamp:  seg.Timestamp,
					Confidence: seg.Confidence,
				},
			})
		case <-c.done:
			return
		}
	}
}

// handleAudioFrame appends a raw PCM frame and may trigger an interval
// flush. Bad frames are reported to the client; the connection stays up.
func (g *Gateway) handleAudioFrame(c *wsConn, frame []byte) {
	level, err := c.sess.AppendAudio(frame)
	if err != nil {
		g.metrics.RecordFrameError()
		c.send(protocol.NewErrorEvent(c.sess.ID(), err.Error()))
		return
	}

	g.metrics.RecordAudioFrame(len(frame))
	g.registry.Worker().MaybeFlush(c.sess)

	c.send(protocol.Event{
		Type:        protocol.EventAudioProcessed,
		SessionID:   c.sess.ID(),
		Timestamp:   time.Now().UTC(),
		BufferLevel: &level,
	})
}

// handleControl dispatches an inbound text frame.
func (g *Gateway) handleControl(c *wsConn, data []byte) {
	msg, err := protocol.ParseControl(data)
	if err != nil {
		g.metrics.RecordWSProtocolError()
		c.send(protocol.NewErrorEvent(c.sess.ID(), err.Error()))
		return
	}

	switch msg.Action {
	case protocol.ActionStartRecording:
		if err := c.sess.Start(); err != nil {
			c.send(protocol.NewErrorEvent(c.sess.ID(), err.Error()))
			return
		}
		g.logger.Info("Recording started", slog.String("session_id", c.sess.ID()))
		c.send(protocol.Event{
			Type:      protocol.EventRecordingStarted,
			SessionID: c.sess.ID(),
			Timestamp: time.Now().UTC(),
		})

	case protocol.ActionStopRecording:
		final, err := g.registry.Worker().Stop(c.sess)
		if err != nil {
			c.send(protocol.NewErrorEvent(c.sess.ID(), err.Error()))
			return
		}
		c.send(protocol.Event{
			Type:               protocol.EventRecordingStopped,
			SessionID:          c.sess.ID(),
			Timestamp:          time.Now().UTC(),
			FinalTranscription: &final,
		})

	case protocol.ActionGetStatus:
		c.send(protocol.Event{
			Type:      protocol.EventSessionStatus,
			SessionID: c.sess.ID(),
			Timestamp: time.Now().UTC(),
			Status:    c.sess.Status(),
		})

	case protocol.ActionAudioChunk:
		raw, err := msg.DecodeAudio()
		if err != nil {
			g.metrics.RecordWSProtocolError()
			c.send(protocol.NewErrorEvent(c.sess.ID(), err.Error()))
			return
		}
		g.handleAudioFrame(c, raw)
	}
}
