package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/call-signaling/config"
	"github.com/mossy-p/call-signaling/internal/middleware"
	"github.com/mossy-p/call-signaling/internal/registry"
	"github.com/mossy-p/call-signaling/internal/signaling"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var errRateLimited = errors.New("rate limit exceeded, message dropped")

// SignalingHandler accepts WebSocket connections and runs one pump per socket.
type SignalingHandler struct {
	coord     *signaling.Coordinator
	cfg       config.WebSocketConfig
	jwtSecret string
	log       *zap.Logger
	upgrader  websocket.Upgrader
}

func NewSignalingHandler(coord *signaling.Coordinator, cfg config.WebSocketConfig, jwtSecret string, log *zap.Logger) *SignalingHandler {
	return &SignalingHandler{
		coord:     coord,
		cfg:       cfg,
		jwtSecret: jwtSecret,
		log:       log.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Origin checking is handled by middleware
				return true
			},
		},
	}
}

// HandleSignaling authenticates the caller, registers the connection in the
// room named by the path and then serves the socket until it closes.
func (h *SignalingHandler) HandleSignaling(c *gin.Context) {
	roomID := c.Param("roomId")
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomId is required"})
		return
	}

	token, err := middleware.ExtractToken(c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
		return
	}
	userID, err := middleware.ParseToken(token, h.jwtSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "WebSocket upgrade required"})
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	sink := registry.NewSink(h.cfg.SendQueue)
	conn, err := h.coord.AddConnection(ctx, userID, roomID, sink)
	if err != nil {
		h.log.Error("failed to add connection", zap.Int64("user_id", userID), zap.String("room_id", roomID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to join room"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written an error response. Peers were never
		// told about this user, so they get no user-left either.
		h.log.Warn("failed to upgrade connection", zap.Int64("user_id", userID), zap.Error(err))
		h.coord.Disconnect(ctx, conn)
		return
	}

	p := &pump{
		coord:   h.coord,
		conn:    conn,
		ws:      ws,
		cfg:     h.cfg,
		limiter: rate.NewLimiter(rate.Limit(h.cfg.MessagesPerSecond), h.cfg.MessageBurst),
		log:     h.log.With(zap.Int64("user_id", userID), zap.String("conn_id", conn.ID)),
	}
	go p.writePump()
	p.readPump(ctx)
}

// pump moves frames between one socket and the coordinator. readPump is the
// only reader and writePump the only writer of ws.
type pump struct {
	coord   *signaling.Coordinator
	conn    *registry.Connection
	ws      *websocket.Conn
	cfg     config.WebSocketConfig
	limiter *rate.Limiter
	log     *zap.Logger
}

func (p *pump) readPump(ctx context.Context) {
	defer func() {
		p.coord.HandleDisconnect(ctx, p.conn)
		p.conn.Sink.Close()
		p.log.Info("connection closed")
	}()

	p.ws.SetReadLimit(p.cfg.MaxMessageBytes)
	p.extendDeadline()
	p.ws.SetPongHandler(func(string) error {
		p.extendDeadline()
		return nil
	})

	for {
		kind, message, err := p.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				p.log.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		p.extendDeadline()

		if kind != websocket.TextMessage {
			p.log.Debug("ignoring non-text frame", zap.Int("kind", kind))
			continue
		}
		if !p.limiter.Allow() {
			p.coord.SendError(p.conn, errRateLimited)
			continue
		}

		if err := p.coord.HandleMessage(ctx, p.conn, message); err != nil {
			p.log.Debug("message rejected", zap.Error(err))
			p.coord.SendError(p.conn, err)
		}
	}
}

func (p *pump) extendDeadline() {
	_ = p.ws.SetReadDeadline(time.Now().Add(p.cfg.IdleTimeout))
}

func (p *pump) writePump() {
	ticker := time.NewTicker(p.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		p.ws.Close()
	}()

	frames := p.conn.Sink.Frames()
	for {
		select {
		case f, ok := <-frames:
			_ = p.ws.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout))
			if !ok {
				code, reason := p.conn.Sink.CloseReason()
				_ = p.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
				return
			}

			kind := websocket.TextMessage
			if f.Kind == registry.FrameBinary {
				kind = websocket.BinaryMessage
			}
			if err := p.ws.WriteMessage(kind, f.Data); err != nil {
				p.log.Debug("websocket write failed", zap.Error(err))
				p.conn.Sink.Close()
				return
			}

		case <-ticker.C:
			_ = p.ws.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout))
			if err := p.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.conn.Sink.Close()
				return
			}
		}
	}
}
