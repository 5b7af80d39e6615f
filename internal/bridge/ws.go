package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// clientBuffer bounds data queued for one foreground client.
const clientBuffer = 32

// WebSocketHandler serves foreground clients. Each text frame carries one
// Envelope; the reply is a Result. Data sent by the task arrives as
// onReceiveData envelopes.
type WebSocketHandler struct {
	hub            *Hub
	logger         *zap.Logger
	originPatterns []string
}

// NewWebSocketHandler creates the handler. originPatterns are passed to the
// WebSocket origin check; empty means same-origin only.
func NewWebSocketHandler(hub *Hub, logger *zap.Logger, originPatterns []string) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketHandler{hub: hub, logger: logger, originPatterns: originPatterns}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	clientID := uuid.NewString()
	logger := h.logger.With(zap.String("client_id", clientID))
	logger.Info("foreground client connected", zap.String("remote", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	data, unsubscribe := h.hub.Subscribe(clientID, clientBuffer)
	defer unsubscribe()

	go h.forward(ctx, conn, data, logger)

	for {
		var env Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway ||
				errors.Is(err, context.Canceled) {
				logger.Info("foreground client disconnected")
				return
			}
			logger.Warn("websocket read failed", zap.Error(err))
			conn.Close(websocket.StatusUnsupportedData, "invalid message")
			return
		}

		res := h.hub.Dispatch(ctx, OriginForeground, env)
		if err := wsjson.Write(ctx, conn, res); err != nil {
			logger.Warn("websocket write failed", zap.Error(err))
			return
		}
	}
}

// forward pushes task data to the client until ctx ends or the
// subscription is closed.
func (h *WebSocketHandler) forward(ctx context.Context, conn *websocket.Conn, data <-chan json.RawMessage, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-data:
			if !ok {
				return
			}
			env := Envelope{Method: MethodReceiveData, Arguments: d}
			if err := wsjson.Write(ctx, conn, env); err != nil {
				logger.Debug("forward to client failed", zap.Error(err))
				return
			}
		}
	}
}
