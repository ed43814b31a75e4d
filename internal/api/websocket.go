package api

import (
	"encoding/json"
	"net/http"
	"reflect"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// WebSocket message types for the status stream
const (
	MsgTypeStatus = "status"
	MsgTypeError  = "error"
)

const wsWriteTimeout = 10 * time.Second

// WSMessage is the envelope for every server -> client message
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WSErrorPayload is sent before the server closes the stream on an error
type WSErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusStreamHandlerImpl streams status snapshots for one request until it
// finishes or disappears. It replaces client-side polling.
type StatusStreamHandlerImpl struct {
	tracker  Tracker
	upgrader websocket.Upgrader
	interval time.Duration
}

// NewStatusStreamHandler creates a status stream handler that checks for
// changes every interval.
func NewStatusStreamHandler(tracker Tracker, interval time.Duration) StatusStreamHandler {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &StatusStreamHandlerImpl{
		tracker: tracker,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// CORS policy is enforced by middleware
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 4 * 1024,
		},
		interval: interval,
	}
}

// HandleStatusStream upgrades the connection and pushes a status message
// whenever the tracked request changes.
func (h *StatusStreamHandlerImpl) HandleStatusStream(c echo.Context) error {
	id := c.Param("request_id")

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	c.Logger().Debugf("[WebSocket] client subscribed to %s", id)

	// Drain client frames so control messages are processed and a
	// disconnect is noticed.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var last *statusResponse
	for {
		req, err := h.tracker.Get(id)
		if err != nil {
			h.sendError(ws, id, "NOT_FOUND", "Request not found")
			h.close(ws, websocket.CloseNormalClosure, "request not found")
			return nil
		}

		snapshot := newStatusResponse(req)
		if last == nil || !reflect.DeepEqual(*last, snapshot) {
			if err := h.send(ws, MsgTypeStatus, id, snapshot); err != nil {
				c.Logger().Debugf("[WebSocket] write to %s failed: %v", id, err)
				return nil
			}
			last = &snapshot
		}

		if req.Status.Terminal() {
			h.close(ws, websocket.CloseNormalClosure, string(req.Status))
			return nil
		}

		select {
		case <-disconnected:
			c.Logger().Debugf("[WebSocket] client for %s disconnected", id)
			return nil
		case <-ticker.C:
		}
	}
}

func (h *StatusStreamHandlerImpl) send(ws *websocket.Conn, msgType, id string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return ws.WriteJSON(WSMessage{
		Type:      msgType,
		ID:        id,
		Payload:   data,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (h *StatusStreamHandlerImpl) sendError(ws *websocket.Conn, id, code, message string) {
	h.send(ws, MsgTypeError, id, WSErrorPayload{Code: code, Message: message})
}

func (h *StatusStreamHandlerImpl) close(ws *websocket.Conn, code int, reason string) {
	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(wsWriteTimeout))
}
