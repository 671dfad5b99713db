package ingest

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/eleven-am/sentinel-backend/internal/frame"
	"github.com/eleven-am/sentinel-backend/internal/shared"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024 * 1024
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsFrame struct {
	Sequence  uint64 `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
	Data      string `json:"data"`
}

// Stream holds a websocket open for one capture client and appends every
// frame message to its store. A slow pipeline never pushes back on this
// loop; Append is the only store interaction.
func (h *Handler) Stream(c echo.Context) error {
	clientID := c.QueryParam("client_id")
	if clientID == "" {
		return shared.BadRequest("missing_client_id", "client_id is required")
	}

	ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	connID := uuid.New().String()
	log := h.logger.With("client_id", clientID, "conn_id", connID)
	log.Info("capture stream connected")
	defer log.Info("capture stream disconnected")

	store := h.registry.GetOrCreate(clientID)

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go h.pingLoop(ws, done)

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("capture stream read failed", "error", err)
			}
			return nil
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var msg wsFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug("malformed frame message dropped", "error", err)
			continue
		}
		payload, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil || len(payload) == 0 {
			log.Debug("frame message with bad payload dropped")
			continue
		}

		ts := time.Now()
		if msg.Timestamp > 0 {
			ts = time.UnixMilli(msg.Timestamp)
		}

		// The registry recreates the store if the sweeper reclaimed it
		// mid-stream; a reclaimed store behaves like a new client.
		if _, ok := h.registry.Get(clientID); !ok {
			store = h.registry.GetOrCreate(clientID)
		}
		store.Append(frame.Frame{
			ClientID:  clientID,
			Sequence:  msg.Sequence,
			Timestamp: ts,
			Data:      payload,
		})
	}
}

func (h *Handler) pingLoop(ws *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
