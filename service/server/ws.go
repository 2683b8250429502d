package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/walletgraph/service/metrics"
	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 512
)

// Message types written to graph websocket clients.
const (
	wsTypeProgress = "progress"
	wsTypeResult   = "result"
	wsTypeError    = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsMessage is one frame sent to a graph websocket client. Exactly one of
// Message, Result and Error is set, according to Type.
type wsMessage struct {
	Type    string         `json:"type"`
	Message string         `json:"message,omitempty"`
	Result  *graphResponse `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
	Status  int            `json:"status,omitempty"`
}

// handleGraphWebsocket returns a handler that builds a graph while streaming
// progress messages, then sends the result and closes.
// GET /api/v1/graph/{address}/ws (same query parameters as the graph endpoint)
func handleGraphWebsocket(runner GraphRunner, defaults viewParams, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, view, err := parseGraphRequest(r, defaults)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Debug("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		if m != nil {
			m.RecordWebsocketConnectionChange(1)
			defer m.RecordWebsocketConnectionChange(-1)
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// The client never sends data; a read error means it went away.
		conn.SetReadLimit(wsReadLimit)
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		logger.DebugContext(ctx, "websocket client connected",
			"address", req.Address,
			"remote_addr", r.RemoteAddr,
		)

		send := func(msg wsMessage) bool {
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				logger.DebugContext(ctx, "websocket write failed", "address", req.Address, "error", err)
				cancel()
				return false
			}
			return true
		}

		res, err := runner.Run(ctx, req, func(progress string) {
			send(wsMessage{Type: wsTypeProgress, Message: progress})
		})
		if err != nil {
			code, msg := pipelineErrorStatus(err, req.Address, logger)
			send(wsMessage{Type: wsTypeError, Error: msg, Status: code})
			closeWebsocket(conn, websocket.CloseInternalServerErr, msg)
			return
		}

		resp := buildGraphResponse(res, view)
		if !send(wsMessage{Type: wsTypeResult, Result: &resp}) {
			return
		}
		closeWebsocket(conn, websocket.CloseNormalClosure, "")

		logger.DebugContext(ctx, "websocket graph delivered",
			"address", req.Address,
			"query_id", res.QueryID,
		)
	})
}

func closeWebsocket(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
