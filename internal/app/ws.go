package app

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"redline/api/internal/coordinator"
	"redline/api/internal/hub"
	"redline/api/internal/rategate"
)

// WSHandler binds websocket connections to the coordinator. Each client
// frame is one inbound event; each outbound event is one frame tagged with
// its event kind.
type WSHandler struct {
	service  *coordinator.Coordinator
	gate     coordinator.Gate
	upgrader websocket.Upgrader
}

func NewWSHandler(service *coordinator.Coordinator, gate coordinator.Gate) *WSHandler {
	return &WSHandler{
		service: service,
		gate:    gate,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// wsConn adapts a gorilla websocket connection to hub.Conn. Writes are
// serialized; gorilla connections do not allow concurrent writers.
type wsConn struct {
	id string
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(ev hub.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	var frame map[string]any
	if err := json.Unmarshal(payload, &frame); err != nil {
		return err
	}
	frame["type"] = ev.EventKind()
	return c.sendRaw(frame)
}

func (c *wsConn) sendRaw(frame any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(frame)
}

func (c *wsConn) Close() error { return c.ws.Close() }

type clientFrame struct {
	Type        string       `json:"type"`
	Text        string       `json:"text"`
	Voice       bool         `json:"voice"`
	ParagraphID string       `json:"paragraphId"`
	Position    hub.Position `json:"position"`
}

// Serve upgrades the request and runs the session's read loop until the
// client goes away. The session is always torn down on exit, whatever the
// exit path.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request, docID string) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		respondError(w, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "user query parameter is required", nil))
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed doc=%s: %v", docID, err)
		return
	}
	conn := &wsConn{id: uuid.NewString(), ws: ws}

	ctx := context.Background()
	if err := h.service.Connect(ctx, conn, docID, userID); err != nil {
		_ = conn.Send(errorEvent(err))
		_ = ws.Close()
		return
	}
	defer func() {
		h.service.Disconnect(conn)
		_ = ws.Close()
	}()

	for {
		var frame clientFrame
		if err := ws.ReadJSON(&frame); err != nil {
			log.Printf("websocket read ended doc=%s user=%s: %v", docID, userID, err)
			return
		}

		// Per-connection message budget, separate from every other class.
		if err := h.gate.Admit(ctx, conn.id, rategate.ClassMessage, time.Now()); err != nil {
			_ = conn.Send(errorEvent(err))
			continue
		}

		h.dispatch(ctx, conn, docID, userID, frame)
	}
}

// dispatch handles one client frame and always produces exactly one
// response to the originator: a result frame or an error event. Errors stay
// with the originating session; they are never broadcast.
func (h *WSHandler) dispatch(ctx context.Context, conn *wsConn, docID, userID string, frame clientFrame) {
	switch frame.Type {
	case "command":
		result, err := h.service.HandleCommand(ctx, coordinator.CommandEvent{
			DocID:  docID,
			UserID: userID,
			Text:   frame.Text,
			Voice:  frame.Voice,
		})
		if err != nil {
			_ = conn.Send(errorEvent(err))
			return
		}
		_ = conn.sendRaw(map[string]any{"type": "result", "result": result})
	case "cursor":
		if err := h.service.CursorMove(docID, userID, frame.Position); err != nil {
			_ = conn.Send(errorEvent(err))
			return
		}
		_ = conn.sendRaw(map[string]any{"type": "result", "result": map[string]any{"position": frame.Position}})
	case "suggestion":
		result, err := h.service.HandleSuggestionRequest(ctx, docID, frame.ParagraphID, userID, frame.Text)
		if err != nil {
			_ = conn.Send(errorEvent(err))
			return
		}
		_ = conn.sendRaw(map[string]any{"type": "result", "result": result})
	default:
		_ = conn.Send(hub.ErrorEvent{Code: "INVALID_FRAME", Detail: "unknown frame type"})
	}
}
