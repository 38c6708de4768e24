package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"whiteboard-backend/internal/engine"
	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/room"
)

// BoardWSHandler binds a websocket connection to the sync engine and the
// room registry.
type BoardWSHandler struct {
	hub      *BoardHub
	engine   *engine.Engine
	registry *room.Registry
}

// inbound payloads

type joinPayload struct {
	BoardID string `json:"wid"`
}

type operationPayload struct {
	Tool    model.Tool      `json:"tool"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Author  string          `json:"author,omitempty"`
}

type recoverPayload struct {
	BoardID      string `json:"wid"`
	LastSequence int64  `json:"lastSequence"`
}

func NewBoardWSHandler(hub *BoardHub, eng *engine.Engine, registry *room.Registry) *BoardWSHandler {
	return &BoardWSHandler{hub: hub, engine: eng, registry: registry}
}

// HandleWebSocket runs one connection's session. The deferred cleanup
// covers abrupt network drops as well as explicit leaves.
func (h *BoardWSHandler) HandleWebSocket(c *websocket.Conn) {
	username, _ := c.Locals("username").(string)
	if username == "" {
		username = "anonymous"
	}

	client := &BoardClient{
		ID:       uuid.NewString(),
		Username: username,
		Conn:     c,
	}
	h.hub.register(client)
	log.Printf("[Board] Client %s connected (%s)", client.ID, username)

	defer func() {
		boardID, joined := h.registry.RoomOf(client.ID)
		h.registry.Leave(client.ID)
		h.hub.unregister(client.ID)
		c.Close()
		if joined {
			h.hub.BroadcastPresence(boardID)
		}
		log.Printf("[Board] Client %s disconnected", client.ID)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.hub.Send(client.ID, "error", ErrorPayload{Code: "badMessage", Message: "malformed message"})
			continue
		}

		switch msg.Type {
		case "join":
			h.handleJoin(client, msg.Payload)
		case "operation":
			h.handleOperation(client, msg.Payload)
		case "recoverState":
			h.handleRecover(client, msg.Payload)
		case "leave":
			h.handleLeave(client)
		default:
			h.hub.Send(client.ID, "error", ErrorPayload{Code: "badMessage", Message: "unknown message type " + msg.Type})
		}
	}
}

func (h *BoardWSHandler) handleJoin(client *BoardClient, raw json.RawMessage) {
	var p joinPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.BoardID == "" {
		h.hub.Send(client.ID, "error", ErrorPayload{Code: "badMessage", Message: "join requires a whiteboard id"})
		return
	}

	// Joining a second board implicitly leaves the first.
	prev, had := h.registry.RoomOf(client.ID)
	h.registry.Join(p.BoardID, client.ID)
	if had && prev != p.BoardID {
		h.hub.BroadcastPresence(prev)
	}

	ops, current, err := h.engine.CurrentState(context.Background(), p.BoardID)
	if err != nil {
		h.hub.Send(client.ID, "error", ErrorPayload{Code: "persistenceFailed", Message: "could not load board state"})
		return
	}

	h.hub.Send(client.ID, "boardState", BoardStatePayload{
		BoardID:         p.BoardID,
		Operations:      ops,
		CurrentSequence: current,
	})
	h.hub.BroadcastPresence(p.BoardID)
}

func (h *BoardWSHandler) handleOperation(client *BoardClient, raw json.RawMessage) {
	boardID, joined := h.registry.RoomOf(client.ID)
	if !joined {
		h.hub.Send(client.ID, "error", ErrorPayload{Code: "notJoined", Message: "join a whiteboard before drawing"})
		return
	}

	var p operationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.hub.Send(client.ID, "error", ErrorPayload{Code: "invalidOperation", Message: "malformed operation"})
		return
	}

	author := p.Author
	if author == "" {
		author = client.Username
	}

	op := model.Operation{
		Tool:    p.Tool,
		Payload: p.Payload,
		Author:  author,
	}

	// Failures go to the submitting client only; the rest of the room
	// never sees a rejected operation.
	if _, err := h.engine.SubmitOperation(context.Background(), boardID, op); err != nil {
		switch {
		case errors.Is(err, model.ErrInvalidOperation):
			h.hub.Send(client.ID, "error", ErrorPayload{Code: "invalidOperation", Message: err.Error()})
		case errors.Is(err, engine.ErrPersistenceFailed):
			h.hub.Send(client.ID, "error", ErrorPayload{Code: "persistenceFailed", Message: "operation not saved, please retry"})
		default:
			h.hub.Send(client.ID, "error", ErrorPayload{Code: "internal", Message: "operation failed"})
		}
	}
}

func (h *BoardWSHandler) handleRecover(client *BoardClient, raw json.RawMessage) {
	var p recoverPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.BoardID == "" {
		h.hub.Send(client.ID, "error", ErrorPayload{Code: "badMessage", Message: "recoverState requires a whiteboard id"})
		return
	}

	ops, current, reload, err := h.engine.Recover(context.Background(), p.BoardID, p.LastSequence)
	if err != nil {
		h.hub.Send(client.ID, "error", ErrorPayload{Code: "persistenceFailed", Message: "could not recover board state"})
		return
	}

	h.hub.Send(client.ID, "recoverState", RecoverStatePayload{
		BoardID:         p.BoardID,
		Operations:      ops,
		CurrentSequence: current,
		Reload:          reload,
	})
}

func (h *BoardWSHandler) handleLeave(client *BoardClient) {
	boardID, joined := h.registry.RoomOf(client.ID)
	if !joined {
		return
	}
	h.registry.Leave(client.ID)
	h.hub.BroadcastPresence(boardID)
}
