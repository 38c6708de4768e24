package handler

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/room"
)

// BoardHub owns the live connections and the outbound fan-out. It is the
// transport side of the engine's Broadcaster contract; a broken recipient
// never aborts delivery to the rest of the room.
type BoardHub struct {
	registry     *room.Registry
	writeTimeout time.Duration

	mu      sync.RWMutex
	clients map[string]*BoardClient
}

// BoardClient is one live websocket connection.
type BoardClient struct {
	ID       string
	Username string
	Conn     *websocket.Conn
	writeMu  sync.Mutex
}

// WSMessage is the envelope for every websocket frame, in and out.
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// outbound payloads

type BoardStatePayload struct {
	BoardID         string            `json:"whiteboardId"`
	Operations      []model.Operation `json:"operations"`
	CurrentSequence int64             `json:"currentSequence"`
}

type RecoverStatePayload struct {
	BoardID         string            `json:"whiteboardId"`
	Operations      []model.Operation `json:"operations"`
	CurrentSequence int64             `json:"currentSequence"`
	Reload          bool              `json:"reload"`
}

type ClearPayload struct {
	BoardID string `json:"whiteboardId"`
}

type PresencePayload struct {
	BoardID     string `json:"whiteboardId"`
	MemberCount int    `json:"memberCount"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewBoardHub(registry *room.Registry, writeTimeout time.Duration) *BoardHub {
	return &BoardHub{
		registry:     registry,
		writeTimeout: writeTimeout,
		clients:      make(map[string]*BoardClient),
	}
}

func (h *BoardHub) register(client *BoardClient) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
}

func (h *BoardHub) unregister(connID string) {
	h.mu.Lock()
	delete(h.clients, connID)
	h.mu.Unlock()
}

func (h *BoardHub) client(connID string) *BoardClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[connID]
}

// Send delivers a message to a single connection.
func (h *BoardHub) Send(connID string, msgType string, payload any) {
	if client := h.client(connID); client != nil {
		h.write(client, msgType, payload)
	}
}

// Broadcast delivers a message to every member of the board's room,
// skipping exclude when non-empty.
func (h *BoardHub) Broadcast(boardID string, msgType string, payload any, exclude string) {
	for _, connID := range h.registry.MembersOf(boardID) {
		if connID == exclude {
			continue
		}
		h.Send(connID, msgType, payload)
	}
}

// BroadcastOperation implements engine.Broadcaster. The author is
// included: everyone renders from the authoritative feed.
func (h *BoardHub) BroadcastOperation(boardID string, op model.Operation) {
	h.Broadcast(boardID, "operation", op, "")
}

// BroadcastClear implements engine.Broadcaster.
func (h *BoardHub) BroadcastClear(boardID string) {
	h.Broadcast(boardID, "clear", ClearPayload{BoardID: boardID}, "")
}

// BroadcastPresence announces the room's member count, for UI badges.
func (h *BoardHub) BroadcastPresence(boardID string) {
	h.Broadcast(boardID, "presence", PresencePayload{
		BoardID:     boardID,
		MemberCount: h.registry.MemberCount(boardID),
	}, "")
}

func (h *BoardHub) write(client *BoardClient, msgType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[Hub] Failed to marshal %s payload: %v", msgType, err)
		return
	}
	frame, err := json.Marshal(WSMessage{Type: msgType, Payload: data})
	if err != nil {
		log.Printf("[Hub] Failed to marshal %s frame: %v", msgType, err)
		return
	}

	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	if h.writeTimeout > 0 {
		client.Conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	}
	if err := client.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		log.Printf("[Hub] Failed to send %s to %s: %v", msgType, client.ID, err)
	}
}

// ClientCount returns the number of live connections.
func (h *BoardHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
