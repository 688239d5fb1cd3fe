package ws

import (
	"encoding/json"
	"sync"

	"github.com/emandor/labscan_service/internal/telemetry"
	"github.com/gofiber/contrib/websocket"
)

type Action string

const (
	ActionJoin  Action = "join"
	ActionLeave Action = "leave"
)

// RoomReport is suffixed with the upload's request id.
const RoomReport = "report.room"

type Event string

const (
	EventReportState Event = "report.event.state"
)

type PayloadEvent struct {
	Event Event `json:"event"`
	Data  any   `json:"data,omitempty"`
}

type ClientMessage struct {
	Action Action `json:"action"`
	Room   string `json:"room"`
}

type conn interface {
	WriteJSON(v any) error
}

type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[conn]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: map[string]map[conn]struct{}{}}
}

func ReportRoom(requestID string) string {
	return RoomReport + "." + requestID
}

func (h *Hub) Handle(c *websocket.Conn) {
	tlog := telemetry.L().With().Str("module", "ws").Logger()
	tlog.Info().Msg("ws_connected")
	defer func() {
		h.drop(c)
		_ = c.Close()
		tlog.Info().Msg("ws_disconnected")
	}()

	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			break
		}

		var cm ClientMessage
		if err := json.Unmarshal(msg, &cm); err != nil {
			continue
		}

		switch cm.Action {
		case ActionJoin:
			h.join(c, cm.Room)
		case ActionLeave:
			h.leave(c, cm.Room)
		}
	}
}

func (h *Hub) join(c conn, room string) {
	if room == "" {
		return
	}
	h.mu.Lock()
	if h.rooms[room] == nil {
		h.rooms[room] = map[conn]struct{}{}
	}
	h.rooms[room][c] = struct{}{}
	h.mu.Unlock()
	telemetry.L().Debug().Str("module", "ws").Str("room", room).Msg("room_joined")
}

func (h *Hub) leave(c conn, room string) {
	if room == "" {
		return
	}
	h.mu.Lock()
	delete(h.rooms[room], c)
	if len(h.rooms[room]) == 0 {
		delete(h.rooms, room)
	}
	h.mu.Unlock()
}

func (h *Hub) drop(c conn) {
	h.mu.Lock()
	for room, conns := range h.rooms {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) HasSubscribers(room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room]) > 0
}

// Publish writes the event to every connection in room. Write failures are
// logged and the connection stays subscribed until its read loop ends.
func (h *Hub) Publish(room string, event Event, data any) {
	pl := PayloadEvent{Event: event, Data: data}

	h.mu.RLock()
	conns := make([]conn, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.WriteJSON(pl); err != nil {
			telemetry.L().Warn().Err(err).Str("module", "ws").Str("room", room).Msg("ws_write_failed")
		}
	}
}
