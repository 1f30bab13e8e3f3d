package services

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 5 * time.Second

// WSHub - подключенные к /ws/feed окна UI.
// Запись в соединения сериализована: gorilla не допускает конкурентных писателей.
type WSHub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewWSHub() *WSHub {
	return &WSHub{
		conns: make(map[*websocket.Conn]struct{}),
	}
}

func (h *WSHub) Add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

func (h *WSHub) Remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}

func (h *WSHub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Send пишет одно сообщение в соединение под общим замком хаба
func (h *WSHub) Send(conn *websocket.Conn, message []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, message)
}

// Broadcast рассылает сообщение всем; соединения с ошибкой записи отключаются
func (h *WSHub) Broadcast(message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Println("WebSocket write error:", err)
			delete(h.conns, conn)
			conn.Close()
		}
	}
}
