package handlers

import (
	"log"
	"net/http"

	"feedsync/models"
	"feedsync/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// BindHub направляет уведомления сервиса и изменения ленты в подключенные окна UI
func (h *FeedHandler) BindHub() {
	h.service.OnNotice(func(n services.Notice) {
		if h.hub.Count() == 0 {
			logNotice(n)
			return
		}
		if err := services.SendWsNotify(h.hub, n); err != nil {
			log.Println("Failed to send notice:", err)
		}
	})
	h.service.OnChange(func() {
		if err := services.SendFeedChanged(h.hub, ""); err != nil {
			log.Println("Failed to send feed change:", err)
		}
	})
	if h.sync != nil {
		h.sync.OnApplied(func(event models.FeedEvent) {
			if err := services.SendFeedChanged(h.hub, event.Type); err != nil {
				log.Println("Failed to send feed change:", err)
			}
		})
	}
}

// WSFeedHandler - WebSocket endpoint для ленты: feed_changed и notice
func (h *FeedHandler) WSFeedHandler(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Println("WebSocket upgrade error:", err)
		return
	}
	defer conn.Close()

	h.hub.Add(conn)
	defer h.hub.Remove(conn)

	if err := h.hub.Send(conn, []byte(`{"event":"connected","subscription":"`+h.syncState()+`"}`)); err != nil {
		log.Println("WebSocket write error:", err)
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Println("WebSocket read error:", err)
			}
			break
		}
	}
}
