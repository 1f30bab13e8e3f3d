package services

import (
	"encoding/json"

	"feedsync/models"
)

type wsNotice struct {
	Event string `json:"event"`
	Notice
}

type wsFeedChanged struct {
	Event  string           `json:"event"`
	Reason models.EventType `json:"reason,omitempty"`
}

// SendWsNotify - отправка уведомления через WebSocket
func SendWsNotify(hub *WSHub, notice Notice) error {
	if len(notice.Type) == 0 {
		notice.Type = "info"
	}
	if len(notice.Message) == 0 {
		return nil
	}
	if len(notice.Message) > 100 {
		notice.Message = notice.Message[:100] + "..."
	}
	jsonData, err := json.Marshal(wsNotice{Event: "notice", Notice: notice})
	if err != nil {
		return err
	}
	hub.Broadcast(jsonData)
	return nil
}

// SendFeedChanged сообщает UI, что ленту нужно перечитать.
// reason - тип события канала, пустой для локальных действий.
func SendFeedChanged(hub *WSHub, reason models.EventType) error {
	jsonData, err := json.Marshal(wsFeedChanged{Event: "feed_changed", Reason: reason})
	if err != nil {
		return err
	}
	hub.Broadcast(jsonData)
	return nil
}
