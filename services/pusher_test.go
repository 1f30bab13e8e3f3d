package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePusherServer - минимальный Pusher-совместимый сервер: подтверждает подписку,
// шлет ping и события из events, затем ждет pusher:unsubscribe
func fakePusherServer(t *testing.T, events []pusherMessage, unsubscribed chan<- string) *httptest.Server {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("protocol"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		established := mustJSON(`{"socket_id":"123.456","activity_timeout":120}`)
		if !assert.NoError(t, conn.WriteJSON(pusherMessage{Event: "pusher:connection_established", Data: established})) {
			return
		}

		var sub pusherMessage
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		assert.Equal(t, "pusher:subscribe", sub.Event)
		var subData struct {
			Channel string `json:"channel"`
		}
		if !assert.NoError(t, json.Unmarshal(sub.Data, &subData)) {
			return
		}

		_ = conn.WriteJSON(pusherMessage{Event: "pusher:ping", Data: json.RawMessage("{}")})
		var pong pusherMessage
		if err := conn.ReadJSON(&pong); err != nil {
			return
		}
		assert.Equal(t, "pusher:pong", pong.Event)

		_ = conn.WriteJSON(pusherMessage{Event: "pusher_internal:subscription_succeeded", Channel: subData.Channel, Data: mustJSON("{}")})
		for _, e := range events {
			_ = conn.WriteJSON(e)
		}

		for {
			var msg pusherMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Event == "pusher:unsubscribe" {
				unsubscribed <- string(msg.Data)
				return
			}
		}
	}))
}

func receive(t *testing.T, sink <-chan ChannelMessage) ChannelMessage {
	t.Helper()
	select {
	case msg := <-sink:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message from channel")
	}
	return ChannelMessage{}
}

func TestPusherChannelSubscribeAndEvents(t *testing.T) {
	events := []pusherMessage{
		{Event: "LikeToggled", Channel: "other", Data: mustJSON(`{"postId":1,"likesCount":1}`)},
		{Event: `App\Events\LikeToggled`, Channel: "posts", Data: mustJSON(`{"postId":1,"likesCount":5}`)},
		{Event: "PostDeleted", Channel: "posts", Data: json.RawMessage(`{"postId":2}`)},
	}
	unsubscribed := make(chan string, 1)
	srv := fakePusherServer(t, events, unsubscribed)
	defer srv.Close()

	channel := NewPusherChannelURL("ws" + strings.TrimPrefix(srv.URL, "http") + "/app/key?protocol=7")
	sink := make(chan ChannelMessage, 8)
	sub, err := channel.Subscribe(context.Background(), "posts", sink)
	require.NoError(t, err)

	assert.Equal(t, MessageJoined, receive(t, sink).Kind)

	msg := receive(t, sink)
	assert.Equal(t, MessageEvent, msg.Kind)
	assert.Equal(t, `App\Events\LikeToggled`, msg.Name, "событие чужого канала пропущено")
	assert.JSONEq(t, `{"postId":1,"likesCount":5}`, string(msg.Data), "строковый data разворачивается")

	msg = receive(t, sink)
	assert.Equal(t, "PostDeleted", msg.Name)
	assert.JSONEq(t, `{"postId":2}`, string(msg.Data), "объектный data передается как есть")

	require.NoError(t, sub.Unsubscribe())
	select {
	case data := <-unsubscribed:
		assert.JSONEq(t, `{"channel":"posts"}`, data)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive pusher:unsubscribe")
	}
	assert.NoError(t, sub.Unsubscribe(), "повторный Unsubscribe - no-op")
}

func TestPusherChannelHandshakeFailure(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(pusherMessage{Event: "pusher:error", Data: mustJSON(map[string]interface{}{"code": 4001})})
	}))
	defer srv.Close()

	channel := NewPusherChannelURL("ws" + strings.TrimPrefix(srv.URL, "http") + "/app/wrong")
	_, err := channel.Subscribe(context.Background(), "posts", make(chan ChannelMessage, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected event")
}

func TestPusherChannelServerClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteJSON(pusherMessage{Event: "pusher:connection_established", Data: mustJSON(`{}`)})
		var sub pusherMessage
		_ = conn.ReadJSON(&sub)
		conn.Close()
	}))
	defer srv.Close()

	channel := NewPusherChannelURL("ws" + strings.TrimPrefix(srv.URL, "http") + "/app/key")
	sink := make(chan ChannelMessage, 1)
	sub, err := channel.Subscribe(context.Background(), "posts", sink)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	msg := receive(t, sink)
	assert.Equal(t, MessageClosed, msg.Kind)
	assert.Error(t, msg.Err)
}

func TestNewPusherChannelURL(t *testing.T) {
	channel := NewPusherChannel("ws.example.com", 6001, "app-key", true)
	assert.Equal(t, "wss://ws.example.com:6001/app/app-key?client=feedsync&protocol=7", channel.url)
}
