package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"sync"
	"time"

	"feedsync/config"

	"github.com/gorilla/websocket"
)

const (
	pusherProtocolVersion  = "7"
	pusherHandshakeTimeout = 10 * time.Second
	pusherWriteTimeout     = 5 * time.Second
	// pusherReadTimeout больше activity_timeout сервера (120с по умолчанию)
	pusherReadTimeout = 150 * time.Second
)

// pusherMessage - кадр протокола Pusher. data бывает и строкой с JSON, и объектом.
type pusherMessage struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (m pusherMessage) payload() []byte {
	if len(m.Data) > 0 && m.Data[0] == '"' {
		var s string
		if err := json.Unmarshal(m.Data, &s); err == nil {
			return []byte(s)
		}
	}
	return m.Data
}

// PusherChannel - клиент Pusher-совместимого сервера (laravel-websockets, soketi)
type PusherChannel struct {
	url    string
	dialer *websocket.Dialer
}

func NewPusherChannel(host string, port int, key string, tls bool) *PusherChannel {
	scheme := "ws"
	if tls {
		scheme = "wss"
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     host + ":" + strconv.Itoa(port),
		Path:     "/app/" + key,
		RawQuery: url.Values{"protocol": {pusherProtocolVersion}, "client": {"feedsync"}}.Encode(),
	}
	return NewPusherChannelURL(u.String())
}

// NewPusherChannelURL - канал по готовому ws URL
func NewPusherChannelURL(wsURL string) *PusherChannel {
	return &PusherChannel{
		url:    wsURL,
		dialer: &websocket.Dialer{HandshakeTimeout: pusherHandshakeTimeout},
	}
}

// Subscribe подключается, дожидается connection_established и отправляет
// pusher:subscribe. Подтверждение подписки приходит в sink.
func (p *PusherChannel) Subscribe(ctx context.Context, topic string, sink chan<- ChannelMessage) (Subscription, error) {
	conn, _, err := p.dialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to pusher: %w", err)
	}

	success := false
	defer func() {
		if !success {
			conn.Close()
		}
	}()

	conn.SetReadDeadline(time.Now().Add(pusherHandshakeTimeout))
	var hello pusherMessage
	if err := conn.ReadJSON(&hello); err != nil {
		return nil, fmt.Errorf("pusher handshake: %w", err)
	}
	if hello.Event != "pusher:connection_established" {
		return nil, fmt.Errorf("pusher handshake: unexpected event %q", hello.Event)
	}

	sub := &pusherSubscription{
		conn:  conn,
		topic: topic,
		done:  make(chan struct{}),
	}
	if err := sub.write(pusherMessage{Event: "pusher:subscribe", Data: mustJSON(map[string]string{"channel": topic})}); err != nil {
		return nil, fmt.Errorf("pusher subscribe: %w", err)
	}

	sub.wg.Add(1)
	go sub.readLoop(sink)

	success = true
	return sub, nil
}

type pusherSubscription struct {
	conn    *websocket.Conn
	topic   string
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func (s *pusherSubscription) write(msg pusherMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(pusherWriteTimeout))
	return s.conn.WriteJSON(msg)
}

func (s *pusherSubscription) readLoop(sink chan<- ChannelMessage) {
	defer s.wg.Done()

	for {
		s.conn.SetReadDeadline(time.Now().Add(pusherReadTimeout))
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				log.Printf("Pusher read error on %s: %v", s.topic, err)
				deliver(sink, s.done, ChannelMessage{Kind: MessageClosed, Topic: s.topic, Err: err})
			}
			return
		}

		var msg pusherMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Println("Failed to unmarshal pusher message:", err)
			continue
		}

		switch msg.Event {
		case "pusher:ping":
			if err := s.write(pusherMessage{Event: "pusher:pong", Data: json.RawMessage("{}")}); err != nil {
				log.Printf("Pusher pong error: %v", err)
			}
		case "pusher:pong", "pusher:connection_established":
		case "pusher:error":
			log.Printf("Pusher error on %s: %s", s.topic, string(msg.payload()))
		case "pusher_internal:subscription_succeeded":
			if msg.Channel != s.topic {
				continue
			}
			if !deliver(sink, s.done, ChannelMessage{Kind: MessageJoined, Topic: s.topic}) {
				return
			}
		default:
			if msg.Channel != s.topic {
				config.Debugf("pusher event %s for foreign channel %q skipped", msg.Event, msg.Channel)
				continue
			}
			if !deliver(sink, s.done, ChannelMessage{Kind: MessageEvent, Topic: s.topic, Name: msg.Event, Data: msg.payload()}) {
				return
			}
		}
	}
}

// Unsubscribe отправляет pusher:unsubscribe и закрывает соединение
func (s *pusherSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if werr := s.write(pusherMessage{Event: "pusher:unsubscribe", Data: mustJSON(map[string]string{"channel": s.topic})}); werr != nil {
			config.Debugf("pusher unsubscribe write failed: %v", werr)
		}
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(pusherWriteTimeout))
		s.writeMu.Unlock()
		err = s.conn.Close()
		s.wg.Wait()
	})
	return err
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
