package services

import "context"

// MessageKind - вид входящего сообщения канала
type MessageKind int

const (
	// MessageJoined - канал подтвердил подписку на топик
	MessageJoined MessageKind = iota
	// MessageEvent - событие топика
	MessageEvent
	// MessageClosed - канал закрылся не по инициативе клиента
	MessageClosed
)

func (k MessageKind) String() string {
	switch k {
	case MessageJoined:
		return "joined"
	case MessageEvent:
		return "event"
	case MessageClosed:
		return "closed"
	}
	return "unknown"
}

// ChannelMessage - типизированное сообщение от канала к координатору.
// Для MessageEvent Name - имя события как оно пришло, Data - сырой payload.
type ChannelMessage struct {
	Kind  MessageKind
	Topic string
	Name  string
	Data  []byte
	Err   error
}

// EventChannel - realtime канал событий (best-effort: возможны дубли и потери).
// Subscribe не ждет подтверждения: оно приходит в sink как MessageJoined.
type EventChannel interface {
	Subscribe(ctx context.Context, topic string, sink chan<- ChannelMessage) (Subscription, error)
}

// Subscription освобождается ровно один раз; повторный Unsubscribe - no-op
type Subscription interface {
	Unsubscribe() error
}

// deliver отправляет сообщение в sink, пока подписка жива
func deliver(sink chan<- ChannelMessage, done <-chan struct{}, msg ChannelMessage) bool {
	select {
	case sink <- msg:
		return true
	case <-done:
		return false
	}
}
