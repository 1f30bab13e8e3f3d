package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"feedsync/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

// amqpEnvelope - тело сообщения в exchange feed_events
type amqpEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// AMQPChannel - канал событий поверх topic exchange RabbitMQ.
// Топик "posts" соответствует routing key "posts.<Event>".
type AMQPChannel struct {
	url      string
	exchange string
}

func NewAMQPChannel(url, exchange string) *AMQPChannel {
	if exchange == "" {
		exchange = "feed_events"
	}
	return &AMQPChannel{url: url, exchange: exchange}
}

func declareFeedExchange(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,   // args
	)
}

// Subscribe объявляет эксклюзивную очередь, биндит ее на "<topic>.*" и начинает
// потребление. Успешный bind + consume считается подтверждением подписки.
func (a *AMQPChannel) Subscribe(ctx context.Context, topic string, sink chan<- ChannelMessage) (Subscription, error) {
	conn, err := amqp.Dial(a.url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	success := false
	defer func() {
		if !success {
			conn.Close()
		}
	}()

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := declareFeedExchange(ch, a.exchange); err != nil {
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare(
		"",
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, topic+".*", a.exchange, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	sub := &amqpSubscription{
		conn:  conn,
		ch:    ch,
		topic: topic,
		tag:   "feedsync-" + q.Name,
		done:  make(chan struct{}),
	}
	msgs, err := ch.ConsumeWithContext(ctx,
		q.Name,
		sub.tag,
		true,  // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start consumer: %w", err)
	}

	sub.wg.Add(1)
	go sub.consume(msgs, sink)

	success = true
	return sub, nil
}

type amqpSubscription struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	topic string
	tag   string
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

func (s *amqpSubscription) consume(msgs <-chan amqp.Delivery, sink chan<- ChannelMessage) {
	defer s.wg.Done()

	if !deliver(sink, s.done, ChannelMessage{Kind: MessageJoined, Topic: s.topic}) {
		return
	}
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				select {
				case <-s.done:
				default:
					deliver(sink, s.done, ChannelMessage{Kind: MessageClosed, Topic: s.topic, Err: fmt.Errorf("amqp delivery channel closed")})
				}
				return
			}
			event, err := deliveryMessage(s.topic, msg)
			if err != nil {
				log.Println("Failed to unmarshal feed event:", err)
				continue
			}
			if !deliver(sink, s.done, event) {
				return
			}
		}
	}
}

// deliveryMessage переводит сообщение из очереди в событие канала.
// Имя события берется из конверта, при его отсутствии - из routing key.
func deliveryMessage(topic string, d amqp.Delivery) (ChannelMessage, error) {
	var envelope amqpEnvelope
	if err := json.Unmarshal(d.Body, &envelope); err != nil {
		return ChannelMessage{}, err
	}
	name := envelope.Event
	if name == "" {
		name = strings.TrimPrefix(d.RoutingKey, topic+".")
	}
	if name == "" {
		return ChannelMessage{}, fmt.Errorf("event without name, routing key %q", d.RoutingKey)
	}
	return ChannelMessage{Kind: MessageEvent, Topic: topic, Name: name, Data: envelope.Data}, nil
}

func (s *amqpSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if cerr := s.ch.Cancel(s.tag, false); cerr != nil {
			log.Printf("Warning: failed to cancel consumer %s: %v", s.tag, cerr)
		}
		err = s.conn.Close()
		s.wg.Wait()
	})
	return err
}

// AMQPPublisher публикует события в exchange; используется feedctl publish
// и для ретрансляции событий между экземплярами
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = "feed_events"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := declareFeedExchange(ch, exchange); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	log.Printf("RabbitMQ publisher initialized for exchange %s", exchange)
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// PublishFeedEvent публикует событие в топик
func (p *AMQPPublisher) PublishFeedEvent(ctx context.Context, topic string, event models.FeedEvent) error {
	routingKey, body, err := feedEventPublishing(topic, event)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
}

// feedEventPublishing - routing key "<topic>.<Event>" и тело-конверт {event, data}
func feedEventPublishing(topic string, event models.FeedEvent) (string, []byte, error) {
	data, err := models.EncodeFeedEvent(event)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	body, err := json.Marshal(amqpEnvelope{Event: string(event.Type), Data: data})
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return fmt.Sprintf("%s.%s", topic, event.Type), body, nil
}

func (p *AMQPPublisher) Close() error {
	return p.conn.Close()
}
