package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"feedsync/config"
	"feedsync/models"

	"github.com/looplab/fsm"
)

const (
	StateUnsubscribed = "unsubscribed"
	StateSubscribing  = "subscribing"
	StateSubscribed   = "subscribed"

	eventSubscribe   = "subscribe"
	eventConfirm     = "confirm"
	eventUnsubscribe = "unsubscribe"
)

var ErrAlreadyStarted = errors.New("sync already started")

const inboxSize = 64

// SyncCoordinator держит подписку на топик и переводит события канала в вызовы FeedStore.
// Все сообщения канала обрабатываются по одному единственной горутиной.
type SyncCoordinator struct {
	store   *FeedStore
	channel EventChannel
	topic   string
	state   *fsm.FSM

	inbox  chan ChannelMessage
	buffer []ChannelMessage

	mu       sync.Mutex
	started  bool
	sub      Subscription
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	// held - события копятся в буфере до Resume, даже после подтверждения подписки
	held       bool
	resume     chan struct{}
	resumeOnce sync.Once

	onApplied func(models.FeedEvent)
}

func NewSyncCoordinator(store *FeedStore, channel EventChannel, topic string) *SyncCoordinator {
	if topic == "" {
		topic = "posts"
	}
	c := &SyncCoordinator{
		store:   store,
		channel: channel,
		topic:   topic,
		inbox:   make(chan ChannelMessage, inboxSize),
		done:    make(chan struct{}),
		resume:  make(chan struct{}),
	}
	c.state = fsm.NewFSM(
		StateUnsubscribed,
		fsm.Events{
			{Name: eventSubscribe, Src: []string{StateUnsubscribed}, Dst: StateSubscribing},
			{Name: eventConfirm, Src: []string{StateSubscribing}, Dst: StateSubscribed},
			{Name: eventUnsubscribe, Src: []string{StateSubscribing, StateSubscribed}, Dst: StateUnsubscribed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				config.Debugf("sync %s: %s -> %s", c.topic, e.Src, e.Dst)
				recordSubscriptionState(c.topic, e.Dst)
			},
		},
	)
	recordSubscriptionState(topic, StateUnsubscribed)
	return c
}

// OnApplied регистрирует хук, вызываемый после каждого изменившего ленту события.
// Вызывается из горутины координатора.
func (c *SyncCoordinator) OnApplied(fn func(models.FeedEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onApplied = fn
}

func (c *SyncCoordinator) State() string {
	return c.state.Current()
}

func (c *SyncCoordinator) Topic() string {
	return c.topic
}

// Hold откладывает применение событий до Resume. Нужен, когда подписка
// открывается раньше начальной загрузки: LoadInitial заменяет ленту целиком,
// и события, пришедшие до ее окончания, применяются после.
// Действует только до Start.
func (c *SyncCoordinator) Hold() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		c.held = true
	}
}

// Resume применяет накопленные события и снимает Hold. Повторный вызов - no-op.
func (c *SyncCoordinator) Resume() {
	c.resumeOnce.Do(func() { close(c.resume) })
}

// Start подписывается на топик и запускает обработку сообщений.
// Координатор одноразовый: после Stop повторный Start возвращает ErrAlreadyStarted.
func (c *SyncCoordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	runCtx, cancel := context.WithCancel(ctx)
	success := false
	defer func() {
		if !success {
			cancel()
			c.transition(eventUnsubscribe)
			close(c.done)
		}
	}()

	if err := c.state.Event(ctx, eventSubscribe); err != nil {
		return fmt.Errorf("sync %s: %w", c.topic, err)
	}

	sub, err := c.channel.Subscribe(runCtx, c.topic, c.inbox)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.topic, err)
	}
	c.sub = sub
	c.cancel = cancel

	go c.run(runCtx)

	success = true
	return nil
}

// Stop освобождает подписку и дожидается завершения обработки. Повторный вызов - no-op.
func (c *SyncCoordinator) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		cancel := c.cancel
		started := c.started
		c.started = true
		c.mu.Unlock()

		if !started {
			close(c.done)
			return
		}
		if cancel != nil {
			cancel()
		}
		<-c.done
	})
}

// Done закрывается, когда обработка сообщений завершена
func (c *SyncCoordinator) Done() <-chan struct{} {
	return c.done
}

// Run держит подписку на время работы fn и освобождает ее при любом исходе
func (c *SyncCoordinator) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer c.Stop()
	return fn(ctx)
}

func (c *SyncCoordinator) run(ctx context.Context) {
	defer close(c.done)
	defer c.release()

	resume := c.resume
	for {
		select {
		case <-ctx.Done():
			return
		case <-resume:
			resume = nil
			c.held = false
			if c.state.Current() == StateSubscribed && !c.flush(ctx) {
				return
			}
		case msg := <-c.inbox:
			if !c.handle(ctx, msg) {
				return
			}
		}
	}
}

// handle обрабатывает одно сообщение канала; false - обработка закончена
func (c *SyncCoordinator) handle(ctx context.Context, msg ChannelMessage) bool {
	switch msg.Kind {
	case MessageJoined:
		if c.state.Current() != StateSubscribing {
			return true
		}
		c.transition(eventConfirm)
		if c.held {
			return true
		}
		return c.flush(ctx)
	case MessageEvent:
		switch c.state.Current() {
		case StateSubscribing:
			c.buffer = append(c.buffer, msg)
		case StateSubscribed:
			if c.held {
				c.buffer = append(c.buffer, msg)
				return true
			}
			c.dispatch(msg)
		default:
			recordEvent(string(models.EventName(msg.Name)), "dropped")
		}
	case MessageClosed:
		log.Printf("Warning: channel closed for %s: %v", c.topic, msg.Err)
		return false
	}
	return true
}

// flush применяет буфер ровно один раз; false - контекст отменен
func (c *SyncCoordinator) flush(ctx context.Context) bool {
	buffered := c.buffer
	c.buffer = nil
	if len(buffered) > 0 {
		config.Debugf("sync %s: flushing %d buffered events", c.topic, len(buffered))
	}
	for _, m := range buffered {
		if ctx.Err() != nil {
			return false
		}
		c.dispatch(m)
	}
	return true
}

func (c *SyncCoordinator) dispatch(msg ChannelMessage) {
	event, err := models.DecodeFeedEvent(msg.Name, msg.Data)
	if err != nil {
		log.Printf("ERROR: dropping event %s: %v", msg.Name, err)
		recordEvent(string(event.Type), "malformed")
		return
	}
	if !event.Type.Known() {
		config.Debugf("sync %s: ignoring unknown event %q", c.topic, msg.Name)
		recordEvent("unknown", "ignored")
		return
	}

	var applied bool
	switch event.Type {
	case models.EventPostCreated:
		applied = c.store.ApplyPostCreated(*event.Post)
	case models.EventPostUpdated:
		applied = c.store.ApplyPostUpdated(event.Post.ID, event.Post.Body)
	case models.EventPostDeleted:
		applied = c.store.ApplyPostDeleted(event.PostID)
	case models.EventLikeToggled:
		applied = c.store.ApplyLikeCountChanged(event.PostID, *event.LikesCount)
	case models.EventCommentCreated:
		applied = c.store.ApplyCommentCreated(*event.Comment)
	}

	if !applied {
		recordEvent(string(event.Type), "skipped")
		return
	}
	recordEvent(string(event.Type), "applied")

	c.mu.Lock()
	hook := c.onApplied
	c.mu.Unlock()
	if hook != nil {
		hook(event)
	}
}

func (c *SyncCoordinator) release() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			log.Printf("Warning: unsubscribe from %s failed: %v", c.topic, err)
		}
	}
	c.buffer = nil
	c.transition(eventUnsubscribe)
}

func (c *SyncCoordinator) transition(event string) {
	if err := c.state.Event(context.Background(), event); err != nil {
		var noTransition fsm.NoTransitionError
		var invalid fsm.InvalidEventError
		if errors.As(err, &noTransition) || errors.As(err, &invalid) {
			return
		}
		log.Printf("ERROR: sync %s transition %s: %v", c.topic, event, err)
	}
}
