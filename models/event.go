package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedEvent - payload события не соответствует его типу
var ErrMalformedEvent = errors.New("malformed event payload")

// EventType - тип события канала "posts"
type EventType string

const (
	EventPostCreated    EventType = "PostCreated"
	EventPostUpdated    EventType = "PostUpdated"
	EventPostDeleted    EventType = "PostDeleted"
	EventLikeToggled    EventType = "LikeToggled"
	EventCommentCreated EventType = "CommentCreated"
)

// FeedEvent - событие канала в разобранном виде.
// Заполнены только поля, относящиеся к Type.
type FeedEvent struct {
	Type       EventType `json:"event"`
	Post       *Post     `json:"post,omitempty"`
	PostID     int64     `json:"postId,omitempty"`
	LikesCount *int64    `json:"likesCount,omitempty"`
	Comment    *Comment  `json:"comment,omitempty"`
}

// eventPayload - общий вид payload'ов всех пяти событий
type eventPayload struct {
	Post       *Post    `json:"post"`
	PostID     *int64   `json:"postId"`
	LikesCount *int64   `json:"likesCount"`
	Comment    *Comment `json:"comment"`
}

// EventName отрезает namespace Laravel Echo: "App\Events\PostCreated" -> "PostCreated"
func EventName(raw string) EventType {
	name := raw
	if i := strings.LastIndexAny(name, `\.`); i >= 0 {
		name = name[i+1:]
	}
	return EventType(name)
}

// Known сообщает, знает ли клиент этот тип события
func (t EventType) Known() bool {
	switch t {
	case EventPostCreated, EventPostUpdated, EventPostDeleted, EventLikeToggled, EventCommentCreated:
		return true
	}
	return false
}

// DecodeFeedEvent разбирает payload события. Для неизвестных типов возвращается
// событие только с Type, payload не проверяется.
func DecodeFeedEvent(name string, data []byte) (FeedEvent, error) {
	event := FeedEvent{Type: EventName(name)}
	if !event.Type.Known() {
		return event, nil
	}

	var payload eventPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return event, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, event.Type, err)
	}

	switch event.Type {
	case EventPostCreated, EventPostUpdated:
		if payload.Post == nil || payload.Post.ID == 0 {
			return event, fmt.Errorf("%w: %s without post", ErrMalformedEvent, event.Type)
		}
		event.Post = payload.Post
	case EventPostDeleted:
		switch {
		case payload.PostID != nil:
			event.PostID = *payload.PostID
		case payload.Post != nil:
			event.PostID = payload.Post.ID
		}
		if event.PostID == 0 {
			return event, fmt.Errorf("%w: %s without postId", ErrMalformedEvent, event.Type)
		}
	case EventLikeToggled:
		switch {
		case payload.PostID != nil:
			event.PostID = *payload.PostID
		case payload.Post != nil:
			event.PostID = payload.Post.ID
		}
		if event.PostID == 0 || payload.LikesCount == nil || *payload.LikesCount < 0 {
			return event, fmt.Errorf("%w: %s without postId or likesCount", ErrMalformedEvent, event.Type)
		}
		event.LikesCount = payload.LikesCount
	case EventCommentCreated:
		if payload.Comment == nil || payload.Comment.PostID == 0 {
			return event, fmt.Errorf("%w: %s without comment", ErrMalformedEvent, event.Type)
		}
		event.Comment = payload.Comment
	}
	return event, nil
}

// EncodeFeedEvent - обратная операция, используется при публикации в AMQP
func EncodeFeedEvent(event FeedEvent) ([]byte, error) {
	payload := eventPayload{
		Post:       event.Post,
		LikesCount: event.LikesCount,
		Comment:    event.Comment,
	}
	if event.PostID != 0 {
		id := event.PostID
		payload.PostID = &id
	}
	return json.Marshal(payload)
}
