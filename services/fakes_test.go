package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"feedsync/models"

	"github.com/brianvoe/gofakeit/v7"
)

var errNetwork = &RequestError{Op: "test", Err: errors.New("connection refused")}

func fakePost(id int64, likes int64) models.Post {
	return models.Post{
		ID:         id,
		User:       models.Author{Name: gofakeit.Name()},
		Body:       "Привет из " + gofakeit.City() + " #" + gofakeit.Numerify("###"),
		LikesCount: likes,
		CreatedAt:  gofakeit.Date(),
	}
}

func fakeComment(id, postID int64) models.Comment {
	return models.Comment{
		ID:     id,
		PostID: postID,
		User:   models.Author{Name: gofakeit.Name()},
		Body:   "Комментарий " + gofakeit.Numerify("######"),
	}
}

// fakeRemote - RemoteFeedSource в памяти с управляемыми ошибками
type fakeRemote struct {
	mu sync.Mutex

	user     string
	posts    []models.Post
	liked    []int64
	comments map[int64][]models.Comment
	likes    map[int64]int64

	failUser     error
	failPosts    error
	failComments error
	failLike     error
	failBookmark error
	failComment  error
	failEdit     error
	failDelete   error
	failCreate   error

	// serverLiked - лайки текущего пользователя на стороне сервера
	serverLiked IDSet
	// duringDelete вызывается внутри запроса удаления, до ответа
	duringDelete func(postID int64)

	bookmarkCalls []bool
	commentTokens []string
	nextID        int64
}

func newFakeRemote(user string, posts ...models.Post) *fakeRemote {
	r := &fakeRemote{
		user:     user,
		posts:    posts,
		comments: make(map[int64][]models.Comment),
		likes:    make(map[int64]int64),
		nextID:   1000,
	}
	for _, p := range posts {
		r.likes[p.ID] = p.LikesCount
	}
	return r
}

func (r *fakeRemote) FetchUser(ctx context.Context) (models.UserResponse, error) {
	if r.failUser != nil {
		return models.UserResponse{}, r.failUser
	}
	return models.UserResponse{Name: r.user}, nil
}

func (r *fakeRemote) FetchPosts(ctx context.Context) (*models.FeedResponse, error) {
	if r.failPosts != nil {
		return nil, r.failPosts
	}
	return &models.FeedResponse{Posts: r.posts, LikedPosts: r.liked}, nil
}

func (r *fakeRemote) FetchComments(ctx context.Context, postID int64) ([]models.Comment, error) {
	if r.failComments != nil {
		return nil, r.failComments
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.comments[postID], nil
}

func (r *fakeRemote) FetchBookmarkedPosts(ctx context.Context) ([]models.Post, error) {
	return nil, nil
}

func (r *fakeRemote) CreatePost(ctx context.Context, body string, image *ImageUpload) (models.Post, error) {
	if r.failCreate != nil {
		return models.Post{}, r.failCreate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return models.Post{ID: r.nextID, User: models.Author{Name: r.user}, Body: body, CreatedAt: time.Now()}, nil
}

func (r *fakeRemote) EditPost(ctx context.Context, postID int64, body string) (models.Post, error) {
	if r.failEdit != nil {
		return models.Post{}, r.failEdit
	}
	return models.Post{ID: postID, Body: body}, nil
}

func (r *fakeRemote) DeletePost(ctx context.Context, postID int64) error {
	if r.duringDelete != nil {
		r.duringDelete(postID)
	}
	return r.failDelete
}

func (r *fakeRemote) ToggleLike(ctx context.Context, postID int64) (int64, error) {
	if r.failLike != nil {
		return 0, r.failLike
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.serverLiked == nil {
		r.serverLiked = NewIDSet(r.liked...)
	}
	if r.serverLiked.Has(postID) {
		delete(r.serverLiked, postID)
		r.likes[postID]--
	} else {
		r.serverLiked[postID] = struct{}{}
		r.likes[postID]++
	}
	return r.likes[postID], nil
}

func (r *fakeRemote) ToggleBookmark(ctx context.Context, postID int64, bookmarked bool) error {
	r.mu.Lock()
	r.bookmarkCalls = append(r.bookmarkCalls, bookmarked)
	r.mu.Unlock()
	return r.failBookmark
}

func (r *fakeRemote) AddComment(ctx context.Context, postID int64, body string, clientToken string) (models.Comment, error) {
	if r.failComment != nil {
		return models.Comment{}, r.failComment
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.commentTokens = append(r.commentTokens, clientToken)
	return models.Comment{ID: r.nextID, PostID: postID, User: models.Author{Name: r.user}, Body: body, ClientToken: clientToken}, nil
}

// fakeChannel - EventChannel, отдающий sink тесту
type fakeChannel struct {
	mu           sync.Mutex
	sink         chan<- ChannelMessage
	subscribed   chan struct{}
	failSub      error
	unsubscribed int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{subscribed: make(chan struct{})}
}

func (f *fakeChannel) Subscribe(ctx context.Context, topic string, sink chan<- ChannelMessage) (Subscription, error) {
	if f.failSub != nil {
		return nil, f.failSub
	}
	f.mu.Lock()
	f.sink = sink
	f.mu.Unlock()
	close(f.subscribed)
	return &fakeSubscription{channel: f}, nil
}

func (f *fakeChannel) send(msg ChannelMessage) {
	<-f.subscribed
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	sink <- msg
}

func (f *fakeChannel) unsubscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubscribed
}

type fakeSubscription struct {
	channel *fakeChannel
	once    sync.Once
}

func (s *fakeSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.channel.mu.Lock()
		s.channel.unsubscribed++
		s.channel.mu.Unlock()
	})
	return nil
}
