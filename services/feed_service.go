package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"feedsync/config"
	"feedsync/models"

	"golang.org/x/sync/errgroup"
)

var (
	ErrEmptyBody = errors.New("body must not be empty")
	ErrForbidden = errors.New("post belongs to another user")
)

const defaultCommentFetchLimit = 4

// Notice - уведомление для UI о неудавшемся действии
type Notice struct {
	Type    string `json:"notify_type"`
	Message string `json:"message"`
	PostID  int64  `json:"post_id,omitempty"`
}

// FeedService связывает FeedStore, удаленный API и хранилище закладок.
// Каждое действие пользователя - оптимистичная мутация ленты, откатываемая при ошибке запроса.
type FeedService struct {
	store     *FeedStore
	remote    RemoteFeedSource
	bookmarks BookmarkOverlayStore

	mu       sync.RWMutex
	user     string
	onNotice func(Notice)
	onChange func()

	CommentFetchLimit int
}

func NewFeedService(store *FeedStore, remote RemoteFeedSource, bookmarks BookmarkOverlayStore) *FeedService {
	return &FeedService{
		store:             store,
		remote:            remote,
		bookmarks:         bookmarks,
		CommentFetchLimit: defaultCommentFetchLimit,
	}
}

func (s *FeedService) Store() *FeedStore {
	return s.store
}

func (s *FeedService) OnNotice(fn func(Notice)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onNotice = fn
}

func (s *FeedService) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

func (s *FeedService) CurrentUser() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// CanModify - редактировать и удалять пост может только его автор
func (s *FeedService) CanModify(postID int64) bool {
	post, ok := s.store.Post(postID)
	if !ok {
		return false
	}
	return s.canModify(post)
}

func (s *FeedService) canModify(post models.Post) bool {
	user := s.CurrentUser()
	return user != "" && post.AuthorName() == user
}

// Load выполняет начальную загрузку: пользователь, посты, закладки, комментарии.
// Ошибка загрузки пользователя не фатальна.
func (s *FeedService) Load(ctx context.Context) error {
	user, err := s.remote.FetchUser(ctx)
	if err != nil {
		log.Printf("Warning: failed to fetch current user: %v", err)
	} else {
		s.mu.Lock()
		s.user = user.Name
		s.mu.Unlock()
	}

	feed, err := s.remote.FetchPosts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load feed: %w", err)
	}

	s.store.SetBookmarks(s.bookmarks.Load(ctx))

	comments, err := s.fetchComments(ctx, feed.Posts)
	if err != nil {
		return fmt.Errorf("failed to load comments: %w", err)
	}

	if err := s.store.LoadInitial(feed.Posts, feed.LikedPosts, comments); err != nil {
		return fmt.Errorf("failed to load feed: %w", err)
	}
	log.Printf("Feed loaded: %d posts, %d liked, %d bookmarked",
		s.store.Len(), len(feed.LikedPosts), len(s.store.BookmarkedIDs()))
	s.changed()
	return nil
}

// fetchComments загружает комментарии всех постов параллельно.
// Ошибка по отдельному посту оставляет его без комментариев.
func (s *FeedService) fetchComments(ctx context.Context, posts []models.Post) (map[int64][]models.Comment, error) {
	var mu sync.Mutex
	result := make(map[int64][]models.Comment, len(posts))

	g, gctx := errgroup.WithContext(ctx)
	limit := s.CommentFetchLimit
	if limit <= 0 {
		limit = defaultCommentFetchLimit
	}
	g.SetLimit(limit)

	for _, post := range posts {
		postID := post.ID
		g.Go(func() error {
			list, err := s.remote.FetchComments(gctx, postID)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Printf("Warning: failed to fetch comments for post %d: %v", postID, err)
				return nil
			}
			mu.Lock()
			result[postID] = list
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// ToggleLike - оптимистичный лайк; счетчик из ответа применяется как абсолютное значение
func (s *FeedService) ToggleLike(ctx context.Context, postID int64) error {
	start := time.Now()
	var pending *PendingLike

	saga := NewSaga(fmt.Sprintf("toggle-like-%d", postID)).
		AddStep("local",
			func(ctx context.Context) error {
				p, err := s.store.ToggleLikeLocal(postID)
				pending = p
				return err
			},
			func(ctx context.Context) error {
				s.store.RevertLocalLike(pending)
				return nil
			}).
		AddStep("remote",
			func(ctx context.Context) error {
				count, err := s.remote.ToggleLike(ctx, postID)
				if err != nil {
					return err
				}
				s.store.ApplyLikeCountChanged(postID, count)
				return nil
			}, nil)

	err := saga.Execute(ctx)
	s.finish("toggle-like", postID, start, pending != nil, err, "Could not update like, please try again")
	return err
}

// ToggleBookmark переключает закладку: память, затем постоянное хранилище, затем API.
// Возвращает новое состояние закладки.
func (s *FeedService) ToggleBookmark(ctx context.Context, postID int64) (bool, error) {
	start := time.Now()
	var (
		pending  *PendingBookmark
		snapshot IDSet
	)

	saga := NewSaga(fmt.Sprintf("toggle-bookmark-%d", postID)).
		AddStep("local",
			func(ctx context.Context) error {
				pending, snapshot = s.store.ToggleBookmarkLocal(postID)
				return nil
			},
			func(ctx context.Context) error {
				s.store.RevertBookmark(pending)
				return nil
			}).
		AddStep("persist",
			func(ctx context.Context) error {
				if err := s.bookmarks.Save(ctx, snapshot); err != nil {
					return fmt.Errorf("failed to persist bookmarks: %w", err)
				}
				return nil
			},
			func(ctx context.Context) error {
				restored := snapshot.Clone()
				if pending.Bookmarked() {
					delete(restored, postID)
				} else {
					restored[postID] = struct{}{}
				}
				return s.bookmarks.Save(ctx, restored)
			}).
		AddStep("remote",
			func(ctx context.Context) error {
				return s.remote.ToggleBookmark(ctx, postID, pending.Bookmarked())
			}, nil)

	err := saga.Execute(ctx)
	s.finish("toggle-bookmark", postID, start, true, err, "Could not update bookmark, please try again")
	if err != nil {
		return s.store.IsBookmarked(postID), err
	}
	return pending.Bookmarked(), nil
}

// AddComment показывает комментарий сразу, до ответа API
func (s *FeedService) AddComment(ctx context.Context, postID int64, body string) (models.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return models.Comment{}, ErrEmptyBody
	}

	start := time.Now()
	var (
		pending   *PendingComment
		confirmed models.Comment
	)

	saga := NewSaga(fmt.Sprintf("add-comment-%d", postID)).
		AddStep("local",
			func(ctx context.Context) error {
				p, err := s.store.AddCommentLocal(postID, s.CurrentUser(), body)
				pending = p
				if err == nil {
					s.changed()
				}
				return err
			},
			func(ctx context.Context) error {
				s.store.RevertComment(pending)
				return nil
			}).
		AddStep("remote",
			func(ctx context.Context) error {
				c, err := s.remote.AddComment(ctx, postID, body, pending.Token)
				if err != nil {
					return err
				}
				s.store.ConfirmComment(pending, c)
				confirmed = c
				return nil
			}, nil)

	err := saga.Execute(ctx)
	s.finish("add-comment", postID, start, pending != nil, err, "Could not add comment, please try again")
	return confirmed, err
}

// CreatePost публикует пост; в ленту он попадает из ответа, повторное эхо события игнорируется
func (s *FeedService) CreatePost(ctx context.Context, body string, image *ImageUpload) (models.Post, error) {
	body = strings.TrimSpace(body)
	if body == "" && image == nil {
		return models.Post{}, ErrEmptyBody
	}

	start := time.Now()
	post, err := s.remote.CreatePost(ctx, body, image)
	if err == nil {
		s.store.ApplyPostCreated(post)
	}
	s.finish("create-post", post.ID, start, true, err, "Could not publish post, please try again")
	return post, err
}

// BeginEdit открывает сессию редактирования своего поста
func (s *FeedService) BeginEdit(postID int64) error {
	post, ok := s.store.Post(postID)
	if !ok {
		return fmt.Errorf("edit %d: %w", postID, ErrPostNotFound)
	}
	if !s.canModify(post) {
		return fmt.Errorf("edit %d: %w", postID, ErrForbidden)
	}
	if err := s.store.BeginEdit(postID); err != nil {
		return err
	}
	s.changed()
	return nil
}

func (s *FeedService) UpdateDraft(postID int64, body string) error {
	return s.store.EditPostLocal(postID, body)
}

func (s *FeedService) CancelEdit(postID int64) bool {
	if !s.store.CancelEdit(postID) {
		return false
	}
	s.changed()
	return true
}

// SaveEdit применяет черновик сразу и отправляет его в API.
// При ошибке текст возвращается, а сессия открывается заново с черновиком.
func (s *FeedService) SaveEdit(ctx context.Context, postID int64) (models.Post, error) {
	draft, editing := s.store.EditDraft(postID)
	if !editing {
		return models.Post{}, fmt.Errorf("save edit %d: %w", postID, ErrNoEditSession)
	}
	if strings.TrimSpace(draft) == "" {
		return models.Post{}, ErrEmptyBody
	}

	start := time.Now()
	var pending *PendingEdit
	saga := NewSaga(fmt.Sprintf("edit-post-%d", postID)).
		AddStep("local",
			func(ctx context.Context) error {
				p, err := s.store.SavePostEdit(postID)
				pending = p
				return err
			},
			func(ctx context.Context) error {
				s.store.RevertPostEdit(pending)
				return nil
			}).
		AddStep("remote",
			func(ctx context.Context) error {
				post, err := s.remote.EditPost(ctx, postID, pending.NewBody)
				if err != nil {
					return err
				}
				if post.Body != "" {
					s.store.ApplyPostUpdated(postID, post.Body)
				}
				return nil
			}, nil)

	err := saga.Execute(ctx)
	s.finish("edit-post", postID, start, pending != nil, err, "Could not save post, please try again")
	if err != nil {
		return models.Post{}, err
	}
	post, _ := s.store.Post(postID)
	return post, nil
}

// DeletePost убирает пост из ленты до ответа API
func (s *FeedService) DeletePost(ctx context.Context, postID int64) error {
	post, ok := s.store.Post(postID)
	if !ok {
		return fmt.Errorf("delete %d: %w", postID, ErrPostNotFound)
	}
	if !s.canModify(post) {
		return fmt.Errorf("delete %d: %w", postID, ErrForbidden)
	}

	start := time.Now()
	var pending *PendingDelete
	saga := NewSaga(fmt.Sprintf("delete-post-%d", postID)).
		AddStep("local",
			func(ctx context.Context) error {
				p, err := s.store.DeletePostLocal(postID)
				pending = p
				if err == nil {
					s.changed()
				}
				return err
			},
			func(ctx context.Context) error {
				s.store.RevertDelete(pending)
				return nil
			}).
		AddStep("remote",
			func(ctx context.Context) error {
				return s.remote.DeletePost(ctx, postID)
			}, nil)

	err := saga.Execute(ctx)
	s.finish("delete-post", postID, start, pending != nil, err, "Could not delete post, please try again")
	return err
}

// View - лента с оверлеями для UI
func (s *FeedService) View() models.FeedView {
	return models.FeedView{Posts: s.store.PostViews(false, s.canModify)}
}

// BookmarksView - закладки в порядке ленты; закладки на исчезнувшие посты пропускаются
func (s *FeedService) BookmarksView() models.FeedView {
	return models.FeedView{Posts: s.store.PostViews(true, s.canModify)}
}

// finish фиксирует исход операции; started=false - локальный шаг не выполнялся
func (s *FeedService) finish(operation string, postID int64, start time.Time, started bool, err error, failMessage string) {
	if !started {
		return
	}
	RecordFeedOperation(operation, time.Since(start), err)
	if err != nil {
		log.Printf("ERROR: %s for post %d reverted: %v", operation, postID, err)
		s.notify(Notice{Type: "error", Message: failMessage, PostID: postID})
	} else {
		config.Debugf("%s for post %d confirmed in %s", operation, postID, time.Since(start))
	}
	s.changed()
}

func (s *FeedService) notify(n Notice) {
	s.mu.RLock()
	fn := s.onNotice
	s.mu.RUnlock()
	if fn != nil {
		fn(n)
	}
}

func (s *FeedService) changed() {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}
