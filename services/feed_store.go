package services

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"feedsync/config"
	"feedsync/models"

	"github.com/oklog/ulid/v2"
)

var (
	ErrPostNotFound   = errors.New("post not found")
	ErrDuplicatePost  = errors.New("duplicate post id")
	ErrMalformedPost  = errors.New("malformed post")
	ErrEditInProgress = errors.New("edit already in progress")
	ErrNoEditSession  = errors.New("no edit in progress")
)

// IDSet - множество идентификаторов постов
type IDSet map[int64]struct{}

func NewIDSet(ids ...int64) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s IDSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

func (s IDSet) Clone() IDSet {
	c := make(IDSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// Slice возвращает отсортированный список
func (s IDSet) Slice() []int64 {
	ids := make([]int64, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// PendingLike - токен оптимистичного лайка
type PendingLike struct {
	PostID    int64
	prevLiked bool
	prevCount int64
	rev       uint64
}

// PendingBookmark - токен оптимистичной закладки
type PendingBookmark struct {
	PostID         int64
	prevBookmarked bool
}

// Bookmarked - состояние закладки после переключения
func (p *PendingBookmark) Bookmarked() bool {
	return !p.prevBookmarked
}

// PendingComment - локальный комментарий, ожидающий подтверждения
type PendingComment struct {
	PostID int64
	Token  string
}

// PendingEdit - сохраненная, но не подтвержденная правка
type PendingEdit struct {
	PostID   int64
	prevBody string
	NewBody  string
}

// PendingDelete - оптимистично удаленный пост
type PendingDelete struct {
	PostID   int64
	post     models.Post
	index    int
	comments []models.Comment
	rev      uint64
}

// FeedStore - in-memory лента одного экрана: упорядоченные посты (новые первыми),
// комментарии, оверлеи лайков и закладок, сессии редактирования.
// Каждая операция атомарна относительно остальных.
type FeedStore struct {
	mu         sync.RWMutex
	posts      []*models.Post
	index      map[int64]*models.Post
	// rev растет при каждом авторитетном изменении поста, в т.ч. удалении
	rev        map[int64]uint64
	comments   map[int64][]models.Comment
	liked      IDSet
	bookmarked IDSet
	edits      map[int64]string
}

func NewFeedStore() *FeedStore {
	return &FeedStore{
		index:      make(map[int64]*models.Post),
		rev:        make(map[int64]uint64),
		comments:   make(map[int64][]models.Comment),
		liked:      NewIDSet(),
		bookmarked: NewIDSet(),
		edits:      make(map[int64]string),
	}
}

// LoadInitial заменяет содержимое ленты целиком. При некорректном входе
// лента остается пустой. Оверлей закладок не трогается.
func (s *FeedStore) LoadInitial(posts []models.Post, likedIDs []int64, comments map[int64][]models.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resetLocked()

	seen := make(map[int64]struct{}, len(posts))
	for _, p := range posts {
		if p.ID == 0 || p.LikesCount < 0 {
			return fmt.Errorf("%w: id=%d", ErrMalformedPost, p.ID)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("%w: %d", ErrDuplicatePost, p.ID)
		}
		seen[p.ID] = struct{}{}
	}

	for i := range posts {
		post := posts[i]
		s.posts = append(s.posts, &post)
		s.index[post.ID] = &post
		s.rev[post.ID]++
	}
	for _, id := range likedIDs {
		s.liked[id] = struct{}{}
	}
	for postID, list := range comments {
		if _, ok := s.index[postID]; !ok {
			continue
		}
		kept := make([]models.Comment, 0, len(list))
		for _, c := range list {
			if c.PostID != 0 && c.PostID != postID {
				log.Printf("Warning: comment %d listed under post %d belongs to post %d, dropped", c.ID, postID, c.PostID)
				continue
			}
			c.PostID = postID
			kept = append(kept, c)
		}
		s.comments[postID] = kept
	}
	return nil
}

func (s *FeedStore) resetLocked() {
	s.posts = nil
	s.index = make(map[int64]*models.Post)
	s.rev = make(map[int64]uint64)
	s.comments = make(map[int64][]models.Comment)
	s.liked = NewIDSet()
	s.edits = make(map[int64]string)
}

// SetBookmarks заполняет оверлей закладок из постоянного хранилища
func (s *FeedStore) SetBookmarks(ids IDSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookmarked = ids.Clone()
}

// ApplyPostCreated добавляет пост в начало ленты, повторы игнорируются
func (s *FeedStore) ApplyPostCreated(post models.Post) bool {
	if post.ID == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[post.ID]; ok {
		return false
	}
	p := post
	s.posts = append([]*models.Post{&p}, s.posts...)
	s.index[p.ID] = &p
	s.rev[p.ID]++
	return true
}

// ApplyPostUpdated заменяет текст поста; отсутствующий пост - no-op
func (s *FeedStore) ApplyPostUpdated(id int64, body string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.index[id]
	if !ok {
		return false
	}
	p.Body = body
	return true
}

// ApplyPostDeleted удаляет пост вместе с комментариями и сессией редактирования.
// Оверлеи лайков и закладок не чистятся.
func (s *FeedStore) ApplyPostDeleted(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	// отметка удаления нужна и для уже удаленного локально поста:
	// по ней RevertDelete не вернет его обратно
	s.rev[id]++
	_, removed := s.removeLocked(id)
	return removed
}

func (s *FeedStore) removeLocked(id int64) (int, bool) {
	if _, ok := s.index[id]; !ok {
		return -1, false
	}
	pos := -1
	for i, p := range s.posts {
		if p.ID == id {
			pos = i
			break
		}
	}
	if pos >= 0 {
		s.posts = append(s.posts[:pos], s.posts[pos+1:]...)
	}
	delete(s.index, id)
	delete(s.comments, id)
	delete(s.edits, id)
	return pos, true
}

// ApplyLikeCountChanged - абсолютная замена likes_count
func (s *FeedStore) ApplyLikeCountChanged(id int64, count int64) bool {
	if count < 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.index[id]
	if !ok {
		return false
	}
	p.LikesCount = count
	s.rev[id]++
	return true
}

// ToggleLikeLocal переключает лайк и сдвигает счетчик на ±1 до ответа сервера
func (s *FeedStore) ToggleLikeLocal(id int64) (*PendingLike, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.index[id]
	if !ok {
		return nil, fmt.Errorf("toggle like %d: %w", id, ErrPostNotFound)
	}

	pending := &PendingLike{
		PostID:    id,
		prevLiked: s.liked.Has(id),
		prevCount: p.LikesCount,
	}
	if pending.prevLiked {
		delete(s.liked, id)
		if p.LikesCount > 0 {
			p.LikesCount--
		}
	} else {
		s.liked[id] = struct{}{}
		p.LikesCount++
	}
	s.rev[id]++
	pending.rev = s.rev[id]
	return pending, nil
}

// RevertLocalLike откатывает ToggleLikeLocal. Счетчик восстанавливается, только если
// после переключения не пришло авторитетное значение.
func (s *FeedStore) RevertLocalLike(pending *PendingLike) {
	if pending == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.liked.Has(pending.PostID) != pending.prevLiked {
		if pending.prevLiked {
			s.liked[pending.PostID] = struct{}{}
		} else {
			delete(s.liked, pending.PostID)
		}
	}

	p, ok := s.index[pending.PostID]
	if !ok {
		return
	}
	if s.rev[pending.PostID] == pending.rev {
		p.LikesCount = pending.prevCount
		s.rev[pending.PostID]++
	}
}

// ToggleBookmarkLocal переключает закладку в памяти. Запись в постоянное
// хранилище выполняет вызывающий (FeedService), т.к. она блокирующая.
func (s *FeedStore) ToggleBookmarkLocal(id int64) (*PendingBookmark, IDSet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := &PendingBookmark{PostID: id, prevBookmarked: s.bookmarked.Has(id)}
	if pending.prevBookmarked {
		delete(s.bookmarked, id)
	} else {
		s.bookmarked[id] = struct{}{}
	}
	return pending, s.bookmarked.Clone()
}

// RevertBookmark возвращает закладку в состояние до переключения
// и отдает снимок множества для повторной записи
func (s *FeedStore) RevertBookmark(pending *PendingBookmark) IDSet {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pending != nil {
		if pending.prevBookmarked {
			s.bookmarked[pending.PostID] = struct{}{}
		} else {
			delete(s.bookmarked, pending.PostID)
		}
	}
	return s.bookmarked.Clone()
}

// AddCommentLocal добавляет комментарий-заглушку с токеном корреляции
func (s *FeedStore) AddCommentLocal(postID int64, author string, body string) (*PendingComment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[postID]; !ok {
		return nil, fmt.Errorf("add comment to %d: %w", postID, ErrPostNotFound)
	}
	token := ulid.Make().String()
	placeholder := models.Comment{
		PostID:      postID,
		User:        models.Author{Name: author},
		Body:        body,
		ClientToken: token,
		Pending:     true,
	}
	s.comments[postID] = append([]models.Comment{placeholder}, s.comments[postID]...)
	return &PendingComment{PostID: postID, Token: token}, nil
}

// ApplyCommentCreated применяет серверный комментарий: заменяет заглушку с тем же
// токеном, пропускает уже известный id, иначе добавляет в начало.
// Комментарий к неизвестному посту отбрасывается.
func (s *FeedStore) ApplyCommentCreated(comment models.Comment) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyCommentLocked(comment)
}

func (s *FeedStore) applyCommentLocked(comment models.Comment) bool {
	if _, ok := s.index[comment.PostID]; !ok {
		return false
	}
	comment.Pending = false
	list := s.comments[comment.PostID]

	if comment.ID != 0 {
		for _, c := range list {
			if c.ID == comment.ID {
				return false
			}
		}
	}
	if comment.ClientToken != "" {
		for i, c := range list {
			if c.Pending && c.ClientToken == comment.ClientToken {
				list[i] = comment
				return true
			}
		}
	}
	s.comments[comment.PostID] = append([]models.Comment{comment}, list...)
	return true
}

// ConfirmComment заменяет заглушку комментарием из ответа add-comment.
// Если эхо события уже принесло комментарий с этим id, заглушка просто убирается.
func (s *FeedStore) ConfirmComment(pending *PendingComment, comment models.Comment) {
	if pending == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	comment.PostID = pending.PostID
	comment.ClientToken = pending.Token
	if comment.ID != 0 {
		for _, c := range s.comments[pending.PostID] {
			if c.ID == comment.ID {
				s.dropPlaceholderLocked(pending)
				return
			}
		}
	}
	s.applyCommentLocked(comment)
}

// RevertComment убирает неподтвержденную заглушку
func (s *FeedStore) RevertComment(pending *PendingComment) {
	if pending == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropPlaceholderLocked(pending)
}

func (s *FeedStore) dropPlaceholderLocked(pending *PendingComment) {
	list := s.comments[pending.PostID]
	for i, c := range list {
		if c.Pending && c.ClientToken == pending.Token {
			s.comments[pending.PostID] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// BeginEdit открывает сессию редактирования; одна сессия на пост
func (s *FeedStore) BeginEdit(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.index[id]
	if !ok {
		return fmt.Errorf("edit %d: %w", id, ErrPostNotFound)
	}
	if _, editing := s.edits[id]; editing {
		return fmt.Errorf("edit %d: %w", id, ErrEditInProgress)
	}
	s.edits[id] = p.Body
	return nil
}

// EditPostLocal обновляет черновик открытой сессии
func (s *FeedStore) EditPostLocal(id int64, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, editing := s.edits[id]; !editing {
		return fmt.Errorf("edit %d: %w", id, ErrNoEditSession)
	}
	s.edits[id] = body
	return nil
}

// SavePostEdit закрывает сессию и оптимистично применяет черновик
func (s *FeedStore) SavePostEdit(id int64) (*PendingEdit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft, editing := s.edits[id]
	if !editing {
		return nil, fmt.Errorf("save edit %d: %w", id, ErrNoEditSession)
	}
	p, ok := s.index[id]
	if !ok {
		delete(s.edits, id)
		return nil, fmt.Errorf("save edit %d: %w", id, ErrPostNotFound)
	}
	pending := &PendingEdit{PostID: id, prevBody: p.Body, NewBody: draft}
	p.Body = draft
	delete(s.edits, id)
	return pending, nil
}

// RevertPostEdit возвращает прежний текст, если его не перезаписало событие,
// и заново открывает сессию с черновиком
func (s *FeedStore) RevertPostEdit(pending *PendingEdit) {
	if pending == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.index[pending.PostID]
	if !ok {
		return
	}
	if p.Body == pending.NewBody {
		p.Body = pending.prevBody
	}
	if _, editing := s.edits[pending.PostID]; !editing {
		s.edits[pending.PostID] = pending.NewBody
	}
}

// CancelEdit закрывает сессию без изменений
func (s *FeedStore) CancelEdit(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, editing := s.edits[id]; !editing {
		return false
	}
	delete(s.edits, id)
	return true
}

func (s *FeedStore) IsEditing(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, editing := s.edits[id]
	return editing
}

// EditDraft возвращает черновик открытой сессии
func (s *FeedStore) EditDraft(id int64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	draft, editing := s.edits[id]
	return draft, editing
}

// DeletePostLocal оптимистично удаляет пост
func (s *FeedStore) DeletePostLocal(id int64) (*PendingDelete, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.index[id]
	if !ok {
		return nil, fmt.Errorf("delete %d: %w", id, ErrPostNotFound)
	}
	pending := &PendingDelete{
		PostID:   id,
		post:     *p,
		comments: append([]models.Comment(nil), s.comments[id]...),
		rev:      s.rev[id],
	}
	pending.index, _ = s.removeLocked(id)
	return pending, nil
}

// RevertDelete возвращает пост на прежнее место, если он не появился заново
// и сервер не подтвердил удаление событием PostDeleted
func (s *FeedStore) RevertDelete(pending *PendingDelete) {
	if pending == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[pending.PostID]; ok {
		return
	}
	if s.rev[pending.PostID] != pending.rev {
		config.Debugf("post %d deleted by server, revert skipped", pending.PostID)
		return
	}
	pos := pending.index
	if pos < 0 || pos > len(s.posts) {
		pos = len(s.posts)
	}
	p := pending.post
	s.posts = append(s.posts, nil)
	copy(s.posts[pos+1:], s.posts[pos:])
	s.posts[pos] = &p
	s.index[p.ID] = &p
	s.rev[p.ID] = pending.rev + 1
	if len(pending.comments) > 0 {
		s.comments[p.ID] = pending.comments
	}
}

// Posts возвращает копию ленты в порядке отображения
func (s *FeedStore) Posts() []models.Post {
	s.mu.RLock()
	defer s.mu.RUnlock()

	posts := make([]models.Post, 0, len(s.posts))
	for _, p := range s.posts {
		posts = append(posts, *p)
	}
	return posts
}

func (s *FeedStore) Post(id int64) (models.Post, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.index[id]
	if !ok {
		return models.Post{}, false
	}
	return *p, true
}

// Comments возвращает комментарии поста, новые первыми
func (s *FeedStore) Comments(postID int64) []models.Comment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Comment(nil), s.comments[postID]...)
}

func (s *FeedStore) IsLiked(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.liked.Has(id)
}

func (s *FeedStore) IsBookmarked(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bookmarked.Has(id)
}

func (s *FeedStore) LikedIDs() IDSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.liked.Clone()
}

func (s *FeedStore) BookmarkedIDs() IDSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bookmarked.Clone()
}

// BookmarkedPosts - посты из оверлея закладок в порядке ленты.
// Записи оверлея без поста пропускаются.
func (s *FeedStore) BookmarkedPosts() []models.Post {
	s.mu.RLock()
	defer s.mu.RUnlock()

	posts := make([]models.Post, 0, len(s.bookmarked))
	for _, p := range s.posts {
		if s.bookmarked.Has(p.ID) {
			posts = append(posts, *p)
		}
	}
	return posts
}

// Len - количество постов в ленте
func (s *FeedStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.posts)
}

// PostViews - согласованный снимок ленты вместе с оверлеями.
// onlyBookmarked оставляет только посты из оверлея закладок.
func (s *FeedStore) PostViews(onlyBookmarked bool, canModify func(models.Post) bool) []models.PostView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	views := make([]models.PostView, 0, len(s.posts))
	for _, p := range s.posts {
		bookmarked := s.bookmarked.Has(p.ID)
		if onlyBookmarked && !bookmarked {
			continue
		}
		_, editing := s.edits[p.ID]
		comments := append([]models.Comment(nil), s.comments[p.ID]...)
		views = append(views, models.PostView{
			Post:         *p,
			Liked:        s.liked.Has(p.ID),
			Bookmarked:   bookmarked,
			Editing:      editing,
			CanModify:    canModify != nil && canModify(*p),
			CommentCount: len(comments),
			Comments:     comments,
		})
	}
	return views
}
