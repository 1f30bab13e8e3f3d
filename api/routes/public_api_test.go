package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"feedsync/api/handlers"
	"feedsync/models"
	"feedsync/services"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "local-secret"

// stubRemote - удаленный API в памяти; down переводит все записи в сетевую ошибку
type stubRemote struct {
	user  string
	posts []models.Post
	down  bool
	next  int64
}

var errDown = &services.RequestError{Op: "stub", Err: errors.New("connection refused")}

func (s *stubRemote) FetchUser(ctx context.Context) (models.UserResponse, error) {
	return models.UserResponse{Name: s.user}, nil
}

func (s *stubRemote) FetchPosts(ctx context.Context) (*models.FeedResponse, error) {
	return &models.FeedResponse{Posts: s.posts}, nil
}

func (s *stubRemote) FetchComments(ctx context.Context, postID int64) ([]models.Comment, error) {
	return nil, nil
}

func (s *stubRemote) FetchBookmarkedPosts(ctx context.Context) ([]models.Post, error) {
	return nil, nil
}

func (s *stubRemote) CreatePost(ctx context.Context, body string, image *services.ImageUpload) (models.Post, error) {
	if s.down {
		return models.Post{}, errDown
	}
	s.next++
	return models.Post{ID: s.next, User: models.Author{Name: s.user}, Body: body}, nil
}

func (s *stubRemote) EditPost(ctx context.Context, postID int64, body string) (models.Post, error) {
	if s.down {
		return models.Post{}, errDown
	}
	return models.Post{ID: postID, User: models.Author{Name: s.user}, Body: body}, nil
}

func (s *stubRemote) DeletePost(ctx context.Context, postID int64) error {
	if s.down {
		return errDown
	}
	return nil
}

func (s *stubRemote) ToggleLike(ctx context.Context, postID int64) (int64, error) {
	if s.down {
		return 0, errDown
	}
	return 42, nil
}

func (s *stubRemote) ToggleBookmark(ctx context.Context, postID int64, bookmarked bool) error {
	if s.down {
		return errDown
	}
	return nil
}

func (s *stubRemote) AddComment(ctx context.Context, postID int64, body string, clientToken string) (models.Comment, error) {
	if s.down {
		return models.Comment{}, errDown
	}
	s.next++
	return models.Comment{ID: s.next, PostID: postID, User: models.Author{Name: s.user}, Body: body, ClientToken: clientToken}, nil
}

func setupRouter(t *testing.T, remote *stubRemote) (*gin.Engine, *services.FeedService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := services.NewFeedService(services.NewFeedStore(), remote, services.NewMemoryBookmarkStore())
	require.NoError(t, svc.Load(context.Background()))

	h := handlers.NewFeedHandler(svc, nil, services.NewWSHub())
	h.BindHub()

	router := gin.New()
	FeedApi(router, h, testToken)
	return router, svc
}

func newRemote() *stubRemote {
	me := gofakeit.Name()
	return &stubRemote{
		user: me,
		next: 100,
		posts: []models.Post{
			{ID: 2, User: models.Author{Name: me}, Body: gofakeit.City(), LikesCount: 1},
			{ID: 1, User: models.Author{Name: gofakeit.Name() + " младший"}, Body: gofakeit.City()},
		},
	}
}

func call(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Token", testToken)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestTokenRequired(t *testing.T) {
	router, _ := setupRouter(t, newRemote())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/feed", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/feed", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/feed?token="+testToken, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetFeed(t *testing.T) {
	router, _ := setupRouter(t, newRemote())

	w := call(router, http.MethodGet, "/api/v1/feed", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var view models.FeedView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.Len(t, view.Posts, 2)
	assert.Equal(t, int64(2), view.Posts[0].ID)
	assert.True(t, view.Posts[0].CanModify)
	assert.False(t, view.Posts[1].CanModify)
	assert.Equal(t, services.StateUnsubscribed, view.Subscribed)
}

func TestLikeAndBookmark(t *testing.T) {
	router, svc := setupRouter(t, newRemote())

	w := call(router, http.MethodPost, "/api/v1/posts/1/like", nil)
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.Equal(t, true, out["liked"])
	assert.Equal(t, float64(42), out["likes_count"])

	w = call(router, http.MethodPost, "/api/v1/posts/1/bookmark", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["bookmarked"])

	w = call(router, http.MethodGet, "/api/v1/bookmarks", nil)
	var view models.FeedView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.Len(t, view.Posts, 1)
	assert.Equal(t, int64(1), view.Posts[0].ID)
	assert.True(t, svc.Store().IsBookmarked(1))
}

func TestNetworkFailureRevertsAndReturnsBadGateway(t *testing.T) {
	remote := newRemote()
	router, svc := setupRouter(t, remote)
	remote.down = true

	w := call(router, http.MethodPost, "/api/v1/posts/2/like", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	post, _ := svc.Store().Post(2)
	assert.Equal(t, int64(1), post.LikesCount)
	assert.False(t, svc.Store().IsLiked(2))

	w = call(router, http.MethodPost, "/api/v1/posts/2/comments", map[string]string{"body": "привет"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Empty(t, svc.Store().Comments(2))
}

func TestUnknownPostAndBadID(t *testing.T) {
	router, _ := setupRouter(t, newRemote())

	assert.Equal(t, http.StatusNotFound, call(router, http.MethodPost, "/api/v1/posts/77/like", nil).Code)
	assert.Equal(t, http.StatusNotFound, call(router, http.MethodGet, "/api/v1/posts/77/comments", nil).Code)
	assert.Equal(t, http.StatusBadRequest, call(router, http.MethodPost, "/api/v1/posts/abc/like", nil).Code)
}

func TestCommentsFlow(t *testing.T) {
	router, _ := setupRouter(t, newRemote())

	w := call(router, http.MethodPost, "/api/v1/posts/1/comments", map[string]string{"body": "отлично"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = call(router, http.MethodGet, "/api/v1/posts/1/comments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.CommentsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Comments, 1)
	assert.Equal(t, "отлично", resp.Comments[0].Body)
	assert.False(t, resp.Comments[0].Pending)

	assert.Equal(t, http.StatusBadRequest, call(router, http.MethodPost, "/api/v1/posts/1/comments", map[string]string{}).Code)
}

func TestEditFlow(t *testing.T) {
	router, svc := setupRouter(t, newRemote())

	assert.Equal(t, http.StatusForbidden, call(router, http.MethodPost, "/api/v1/posts/1/edit", nil).Code)

	require.Equal(t, http.StatusOK, call(router, http.MethodPost, "/api/v1/posts/2/edit", nil).Code)
	assert.Equal(t, http.StatusConflict, call(router, http.MethodPost, "/api/v1/posts/2/edit", nil).Code)

	require.Equal(t, http.StatusOK, call(router, http.MethodPut, "/api/v1/posts/2/edit", map[string]string{"body": "   "}).Code)
	assert.Equal(t, http.StatusBadRequest, call(router, http.MethodPost, "/api/v1/posts/2/edit/save", nil).Code)

	require.Equal(t, http.StatusOK, call(router, http.MethodPut, "/api/v1/posts/2/edit", map[string]string{"body": "исправлено"}).Code)
	w := call(router, http.MethodPost, "/api/v1/posts/2/edit/save", nil)
	require.Equal(t, http.StatusOK, w.Code)
	post, _ := svc.Store().Post(2)
	assert.Equal(t, "исправлено", post.Body)

	assert.Equal(t, http.StatusConflict, call(router, http.MethodDelete, "/api/v1/posts/2/edit", nil).Code)
}

func TestCreateAndDeletePost(t *testing.T) {
	router, svc := setupRouter(t, newRemote())

	w := call(router, http.MethodPost, "/api/v1/posts", map[string]string{"body": "новый"})
	require.Equal(t, http.StatusCreated, w.Code)
	var created models.PostResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, 3, svc.Store().Len())

	w = call(router, http.MethodDelete, fmt.Sprintf("/api/v1/posts/%d", created.Post.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, svc.Store().Len())

	assert.Equal(t, http.StatusForbidden, call(router, http.MethodDelete, "/api/v1/posts/1", nil).Code)
}

func TestSyncStateWithoutCoordinator(t *testing.T) {
	router, _ := setupRouter(t, newRemote())

	w := call(router, http.MethodGet, "/api/v1/sync/state", nil)
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.Equal(t, services.StateUnsubscribed, out["state"])
	assert.Equal(t, float64(0), out["ui_clients"])
}

func TestWSFeedGreetingAndChanges(t *testing.T) {
	router, svc := setupRouter(t, newRemote())
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/feed?token=" + testToken
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var greeting map[string]interface{}
	require.NoError(t, conn.ReadJSON(&greeting))
	assert.Equal(t, "connected", greeting["event"])

	_, err = svc.ToggleBookmark(context.Background(), 1)
	require.NoError(t, err)

	var changed map[string]interface{}
	require.NoError(t, conn.ReadJSON(&changed))
	assert.Equal(t, "feed_changed", changed["event"])
}
