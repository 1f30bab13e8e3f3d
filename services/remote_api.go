package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"feedsync/models"
)

// RemoteFeedSource - удаленный API ленты, авторитетный источник данных
type RemoteFeedSource interface {
	FetchUser(ctx context.Context) (models.UserResponse, error)
	FetchPosts(ctx context.Context) (*models.FeedResponse, error)
	FetchComments(ctx context.Context, postID int64) ([]models.Comment, error)
	FetchBookmarkedPosts(ctx context.Context) ([]models.Post, error)
	CreatePost(ctx context.Context, body string, image *ImageUpload) (models.Post, error)
	EditPost(ctx context.Context, postID int64, body string) (models.Post, error)
	DeletePost(ctx context.Context, postID int64) error
	ToggleLike(ctx context.Context, postID int64) (int64, error)
	// ToggleBookmark переводит закладку в состояние bookmarked
	ToggleBookmark(ctx context.Context, postID int64, bookmarked bool) error
	AddComment(ctx context.Context, postID int64, body string, clientToken string) (models.Comment, error)
}

// ImageUpload - картинка для create-post
type ImageUpload struct {
	Name        string
	ContentType string
	Data        io.Reader
}

// RequestError - ошибка запроса к API. Всегда транзиентная для клиента:
// оптимистичная мутация откатывается, пользователю показывается уведомление.
type RequestError struct {
	Op     string
	Status int
	Err    error
}

func (e *RequestError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// IsTransient сообщает, является ли ошибка сбоем запроса к API
func IsTransient(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr)
}

// HTTPFeedSource - клиент Laravel API
type HTTPFeedSource struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPFeedSource(baseURL, token string, timeout time.Duration) *HTTPFeedSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFeedSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (h *HTTPFeedSource) do(ctx context.Context, op, method, path string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, body)
	if err != nil {
		return &RequestError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return &RequestError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RequestError{Op: op, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > 200 {
			msg = msg[:200] + "..."
		}
		return &RequestError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("unexpected response: %s", msg)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &RequestError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

func (h *HTTPFeedSource) doJSON(ctx context.Context, op, method, path string, in, out interface{}) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &RequestError{Op: op, Err: err}
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return h.do(ctx, op, method, path, body, contentType, out)
}

func (h *HTTPFeedSource) FetchUser(ctx context.Context) (models.UserResponse, error) {
	var user models.UserResponse
	err := h.doJSON(ctx, "fetch-user", http.MethodGet, "/user", nil, &user)
	return user, err
}

func (h *HTTPFeedSource) FetchPosts(ctx context.Context) (*models.FeedResponse, error) {
	var feed models.FeedResponse
	if err := h.doJSON(ctx, "fetch-posts", http.MethodGet, "/posts", nil, &feed); err != nil {
		return nil, err
	}
	return &feed, nil
}

func (h *HTTPFeedSource) FetchComments(ctx context.Context, postID int64) ([]models.Comment, error) {
	var resp models.CommentsResponse
	if err := h.doJSON(ctx, "fetch-comments", http.MethodGet, fmt.Sprintf("/posts/%d/comments", postID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Comments, nil
}

func (h *HTTPFeedSource) FetchBookmarkedPosts(ctx context.Context) ([]models.Post, error) {
	var resp struct {
		Posts []models.Post `json:"posts"`
	}
	if err := h.doJSON(ctx, "fetch-bookmarked-posts", http.MethodGet, "/bookmarked-posts", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Posts, nil
}

// CreatePost отправляет multipart форму body + image, как мобильный клиент
func (h *HTTPFeedSource) CreatePost(ctx context.Context, body string, image *ImageUpload) (models.Post, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("body", body); err != nil {
		return models.Post{}, &RequestError{Op: "create-post", Err: err}
	}
	if image != nil && image.Data != nil {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, image.Name))
		contentType := image.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)
		part, err := form.CreatePart(header)
		if err != nil {
			return models.Post{}, &RequestError{Op: "create-post", Err: err}
		}
		if _, err := io.Copy(part, image.Data); err != nil {
			return models.Post{}, &RequestError{Op: "create-post", Err: err}
		}
	}
	if err := form.Close(); err != nil {
		return models.Post{}, &RequestError{Op: "create-post", Err: err}
	}

	var raw json.RawMessage
	if err := h.do(ctx, "create-post", http.MethodPost, "/posts", &buf, form.FormDataContentType(), &raw); err != nil {
		return models.Post{}, err
	}
	return decodePost("create-post", raw)
}

func (h *HTTPFeedSource) EditPost(ctx context.Context, postID int64, body string) (models.Post, error) {
	var raw json.RawMessage
	in := map[string]string{"body": body}
	if err := h.doJSON(ctx, "edit-post", http.MethodPut, fmt.Sprintf("/posts/%d", postID), in, &raw); err != nil {
		return models.Post{}, err
	}
	if len(raw) == 0 {
		return models.Post{ID: postID, Body: body}, nil
	}
	return decodePost("edit-post", raw)
}

func (h *HTTPFeedSource) DeletePost(ctx context.Context, postID int64) error {
	return h.doJSON(ctx, "delete-post", http.MethodDelete, fmt.Sprintf("/posts/%d", postID), nil, nil)
}

func (h *HTTPFeedSource) ToggleLike(ctx context.Context, postID int64) (int64, error) {
	var resp models.LikeResponse
	if err := h.doJSON(ctx, "toggle-like", http.MethodPost, fmt.Sprintf("/posts/%d/like", postID), struct{}{}, &resp); err != nil {
		return 0, err
	}
	return resp.LikesCount, nil
}

func (h *HTTPFeedSource) ToggleBookmark(ctx context.Context, postID int64, bookmarked bool) error {
	action := "unbookmark"
	if bookmarked {
		action = "bookmark"
	}
	return h.doJSON(ctx, "toggle-bookmark", http.MethodPost, fmt.Sprintf("/posts/%d/%s", postID, action), struct{}{}, nil)
}

func (h *HTTPFeedSource) AddComment(ctx context.Context, postID int64, body string, clientToken string) (models.Comment, error) {
	in := map[string]string{"body": body, "client_token": clientToken}
	var raw json.RawMessage
	if err := h.doJSON(ctx, "add-comment", http.MethodPost, fmt.Sprintf("/posts/%d/comments", postID), in, &raw); err != nil {
		return models.Comment{}, err
	}
	var wrapped models.CommentResponse
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Comment.ID != 0 {
		return wrapped.Comment, nil
	}
	var comment models.Comment
	if err := json.Unmarshal(raw, &comment); err != nil {
		return models.Comment{}, &RequestError{Op: "add-comment", Err: fmt.Errorf("failed to decode comment: %w", err)}
	}
	return comment, nil
}

// decodePost принимает и {post: {...}}, и голый объект поста
func decodePost(op string, raw json.RawMessage) (models.Post, error) {
	var wrapped models.PostResponse
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Post.ID != 0 {
		return wrapped.Post, nil
	}
	var post models.Post
	if err := json.Unmarshal(raw, &post); err != nil || post.ID == 0 {
		return models.Post{}, &RequestError{Op: op, Err: fmt.Errorf("response without post")}
	}
	return post, nil
}
