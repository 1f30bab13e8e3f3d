package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"feedsync/services"

	"github.com/gin-gonic/gin"
)

// FeedHandler - локальный API ленты для UI
type FeedHandler struct {
	service *services.FeedService
	sync    *services.SyncCoordinator
	hub     *services.WSHub
}

func NewFeedHandler(service *services.FeedService, sync *services.SyncCoordinator, hub *services.WSHub) *FeedHandler {
	return &FeedHandler{service: service, sync: sync, hub: hub}
}

type bodyRequest struct {
	Body string `json:"body" binding:"required"`
}

func parsePostID(c *gin.Context) (int64, bool) {
	postID, err := strconv.ParseInt(c.Param("post_id"), 10, 64)
	if err != nil || postID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid post ID"})
		return 0, false
	}
	return postID, true
}

// respondError переводит ошибку сервиса в HTTP статус.
// К моменту ответа оптимистичная мутация уже откачена.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrPostNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrEditInProgress), errors.Is(err, services.ErrNoEditSession):
		status = http.StatusConflict
	case errors.Is(err, services.ErrEmptyBody):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrForbidden):
		status = http.StatusForbidden
	case services.IsTransient(err):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *FeedHandler) syncState() string {
	if h.sync == nil {
		return services.StateUnsubscribed
	}
	return h.sync.State()
}

// GetFeed возвращает ленту с оверлеями лайков, закладок и сессий редактирования
func (h *FeedHandler) GetFeed(c *gin.Context) {
	view := h.service.View()
	view.Subscribed = h.syncState()
	c.JSON(http.StatusOK, view)
}

// GetBookmarks возвращает посты из закладок в порядке ленты
func (h *FeedHandler) GetBookmarks(c *gin.Context) {
	view := h.service.BookmarksView()
	view.Subscribed = h.syncState()
	c.JSON(http.StatusOK, view)
}

func (h *FeedHandler) GetComments(c *gin.Context) {
	postID, ok := parsePostID(c)
	if !ok {
		return
	}
	if _, exists := h.service.Store().Post(postID); !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Post not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": h.service.Store().Comments(postID)})
}

// CreatePost принимает JSON {body} или multipart форму body + image
func (h *FeedHandler) CreatePost(c *gin.Context) {
	var (
		body  string
		image *services.ImageUpload
	)

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		body = c.PostForm("body")
		if fh, err := c.FormFile("image"); err == nil {
			f, err := fh.Open()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid image"})
				return
			}
			defer f.Close()
			image = &services.ImageUpload{
				Name:        fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Data:        f,
			}
		}
	} else {
		var req struct {
			Body string `json:"body"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		body = req.Body
	}

	post, err := h.service.CreatePost(c.Request.Context(), body, image)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"post": post})
}

func (h *FeedHandler) ToggleLike(c *gin.Context) {
	postID, ok := parsePostID(c)
	if !ok {
		return
	}
	if err := h.service.ToggleLike(c.Request.Context(), postID); err != nil {
		respondError(c, err)
		return
	}
	post, _ := h.service.Store().Post(postID)
	c.JSON(http.StatusOK, gin.H{
		"liked":       h.service.Store().IsLiked(postID),
		"likes_count": post.LikesCount,
	})
}

func (h *FeedHandler) ToggleBookmark(c *gin.Context) {
	postID, ok := parsePostID(c)
	if !ok {
		return
	}
	bookmarked, err := h.service.ToggleBookmark(c.Request.Context(), postID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookmarked": bookmarked})
}

func (h *FeedHandler) AddComment(c *gin.Context) {
	postID, ok := parsePostID(c)
	if !ok {
		return
	}
	var req bodyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	comment, err := h.service.AddComment(c.Request.Context(), postID, req.Body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"comment": comment})
}

// BeginEdit открывает сессию редактирования
func (h *FeedHandler) BeginEdit(c *gin.Context) {
	postID, ok := parsePostID(c)
	if !ok {
		return
	}
	if err := h.service.BeginEdit(postID); err != nil {
		respondError(c, err)
		return
	}
	draft, _ := h.service.Store().EditDraft(postID)
	c.JSON(http.StatusOK, gin.H{"post_id": postID, "draft": draft})
}

// UpdateDraft меняет черновик открытой сессии
func (h *FeedHandler) UpdateDraft(c *gin.Context) {
	postID, ok := parsePostID(c)
	if !ok {
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := h.service.UpdateDraft(postID, req.Body); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"post_id": postID, "draft": req.Body})
}

func (h *FeedHandler) SaveEdit(c *gin.Context) {
	postID, ok := parsePostID(c)
	if !ok {
		return
	}
	post, err := h.service.SaveEdit(c.Request.Context(), postID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post})
}

func (h *FeedHandler) CancelEdit(c *gin.Context) {
	postID, ok := parsePostID(c)
	if !ok {
		return
	}
	if !h.service.CancelEdit(postID) {
		respondError(c, services.ErrNoEditSession)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Edit cancelled"})
}

func (h *FeedHandler) DeletePost(c *gin.Context) {
	postID, ok := parsePostID(c)
	if !ok {
		return
	}
	if err := h.service.DeletePost(c.Request.Context(), postID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Post deleted successfully"})
}

// SyncState - состояние подписки на realtime канал
func (h *FeedHandler) SyncState(c *gin.Context) {
	topic := ""
	if h.sync != nil {
		topic = h.sync.Topic()
	}
	clients := 0
	if h.hub != nil {
		clients = h.hub.Count()
	}
	c.JSON(http.StatusOK, gin.H{
		"topic":      topic,
		"state":      h.syncState(),
		"ui_clients": clients,
	})
}

// logNotice - хук сервиса для уведомлений без подключенного UI
func logNotice(n services.Notice) {
	log.Printf("Notice [%s] post=%d: %s", n.Type, n.PostID, n.Message)
}
