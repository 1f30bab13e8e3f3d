package routes

import (
	"feedsync/api/handlers"
	"feedsync/api/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// FeedApi регистрирует локальный API ленты под /api/v1/
func FeedApi(router *gin.Engine, h *handlers.FeedHandler, apiToken string) *gin.RouterGroup {
	feedEndpoints := router.Group("/api/v1/")
	feedEndpoints.Use(middleware.APITokenMiddleware(apiToken))
	{
		feedEndpoints.GET("feed", h.GetFeed)
		feedEndpoints.GET("bookmarks", h.GetBookmarks)
		feedEndpoints.GET("sync/state", h.SyncState)
		feedEndpoints.GET("ws/feed", h.WSFeedHandler)

		// Посты
		feedEndpoints.POST("posts", h.CreatePost)
		feedEndpoints.DELETE("posts/:post_id", h.DeletePost)
		feedEndpoints.POST("posts/:post_id/like", h.ToggleLike)
		feedEndpoints.POST("posts/:post_id/bookmark", h.ToggleBookmark)

		// Комментарии
		feedEndpoints.GET("posts/:post_id/comments", h.GetComments)
		feedEndpoints.POST("posts/:post_id/comments", h.AddComment)

		// Редактирование
		feedEndpoints.POST("posts/:post_id/edit", h.BeginEdit)
		feedEndpoints.PUT("posts/:post_id/edit", h.UpdateDraft)
		feedEndpoints.POST("posts/:post_id/edit/save", h.SaveEdit)
		feedEndpoints.DELETE("posts/:post_id/edit", h.CancelEdit)
	}
	return feedEndpoints
}

// MetricsApi - /metrics для Prometheus
func MetricsApi(router *gin.Engine) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
