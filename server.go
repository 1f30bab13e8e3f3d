package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feedsync/api/handlers"
	"feedsync/api/middleware"
	"feedsync/api/routes"
	"feedsync/config"
	"feedsync/services"

	"github.com/gin-gonic/gin"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to the configuration file")
	flag.Parse()

	err := config.LoadConfig(configPath)
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}
	conf := config.AppConfig
	log.Printf("Starting feedsync... api=%s channel=%s bookmarks=%s", conf.API.BaseURL, conf.Channel, conf.Bookmarks.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bookmarks, closeBookmarks, err := services.OpenBookmarkStore(ctx, conf)
	if err != nil {
		panic("Failed to open bookmarks store: " + err.Error())
	}
	defer func() {
		if err := closeBookmarks(); err != nil {
			log.Printf("Warning: failed to close bookmarks store: %v", err)
		}
	}()

	store := services.NewFeedStore()
	feedService := services.NewFeedService(store, services.NewRemoteFeedSource(conf), bookmarks)
	coordinator := services.NewSyncCoordinator(store, services.NewEventChannel(conf), conf.Pusher.Topic)

	hub := services.NewWSHub()
	feedHandler := handlers.NewFeedHandler(feedService, coordinator, hub)
	feedHandler.BindHub()

	// подписка раньше загрузки; события до конца Load копятся и применяются
	// поверх загруженной ленты, повторы гасятся идемпотентными apply*
	coordinator.Hold()
	if err := coordinator.Start(ctx); err != nil {
		log.Printf("ERROR: realtime channel unavailable, feed will not update live: %v", err)
	}
	defer coordinator.Stop()

	if err := feedService.Load(ctx); err != nil {
		log.Printf("ERROR: initial feed load failed: %v", err)
	}
	coordinator.Resume()

	if conf.Logs.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.PrometheusMiddleware("feedsync"))

	routes.FeedApi(router, feedHandler, conf.Backend.APIToken)
	routes.MetricsApi(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", conf.Backend.Host, conf.Backend.Port),
		Handler: router,
	}
	go func() {
		log.Printf("Local API listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("ERROR: server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: server shutdown: %v", err)
	}
}
