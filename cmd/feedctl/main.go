package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"feedsync/config"
	"feedsync/models"
	"feedsync/services"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var configPath string

var RootCmd = &cobra.Command{
	Use:   "feedctl [command] [flags]",
	Short: "feedctl: inspect and drive the feed sync engine",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadConfig(configPath)
	},
	SilenceUsage: true,
}

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Load the feed and print it with local overlays",
	RunE:  showFeed,
}

var bookmarksCmd = &cobra.Command{
	Use:     "bookmarks",
	Aliases: []string{"bm"},
	Short:   "List bookmarked posts",
	RunE:    listBookmarks,
}

var bookmarksAddCmd = &cobra.Command{
	Use:   "add <post_id>",
	Short: "Add a post to the local bookmark overlay",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editBookmarks(cmd.Context(), args[0], true)
	},
}

var bookmarksRemoveCmd = &cobra.Command{
	Use:     "remove <post_id>",
	Aliases: []string{"rm"},
	Short:   "Remove a post from the local bookmark overlay",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editBookmarks(cmd.Context(), args[0], false)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Subscribe to the realtime channel and print applied events",
	RunE:  watch,
}

var publishCmd = &cobra.Command{
	Use:   "publish <event>",
	Short: "Publish a feed event to the AMQP exchange",
	Args:  cobra.ExactArgs(1),
	RunE:  publish,
}

var (
	remoteBookmarks bool
	publishPostID   int64
	publishLikes    int64
	publishBody     string
	publishAuthor   string
)

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to the configuration file")

	bookmarksCmd.Flags().BoolVar(&remoteBookmarks, "remote", false, "List bookmarks stored by the API instead of the local overlay")
	bookmarksCmd.AddCommand(bookmarksAddCmd, bookmarksRemoveCmd)

	publishCmd.Flags().Int64Var(&publishPostID, "post-id", 0, "Post id")
	publishCmd.Flags().Int64Var(&publishLikes, "likes", 0, "Likes count for LikeToggled")
	publishCmd.Flags().StringVar(&publishBody, "body", "", "Post or comment body")
	publishCmd.Flags().StringVar(&publishAuthor, "author", "feedctl", "Author name")

	RootCmd.AddCommand(feedCmd, bookmarksCmd, watchCmd, publishCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := RootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadService(ctx context.Context) (*services.FeedService, func(), error) {
	conf := config.AppConfig
	bookmarks, closeBookmarks, err := services.OpenBookmarkStore(ctx, conf)
	if err != nil {
		return nil, nil, err
	}
	svc := services.NewFeedService(services.NewFeedStore(), services.NewRemoteFeedSource(conf), bookmarks)
	return svc, func() { _ = closeBookmarks() }, nil
}

func showFeed(cmd *cobra.Command, args []string) error {
	svc, closeFn, err := loadService(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	if err := svc.Load(cmd.Context()); err != nil {
		return err
	}
	renderPosts(svc.View().Posts)
	return nil
}

func renderPosts(posts []models.PostView) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"ID", "Author", "Likes", "Liked", "Bookmarked", "Comments", "Body"})

	for _, p := range posts {
		table.Append([]string{
			strconv.FormatInt(p.ID, 10),
			p.AuthorName(),
			strconv.FormatInt(p.LikesCount, 10),
			mark(p.Liked),
			mark(p.Bookmarked),
			strconv.Itoa(p.CommentCount),
			shorten(p.Body, 60),
		})
	}
	table.Render()
}

func listBookmarks(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	conf := config.AppConfig

	if remoteBookmarks {
		posts, err := services.NewRemoteFeedSource(conf).FetchBookmarkedPosts(ctx)
		if err != nil {
			return err
		}
		views := make([]models.PostView, 0, len(posts))
		for _, p := range posts {
			views = append(views, models.PostView{Post: p, Bookmarked: true})
		}
		renderPosts(views)
		return nil
	}

	store, closeStore, err := services.OpenBookmarkStore(ctx, conf)
	if err != nil {
		return err
	}
	defer closeStore()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Post ID"})
	for _, id := range store.Load(ctx).Slice() {
		table.Append([]string{strconv.FormatInt(id, 10)})
	}
	table.Render()
	return nil
}

func editBookmarks(ctx context.Context, rawID string, add bool) error {
	postID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || postID <= 0 {
		return fmt.Errorf("invalid post id %q", rawID)
	}

	store, closeStore, err := services.OpenBookmarkStore(ctx, config.AppConfig)
	if err != nil {
		return err
	}
	defer closeStore()

	ids := store.Load(ctx)
	if add {
		ids[postID] = struct{}{}
	} else {
		delete(ids, postID)
	}
	if err := store.Save(ctx, ids); err != nil {
		return err
	}
	fmt.Printf("Bookmarks: %v\n", ids.Slice())
	return nil
}

func watch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	conf := config.AppConfig

	svc, closeFn, err := loadService(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	coordinator := services.NewSyncCoordinator(svc.Store(), services.NewEventChannel(conf), conf.Pusher.Topic)
	coordinator.OnApplied(func(event models.FeedEvent) {
		fmt.Printf("%s  %-15s %s\n", time.Now().Format(time.TimeOnly), event.Type, describe(event))
	})

	coordinator.Hold()
	return coordinator.Run(ctx, func(ctx context.Context) error {
		if err := svc.Load(ctx); err != nil {
			return err
		}
		coordinator.Resume()
		fmt.Printf("Watching %s via %s (%d posts loaded), Ctrl+C to stop\n", coordinator.Topic(), conf.Channel, svc.Store().Len())
		select {
		case <-ctx.Done():
		case <-coordinator.Done():
			fmt.Println("Channel closed")
		}
		return nil
	})
}

func describe(event models.FeedEvent) string {
	switch {
	case event.Post != nil:
		return fmt.Sprintf("post=%d %q", event.Post.ID, shorten(event.Post.Body, 40))
	case event.Comment != nil:
		return fmt.Sprintf("post=%d comment=%d %q", event.Comment.PostID, event.Comment.ID, shorten(event.Comment.Body, 40))
	case event.LikesCount != nil:
		return fmt.Sprintf("post=%d likes=%d", event.PostID, *event.LikesCount)
	}
	return fmt.Sprintf("post=%d", event.PostID)
}

func publish(cmd *cobra.Command, args []string) error {
	conf := config.AppConfig
	eventType := models.EventName(args[0])
	if !eventType.Known() {
		return fmt.Errorf("unknown event %q", args[0])
	}
	if publishPostID <= 0 {
		return fmt.Errorf("--post-id is required")
	}

	event := models.FeedEvent{Type: eventType}
	author := models.Author{Name: publishAuthor}
	switch eventType {
	case models.EventPostCreated, models.EventPostUpdated:
		event.Post = &models.Post{ID: publishPostID, User: author, Body: publishBody, CreatedAt: time.Now().UTC()}
	case models.EventPostDeleted:
		event.PostID = publishPostID
	case models.EventLikeToggled:
		event.PostID = publishPostID
		likes := publishLikes
		event.LikesCount = &likes
	case models.EventCommentCreated:
		event.Comment = &models.Comment{ID: time.Now().UnixNano(), PostID: publishPostID, User: author, Body: publishBody}
	}

	publisher, err := services.NewAMQPPublisher(conf.RabbitMQ.URL, conf.RabbitMQ.Exchange)
	if err != nil {
		return err
	}
	defer publisher.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	if err := publisher.PublishFeedEvent(ctx, conf.Pusher.Topic, event); err != nil {
		return err
	}
	fmt.Printf("Published %s for post %d\n", eventType, publishPostID)
	return nil
}

func mark(v bool) string {
	if v {
		return "*"
	}
	return ""
}

func shorten(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
