package models

import "time"

// Author - автор поста или комментария, как его отдает API
type Author struct {
	Name string `json:"name"`
}

// Post - пост ленты
type Post struct {
	ID         int64     `json:"id"`
	User       Author    `json:"user"`
	Body       string    `json:"body"`
	Image      *string   `json:"image,omitempty"`
	LikesCount int64     `json:"likes_count"`
	CreatedAt  time.Time `json:"created_at"`
}

func (p Post) AuthorName() string {
	return p.User.Name
}

// Comment - комментарий к посту.
// ClientToken генерируется клиентом при локальном добавлении и возвращается сервером в событии.
type Comment struct {
	ID          int64  `json:"id"`
	PostID      int64  `json:"post_id"`
	User        Author `json:"user"`
	Body        string `json:"body"`
	ClientToken string `json:"client_token,omitempty"`
	Pending     bool   `json:"pending,omitempty"`
}

func (c Comment) AuthorName() string {
	return c.User.Name
}

// FeedResponse - ответ fetch-posts
type FeedResponse struct {
	Posts      []Post  `json:"posts"`
	LikedPosts []int64 `json:"likedPosts"`
}

type CommentsResponse struct {
	Comments []Comment `json:"comments"`
}

type PostResponse struct {
	Post Post `json:"post"`
}

type CommentResponse struct {
	Comment Comment `json:"comment"`
}

type LikeResponse struct {
	LikesCount int64 `json:"likesCount"`
}

type UserResponse struct {
	Name string `json:"name"`
}

// FeedView - снимок ленты для UI
type FeedView struct {
	Posts      []PostView `json:"posts"`
	Subscribed string     `json:"subscription"`
}

// PostView - пост вместе с локальными оверлеями
type PostView struct {
	Post
	Liked        bool      `json:"liked"`
	Bookmarked   bool      `json:"bookmarked"`
	Editing      bool      `json:"editing"`
	CanModify    bool      `json:"can_modify"`
	CommentCount int       `json:"comment_count"`
	Comments     []Comment `json:"comments,omitempty"`
}
