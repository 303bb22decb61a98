package feed

import "time"

// Reaction is a like or dislike on a post.
type Reaction string

const (
	Like    Reaction = "like"
	Dislike Reaction = "dislike"
)

// Post as returned by the backend. UserReaction is relative to the email the
// request was made for.
type Post struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Likes        int       `json:"likes"`
	Dislikes     int       `json:"dislikes"`
	UserReaction *Reaction `json:"user_reaction"`
}

// Pagination metadata attached to list responses.
type Pagination struct {
	Page        int  `json:"page"`
	Limit       int  `json:"limit"`
	Total       int  `json:"total"`
	TotalPages  int  `json:"total_pages"`
	HasNextPage bool `json:"has_next_page"`
	HasPrevPage bool `json:"has_prev_page"`
}

type PostsResponse struct {
	Success    bool       `json:"success"`
	Data       []Post     `json:"data"`
	Pagination Pagination `json:"pagination"`
}

type PostResponse struct {
	Success bool  `json:"success"`
	Data    *Post `json:"data"`
}

// ReactionResponse reports what the toggle did: "liked", "disliked" or "removed".
type ReactionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Action  string `json:"action"`
}

type MyReactions struct {
	LikedPosts     []Post `json:"liked_posts"`
	DislikedPosts  []Post `json:"disliked_posts"`
	TotalLiked     int    `json:"total_liked"`
	TotalDisliked  int    `json:"total_disliked"`
	TotalReactions int    `json:"total_reactions"`
}

type MyReactionsResponse struct {
	Success    bool        `json:"success"`
	Data       MyReactions `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

// CreatePostRequest is the body of POST /posts.
type CreatePostRequest struct {
	Email   string `json:"email"`
	Content string `json:"content"`
}

type reactionRequest struct {
	Email string `json:"email"`
}

// ListParams filter and page list calls. Zero values are omitted.
type ListParams struct {
	Email string
	Page  int
	Limit int
}
