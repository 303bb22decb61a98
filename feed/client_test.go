package feed

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/h2non/gock.v1"

	"github.com/Wang-tianhao/iframe-identity-go/session"
)

const backend = "http://backend.test"

func newClient(t *testing.T, email string) *Client {
	t.Helper()
	store := session.NewStore()
	if email != "" {
		require.NoError(t, store.Resolve(session.Identity{Email: email, FromHandshake: true}))
	}
	c, err := NewClient(backend+"/", store)
	require.NoError(t, err)
	return c
}

func TestListPosts(t *testing.T) {
	defer gock.Off()

	gock.New(backend).
		Get("/posts").
		MatchParam("email", "a@b.com").
		MatchParam("page", "2").
		MatchParam("limit", "10").
		Reply(http.StatusOK).
		JSON(map[string]any{
			"success": true,
			"data": []map[string]any{
				{"id": "p1", "email": "a@b.com", "content": "hello", "likes": 3, "dislikes": 1, "user_reaction": "like"},
			},
			"pagination": map[string]any{"page": 2, "limit": 10, "total": 11, "total_pages": 2, "has_next_page": false, "has_prev_page": true},
		})

	c := newClient(t, "")
	resp, err := c.ListPosts(context.Background(), ListParams{Email: "a@b.com", Page: 2, Limit: 10})
	require.NoError(t, err)

	require.Len(t, resp.Data, 1)
	assert.Equal(t, "hello", resp.Data[0].Content)
	require.NotNil(t, resp.Data[0].UserReaction)
	assert.Equal(t, Like, *resp.Data[0].UserReaction)
	assert.True(t, resp.Pagination.HasPrevPage)
	assert.True(t, gock.IsDone())
}

func TestGetPostCarriesIdentityWhenResolved(t *testing.T) {
	defer gock.Off()

	gock.New(backend).
		Get("/posts/p1").
		MatchParam("email", "a@b.com").
		Reply(http.StatusOK).
		JSON(map[string]any{"success": true, "data": map[string]any{"id": "p1", "user_reaction": nil}})

	resp, err := newClient(t, "a@b.com").GetPost(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", resp.Data.ID)
	assert.Nil(t, resp.Data.UserReaction)
	assert.True(t, gock.IsDone())
}

func TestCreatePost(t *testing.T) {
	defer gock.Off()

	gock.New(backend).
		Post("/posts").
		MatchType("json").
		JSON(map[string]string{"email": "a@b.com", "content": "first post"}).
		Reply(http.StatusCreated).
		JSON(map[string]any{"success": true, "data": map[string]any{"id": "p9", "email": "a@b.com", "content": "first post"}})

	resp, err := newClient(t, "a@b.com").CreatePost(context.Background(), "  first post ")
	require.NoError(t, err)
	assert.Equal(t, "p9", resp.Data.ID)
	assert.True(t, gock.IsDone())
}

func TestReactionToggle(t *testing.T) {
	defer gock.Off()

	gock.New(backend).
		Post("/posts/p1/like").
		JSON(map[string]string{"email": "a@b.com"}).
		Reply(http.StatusOK).
		JSON(map[string]any{"success": true, "message": "Post liked", "action": "liked"})
	gock.New(backend).
		Post("/posts/p1/like").
		JSON(map[string]string{"email": "a@b.com"}).
		Reply(http.StatusOK).
		JSON(map[string]any{"success": true, "message": "Reaction removed", "action": "removed"})
	gock.New(backend).
		Post("/posts/p1/dislike").
		JSON(map[string]string{"email": "a@b.com"}).
		Reply(http.StatusOK).
		JSON(map[string]any{"success": true, "message": "Post disliked", "action": "disliked"})

	c := newClient(t, "a@b.com")
	ctx := context.Background()

	first, err := c.Like(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "liked", first.Action)

	second, err := c.Like(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "removed", second.Action)

	third, err := c.Dislike(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "disliked", third.Action)

	assert.True(t, gock.IsDone())
}

func TestMyReactions(t *testing.T) {
	defer gock.Off()

	gock.New(backend).
		Get("/posts/my-reactions").
		MatchParam("email", "a@b.com").
		Reply(http.StatusOK).
		JSON(map[string]any{
			"success": true,
			"data": map[string]any{
				"liked_posts":     []map[string]any{{"id": "p1"}},
				"disliked_posts":  []map[string]any{},
				"total_liked":     1,
				"total_disliked":  0,
				"total_reactions": 1,
			},
			"pagination": map[string]any{"page": 1, "limit": 10, "total": 1, "total_pages": 1},
		})

	resp, err := newClient(t, "a@b.com").MyReactions(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Data.TotalLiked)
	assert.Len(t, resp.Data.LikedPosts, 1)
}

// Identity-gated calls must never reach the backend while anonymous.
func TestAnonymousActionsAreRefusedLocally(t *testing.T) {
	defer gock.Off()

	gock.New(backend).Post("/posts").Reply(http.StatusCreated)
	gock.New(backend).Post("/posts/p1/like").Reply(http.StatusOK)
	gock.New(backend).Post("/posts/p1/dislike").Reply(http.StatusOK)
	gock.New(backend).Get("/posts/my-reactions").Reply(http.StatusOK)

	c := newClient(t, "")
	ctx := context.Background()

	_, err := c.CreatePost(ctx, "hello")
	assert.ErrorIs(t, err, session.ErrNoIdentity)
	_, err = c.Like(ctx, "p1")
	assert.ErrorIs(t, err, session.ErrNoIdentity)
	_, err = c.Dislike(ctx, "p1")
	assert.ErrorIs(t, err, session.ErrNoIdentity)
	_, err = c.MyReactions(ctx, 1, 10)
	assert.ErrorIs(t, err, session.ErrNoIdentity)

	assert.Len(t, gock.Pending(), 4, "no mock should have been consumed")
}

func TestEmptyContentRejected(t *testing.T) {
	_, err := newClient(t, "a@b.com").CreatePost(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestBackendErrors(t *testing.T) {
	defer gock.Off()

	gock.New(backend).
		Get("/posts/missing").
		Reply(http.StatusNotFound).
		JSON(map[string]any{"success": false, "message": "Post not found"})
	gock.New(backend).
		Post("/posts/p1/like").
		Reply(http.StatusOK).
		JSON(map[string]any{"success": false, "message": "Invalid email"})

	c := newClient(t, "a@b.com")

	_, err := c.GetPost(context.Background(), "missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "Post not found", apiErr.Message)

	_, err = c.Like(context.Background(), "p1")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Invalid email", apiErr.Message)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient("/relative", session.NewStore())
	assert.Error(t, err)

	_, err = NewClient(backend, nil)
	assert.Error(t, err)
}
