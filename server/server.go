// Package server exposes the mini-app over HTTP: the session snapshot and a
// thin, identity-gated facade over the posts backend.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/Wang-tianhao/iframe-identity-go/bridge"
	"github.com/Wang-tianhao/iframe-identity-go/feed"
	"github.com/Wang-tianhao/iframe-identity-go/jwtauth"
	"github.com/Wang-tianhao/iframe-identity-go/session"
)

const maxSessionWait = 60 * time.Second

// StateReporter is satisfied by *bridge.Listener.
type StateReporter interface {
	State() bridge.State
}

// Options wires the server to the rest of the app.
type Options struct {
	Session  *session.Store
	Feed     *feed.Client
	Listener StateReporter
	// Verifier, when set, enables GET /api/launch/claims.
	Verifier       *jwtauth.Verifier
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Server is the HTTP surface of the mini-app.
type Server struct {
	opts    Options
	log     *slog.Logger
	engine  *gin.Engine
	handler http.Handler
}

// New builds the router.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{opts: opts, log: logger.With("component", "server")}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestID(), s.accessLog())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	api := r.Group("/api")
	api.GET("/session", s.getSession)
	api.GET("/session/wait", s.waitSession)

	posts := api.Group("/posts")
	posts.GET("", s.listPosts)
	posts.GET("/:id", s.getPost)
	posts.GET("/:id/reactions", s.postReactions)

	gated := posts.Group("", s.requireIdentity())
	gated.POST("", s.createPost)
	gated.POST("/:id/like", s.react(feed.Like))
	gated.POST("/:id/dislike", s.react(feed.Dislike))
	gated.GET("/my-reactions", s.myReactions)

	if opts.Verifier != nil {
		api.GET("/launch/claims", jwtauth.JWTAuth(opts.Verifier), s.launchClaims)
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", jwtauth.RequestIDHeader},
		ExposedHeaders: []string{jwtauth.RequestIDHeader},
	})

	s.engine = r
	s.handler = corsHandler.Handler(r)
	return s
}

// Handler returns the CORS-wrapped router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(jwtauth.RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Header(jwtauth.RequestIDHeader, id)
		c.Request = c.Request.WithContext(jwtauth.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		requestID, _ := jwtauth.GetRequestID(c.Request.Context())
		s.log.LogAttrs(c.Request.Context(), slog.LevelDebug, "request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.String("request_id", requestID),
			slog.Duration("latency", time.Since(start)),
		)
	}
}

// requireIdentity refuses user actions while the session is anonymous so that
// nothing is sent to the backend with an empty identity.
func (s *Server) requireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := s.opts.Session.Require()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "identity_required",
				"message": "Your identity has not been received from the host page yet.",
			})
			return
		}
		c.Request = c.Request.WithContext(session.WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

type sessionResponse struct {
	Success bool             `json:"success"`
	Data    session.Identity `json:"data"`
	State   string           `json:"state"`
}

func (s *Server) sessionBody(id session.Identity) sessionResponse {
	state := bridge.Idle
	if s.opts.Listener != nil {
		state = s.opts.Listener.State()
	}
	return sessionResponse{Success: id.Resolved(), Data: id, State: state.String()}
}

func (s *Server) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, s.sessionBody(s.opts.Session.Snapshot()))
}

// waitSession long-polls until the handshake resolves or the timeout elapses.
func (s *Server) waitSession(c *gin.Context) {
	timeout := 30 * time.Second
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "timeout must be a positive duration"})
			return
		}
		timeout = min(d, maxSessionWait)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	id, err := s.opts.Session.Wait(ctx)
	if err != nil {
		c.JSON(http.StatusOK, s.sessionBody(s.opts.Session.Snapshot()))
		return
	}
	c.JSON(http.StatusOK, s.sessionBody(id))
}

func (s *Server) listPosts(c *gin.Context) {
	params := feed.ListParams{
		Email: c.Query("email"),
		Page:  queryInt(c, "page"),
		Limit: queryInt(c, "limit"),
	}
	resp, err := s.opts.Feed.ListPosts(c.Request.Context(), params)
	s.reply(c, http.StatusOK, resp, err)
}

func (s *Server) getPost(c *gin.Context) {
	resp, err := s.opts.Feed.GetPost(c.Request.Context(), c.Param("id"))
	s.reply(c, http.StatusOK, resp, err)
}

func (s *Server) postReactions(c *gin.Context) {
	resp, err := s.opts.Feed.PostReactions(c.Request.Context(), c.Param("id"))
	s.reply(c, http.StatusOK, resp, err)
}

type createPostBody struct {
	Content string `json:"content" binding:"required"`
}

func (s *Server) createPost(c *gin.Context) {
	var body createPostBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "content is required"})
		return
	}
	resp, err := s.opts.Feed.CreatePost(c.Request.Context(), body.Content)
	s.reply(c, http.StatusCreated, resp, err)
}

func (s *Server) react(reaction feed.Reaction) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			resp *feed.ReactionResponse
			err  error
		)
		if reaction == feed.Like {
			resp, err = s.opts.Feed.Like(c.Request.Context(), c.Param("id"))
		} else {
			resp, err = s.opts.Feed.Dislike(c.Request.Context(), c.Param("id"))
		}
		s.reply(c, http.StatusOK, resp, err)
	}
}

func (s *Server) myReactions(c *gin.Context) {
	resp, err := s.opts.Feed.MyReactions(c.Request.Context(), queryInt(c, "page"), queryInt(c, "limit"))
	s.reply(c, http.StatusOK, resp, err)
}

func (s *Server) launchClaims(c *gin.Context) {
	claims, _ := jwtauth.GetClaims(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"sub":        claims.Subject,
			"email":      claims.Email,
			"iss":        claims.Issuer,
			"expires_at": claims.ExpiresAt,
		},
	})
}

func (s *Server) reply(c *gin.Context, status int, body any, err error) {
	if err == nil {
		c.JSON(status, body)
		return
	}

	var apiErr *feed.APIError
	switch {
	case errors.Is(err, session.ErrNoIdentity):
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "identity_required"})
	case errors.Is(err, feed.ErrEmptyContent):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "content is required"})
	case errors.As(err, &apiErr):
		c.JSON(apiErr.StatusCode, gin.H{"success": false, "message": apiErr.Message})
	default:
		s.log.WarnContext(c.Request.Context(), "backend request failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "message": "backend unavailable"})
	}
}

func queryInt(c *gin.Context, name string) int {
	n, err := strconv.Atoi(c.Query(name))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
