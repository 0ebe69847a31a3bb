package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/starboard-forum/starboard/ai"
	"github.com/starboard-forum/starboard/middleware"
	"github.com/starboard-forum/starboard/models"
	"github.com/starboard-forum/starboard/moderation"
	"github.com/starboard-forum/starboard/tasks"
	"github.com/starboard-forum/starboard/utils"
)

func TestMain(m *testing.M) {
	os.Setenv("JWT_SECRET", "test-secret")
	// Point the lazy redis client at a dead port so caching quietly misses.
	os.Setenv("REDIS_PORT", "63790")
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type scriptedGenerator struct {
	calls  int
	script []func() (*ai.Response, error)
}

func (s *scriptedGenerator) GenerateContent(_ context.Context, _ string) (*ai.Response, error) {
	idx := s.calls
	s.calls++
	if idx >= len(s.script) {
		idx = len(s.script) - 1
	}
	return s.script[idx]()
}

func clean() func() (*ai.Response, error) {
	return func() (*ai.Response, error) {
		var c ai.Candidate
		c.SafetyRatings = []ai.SafetyRating{{Category: 7, Probability: 0}}
		return &ai.Response{Candidates: []ai.Candidate{c}}, nil
	}
}

func severe(category int) func() (*ai.Response, error) {
	return func() (*ai.Response, error) {
		var c ai.Candidate
		c.SafetyRatings = []ai.SafetyRating{{Category: category, Probability: 3}}
		return &ai.Response{Candidates: []ai.Candidate{c}}, nil
	}
}

type memQueue struct {
	entries map[string]time.Time
}

func newMemQueue() *memQueue { return &memQueue{entries: map[string]time.Time{}} }

func (m *memQueue) Enqueue(_ context.Context, member string, dueAt time.Time) error {
	m.entries[member] = dueAt
	return nil
}

func (m *memQueue) Due(_ context.Context, now time.Time, limit int64) ([]string, error) {
	var due []string
	for member, at := range m.entries {
		if int64(len(due)) >= limit {
			break
		}
		if !at.After(now) {
			due = append(due, member)
			delete(m.entries, member)
		}
	}
	return due, nil
}

type testEnv struct {
	db     *gorm.DB
	router *gin.Engine
	gen    *scriptedGenerator
	queue  *memQueue
}

func newTestEnv(t *testing.T, script ...func() (*ai.Response, error)) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Post{}, &models.Comment{}))

	gen := &scriptedGenerator{script: script}
	if len(script) == 0 {
		gen.script = []func() (*ai.Response, error){clean()}
	}
	guard := moderation.NewGuard(moderation.NewGate(gen))
	queue := newMemQueue()
	replier := tasks.NewAutoReplier(db, queue, gen, guard, time.Second)

	authController := NewAuthController(db)
	postController := NewPostController(db, guard)
	commentController := NewCommentController(db, guard, replier)
	analyticsController := NewAnalyticsController(db)

	r := gin.New()
	api := r.Group("/api/v1")
	api.POST("/auth/register", authController.Register)
	api.POST("/auth/login", authController.Login)
	api.POST("/auth/logout", middleware.AuthRequired(), authController.Logout)
	api.GET("/auth/me", middleware.AuthRequired(), authController.Me)
	api.GET("/posts", postController.ListPosts)
	api.GET("/posts/:id", postController.GetPost)
	api.GET("/posts/:id/comments", commentController.ListComments)
	api.GET("/analytics/comments-daily-breakdown", analyticsController.CommentsDailyBreakdown)

	protected := api.Group("")
	protected.Use(middleware.AuthRequired())
	protected.POST("/posts", postController.CreatePost)
	protected.PUT("/posts/:id", postController.UpdatePost)
	protected.DELETE("/posts/:id", postController.DeletePost)
	protected.POST("/posts/:id/comments", commentController.CreateComment)
	protected.PUT("/comments/:id", commentController.UpdateComment)
	protected.DELETE("/comments/:id", commentController.DeleteComment)

	return &testEnv{db: db, router: r, gen: gen, queue: queue}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w, env
}

func (e *testEnv) createUser(t *testing.T, username string, staff bool) (models.User, string) {
	t.Helper()
	user := models.User{Username: username, Email: username + "@example.com", IsStaff: staff}
	require.NoError(t, e.db.Create(&user).Error)
	token, err := utils.GenerateToken(user.ID, user.Username, time.Hour)
	require.NoError(t, err)
	return user, token
}

func TestRegisterLoginMe(t *testing.T) {
	env := newTestEnv(t)

	w, resp := env.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "sekret1",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 0, resp.Code)

	w, resp = env.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{
		"username": "alice",
		"password": "sekret1",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var loginData struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &loginData))
	require.NotEmpty(t, loginData.Token)

	w, resp = env.do(t, http.MethodGet, "/api/v1/auth/me", loginData.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var me struct {
		Username string `json:"username"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &me))
	assert.Equal(t, "alice", me.Username)
}

func TestRegisterRejectsBadUsername(t *testing.T) {
	env := newTestEnv(t)

	w, resp := env.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"username": "bad name!",
		"email":    "bad@example.com",
		"password": "sekret1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 40002, resp.Code)
}

func TestCreatePostRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodPost, "/api/v1/posts", "", gin.H{
		"title":   "A post",
		"content": "Body.",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreatePostBlockedIsPersistedAndRejected(t *testing.T) {
	env := newTestEnv(t, severe(10))
	_, token := env.createUser(t, "author", false)

	w, resp := env.do(t, http.MethodPost, "/api/v1/posts", token, gin.H{
		"title":   "a dangerous title",
		"content": "harmless body",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 40030, resp.Code)

	var data struct {
		ID          uint   `json:"id"`
		BlockReason string `json:"block_reason"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.NotZero(t, data.ID)
	assert.Equal(t, "HARM_CATEGORY_DANGEROUS_CONTENT", data.BlockReason)

	// Title blocked, so the content was never sent for classification.
	assert.Equal(t, 1, env.gen.calls)

	var post models.Post
	require.NoError(t, env.db.First(&post, data.ID).Error)
	assert.True(t, post.IsBlocked)
}

func TestListPostsHidesBlocked(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.createUser(t, "author", false)

	w, _ := env.do(t, http.MethodPost, "/api/v1/posts", token, gin.H{
		"title":   "Visible post",
		"content": "Body.",
	})
	require.Equal(t, http.StatusOK, w.Code)

	blocked := models.Post{UserID: user.ID, Title: "Hidden", Content: "Body.", IsBlocked: true, BlockReason: "HARM_CATEGORY_HARASSMENT"}
	require.NoError(t, env.db.Create(&blocked).Error)

	w, resp := env.do(t, http.MethodGet, "/api/v1/posts", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var data struct {
		Items []models.Post `json:"items"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.Len(t, data.Items, 1)
	assert.Equal(t, "Visible post", data.Items[0].Title)
}

func TestCreateCommentSchedulesAutoReply(t *testing.T) {
	env := newTestEnv(t)
	author, _ := env.createUser(t, "author", false)
	_, token := env.createUser(t, "visitor", false)

	post := models.Post{UserID: author.ID, Title: "Topic", Content: "Body.", AutoReplyEnabled: true, ReplyDelay: 2}
	require.NoError(t, env.db.Create(&post).Error)

	w, resp := env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/posts/%d/comments", post.ID), token, gin.H{
		"content": "Nice write-up!",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var data struct {
		Comment            models.Comment `json:"comment"`
		AutoReplyScheduled bool           `json:"auto_reply_scheduled"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.True(t, data.AutoReplyScheduled)

	member := fmt.Sprintf("%d:%d", post.ID, data.Comment.ID)
	dueAt, ok := env.queue.entries[member]
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(2*time.Minute), dueAt, 2*time.Second)
}

func TestCreateCommentNotScheduledWhenDisabled(t *testing.T) {
	env := newTestEnv(t)
	author, _ := env.createUser(t, "author", false)
	_, token := env.createUser(t, "visitor", false)

	post := models.Post{UserID: author.ID, Title: "Topic", Content: "Body.", AutoReplyEnabled: false}
	require.NoError(t, env.db.Create(&post).Error)

	w, resp := env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/posts/%d/comments", post.ID), token, gin.H{
		"content": "Nice write-up!",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var data struct {
		AutoReplyScheduled bool `json:"auto_reply_scheduled"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.False(t, data.AutoReplyScheduled)
	assert.Empty(t, env.queue.entries)
}

func TestCreateCommentOnBlockedPost(t *testing.T) {
	env := newTestEnv(t)
	author, _ := env.createUser(t, "author", false)
	_, token := env.createUser(t, "visitor", false)

	post := models.Post{UserID: author.ID, Title: "Bad", Content: "Body.", IsBlocked: true, BlockReason: "HARM_CATEGORY_HATE_SPEECH"}
	require.NoError(t, env.db.Create(&post).Error)

	w, resp := env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/posts/%d/comments", post.ID), token, gin.H{
		"content": "Hello?",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 40310, resp.Code)
	assert.Zero(t, env.gen.calls)
}

func TestCreateCommentOnBlockedParent(t *testing.T) {
	env := newTestEnv(t)
	author, _ := env.createUser(t, "author", false)
	_, token := env.createUser(t, "visitor", false)

	post := models.Post{UserID: author.ID, Title: "Topic", Content: "Body."}
	require.NoError(t, env.db.Create(&post).Error)
	parent := models.Comment{PostID: post.ID, UserID: author.ID, Content: "rude", IsBlocked: true, BlockReason: "HARM_CATEGORY_HARASSMENT"}
	require.NoError(t, env.db.Create(&parent).Error)

	w, resp := env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/posts/%d/comments", post.ID), token, gin.H{
		"content":   "replying anyway",
		"parent_id": parent.ID,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 40311, resp.Code)
}

func TestCreateCommentBlockedContent(t *testing.T) {
	env := newTestEnv(t, severe(7))
	author, _ := env.createUser(t, "author", false)
	_, token := env.createUser(t, "visitor", false)

	post := models.Post{UserID: author.ID, Title: "Topic", Content: "Body.", AutoReplyEnabled: true}
	require.NoError(t, env.db.Create(&post).Error)

	w, resp := env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/posts/%d/comments", post.ID), token, gin.H{
		"content": "something nasty",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 40031, resp.Code)

	var data struct {
		ID          uint   `json:"id"`
		BlockReason string `json:"block_reason"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.NotZero(t, data.ID)
	assert.Equal(t, "HARM_CATEGORY_HARASSMENT", data.BlockReason)

	var comment models.Comment
	require.NoError(t, env.db.First(&comment, data.ID).Error)
	assert.True(t, comment.IsBlocked)

	// A blocked comment never schedules a reply, opted-in post or not.
	assert.Empty(t, env.queue.entries)
}

func TestUpdatePostReModerates(t *testing.T) {
	env := newTestEnv(t, severe(8))
	author, token := env.createUser(t, "author", false)

	post := models.Post{UserID: author.ID, Title: "Fine", Content: "Fine body."}
	require.NoError(t, env.db.Create(&post).Error)

	w, resp := env.do(t, http.MethodPut, fmt.Sprintf("/api/v1/posts/%d", post.ID), token, gin.H{
		"title":   "now hateful",
		"content": "whatever",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 40030, resp.Code)
	assert.Equal(t, 1, env.gen.calls)

	require.NoError(t, env.db.First(&post, post.ID).Error)
	assert.True(t, post.IsBlocked)
	assert.Equal(t, "HARM_CATEGORY_HATE_SPEECH", post.BlockReason)
}

func TestUpdatePostForbiddenForOthers(t *testing.T) {
	env := newTestEnv(t)
	author, _ := env.createUser(t, "author", false)
	_, token := env.createUser(t, "intruder", false)

	post := models.Post{UserID: author.ID, Title: "Mine", Content: "Body."}
	require.NoError(t, env.db.Create(&post).Error)

	w, resp := env.do(t, http.MethodPut, fmt.Sprintf("/api/v1/posts/%d", post.ID), token, gin.H{
		"title":   "Taken over",
		"content": "Body.",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 40301, resp.Code)
}

func TestStaffCanDeleteAnyPost(t *testing.T) {
	env := newTestEnv(t)
	author, _ := env.createUser(t, "author", false)
	_, token := env.createUser(t, "moderator", true)

	post := models.Post{UserID: author.ID, Title: "Spam", Content: "Body."}
	require.NoError(t, env.db.Create(&post).Error)

	w, _ := env.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/posts/%d", post.ID), token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var count int64
	require.NoError(t, env.db.Model(&models.Post{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestAnalyticsDailyBreakdown(t *testing.T) {
	env := newTestEnv(t)
	user, _ := env.createUser(t, "author", false)

	post := models.Post{UserID: user.ID, Title: "Topic", Content: "Body."}
	require.NoError(t, env.db.Create(&post).Error)

	day1 := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	day3 := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)

	comments := []models.Comment{
		{PostID: post.ID, UserID: user.ID, Content: "a", CreatedAt: day1},
		{PostID: post.ID, UserID: user.ID, Content: "b", CreatedAt: day1, IsBlocked: true, BlockReason: "HARM_CATEGORY_HARASSMENT"},
		{PostID: post.ID, UserID: user.ID, Content: "c", CreatedAt: day3},
	}
	for i := range comments {
		require.NoError(t, env.db.Create(&comments[i]).Error)
	}

	w, resp := env.do(t, http.MethodGet,
		"/api/v1/analytics/comments-daily-breakdown?date_from=2026-03-10&date_to=2026-03-12", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var data map[string]struct {
		Total   int64 `json:"total_comments"`
		Blocked int64 `json:"blocked_comments"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.Len(t, data, 3)

	assert.Equal(t, int64(2), data["2026-03-10"].Total)
	assert.Equal(t, int64(1), data["2026-03-10"].Blocked)
	assert.Equal(t, int64(0), data["2026-03-11"].Total)
	assert.Equal(t, int64(0), data["2026-03-11"].Blocked)
	assert.Equal(t, int64(1), data["2026-03-12"].Total)
	assert.Equal(t, int64(0), data["2026-03-12"].Blocked)
}

func TestNormalizeDay(t *testing.T) {
	// sqlite returns bare date text
	assert.Equal(t, "2026-03-10", normalizeDay("2026-03-10"))
	// mysql with parseTime decodes DATE to time.Time, rendered RFC3339
	assert.Equal(t, "2026-03-10", normalizeDay("2026-03-10T00:00:00Z"))
	assert.Equal(t, "2026-03-10", normalizeDay("2026-03-10T00:00:00+02:00"))
	assert.Equal(t, "2026-03-10", normalizeDay("2026-03-10 00:00:00 +0000 UTC"))
	assert.Equal(t, "bogus", normalizeDay("bogus"))
}

func TestAnalyticsRejectsBadRange(t *testing.T) {
	env := newTestEnv(t)

	w, resp := env.do(t, http.MethodGet,
		"/api/v1/analytics/comments-daily-breakdown?date_from=March&date_to=2026-03-12", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 40040, resp.Code)

	w, resp = env.do(t, http.MethodGet,
		"/api/v1/analytics/comments-daily-breakdown?date_from=2026-03-12&date_to=2026-03-10", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 40041, resp.Code)
}
