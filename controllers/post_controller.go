package controllers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/starboard-forum/starboard/middleware"
	"github.com/starboard-forum/starboard/models"
	"github.com/starboard-forum/starboard/moderation"
	"github.com/starboard-forum/starboard/utils"
)

// PostController manages CRUD operations for posts. Every create and update
// runs the moderation guard before the row is written; blocked posts are
// persisted anyway and answered with a rejection-shaped response carrying
// the id and reason.
type PostController struct {
	db    *gorm.DB
	guard *moderation.Guard
}

// NewPostController creates a new PostController instance.
func NewPostController(db *gorm.DB, guard *moderation.Guard) *PostController {
	return &PostController{db: db, guard: guard}
}

// CreatePost allows authenticated users to create new posts.
func (p *PostController) CreatePost(ctx *gin.Context) {
	var req struct {
		Title            string `json:"title" binding:"required,min=1"`
		Content          string `json:"content" binding:"required"`
		AutoReplyEnabled bool   `json:"auto_reply_enabled"`
		ReplyDelay       int    `json:"reply_delay"` // minutes
	}

	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid request payload")
		return
	}

	title := utils.Sanitize(strings.TrimSpace(req.Title))
	if title == "" {
		utils.Error(ctx, http.StatusBadRequest, 40021, "title cannot be empty")
		return
	}
	content := utils.Sanitize(req.Content)
	if req.ReplyDelay < 0 {
		utils.Error(ctx, http.StatusBadRequest, 40022, "reply_delay must not be negative")
		return
	}

	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	post := models.Post{
		UserID:           userID,
		Title:            title,
		Content:          content,
		AutoReplyEnabled: req.AutoReplyEnabled,
		ReplyDelay:       req.ReplyDelay,
	}

	p.guard.EvaluatePost(ctx.Request.Context(), &post)

	if err := p.db.Create(&post).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50020, "failed to create post")
		return
	}

	utils.InvalidateByPrefix("cache:posts:list:")

	if post.IsBlocked {
		utils.Respond(ctx, http.StatusBadRequest, 40030, "post contains inappropriate content",
			gin.H{"id": post.ID, "block_reason": post.BlockReason})
		return
	}

	utils.Success(ctx, gin.H{"post": post})
}

// ListPosts returns paginated non-blocked posts including author information.
func (p *PostController) ListPosts(ctx *gin.Context) {
	page, pageSize := parsePagination(ctx.Query("page"), ctx.Query("page_size"))
	search := strings.TrimSpace(ctx.Query("search"))

	// Cache homepage lists when no search term to avoid cache key explosion
	cacheKey := fmt.Sprintf("cache:posts:list:page=%d:size=%d", page, pageSize)
	if search == "" {
		if b, ok := utils.CacheGetBytes(cacheKey); ok {
			ctx.Data(200, "application/json", b)
			return
		}
	}

	var posts []models.Post
	var total int64

	query := p.db.Where("is_blocked = ?", false).Preload("User").Order("created_at DESC")
	if search != "" {
		query = query.Where("title LIKE ? OR content LIKE ?", "%"+search+"%", "%"+search+"%")
	}
	if err := query.Model(&models.Post{}).Count(&total).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50021, "failed to count posts")
		return
	}

	offset := (page - 1) * pageSize
	if err := query.Offset(offset).Limit(pageSize).Find(&posts).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50022, "failed to list posts")
		return
	}

	payload := gin.H{
		"items": posts,
		"pagination": gin.H{
			"page":        page,
			"page_size":   pageSize,
			"total":       total,
			"total_pages": int((total + int64(pageSize) - 1) / int64(pageSize)),
		},
	}
	if search == "" {
		wrapper := utils.JSONResponse{Code: 0, Message: "success", Data: payload}
		utils.CacheSetJSON(cacheKey, wrapper, time.Hour)
	}
	utils.Success(ctx, payload)
}

// GetPost returns a single post with its non-blocked comments.
func (p *PostController) GetPost(ctx *gin.Context) {
	postID := ctx.Param("id")

	if b, ok := utils.CacheGetBytes("cache:post:detail:" + postID); ok {
		ctx.Data(200, "application/json", b)
		return
	}

	var post models.Post
	if err := p.db.Preload("User").First(&post, postID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.Error(ctx, http.StatusNotFound, 40401, "post not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50023, "failed to load post")
		return
	}

	var comments []models.Comment
	if err := p.db.Where("post_id = ? AND is_blocked = ?", post.ID, false).
		Order("created_at ASC").Find(&comments).Error; err != nil {
		if utils.Sugar != nil {
			utils.Sugar.Warnf("failed to load comments for post %d: %v", post.ID, err)
		}
	} else {
		post.Comments = comments
	}

	// Load comment authors in one query instead of per-row preloads
	if len(post.Comments) > 0 {
		var userIDs []uint
		for _, c := range post.Comments {
			userIDs = append(userIDs, c.UserID)
		}
		userIDs = utils.UniqueUint(userIDs)

		var users []models.User
		if err := p.db.Find(&users, userIDs).Error; err == nil {
			userMap := make(map[uint]models.User)
			for _, u := range users {
				userMap[u.ID] = u
			}
			for i := range post.Comments {
				if user, ok := userMap[post.Comments[i].UserID]; ok {
					post.Comments[i].User = user
				}
			}
		} else if utils.Sugar != nil {
			utils.Sugar.Warnf("failed to load users for comments: %v", err)
		}
	}

	payload := gin.H{"post": post}
	wrapper := utils.JSONResponse{Code: 0, Message: "success", Data: payload}
	utils.CacheSetJSON("cache:post:detail:"+postID, wrapper, time.Hour)
	utils.Success(ctx, payload)
}

// UpdatePost allows the author (or staff) to update a post. The updated
// fields pass through moderation again, so an edit can block a clean post
// or clear a previously blocked one.
func (p *PostController) UpdatePost(ctx *gin.Context) {
	var req struct {
		Title            string `json:"title" binding:"required,min=1"`
		Content          string `json:"content" binding:"required"`
		AutoReplyEnabled *bool  `json:"auto_reply_enabled"`
		ReplyDelay       *int   `json:"reply_delay"`
	}

	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40024, "invalid request payload")
		return
	}

	title := utils.Sanitize(strings.TrimSpace(req.Title))
	if title == "" {
		utils.Error(ctx, http.StatusBadRequest, 40025, "title cannot be empty")
		return
	}
	content := utils.Sanitize(req.Content)

	postID := ctx.Param("id")
	var post models.Post
	if err := p.db.First(&post, postID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.Error(ctx, http.StatusNotFound, 40403, "post not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50025, "failed to load post")
		return
	}

	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40111, "unauthorized")
		return
	}

	if post.UserID != userID && !isStaff(p.db, ctx) {
		utils.Error(ctx, http.StatusForbidden, 40301, "you can only update your own posts")
		return
	}

	post.Title = title
	post.Content = content
	if req.AutoReplyEnabled != nil {
		post.AutoReplyEnabled = *req.AutoReplyEnabled
	}
	if req.ReplyDelay != nil {
		if *req.ReplyDelay < 0 {
			utils.Error(ctx, http.StatusBadRequest, 40022, "reply_delay must not be negative")
			return
		}
		post.ReplyDelay = *req.ReplyDelay
	}

	p.guard.EvaluatePost(ctx.Request.Context(), &post)

	if err := p.db.Save(&post).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50026, "failed to update post")
		return
	}

	utils.InvalidateByPrefix("cache:posts:list:")
	utils.InvalidateByPrefix("cache:post:detail:" + postID)

	if post.IsBlocked {
		utils.Respond(ctx, http.StatusBadRequest, 40030, "post contains inappropriate content",
			gin.H{"id": post.ID, "block_reason": post.BlockReason})
		return
	}

	utils.Success(ctx, gin.H{"post": post})
}

// DeletePost allows the author or staff to delete a post.
func (p *PostController) DeletePost(ctx *gin.Context) {
	postID := ctx.Param("id")
	var post models.Post
	if err := p.db.First(&post, postID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.Error(ctx, http.StatusNotFound, 40404, "post not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50027, "failed to load post")
		return
	}

	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40112, "unauthorized")
		return
	}

	if post.UserID != userID && !isStaff(p.db, ctx) {
		utils.Error(ctx, http.StatusForbidden, 40302, "you can only delete your own posts")
		return
	}

	if err := p.db.Delete(&post).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50028, "failed to delete post")
		return
	}

	utils.InvalidateByPrefix("cache:posts:list:")
	utils.InvalidateByPrefix("cache:post:detail:" + postID)

	utils.Success(ctx, gin.H{"message": "post deleted"})
}

func parsePagination(pageStr, sizeStr string) (int, int) {
	page := 1
	pageSize := 10
	if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
		page = p
	}
	if s, err := strconv.Atoi(sizeStr); err == nil && s > 0 && s <= 100 {
		pageSize = s
	}
	return page, pageSize
}

func getUserID(ctx *gin.Context) (uint, bool) {
	value, exists := ctx.Get(middleware.ContextUserIDKey)
	if !exists {
		return 0, false
	}

	switch v := value.(type) {
	case uint:
		return v, true
	case int:
		return uint(v), true
	case int64:
		return uint(v), true
	case float64:
		return uint(v), true
	default:
		return 0, false
	}
}

// isStaff reports whether the authenticated user carries the staff flag.
func isStaff(db *gorm.DB, ctx *gin.Context) bool {
	userID, ok := getUserID(ctx)
	if !ok {
		return false
	}
	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		return false
	}
	return user.IsStaff
}
