package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/starboard-forum/starboard/models"
	"github.com/starboard-forum/starboard/moderation"
	"github.com/starboard-forum/starboard/tasks"
	"github.com/starboard-forum/starboard/utils"
)

// CommentController manages comments and the auto-reply hand-off. Comment
// creation is the one place reply jobs enter the queue: a clean comment on
// an opted-in post schedules a deferred reply.
type CommentController struct {
	db      *gorm.DB
	guard   *moderation.Guard
	replier *tasks.AutoReplier
}

// NewCommentController creates a new CommentController instance.
func NewCommentController(db *gorm.DB, guard *moderation.Guard, replier *tasks.AutoReplier) *CommentController {
	return &CommentController{db: db, guard: guard, replier: replier}
}

// CreateComment allows authenticated users to comment on posts. Commenting
// on blocked content (post or parent comment) is refused outright; the
// comment's own content is moderated and a blocked comment is persisted but
// answered with the block reason.
func (c *CommentController) CreateComment(ctx *gin.Context) {
	var req struct {
		Content  string `json:"content" binding:"required"`
		ParentID *uint  `json:"parent_id"`
	}

	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40022, "invalid request payload")
		return
	}

	content := utils.Sanitize(req.Content)
	if content == "" {
		utils.Error(ctx, http.StatusBadRequest, 40023, "content cannot be empty")
		return
	}

	postID := ctx.Param("id")
	var post models.Post
	if err := c.db.First(&post, postID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.Error(ctx, http.StatusNotFound, 40402, "post not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50024, "failed to load post")
		return
	}

	if post.IsBlocked {
		utils.Error(ctx, http.StatusForbidden, 40310, "you cannot create a comment for blocked content")
		return
	}

	if req.ParentID != nil {
		var parent models.Comment
		if err := c.db.First(&parent, *req.ParentID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				utils.Error(ctx, http.StatusNotFound, 40421, "parent comment not found")
				return
			}
			utils.Error(ctx, http.StatusInternalServerError, 50029, "failed to load parent comment")
			return
		}
		if parent.IsBlocked {
			utils.Error(ctx, http.StatusForbidden, 40311, "you cannot create a comment for blocked content")
			return
		}
	}

	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	comment := models.Comment{
		PostID:   post.ID,
		ParentID: req.ParentID,
		UserID:   userID,
		Content:  content,
	}

	c.guard.EvaluateComment(ctx.Request.Context(), &comment)

	if err := c.db.Create(&comment).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50030, "failed to create comment")
		return
	}

	utils.InvalidateByPrefix("cache:post:detail:" + strconv.Itoa(int(post.ID)))

	if comment.IsBlocked {
		utils.Respond(ctx, http.StatusBadRequest, 40031, "comment contains inappropriate content",
			gin.H{"id": comment.ID, "block_reason": comment.BlockReason})
		return
	}

	scheduled := c.replier.Schedule(ctx.Request.Context(), &post, &comment)

	if err := c.db.Preload("User").First(&comment, comment.ID).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50031, "failed to load comment")
		return
	}

	utils.Success(ctx, gin.H{"comment": comment, "auto_reply_scheduled": scheduled})
}

// ListComments returns the non-blocked comments of a post in creation order.
func (c *CommentController) ListComments(ctx *gin.Context) {
	postID := ctx.Param("id")

	var comments []models.Comment
	if err := c.db.Where("post_id = ? AND is_blocked = ?", postID, false).
		Preload("User").Order("created_at ASC").Find(&comments).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50032, "failed to list comments")
		return
	}

	utils.Success(ctx, gin.H{"items": comments})
}

// UpdateComment allows the author (or staff) to edit a comment. The new
// content is re-moderated like any other write.
func (c *CommentController) UpdateComment(ctx *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}

	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40024, "invalid request payload")
		return
	}

	content := utils.Sanitize(req.Content)
	if content == "" {
		utils.Error(ctx, http.StatusBadRequest, 40023, "content cannot be empty")
		return
	}

	commentID := ctx.Param("id")
	var comment models.Comment
	if err := c.db.First(&comment, commentID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.Error(ctx, http.StatusNotFound, 40420, "comment not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50033, "failed to load comment")
		return
	}

	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40120, "unauthorized")
		return
	}
	if comment.UserID != userID && !isStaff(c.db, ctx) {
		utils.Error(ctx, http.StatusForbidden, 40321, "you can only edit your own comment")
		return
	}

	comment.Content = content
	c.guard.EvaluateComment(ctx.Request.Context(), &comment)

	if err := c.db.Save(&comment).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50034, "failed to update comment")
		return
	}

	utils.InvalidateByPrefix("cache:post:detail:" + strconv.Itoa(int(comment.PostID)))

	if comment.IsBlocked {
		utils.Respond(ctx, http.StatusBadRequest, 40031, "comment contains inappropriate content",
			gin.H{"id": comment.ID, "block_reason": comment.BlockReason})
		return
	}

	utils.Success(ctx, gin.H{"comment": comment})
}

// DeleteComment allows the comment owner or staff to delete a comment.
func (c *CommentController) DeleteComment(ctx *gin.Context) {
	commentID := ctx.Param("id")
	var comment models.Comment
	if err := c.db.First(&comment, commentID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.Error(ctx, http.StatusNotFound, 40420, "comment not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50035, "failed to load comment")
		return
	}

	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40120, "unauthorized")
		return
	}
	if comment.UserID != userID && !isStaff(c.db, ctx) {
		utils.Error(ctx, http.StatusForbidden, 40320, "you can only delete your own comment")
		return
	}

	if err := c.db.Delete(&comment).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50036, "failed to delete comment")
		return
	}

	utils.InvalidateByPrefix("cache:post:detail:" + strconv.Itoa(int(comment.PostID)))
	utils.Success(ctx, gin.H{"message": "comment deleted"})
}
