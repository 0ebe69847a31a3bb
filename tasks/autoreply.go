package tasks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/starboard-forum/starboard/models"
	"github.com/starboard-forum/starboard/moderation"
	"github.com/starboard-forum/starboard/utils"
)

// AutoReplyQueueKey is the redis key holding pending reply jobs.
const AutoReplyQueueKey = "queue:autoreply"

// ErrReplyTargetMissing reports that the post or comment behind a reply job
// was deleted during the delay window. The job is dropped, not retried; a
// vanished target is not meaningful to retry.
var ErrReplyTargetMissing = errors.New("reply target missing")

// AutoReplier schedules and executes deferred automatic replies. Scheduling
// happens on the comment-create path; execution happens later on the queue
// dispatcher, possibly in another process, which is why jobs carry ids and
// the worker re-fetches both entities at run time.
type AutoReplier struct {
	db       *gorm.DB
	queue    JobQueue
	client   moderation.ContentGenerator
	guard    *moderation.Guard
	interval time.Duration

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
}

// NewAutoReplier wires the replier with its storage, queue, AI capability
// and moderation guard.
func NewAutoReplier(db *gorm.DB, queue JobQueue, client moderation.ContentGenerator, guard *moderation.Guard, pollInterval time.Duration) *AutoReplier {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &AutoReplier{
		db:       db,
		queue:    queue,
		client:   client,
		guard:    guard,
		interval: pollInterval,
		timers:   map[*time.Timer]struct{}{},
	}
}

// Schedule enqueues a deferred reply for the comment when the post opted in
// and the comment itself passed moderation. A skipped schedule is a normal
// outcome, not an error. Returns whether a job was enqueued.
func (a *AutoReplier) Schedule(ctx context.Context, post *models.Post, comment *models.Comment) bool {
	if !post.AutoReplyEnabled || comment.IsBlocked {
		return false
	}

	dueAt := time.Now().Add(time.Duration(post.ReplyDelay) * time.Minute)
	member := jobKey(post.ID, comment.ID)
	if err := a.queue.Enqueue(ctx, member, dueAt); err != nil {
		if utils.Sugar != nil {
			utils.Sugar.Warnf("reply queue unreachable, running job %s in-process: %v", member, err)
		}
		// Keep the job alive in this process rather than losing it with the
		// request. Not durable, but better than a silent drop. The timer is
		// tracked so shutdown can cancel it instead of firing into a torn
		// down process.
		a.mu.Lock()
		var tm *time.Timer
		tm = time.AfterFunc(time.Until(dueAt), func() {
			a.mu.Lock()
			_, live := a.timers[tm]
			delete(a.timers, tm)
			a.mu.Unlock()
			if !live {
				return
			}
			a.dispatch(context.Background(), member)
		})
		a.timers[tm] = struct{}{}
		a.mu.Unlock()
	}
	return true
}

// stopTimers drops every pending in-process fallback job.
func (a *AutoReplier) stopTimers() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for tm := range a.timers {
		tm.Stop()
	}
	a.timers = map[*time.Timer]struct{}{}
}

// Start runs the queue dispatcher until ctx is cancelled. Cancellation also
// drops any pending in-process fallback timers.
func (a *AutoReplier) Start(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				a.stopTimers()
				return
			case now := <-ticker.C:
				members, err := a.queue.Due(ctx, now, 64)
				if err != nil {
					if utils.Sugar != nil {
						utils.Sugar.Warnf("reply queue poll failed: %v", err)
					}
					continue
				}
				for _, member := range members {
					a.dispatch(ctx, member)
				}
			}
		}
	}()
}

func (a *AutoReplier) dispatch(ctx context.Context, member string) {
	postID, commentID, err := parseJobKey(member)
	if err != nil {
		if utils.Sugar != nil {
			utils.Sugar.Errorf("malformed reply job %q: %v", member, err)
		}
		return
	}
	if err := a.Run(ctx, postID, commentID); err != nil {
		if utils.Sugar == nil {
			return
		}
		if errors.Is(err, ErrReplyTargetMissing) {
			utils.Sugar.Infof("dropping reply job %s: %v", member, err)
		} else {
			utils.Sugar.Errorf("reply job %s failed: %v", member, err)
		}
	}
}

// Run executes one reply job. Both entities are fetched fresh because either
// may have been edited or deleted since the job was enqueued. Generation
// failures abort this job instance without retry.
func (a *AutoReplier) Run(ctx context.Context, postID, commentID uint) error {
	var post models.Post
	if err := a.db.First(&post, postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: post %d", ErrReplyTargetMissing, postID)
		}
		return fmt.Errorf("load post %d: %w", postID, err)
	}

	var comment models.Comment
	if err := a.db.First(&comment, commentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: comment %d", ErrReplyTargetMissing, commentID)
		}
		return fmt.Errorf("load comment %d: %w", commentID, err)
	}

	prompt := fmt.Sprintf("Generate a relevant response to this comment: '%s' based on the post: '%s'", comment.Content, post.Content)
	resp, err := a.client.GenerateContent(ctx, prompt)
	if err != nil {
		return fmt.Errorf("generate reply: %w", err)
	}

	parentID := comment.ID
	reply := models.Comment{
		PostID:   post.ID,
		ParentID: &parentID,
		UserID:   post.UserID,
		Content:  utils.Sanitize(resp.Text()),
	}

	// Auto replies pass through the same gate as user comments; generated
	// text is not trusted any more than submitted text.
	a.guard.EvaluateComment(ctx, &reply)

	if err := a.db.Create(&reply).Error; err != nil {
		return fmt.Errorf("persist reply: %w", err)
	}

	if utils.Sugar != nil {
		utils.Sugar.Infof("auto reply %d created for comment %d on post %d", reply.ID, comment.ID, post.ID)
	}
	return nil
}

func jobKey(postID, commentID uint) string {
	return fmt.Sprintf("%d:%d", postID, commentID)
}

func parseJobKey(member string) (postID, commentID uint, err error) {
	parts := strings.SplitN(member, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected postID:commentID, got %q", member)
	}
	p, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	c, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return uint(p), uint(c), nil
}
