package moderation

import (
	"context"

	"github.com/starboard-forum/starboard/models"
)

// Guard stamps moderation verdicts onto entities right before they are
// persisted. It is called explicitly by the write path on every create and
// every update, so an edit that introduces bad language re-blocks a clean
// entity and an edit that removes it clears the flag. The guard only
// mutates the in-memory entity; persisting (and refusing blocked content to
// the client) stays with the caller.
type Guard struct {
	gate *Gate
}

// NewGuard wraps a Gate.
func NewGuard(gate *Gate) *Guard {
	return &Guard{gate: gate}
}

// EvaluatePost moderates the title first and the content only when the
// title is clean. The first blocking verdict wins.
func (gd *Guard) EvaluatePost(ctx context.Context, post *models.Post) Verdict {
	verdict := gd.gate.Moderate(ctx, post.Title)
	if !verdict.Blocked {
		verdict = gd.gate.Moderate(ctx, post.Content)
	}
	post.IsBlocked = verdict.Blocked
	post.BlockReason = verdict.Reason
	return verdict
}

// EvaluateComment moderates the comment's content field.
func (gd *Guard) EvaluateComment(ctx context.Context, comment *models.Comment) Verdict {
	verdict := gd.gate.Moderate(ctx, comment.Content)
	comment.IsBlocked = verdict.Blocked
	comment.BlockReason = verdict.Reason
	return verdict
}
