package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/starboard-forum/starboard/ai"
	"github.com/starboard-forum/starboard/utils"
)

// ContentGenerator abstracts the external AI capability consumed here, so
// the gate can be exercised against a scripted double in tests.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (*ai.Response, error)
}

const (
	classifyAttempts  = 4
	classifyRetryWait = 5 * time.Second
)

// classify asks the external service to rate the text, retrying on failure
// with a fixed pause between attempts. The failure mode here is a third
// party outage, so a simple linear wait is deliberate; there is nothing to
// load-shed. Returns ok=false when every attempt failed, which callers must
// treat as "moderation unavailable" and never as clean content.
func (g *Gate) classify(ctx context.Context, text string) (*ai.Response, bool) {
	prompt := fmt.Sprintf("Please check the following text for obscene language and insults: \"%s\"", text)

	for attempt := 1; attempt <= g.attempts; attempt++ {
		resp, err := g.client.GenerateContent(ctx, prompt)
		if err == nil {
			return resp, true
		}
		if utils.Sugar != nil {
			utils.Sugar.Warnf("classifier attempt %d/%d failed: %v", attempt, g.attempts, err)
		}
		if attempt < g.attempts {
			time.Sleep(g.retryWait)
		}
	}
	return nil, false
}
