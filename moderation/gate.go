package moderation

import (
	"context"
	"time"

	"github.com/starboard-forum/starboard/utils"
)

// SeverityThreshold is the minimum rating severity that blocks content.
// Severities are the service's ordinal codes, not probabilities.
const SeverityThreshold = 2

// ReasonServiceUnavailable marks content blocked because the classifier
// could not be reached at all. The gate fails closed: an unavailable
// moderator blocks content rather than silently publishing it.
const ReasonServiceUnavailable = "service unavailable"

// ReasonUnknownCategory is reported when the service rates with a category
// code outside the known map.
const ReasonUnknownCategory = "UNKNOWN_CATEGORY"

var harmCategories = map[int]string{
	7:  "HARM_CATEGORY_HARASSMENT",
	8:  "HARM_CATEGORY_HATE_SPEECH",
	9:  "HARM_CATEGORY_SEXUALLY_EXPLICIT",
	10: "HARM_CATEGORY_DANGEROUS_CONTENT",
}

// Verdict is the outcome of one moderation check. Reason is the mapped
// category name, ReasonServiceUnavailable, or empty when clean.
type Verdict struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason"`
}

// Gate derives block verdicts from classifier output.
type Gate struct {
	client    ContentGenerator
	attempts  int
	retryWait time.Duration
}

// NewGate builds a Gate over the given AI capability with the standard
// retry policy.
func NewGate(client ContentGenerator) *Gate {
	return &Gate{
		client:    client,
		attempts:  classifyAttempts,
		retryWait: classifyRetryWait,
	}
}

// Moderate classifies the text and derives a verdict. The first rating at
// or above SeverityThreshold blocks with its category name. Only the first
// candidate's ratings are consulted; the loop returns after that candidate
// whether or not anything matched, mirroring the behavior the platform has
// always had.
func (g *Gate) Moderate(ctx context.Context, text string) Verdict {
	resp, ok := g.classify(ctx, text)
	if !ok {
		if utils.Sugar != nil {
			utils.Sugar.Warn("content blocked because moderation is not available")
		}
		return Verdict{Blocked: true, Reason: ReasonServiceUnavailable}
	}

	for _, candidate := range resp.Candidates {
		for _, rating := range candidate.SafetyRatings {
			if rating.Probability >= SeverityThreshold {
				name, known := harmCategories[rating.Category]
				if !known {
					name = ReasonUnknownCategory
				}
				return Verdict{Blocked: true, Reason: name}
			}
		}
		return Verdict{}
	}
	return Verdict{}
}
