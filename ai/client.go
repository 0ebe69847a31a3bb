package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/starboard-forum/starboard/config"
)

// Client talks to the external generative text service. The same endpoint
// serves both content moderation (through the safety ratings attached to a
// candidate) and reply generation (through the candidate text). One client
// is constructed at boot and handed to every consumer; there is no package
// level handle.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewClient builds a Client from configuration.
func NewClient(cfg config.AppConfig) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(cfg.AIBaseURL, "/"),
		apiKey:     cfg.AIAPIKey,
		model:      cfg.AIModel,
	}
}

// SafetyRating is one (category, severity) annotation the service attaches
// to a candidate. Both values are the service's own integer codes.
type SafetyRating struct {
	Category    int `json:"category"`
	Probability int `json:"probability"`
}

// Part is a fragment of generated text.
type Part struct {
	Text string `json:"text"`
}

// Candidate is one generated answer with its safety annotations.
type Candidate struct {
	Content struct {
		Parts []Part `json:"parts"`
	} `json:"content"`
	SafetyRatings []SafetyRating `json:"safetyRatings"`
}

// Response is the service reply for a single generateContent call.
type Response struct {
	Candidates []Candidate `json:"candidates"`
}

// Text returns the text of the first candidate, parts joined in order.
// Empty when the service produced no candidates.
func (r *Response) Text() string {
	if r == nil || len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

type generateRequest struct {
	Contents []struct {
		Parts []Part `json:"parts"`
	} `json:"contents"`
}

// GenerateContent sends a single prompt and returns the raw response.
// No retries here; callers own their own retry policy.
func (c *Client) GenerateContent(ctx context.Context, prompt string) (*Response, error) {
	var req generateRequest
	req.Contents = make([]struct {
		Parts []Part `json:"parts"`
	}, 1)
	req.Contents[0].Parts = []Part{{Text: prompt}}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call ai service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// include a bounded slice of the body so upstream errors are diagnosable
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ai service returned %d: %s", resp.StatusCode, string(snippet))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}
