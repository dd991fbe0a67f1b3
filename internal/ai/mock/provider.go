package mock

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/DukeRupert/quill/internal/ai"
)

// Provider is a mock scorer for testing and development
type Provider struct {
	logger *slog.Logger

	mu sync.Mutex

	// Configurable responses for testing
	ScoreResponse *ai.ScoreResult
	ScoreError    error

	// Call tracking for testing
	ScoreCalls int
	LastParams ai.ScoreParams
}

// New creates a new mock scorer
func New(logger *slog.Logger) *Provider {
	return &Provider{
		logger: logger,
	}
}

// Score returns the configured response, or a canned rating derived from the
// length of the post.
func (p *Provider) Score(ctx context.Context, params ai.ScoreParams) (*ai.ScoreResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ScoreCalls++
	p.LastParams = params

	if p.ScoreError != nil {
		return nil, p.ScoreError
	}
	if p.ScoreResponse != nil {
		r := *p.ScoreResponse
		return &r, nil
	}

	words := len(strings.Fields(params.Body))
	score := 3
	feedback := "Short and to the point. Consider adding an example to support the main idea."
	switch {
	case words >= 300:
		score = 8
		feedback = "Well developed. Tighten the opening paragraph so the main point lands sooner."
	case words >= 100:
		score = 6
		feedback = "Solid draft. The argument would benefit from a clearer conclusion."
	}

	if p.logger != nil {
		p.logger.Debug("mock scorer rated post", "post_id", params.PostID, "score", score)
	}

	return &ai.ScoreResult{
		Score:    score,
		Feedback: feedback,
		Usage: ai.UsageInfo{
			Model:        "mock-scorer-v1",
			InputTokens:  words * 2,
			OutputTokens: 40,
			Duration:     25 * time.Millisecond,
		},
	}, nil
}

// Calls returns the number of Score calls so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ScoreCalls
}

// Reset clears call counters and custom responses for testing
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ScoreCalls = 0
	p.LastParams = ai.ScoreParams{}
	p.ScoreResponse = nil
	p.ScoreError = nil
}
