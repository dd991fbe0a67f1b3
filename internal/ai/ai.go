package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Score bounds accepted from a scorer.
const (
	MinScore = 1
	MaxScore = 10
)

// Scorer rates a post's writing quality. Calls are metered by the
// entitlement gate; implementations only score.
type Scorer interface {
	Score(ctx context.Context, params ScoreParams) (*ScoreResult, error)
}

// ScoreParams contains the content to be rated
type ScoreParams struct {
	UserID string    // User ID for tracking
	PostID uuid.UUID // Post ID for tracking
	Title  string
	Body   string
	Tags   []string
}

// ScoreResult is a rating returned by a scorer
type ScoreResult struct {
	Score    int    // 1-10
	Feedback string // Short critique for the author
	Usage    UsageInfo
}

// UsageInfo tracks API usage for monitoring
type UsageInfo struct {
	Model        string        // AI model used
	InputTokens  int           // Tokens in the request
	OutputTokens int           // Tokens in the response
	Duration     time.Duration // Request duration
}

// ProviderConfig contains common configuration for AI providers
type ProviderConfig struct {
	MaxRetries     int           // Maximum attempts for transient errors
	RetryBaseDelay time.Duration // Base delay for exponential backoff
	RequestTimeout time.Duration // Timeout for individual requests
}

// Error codes for AI provider operations
var (
	// EAIRateLimit indicates the API rate limit has been exceeded
	EAIRateLimit = errors.New("ai provider rate limit exceeded")

	// EAIInvalidContent indicates the post cannot be scored as submitted
	EAIInvalidContent = errors.New("post content cannot be scored")

	// EAIInvalidScore indicates the provider returned a score outside 1-10
	EAIInvalidScore = errors.New("ai provider returned an invalid score")

	// EAITimeout indicates the request timed out
	EAITimeout = errors.New("ai request timed out")

	// EAIUnavailable indicates the AI service is temporarily unavailable
	EAIUnavailable = errors.New("ai service temporarily unavailable")

	// EAIUnauthorized indicates invalid API credentials
	EAIUnauthorized = errors.New("ai provider authentication failed")
)

// IsRetryable returns true if the error is a transient error that can be retried
func IsRetryable(err error) bool {
	return errors.Is(err, EAIRateLimit) ||
		errors.Is(err, EAITimeout) ||
		errors.Is(err, EAIUnavailable)
}

// WrapError wraps an error with context about the AI operation
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("ai %s: %w", operation, err)
}

// ValidateResult rejects results whose score is out of range.
func ValidateResult(r *ScoreResult) error {
	if r == nil {
		return fmt.Errorf("%w: empty result", EAIInvalidScore)
	}
	if r.Score < MinScore || r.Score > MaxScore {
		return fmt.Errorf("%w: %d", EAIInvalidScore, r.Score)
	}
	return nil
}
