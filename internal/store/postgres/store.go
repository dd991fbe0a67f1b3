// Package postgres implements store.Store on a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sqlc-dev/pqtype"

	"github.com/DukeRupert/quill/internal/domain"
	"github.com/DukeRupert/quill/internal/store"
)

// Store is a store.Store backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New connects to databaseURL and verifies the connection.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Pool returns the underlying pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close releases every pooled connection.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// =============================================================================
// Subscriptions
// =============================================================================

const subscriptionColumns = `
	user_id,
	tier,
	status,
	token_balance,
	COALESCE(stripe_customer_id, ''),
	COALESCE(stripe_subscription_id, ''),
	created_at,
	updated_at`

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	var tier, status string
	err := row.Scan(
		&sub.UserID,
		&tier,
		&status,
		&sub.TokenBalance,
		&sub.StripeCustomerID,
		&sub.StripeSubscriptionID,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sub.Tier = domain.TierID(tier)
	sub.Status = domain.SubscriptionStatus(status)
	return &sub, nil
}

func (s *Store) GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`, userID)
	sub, err := scanSubscription(row)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, err
}

func (s *Store) CreateSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (
			user_id, tier, status, token_balance,
			stripe_customer_id, stripe_subscription_id,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8)
		ON CONFLICT (user_id) DO NOTHING
	`,
		sub.UserID,
		string(sub.Tier),
		string(sub.Status),
		sub.TokenBalance,
		sub.StripeCustomerID,
		sub.StripeSubscriptionID,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	// Another request may have created it first; return whichever row won.
	return s.GetSubscription(ctx, sub.UserID)
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *domain.Subscription) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET tier = $2,
			status = $3,
			token_balance = $4,
			stripe_customer_id = NULLIF($5, ''),
			stripe_subscription_id = NULLIF($6, ''),
			updated_at = $7
		WHERE user_id = $1
	`,
		sub.UserID,
		string(sub.Tier),
		string(sub.Status),
		sub.TokenBalance,
		sub.StripeCustomerID,
		sub.StripeSubscriptionID,
		sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetSubscriptionByStripeCustomer(ctx context.Context, customerID string) (*domain.Subscription, error) {
	if customerID == "" {
		return nil, store.ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE stripe_customer_id = $1`, customerID)
	sub, err := scanSubscription(row)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get subscription by customer: %w", err)
	}
	return sub, err
}

// =============================================================================
// Usage
// =============================================================================

const usageColumns = `user_id, month_key, tier, count, created_at, updated_at`

func scanUsage(row pgx.Row) (*domain.UsageRecord, error) {
	var rec domain.UsageRecord
	var tier string
	if err := row.Scan(&rec.UserID, &rec.MonthKey, &tier, &rec.Count, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	rec.Tier = domain.TierID(tier)
	return &rec, nil
}

func (s *Store) GetUsage(ctx context.Context, userID, monthKey string) (*domain.UsageRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+usageColumns+` FROM usage WHERE user_id = $1 AND month_key = $2`, userID, monthKey)
	rec, err := scanUsage(row)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get usage: %w", err)
	}
	return rec, err
}

func (s *Store) IncrementUsage(ctx context.Context, userID, monthKey string, tier domain.TierID, now time.Time) (*domain.UsageRecord, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO usage (user_id, month_key, tier, count, created_at, updated_at)
		VALUES ($1, $2, $3, 1, $4, $4)
		ON CONFLICT (user_id, month_key) DO UPDATE
		SET count = usage.count + 1,
			tier = EXCLUDED.tier,
			updated_at = EXCLUDED.updated_at
		RETURNING `+usageColumns,
		userID, monthKey, string(tier), now,
	)
	rec, err := scanUsage(row)
	if err != nil {
		return nil, fmt.Errorf("increment usage: %w", err)
	}
	return rec, nil
}

func (s *Store) IncrementUsageIfBelow(ctx context.Context, userID, monthKey string, tier domain.TierID, limit int64, now time.Time) (*domain.UsageRecord, bool, error) {
	if limit <= 0 {
		rec, err := s.GetUsage(ctx, userID, monthKey)
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, nil
		}
		return rec, false, err
	}

	// The conditional upsert is a single statement, so two callers racing
	// for the last unit cannot both succeed.
	row := s.pool.QueryRow(ctx, `
		INSERT INTO usage (user_id, month_key, tier, count, created_at, updated_at)
		VALUES ($1, $2, $3, 1, $4, $4)
		ON CONFLICT (user_id, month_key) DO UPDATE
		SET count = usage.count + 1,
			tier = EXCLUDED.tier,
			updated_at = EXCLUDED.updated_at
		WHERE usage.count < $5
		RETURNING `+usageColumns,
		userID, monthKey, string(tier), now, limit,
	)
	rec, err := scanUsage(row)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("increment usage if below: %w", err)
	}

	// No row returned: the limit was already reached.
	rec, err = s.GetUsage(ctx, userID, monthKey)
	if err != nil {
		return nil, false, err
	}
	return rec, false, nil
}

// =============================================================================
// Posts
// =============================================================================

const postColumns = `
	id::text,
	user_id,
	title,
	body,
	COALESCE(tags, '{}'::text[]),
	status,
	scheduled_at,
	rating,
	feedback,
	rated_at,
	created_at,
	updated_at`

func scanPost(row pgx.Row) (*domain.Post, error) {
	var p domain.Post
	var id, status string
	err := row.Scan(
		&id,
		&p.UserID,
		&p.Title,
		&p.Body,
		&p.Tags,
		&status,
		&p.ScheduledAt,
		&p.Rating,
		&p.Feedback,
		&p.RatedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse post id %q: %w", id, err)
	}
	p.ID = parsed
	p.Status = domain.PostStatus(status)
	return &p, nil
}

func (s *Store) CreatePost(ctx context.Context, p *domain.Post) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO posts (
			id, user_id, title, body, tags, status, scheduled_at,
			rating, feedback, rated_at, created_at, updated_at
		)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		p.ID.String(),
		p.UserID,
		p.Title,
		p.Body,
		tagsOrEmpty(p.Tags),
		string(p.Status),
		p.ScheduledAt,
		p.Rating,
		p.Feedback,
		p.RatedAt,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	return nil
}

func (s *Store) GetPost(ctx context.Context, userID string, id uuid.UUID) (*domain.Post, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1::uuid AND user_id = $2`, id.String(), userID)
	p, err := scanPost(row)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get post: %w", err)
	}
	return p, err
}

func (s *Store) ListPosts(ctx context.Context, params domain.ListPostsParams) ([]*domain.Post, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+postColumns+`
		FROM posts
		WHERE user_id = $1
			AND ($2 = '' OR status = $2)
		ORDER BY updated_at DESC, id::text ASC
	`, params.UserID, string(params.Status))
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	posts := make([]*domain.Post, 0)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return posts, nil
}

func (s *Store) UpdatePost(ctx context.Context, p *domain.Post) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE posts
		SET title = $3,
			body = $4,
			tags = $5,
			status = $6,
			scheduled_at = $7,
			rating = $8,
			feedback = $9,
			rated_at = $10,
			updated_at = $11
		WHERE id = $1::uuid AND user_id = $2
	`,
		p.ID.String(),
		p.UserID,
		p.Title,
		p.Body,
		tagsOrEmpty(p.Tags),
		string(p.Status),
		p.ScheduledAt,
		p.Rating,
		p.Feedback,
		p.RatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeletePost(ctx context.Context, userID string, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM posts WHERE id = $1::uuid AND user_id = $2`, id.String(), userID)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CountScheduledBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM posts
		WHERE status = 'scheduled' AND scheduled_at < $1
	`, cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count scheduled posts: %w", err)
	}
	return n, nil
}

// =============================================================================
// Billing events
// =============================================================================

func (s *Store) RecordBillingEvent(ctx context.Context, eventID, eventType string, payload []byte, receivedAt time.Time) (bool, error) {
	raw := pqtype.NullRawMessage{RawMessage: payload, Valid: len(payload) > 0}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO billing_events (id, event_type, payload, received_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, eventID, eventType, raw, receivedAt)
	if err != nil {
		return false, fmt.Errorf("record billing event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
