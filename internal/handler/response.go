package handler

import (
	"time"

	"github.com/DukeRupert/quill/internal/domain"
)

// JSON shapes returned by the API. Domain types carry no JSON tags.

type PostResponse struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	Tags        []string   `json:"tags"`
	Status      string     `json:"status"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	Rating      *int       `json:"rating,omitempty"`
	Feedback    string     `json:"feedback,omitempty"`
	RatedAt     *time.Time `json:"ratedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func newPostResponse(p *domain.Post) PostResponse {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	return PostResponse{
		ID:          p.ID.String(),
		Title:       p.Title,
		Body:        p.Body,
		Tags:        tags,
		Status:      p.Status.String(),
		ScheduledAt: p.ScheduledAt,
		Rating:      p.Rating,
		Feedback:    p.Feedback,
		RatedAt:     p.RatedAt,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func newPostResponses(posts []*domain.Post) []PostResponse {
	out := make([]PostResponse, 0, len(posts))
	for _, p := range posts {
		out = append(out, newPostResponse(p))
	}
	return out
}

// EntitlementResponse reports whether a metered action is allowed.
// Limit and Remaining are omitted when the plan is unlimited.
type EntitlementResponse struct {
	Allowed   bool   `json:"allowed"`
	Tier      string `json:"tier"`
	Used      int64  `json:"used"`
	Limit     *int64 `json:"limit,omitempty"`
	Remaining *int64 `json:"remaining,omitempty"`
	Unlimited bool   `json:"unlimited"`
}

func newEntitlementResponse(e domain.Entitlement) EntitlementResponse {
	resp := EntitlementResponse{
		Allowed:   e.Allowed,
		Tier:      e.Tier.String(),
		Used:      e.Used,
		Unlimited: e.Unlimited,
	}
	if !e.Unlimited {
		limit, remaining := e.Limit, e.Remaining()
		resp.Limit = &limit
		resp.Remaining = &remaining
	}
	return resp
}

type UsageResponse struct {
	EntitlementResponse
	Month   string       `json:"month"`
	ResetAt time.Time    `json:"resetAt"`
	Plan    PlanResponse `json:"plan"`
}

func newUsageResponse(u *domain.UsageSummary) UsageResponse {
	return UsageResponse{
		EntitlementResponse: newEntitlementResponse(u.Entitlement),
		Month:               u.MonthKey,
		ResetAt:             u.ResetAt,
		Plan:                newPlanResponse(u.Plan),
	}
}

type PlanResponse struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	MonthlyAllowance *int64          `json:"monthlyAllowance,omitempty"`
	Unlimited        bool            `json:"unlimited"`
	Features         map[string]bool `json:"features"`
}

func newPlanResponse(p domain.PlanTier) PlanResponse {
	resp := PlanResponse{
		ID:        p.ID.String(),
		Name:      p.Name,
		Unlimited: p.IsUnlimited(),
		Features:  make(map[string]bool, len(p.Features)),
	}
	if !p.IsUnlimited() {
		a := p.MonthlyAllowance
		resp.MonthlyAllowance = &a
	}
	for f, on := range p.Features {
		resp.Features[string(f)] = on
	}
	return resp
}

type SubscriptionResponse struct {
	Tier         string    `json:"tier"`
	Status       string    `json:"status"`
	TokenBalance *int64    `json:"tokenBalance,omitempty"`
	Unlimited    bool      `json:"unlimited"`
	HasBilling   bool      `json:"hasBilling"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func newSubscriptionResponse(s *domain.Subscription) SubscriptionResponse {
	resp := SubscriptionResponse{
		Tier:       s.Tier.String(),
		Status:     string(s.Status),
		HasBilling: s.StripeCustomerID != "",
		UpdatedAt:  s.UpdatedAt,
	}
	if limit := domain.ResolveLimit(s, s.Plan()); limit == domain.Unlimited {
		resp.Unlimited = true
	} else {
		resp.TokenBalance = &limit
	}
	return resp
}

type BucketResponse struct {
	Day        string         `json:"day"` // YYYY-MM-DD in the viewer's location
	IsTomorrow bool           `json:"isTomorrow"`
	Posts      []PostResponse `json:"posts"`
}

type CalendarResponse struct {
	Timezone    string           `json:"timezone"`
	GeneratedAt time.Time        `json:"generatedAt"`
	Overdue     []PostResponse   `json:"overdue"`
	Days        []BucketResponse `json:"days"`
}

func newCalendarResponse(c *domain.Calendar) CalendarResponse {
	resp := CalendarResponse{
		Timezone:    c.Location.String(),
		GeneratedAt: c.GeneratedAt,
		Overdue:     newPostResponses(c.Overdue),
		Days:        make([]BucketResponse, 0, len(c.Days)),
	}
	for _, b := range c.Days {
		resp.Days = append(resp.Days, BucketResponse{
			Day:        b.Day.Format(time.DateOnly),
			IsTomorrow: b.IsTomorrow,
			Posts:      newPostResponses(b.Posts),
		})
	}
	return resp
}
