package models

import (
	"fmt"
	"strings"
	"time"

	id "nexus/pkg/domain"
)

// Condition is the expected prior state of a conditional update.
type Condition struct {
	Status        Status
	ReviewerUnset bool
}

// PendingUnclaimed matches a Pending request nobody has claimed yet.
func PendingUnclaimed() Condition {
	return Condition{Status: StatusPending, ReviewerUnset: true}
}

// PendingAny matches any Pending request.
func PendingAny() Condition {
	return Condition{Status: StatusPending}
}

// Matches reports whether r is currently in the expected state.
func (c Condition) Matches(r *TransferRequest) bool {
	if c.Status != "" && r.Status != c.Status {
		return false
	}
	if c.ReviewerUnset && r.Reviewer != nil {
		return false
	}
	return true
}

// Changes are the fields a conditional update writes. Zero values leave the
// stored field untouched. ClaimedBy and ReviewedAt are only written when
// unset, so the first claim stays on record after resolution.
type Changes struct {
	Status     Status
	Reviewer   *id.ActorID
	ClaimedBy  *id.ActorID
	ReviewedAt *time.Time
	ResolvedAt *time.Time
}

// Claim records reviewer as the request's reviewer and claimant.
func Claim(reviewer id.ActorID, now time.Time) Changes {
	return Changes{Reviewer: &reviewer, ClaimedBy: &reviewer, ReviewedAt: &now}
}

// Resolve moves a request to a terminal status on behalf of actor, who
// becomes the reviewer of record. An earlier claim is left untouched.
func Resolve(status Status, actor id.ActorID, now time.Time) Changes {
	return Changes{Status: status, Reviewer: &actor, ResolvedAt: &now}
}

// Apply writes c onto r.
func (c Changes) Apply(r *TransferRequest) {
	if c.Status != "" {
		r.Status = c.Status
	}
	if c.Reviewer != nil {
		v := *c.Reviewer
		r.Reviewer = &v
	}
	if c.ClaimedBy != nil && r.ClaimedBy == nil {
		v := *c.ClaimedBy
		r.ClaimedBy = &v
	}
	if c.ReviewedAt != nil && r.ReviewedAt == nil {
		v := *c.ReviewedAt
		r.ReviewedAt = &v
	}
	if c.ResolvedAt != nil {
		v := *c.ResolvedAt
		r.ResolvedAt = &v
	}
}

// TimelineKind names a point in a request's history.
type TimelineKind string

const (
	TimelineCreated  TimelineKind = "created"
	TimelineReviewed TimelineKind = "reviewed"
	TimelineResolved TimelineKind = "resolved"
)

// TimelineEntry is one actor/time point in a request's history.
type TimelineEntry struct {
	Kind   TimelineKind `json:"kind"`
	Actor  id.ActorID   `json:"actor_id"`
	Status Status       `json:"status,omitempty"`
	At     time.Time    `json:"at"`
}

// Timeline returns the created, reviewed and resolved points that have
// happened so far, oldest first. The reviewed point is the claim and is
// absent when nobody claimed the request; the resolved point names the
// resolving actor.
func (r *TransferRequest) Timeline() []TimelineEntry {
	out := []TimelineEntry{{Kind: TimelineCreated, Actor: r.Initiator, Status: StatusPending, At: r.CreatedAt}}
	if r.ClaimedBy != nil && r.ReviewedAt != nil {
		out = append(out, TimelineEntry{Kind: TimelineReviewed, Actor: *r.ClaimedBy, At: *r.ReviewedAt})
	}
	if r.Status.IsTerminal() && r.ResolvedAt != nil {
		entry := TimelineEntry{Kind: TimelineResolved, Status: r.Status, At: *r.ResolvedAt}
		if r.Reviewer != nil {
			entry.Actor = *r.Reviewer
		}
		out = append(out, entry)
	}
	return out
}

// PartialValidationError names the items that no longer belong to the
// source tenant at approval time.
type PartialValidationError struct {
	ItemIDs []string
}

func (e *PartialValidationError) Error() string {
	return fmt.Sprintf("items no longer owned by source tenant: %s", strings.Join(e.ItemIDs, ", "))
}
