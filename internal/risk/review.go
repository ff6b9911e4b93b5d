package risk

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ReviewStatus is the lifecycle state of a manual review entry.
type ReviewStatus string

const (
	ReviewPending    ReviewStatus = "pending"
	ReviewInReview   ReviewStatus = "in_review"
	ReviewApproved   ReviewStatus = "approved"
	ReviewRejected   ReviewStatus = "rejected"
	ReviewEscalated  ReviewStatus = "escalated"
	ReviewExpired    ReviewStatus = "expired"
)

// Priority orders entries within the review queue, derived from the risk
// score that produced the review decision.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// priority score thresholds.
const (
	criticalThreshold = 0.95
	highThreshold     = 0.85
	mediumThreshold   = 0.75
)

// escalation timeouts by current priority: an entry sitting unresolved past
// its timeout is bumped to the next priority tier via Escalate.
var escalationTimeouts = map[Priority]time.Duration{
	PriorityCritical: 2 * time.Hour,
	PriorityHigh:      6 * time.Hour,
	PriorityMedium:    24 * time.Hour,
	PriorityLow:       72 * time.Hour,
}

var ErrAlreadyResolved = errors.New("risk: review entry already resolved")

// ReviewEntry is a transaction awaiting manual review.
type ReviewEntry struct {
	ID            uuid.UUID
	TransactionID string
	UserID        string
	RiskScore     float64
	Priority      Priority
	Status        ReviewStatus
	Factors       []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// priorityFromScore derives the initial priority tier from a risk score.
func priorityFromScore(score float64) Priority {
	switch {
	case score >= criticalThreshold:
		return PriorityCritical
	case score >= highThreshold:
		return PriorityHigh
	case score >= mediumThreshold:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// NewReviewEntry enqueues a transaction flagged for manual review.
func NewReviewEntry(txID, userID string, score float64, factors []string, now time.Time) *ReviewEntry {
	return &ReviewEntry{
		ID:            uuid.New(),
		TransactionID: txID,
		UserID:        userID,
		RiskScore:     score,
		Priority:      priorityFromScore(score),
		Status:        ReviewPending,
		Factors:       factors,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsExpired reports whether the entry has sat unresolved past its current
// priority's escalation timeout.
func (e *ReviewEntry) IsExpired(now time.Time) bool {
	if e.Status != ReviewPending && e.Status != ReviewInReview && e.Status != ReviewEscalated {
		return false
	}
	timeout, ok := escalationTimeouts[e.Priority]
	if !ok {
		return false
	}
	return now.Sub(e.UpdatedAt) > timeout
}

// Escalate bumps an unresolved entry to the next-higher priority tier and
// marks it Escalated. A Critical entry cannot escalate further; callers are
// expected to force a terminal decision (e.g. auto-reject) in that case.
func (e *ReviewEntry) Escalate(now time.Time) error {
	if e.Status != ReviewPending && e.Status != ReviewInReview && e.Status != ReviewEscalated {
		return ErrAlreadyResolved
	}
	switch e.Priority {
	case PriorityLow:
		e.Priority = PriorityMedium
	case PriorityMedium:
		e.Priority = PriorityHigh
	case PriorityHigh:
		e.Priority = PriorityCritical
	case PriorityCritical:
		// already at the top tier; stays Critical
	}
	e.Status = ReviewEscalated
	e.UpdatedAt = now
	return nil
}

// Resolve transitions a review entry to Approved or Rejected. Entries
// already resolved (Approved/Rejected/Expired) cannot be resolved again.
func (e *ReviewEntry) Resolve(approve bool, now time.Time) error {
	if e.Status == ReviewApproved || e.Status == ReviewRejected || e.Status == ReviewExpired {
		return ErrAlreadyResolved
	}
	if approve {
		e.Status = ReviewApproved
	} else {
		e.Status = ReviewRejected
	}
	e.UpdatedAt = now
	return nil
}

// Queue is an in-memory manual-review queue keyed by entry ID, used by the
// orchestrator. Entries are not persisted: internal/store stores swap
// records only.
type Queue struct {
	entries map[uuid.UUID]*ReviewEntry
}

// NewQueue creates an empty review queue.
func NewQueue() *Queue {
	return &Queue{entries: make(map[uuid.UUID]*ReviewEntry)}
}

// Enqueue adds an entry to the queue.
func (q *Queue) Enqueue(e *ReviewEntry) {
	q.entries[e.ID] = e
}

// Get retrieves an entry by ID.
func (q *Queue) Get(id uuid.UUID) (*ReviewEntry, bool) {
	e, ok := q.entries[id]
	return e, ok
}

// Pending returns all entries not yet resolved, ordered by descending
// priority (Critical first) then by age (oldest first).
func (q *Queue) Pending() []*ReviewEntry {
	var out []*ReviewEntry
	for _, e := range q.entries {
		if e.Status == ReviewApproved || e.Status == ReviewRejected || e.Status == ReviewExpired {
			continue
		}
		out = append(out, e)
	}
	sortByPriorityThenAge(out)
	return out
}

var priorityRank = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:      1,
	PriorityMedium:    2,
	PriorityLow:       3,
}

func sortByPriorityThenAge(entries []*ReviewEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0; j-- {
			a, b := entries[j-1], entries[j]
			if priorityRank[a.Priority] > priorityRank[b.Priority] ||
				(priorityRank[a.Priority] == priorityRank[b.Priority] && a.CreatedAt.After(b.CreatedAt)) {
				entries[j-1], entries[j] = entries[j], entries[j-1]
				continue
			}
			break
		}
	}
}

// SweepExpired marks as Expired every Critical entry that was already
// escalated and has since sat past the Critical timeout, returning the IDs
// affected. Lower-priority timed-out entries are left as they are; they
// move up a tier through Escalate instead.
func (q *Queue) SweepExpired(now time.Time) []uuid.UUID {
	var expired []uuid.UUID
	for id, e := range q.entries {
		if e.IsExpired(now) && e.Priority == PriorityCritical && e.Status == ReviewEscalated {
			e.Status = ReviewExpired
			e.UpdatedAt = now
			expired = append(expired, id)
		}
	}
	return expired
}
