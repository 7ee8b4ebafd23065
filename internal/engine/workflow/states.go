package workflow

import "contentflow/internal/engine/webhooks"

// Status is the lifecycle state of a post.
type Status string

const (
	StatusDraft          Status = "DRAFT"
	StatusInternalReview Status = "INTERNAL_REVIEW"
	StatusRevisionNeeded Status = "REVISION_NEEDED"
	StatusReadyForClient Status = "READY_FOR_CLIENT"
	StatusClientReview   Status = "CLIENT_REVIEW"
	StatusClientRevision Status = "CLIENT_REVISION"
	StatusApproved       Status = "APPROVED"
	StatusScheduled      Status = "SCHEDULED"
	StatusPublishing     Status = "PUBLISHING"
	StatusDelivered      Status = "DELIVERED"
	StatusArchived       Status = "ARCHIVED"
)

// transitions is the complete set of legal moves. ARCHIVED is reachable from every
// non-terminal state through Cancel.
var transitions = map[Status][]Status{
	StatusDraft:          {StatusInternalReview, StatusArchived},
	StatusInternalReview: {StatusReadyForClient, StatusRevisionNeeded, StatusArchived},
	StatusRevisionNeeded: {StatusInternalReview, StatusArchived},
	StatusReadyForClient: {StatusClientReview, StatusArchived},
	StatusClientReview:   {StatusApproved, StatusClientRevision, StatusArchived},
	StatusClientRevision: {StatusClientReview, StatusArchived},
	StatusApproved:       {StatusScheduled, StatusArchived},
	StatusScheduled:      {StatusPublishing, StatusDelivered, StatusArchived},
	StatusPublishing:     {StatusDelivered, StatusArchived},
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusArchived
}

// Editable reports whether content changes are allowed in this state.
func (s Status) Editable() bool {
	return s == StatusDraft || s == StatusRevisionNeeded || s == StatusClientRevision
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok || s.Terminal()
}

type ApprovalType string

const (
	ApprovalInternal ApprovalType = "INTERNAL"
	ApprovalClient   ApprovalType = "CLIENT"
)

func (t ApprovalType) Valid() bool {
	return t == ApprovalInternal || t == ApprovalClient
}

// reviewStatus is the post state while an approval of this type is open.
func (t ApprovalType) reviewStatus() Status {
	if t == ApprovalClient {
		return StatusClientReview
	}
	return StatusInternalReview
}

type ApprovalStatus string

const (
	ApprovalPending           ApprovalStatus = "PENDING"
	ApprovalApproved          ApprovalStatus = "APPROVED"
	ApprovalRejected          ApprovalStatus = "REJECTED"
	ApprovalRevisionRequested ApprovalStatus = "REVISION_REQUESTED"
)

// Decision is a reviewer's answer to an open approval.
type Decision string

const (
	DecisionApproved          Decision = "APPROVED"
	DecisionRevisionRequested Decision = "REVISION_REQUESTED"
	DecisionRejected          Decision = "REJECTED"
)

func (d Decision) Valid() bool {
	return d == DecisionApproved || d == DecisionRevisionRequested || d == DecisionRejected
}

// outcome returns the post state and event that follow a decision on an approval of type t.
func (d Decision) outcome(t ApprovalType) (Status, string) {
	switch {
	case d == DecisionApproved && t == ApprovalInternal:
		return StatusReadyForClient, webhooks.EventPostInternalApproved
	case d == DecisionApproved:
		return StatusApproved, webhooks.EventPostApproved
	case t == ApprovalInternal && d == DecisionRejected:
		return StatusRevisionNeeded, webhooks.EventPostRejected
	case t == ApprovalInternal:
		return StatusRevisionNeeded, webhooks.EventPostRevisionRequested
	case d == DecisionRejected:
		return StatusClientRevision, webhooks.EventPostRejected
	default:
		return StatusClientRevision, webhooks.EventPostRevisionRequested
	}
}
