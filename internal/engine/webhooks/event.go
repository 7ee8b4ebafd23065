package webhooks

import "encoding/json"

// Event types. Subscribers filter on these, on "*" or on a family prefix such as "publish.*".
const (
	EventPostCreated           = "post.created"
	EventPostUpdated           = "post.updated"
	EventPostReviewRequested   = "post.review_requested"
	EventPostInternalApproved  = "post.internal_approved"
	EventPostRevisionRequested = "post.revision_requested"
	EventPostRejected          = "post.rejected"
	EventPostApproved          = "post.approved"
	EventPostScheduled         = "post.scheduled"
	EventPostPublishing        = "post.publishing"
	EventPostDelivered         = "post.delivered"
	EventPostCancelled         = "post.cancelled"

	EventPublishSucceeded      = "publish.succeeded"
	EventPublishFailed         = "publish.failed"
	EventPublishRetrying       = "publish.retrying"
	EventPublishAwaitingManual = "publish.awaiting_manual"

	EventEngagementUpdated = "engagement.updated"
)

const (
	EntityPost = "post"
	EntityJob  = "publish_job"
)

type Event struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	EventType   string          `json:"event_type"`
	EntityType  string          `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	Payload     json.RawMessage `json:"payload"`
	EmittedAt   int64           `json:"emitted_at"`
	FannedOutAt *int64          `json:"fanned_out_at,omitempty"`
}

// Envelope is the JSON body POSTed to subscribers.
type Envelope struct {
	EventID    string          `json:"eventId"`
	EventType  string          `json:"eventType"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Payload    json.RawMessage `json:"payload"`
	EmittedAt  int64           `json:"emittedAt"`
}

func (e *Event) Envelope() Envelope {
	return Envelope{
		EventID:    e.ID,
		EventType:  e.EventType,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Payload:    e.Payload,
		EmittedAt:  e.EmittedAt,
	}
}

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "PENDING"
	DeliverySending   DeliveryStatus = "SENDING"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryFailed    DeliveryStatus = "FAILED"
)

type Delivery struct {
	ID            string         `json:"id"`
	EventID       string         `json:"event_id"`
	EventType     string         `json:"event_type,omitempty"`
	SubscriberID  string         `json:"subscriber_id"`
	URL           string         `json:"url"`
	Status        DeliveryStatus `json:"status"`
	Attempts      int            `json:"attempts"`
	Signature     string         `json:"signature,omitempty"`
	ResponseCode  int            `json:"response_code,omitempty"`
	LastError     string         `json:"last_error,omitempty"`
	NextAttemptAt int64          `json:"next_attempt_at"`
	ClaimedAt     *int64         `json:"claimed_at,omitempty"`
	DeliveredAt   *int64         `json:"delivered_at,omitempty"`
	CreatedAt     int64          `json:"created_at"`
	UpdatedAt     int64          `json:"updated_at"`
}
