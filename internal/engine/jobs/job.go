package jobs

import "contentflow/internal/engine/platforms"

type Status string

const (
	StatusPending        Status = "PENDING"
	StatusRunning        Status = "RUNNING"
	StatusSucceeded      Status = "SUCCEEDED"
	StatusFailed         Status = "FAILED"
	StatusCancelled      Status = "CANCELLED"
	StatusAwaitingManual Status = "AWAITING_MANUAL"
)

// Terminal statuses are never claimed again. FAILED can only leave through an operator retry.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Error kinds recorded on a job next to last_error.
const (
	ErrorKindValidation = "VALIDATION"
	ErrorKindAdapter    = "ADAPTER"
	ErrorKindTimeout    = "TIMEOUT"
	ErrorKindCancelled  = "CANCELLED"
	ErrorKindReconcile  = "RECONCILE"
)

// Job is one publish of a post to one platform.
type Job struct {
	ID             string                `json:"id"`
	PostID         string                `json:"post_id"`
	TenantID       string                `json:"tenant_id"`
	Platform       string                `json:"platform"`
	Status         Status                `json:"status"`
	ScheduledFor   int64                 `json:"scheduled_for"`
	Attempts       int                   `json:"attempts"`
	MaxAttempts    int                   `json:"max_attempts"`
	LastError      string                `json:"last_error,omitempty"`
	ErrorKind      string                `json:"error_kind,omitempty"`
	PlatformPostID string                `json:"platform_post_id,omitempty"`
	NextRetryAt    *int64                `json:"next_retry_at,omitempty"`
	ClaimedAt      *int64                `json:"claimed_at,omitempty"`
	IdempotencyKey string                `json:"-"`
	Metrics        *platforms.Engagement `json:"metrics,omitempty"`
	CreatedAt      int64                 `json:"created_at"`
	UpdatedAt      int64                 `json:"updated_at"`
}

// Breakdown counts a post's jobs by status.
type Breakdown map[Status]int

// Delivered reports whether every job that was not cancelled has succeeded.
func (b Breakdown) Delivered() bool {
	total := 0
	for s, n := range b {
		if s != StatusCancelled {
			total += n
		}
	}
	return total > 0 && b[StatusSucceeded] == total
}
