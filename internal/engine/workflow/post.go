package workflow

import (
	"contentflow/internal/engine/jobs"
	"contentflow/internal/engine/platforms"
)

// Post is a piece of content moving through review, scheduling and publishing.
type Post struct {
	ID           string                 `json:"id"`
	TenantID     string                 `json:"tenant_id"`
	Title        string                 `json:"title"`
	Caption      string                 `json:"caption"`
	Hashtags     []string               `json:"hashtags"`
	Media        []platforms.MediaAsset `json:"media"`
	Platforms    []string               `json:"platforms"`
	ContentType  platforms.ContentType  `json:"content_type"`
	Status       Status                 `json:"status"`
	ScheduledFor *int64                 `json:"scheduled_for,omitempty"`
	Version      int                    `json:"version"`
	CreatedBy    string                 `json:"created_by"`
	CreatedAt    int64                  `json:"created_at"`
	UpdatedAt    int64                  `json:"updated_at"`
}

// PublishRequest builds the adapter request for one platform. Job fields and media URLs
// are filled in by the queue.
func (p *Post) PublishRequest(platform string) *platforms.PublishRequest {
	media := make([]platforms.MediaAsset, len(p.Media))
	copy(media, p.Media)
	return &platforms.PublishRequest{
		PostID:      p.ID,
		TenantID:    p.TenantID,
		Platform:    platform,
		Caption:     p.Caption,
		Hashtags:    p.Hashtags,
		Media:       media,
		ContentType: p.ContentType,
	}
}

type Approval struct {
	ID          string         `json:"id"`
	PostID      string         `json:"post_id"`
	TenantID    string         `json:"tenant_id"`
	Type        ApprovalType   `json:"approval_type"`
	Status      ApprovalStatus `json:"status"`
	RequestedBy string         `json:"requested_by"`
	RequestedAt int64          `json:"requested_at"`
	RespondedAt *int64         `json:"responded_at,omitempty"`
	Responder   string         `json:"responder,omitempty"`
	Comment     string         `json:"comment,omitempty"`
}

// PostDetail is a post with its approvals and publish progress.
type PostDetail struct {
	Post      *Post          `json:"post"`
	Approvals []*Approval    `json:"approvals"`
	Jobs      []*jobs.Job    `json:"jobs"`
	Breakdown jobs.Breakdown `json:"breakdown"`
}

// PostInput carries the editable fields of a post.
type PostInput struct {
	Title       string                 `json:"title" validate:"required,max=200"`
	Caption     string                 `json:"caption"`
	Hashtags    []string               `json:"hashtags"`
	Media       []platforms.MediaAsset `json:"media" validate:"dive"`
	Platforms   []string               `json:"platforms" validate:"required,min=1,dive,required"`
	ContentType platforms.ContentType  `json:"content_type" validate:"required"`
	// Version, when set, must match the stored version for an update to apply.
	Version int `json:"version,omitempty"`
}
