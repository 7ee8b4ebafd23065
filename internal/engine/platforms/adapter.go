package platforms

import (
	"context"
)

type ContentType string

const (
	ContentImage    ContentType = "image"
	ContentVideo    ContentType = "video"
	ContentCarousel ContentType = "carousel"
	ContentStory    ContentType = "story"
	ContentReel     ContentType = "reel"
	ContentText     ContentType = "text"
)

func (c ContentType) Valid() bool {
	switch c {
	case ContentImage, ContentVideo, ContentCarousel, ContentStory, ContentReel, ContentText:
		return true
	}
	return false
}

// MediaAsset is an ordered media reference on a post. URL is filled in from Key by the
// asset resolver just before publishing.
type MediaAsset struct {
	Key         string `json:"key"`
	Type        string `json:"type"` // image, video
	AspectRatio string `json:"aspect_ratio,omitempty"`
	URL         string `json:"url,omitempty"`
}

type PublishRequest struct {
	JobID          string       `json:"job_id"`
	PostID         string       `json:"post_id"`
	TenantID       string       `json:"tenant_id"`
	Platform       string       `json:"platform"`
	Caption        string       `json:"caption"`
	Hashtags       []string     `json:"hashtags"`
	Media          []MediaAsset `json:"media"`
	ContentType    ContentType  `json:"content_type"`
	IdempotencyKey string       `json:"idempotency_key"`
}

type PublishResult struct {
	Success        bool   `json:"success"`
	PlatformPostID string `json:"platform_post_id,omitempty"`
	URL            string `json:"url,omitempty"`
	// ManualActionRequired marks a publish that was handed to a human rather than performed.
	ManualActionRequired bool              `json:"manual_action_required,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// Engagement is a partial snapshot; zero fields mean the platform did not report them.
type Engagement struct {
	Likes       int64 `json:"likes"`
	Comments    int64 `json:"comments"`
	Shares      int64 `json:"shares"`
	Views       int64 `json:"views"`
	Reach       int64 `json:"reach"`
	CollectedAt int64 `json:"collected_at"`
}

func (e Engagement) Empty() bool {
	return e.Likes == 0 && e.Comments == 0 && e.Shares == 0 && e.Views == 0 && e.Reach == 0
}

// Adapter is implemented once per publishing destination.
//
// Validate is pure. Publish returns a typed error from internal/pkg/errors on failure.
// Delete, Metrics and TestConnection are best effort and never escalate failures.
type Adapter interface {
	Capabilities() Capabilities
	Validate(req *PublishRequest) ValidationResult
	Publish(ctx context.Context, req *PublishRequest) (*PublishResult, error)
	Delete(ctx context.Context, platformPostID string) bool
	Metrics(ctx context.Context, platformPostID string) Engagement
	TestConnection(ctx context.Context) bool
}
