package platforms

import (
	"context"
	"strings"
)

// ManualAdapter covers destinations without an API. Publishing hands the content to a
// human; the queue records that as AWAITING_MANUAL until someone confirms it.
type ManualAdapter struct {
	caps Capabilities
}

func NewManualAdapter(caps Capabilities) *ManualAdapter {
	caps.Idempotent = true
	return &ManualAdapter{caps: caps}
}

func (a *ManualAdapter) Capabilities() Capabilities { return a.caps }

func (a *ManualAdapter) Validate(req *PublishRequest) ValidationResult {
	return ValidateRequest(a.caps, req)
}

func (a *ManualAdapter) Publish(ctx context.Context, req *PublishRequest) (*PublishResult, error) {
	urls := make([]string, 0, len(req.Media))
	for _, m := range req.Media {
		urls = append(urls, m.URL)
	}
	return &PublishResult{
		Success:              true,
		ManualActionRequired: true,
		Metadata: map[string]string{
			"instructions": "Publish manually on " + a.caps.DisplayName + " and confirm the job with the platform post id.",
			"text":         ComposeText(req.Caption, req.Hashtags),
			"media":        strings.Join(urls, "\n"),
		},
	}, nil
}

func (a *ManualAdapter) Delete(ctx context.Context, platformPostID string) bool { return false }

func (a *ManualAdapter) Metrics(ctx context.Context, platformPostID string) Engagement {
	return Engagement{}
}

func (a *ManualAdapter) TestConnection(ctx context.Context) bool { return true }
