// Package platformstest provides a scriptable adapter for tests of the workflow and
// publishing packages.
package platformstest

import (
	"context"
	"sync"

	"contentflow/internal/engine/platforms"
)

// Result is one scripted Publish outcome.
type Result struct {
	Result *platforms.PublishResult
	Err    error
	// Block makes Publish wait for ctx to be done and return ctx.Err().
	Block bool
}

// Adapter returns scripted results in order and then succeeds.
type Adapter struct {
	mu         sync.Mutex
	caps       platforms.Capabilities
	script     []Result
	requests   []*platforms.PublishRequest
	engagement platforms.Engagement
}

// New returns an adapter for platform with permissive limits: 280 caption runes,
// up to 4 image or video items and every content type.
func New(platform string, idempotent bool) *Adapter {
	return &Adapter{caps: platforms.Capabilities{
		Platform:         platform,
		DisplayName:      platform,
		MaxCaptionLength: 280,
		MaxHashtags:      5,
		MinMedia:         0,
		MaxMedia:         4,
		MediaTypes:       []string{"image", "video"},
		ContentTypes: []platforms.ContentType{
			platforms.ContentImage, platforms.ContentVideo, platforms.ContentCarousel,
			platforms.ContentStory, platforms.ContentReel, platforms.ContentText,
		},
		SupportsCarousel: true,
		SupportsStories:  true,
		SupportsMetrics:  true,
		Idempotent:       idempotent,
	}}
}

// Script queues Publish outcomes.
func (a *Adapter) Script(results ...Result) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.script = append(a.script, results...)
	return a
}

func (a *Adapter) SetEngagement(e platforms.Engagement) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.engagement = e
}

// Requests returns every request Publish received.
func (a *Adapter) Requests() []*platforms.PublishRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*platforms.PublishRequest(nil), a.requests...)
}

func (a *Adapter) Capabilities() platforms.Capabilities { return a.caps }

func (a *Adapter) Validate(req *platforms.PublishRequest) platforms.ValidationResult {
	return platforms.ValidateRequest(a.caps, req)
}

func (a *Adapter) Publish(ctx context.Context, req *platforms.PublishRequest) (*platforms.PublishResult, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	var next *Result
	if len(a.script) > 0 {
		next = &a.script[0]
		a.script = a.script[1:]
	}
	a.mu.Unlock()

	if next == nil {
		return &platforms.PublishResult{Success: true, PlatformPostID: a.caps.Platform + "-" + req.JobID}, nil
	}
	if next.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if next.Err != nil {
		return nil, next.Err
	}
	return next.Result, nil
}

func (a *Adapter) Delete(ctx context.Context, platformPostID string) bool { return true }

func (a *Adapter) Metrics(ctx context.Context, platformPostID string) platforms.Engagement {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engagement
}

func (a *Adapter) TestConnection(ctx context.Context) bool { return true }
