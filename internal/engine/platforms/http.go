package platforms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "contentflow/internal/pkg/errors"
	"contentflow/internal/platform/config"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// StatusError is a non-2xx response from a platform gateway.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("platform returned %d: %s", e.StatusCode, e.Body)
}

// Permanent reports whether retrying the same request cannot succeed.
func (e *StatusError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 &&
		e.StatusCode != http.StatusRequestTimeout && e.StatusCode != http.StatusTooManyRequests
}

// IsPermanent reports whether err carries a platform rejection that must not be retried.
func IsPermanent(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Permanent()
}

// HTTPAdapter talks JSON to a platform gateway that holds the platform credentials.
//
//	POST   {endpoint}/posts               create, deduped on the Idempotency-Key header
//	DELETE {endpoint}/posts/{id}
//	GET    {endpoint}/posts/{id}/metrics
//	GET    {endpoint}/health
type HTTPAdapter struct {
	caps     Capabilities
	endpoint string
	token    string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
}

func NewHTTPAdapter(caps Capabilities, cfg config.PlatformConfig, client *http.Client) *HTTPAdapter {
	caps.Idempotent = true

	rpm := cfg.RatePerMinute
	if rpm <= 0 {
		rpm = 60
	}
	burst := rpm / 10
	if burst < 1 {
		burst = 1
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        caps.Platform,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		// A rejected payload says nothing about the gateway's health.
		IsSuccessful: func(err error) bool {
			return err == nil || IsPermanent(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().Str("platform", name).Str("from", from.String()).Str("to", to.String()).Msg("platform circuit breaker state change")
		},
	})

	return &HTTPAdapter{
		caps:     caps,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		token:    cfg.Token,
		client:   client,
		breaker:  breaker,
		limiter:  rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst),
	}
}

func (a *HTTPAdapter) Capabilities() Capabilities { return a.caps }

func (a *HTTPAdapter) Validate(req *PublishRequest) ValidationResult {
	return ValidateRequest(a.caps, req)
}

type gatewayPost struct {
	Platform    string       `json:"platform"`
	PostID      string       `json:"post_id"`
	Text        string       `json:"text"`
	Caption     string       `json:"caption"`
	Hashtags    []string     `json:"hashtags"`
	Media       []MediaAsset `json:"media"`
	ContentType ContentType  `json:"content_type"`
}

type gatewayResult struct {
	ID       string            `json:"id"`
	URL      string            `json:"url"`
	Metadata map[string]string `json:"metadata"`
}

func (a *HTTPAdapter) Publish(ctx context.Context, req *PublishRequest) (*PublishResult, error) {
	body, err := json.Marshal(gatewayPost{
		Platform:    req.Platform,
		PostID:      req.PostID,
		Text:        ComposeText(req.Caption, req.Hashtags),
		Caption:     req.Caption,
		Hashtags:    req.Hashtags,
		Media:       req.Media,
		ContentType: req.ContentType,
	})
	if err != nil {
		return nil, err
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, classify(ctx, err)
	}

	out, err := a.breaker.Execute(func() (interface{}, error) {
		httpReq, err := a.newRequest(ctx, http.MethodPost, "/posts", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

		var res gatewayResult
		if err := a.do(httpReq, &res); err != nil {
			return nil, err
		}
		return &res, nil
	})
	if err != nil {
		return nil, classify(ctx, err)
	}

	res := out.(*gatewayResult)
	if res.ID == "" {
		return nil, apperrors.New(apperrors.KindAdapter, "%s gateway returned no post id", a.caps.Platform)
	}
	return &PublishResult{Success: true, PlatformPostID: res.ID, URL: res.URL, Metadata: res.Metadata}, nil
}

func (a *HTTPAdapter) Delete(ctx context.Context, platformPostID string) bool {
	req, err := a.newRequest(ctx, http.MethodDelete, "/posts/"+url.PathEscape(platformPostID), nil)
	if err != nil {
		return false
	}
	if err := a.do(req, nil); err != nil {
		log.Warn().Err(err).Str("platform", a.caps.Platform).Str("platform_post_id", platformPostID).Msg("remote delete failed")
		return false
	}
	return true
}

func (a *HTTPAdapter) Metrics(ctx context.Context, platformPostID string) Engagement {
	req, err := a.newRequest(ctx, http.MethodGet, "/posts/"+url.PathEscape(platformPostID)+"/metrics", nil)
	if err != nil {
		return Engagement{}
	}
	var e Engagement
	if err := a.do(req, &e); err != nil {
		log.Debug().Err(err).Str("platform", a.caps.Platform).Msg("metrics unavailable")
		return Engagement{}
	}
	return e
}

func (a *HTTPAdapter) TestConnection(ctx context.Context) bool {
	req, err := a.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return false
	}
	return a.do(req, nil) == nil
}

func (a *HTTPAdapter) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.endpoint+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	return req, nil
}

func (a *HTTPAdapter) do(req *http.Request, out interface{}) error {
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// classify maps transport failures onto the retry taxonomy.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.KindTimeout, err, "platform call timed out")
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperrors.Wrap(apperrors.KindAdapter, err, "platform circuit open")
	}
	return apperrors.Wrap(apperrors.KindAdapter, err, "platform publish failed")
}
