package platforms

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	apperrors "contentflow/internal/pkg/errors"
)

// nearLimitRatio is the caption length share above which a warning is raised.
const nearLimitRatio = 0.9

var inlineHashtag = regexp.MustCompile(`#[\p{L}\p{N}_]+`)

type ValidationResult struct {
	Valid    bool                   `json:"valid"`
	Errors   []apperrors.FieldError `json:"errors,omitempty"`
	Warnings []string               `json:"warnings,omitempty"`
}

// Err returns a ValidationError carrying the field errors, or nil when valid.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return apperrors.Validation(r.Errors)
}

// ComposeText renders the caption with hashtags appended, the text most platforms
// count against their caption limit.
func ComposeText(caption string, hashtags []string) string {
	if len(hashtags) == 0 {
		return caption
	}
	tags := make([]string, 0, len(hashtags))
	for _, h := range hashtags {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if !strings.HasPrefix(h, "#") {
			h = "#" + h
		}
		tags = append(tags, h)
	}
	if caption == "" {
		return strings.Join(tags, " ")
	}
	return caption + "\n\n" + strings.Join(tags, " ")
}

// ValidateRequest checks req against caps. Errors block publishing, warnings do not.
func ValidateRequest(caps Capabilities, req *PublishRequest) ValidationResult {
	var res ValidationResult
	fail := func(field, format string, args ...interface{}) {
		res.Errors = append(res.Errors, apperrors.FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	text := ComposeText(req.Caption, req.Hashtags)
	length := utf8.RuneCountInString(text)
	if caps.MaxCaptionLength > 0 {
		if length > caps.MaxCaptionLength {
			fail("caption", "%d characters exceeds the %s limit of %d", length, caps.Platform, caps.MaxCaptionLength)
		} else if float64(length) >= float64(caps.MaxCaptionLength)*nearLimitRatio {
			res.Warnings = append(res.Warnings, fmt.Sprintf("caption uses %d of %d characters", length, caps.MaxCaptionLength))
		}
	}

	tags := make(map[string]struct{})
	for _, t := range inlineHashtag.FindAllString(text, -1) {
		tags[strings.ToLower(t)] = struct{}{}
	}
	if caps.MaxHashtags > 0 && len(tags) > caps.MaxHashtags {
		fail("hashtags", "%d hashtags exceeds the limit of %d", len(tags), caps.MaxHashtags)
	}

	if n := len(req.Media); n < caps.MinMedia {
		fail("media", "at least %d media item(s) required, got %d", caps.MinMedia, n)
	} else if caps.MaxMedia >= 0 && n > caps.MaxMedia {
		fail("media", "at most %d media item(s) allowed, got %d", caps.MaxMedia, n)
	}

	for i, m := range req.Media {
		if !contains(caps.MediaTypes, m.Type) {
			fail(fmt.Sprintf("media[%d].type", i), "%q is not supported on %s", m.Type, caps.Platform)
		}
		if m.AspectRatio != "" && len(caps.AspectRatios) > 0 && !contains(caps.AspectRatios, m.AspectRatio) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("media[%d] aspect ratio %s is not one of %s; the platform may crop it",
				i, m.AspectRatio, strings.Join(caps.AspectRatios, ", ")))
		}
	}

	switch {
	case req.ContentType == ContentCarousel && !caps.SupportsCarousel:
		fail("content_type", "%s does not support carousels", caps.Platform)
	case req.ContentType == ContentStory && !caps.SupportsStories:
		fail("content_type", "%s does not support stories", caps.Platform)
	case !caps.supportsContent(req.ContentType):
		fail("content_type", "%q is not supported on %s", req.ContentType, caps.Platform)
	}

	if req.ContentType == ContentCarousel && len(req.Media) < 2 {
		fail("media", "a carousel needs at least 2 media items")
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
