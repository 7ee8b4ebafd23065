package platforms

import (
	"strings"
	"testing"

	apperrors "contentflow/internal/pkg/errors"
)

func mustCaps(t *testing.T, platform string) Capabilities {
	t.Helper()
	caps, err := LoadCapabilities()
	if err != nil {
		t.Fatalf("LoadCapabilities() error = %v", err)
	}
	c, ok := caps[platform]
	if !ok {
		t.Fatalf("no capabilities for %s", platform)
	}
	return c
}

func image(ratio string) MediaAsset {
	return MediaAsset{Key: "a.jpg", Type: "image", AspectRatio: ratio}
}

func TestLoadCapabilities(t *testing.T) {
	caps, err := LoadCapabilities()
	if err != nil {
		t.Fatalf("LoadCapabilities() error = %v", err)
	}
	for _, id := range []string{"instagram_feed", "instagram_story", "instagram_reel", "facebook", "x",
		"linkedin", "tiktok", "youtube", "discord", "manual"} {
		if _, ok := caps[id]; !ok {
			t.Errorf("missing capabilities for %s", id)
		}
	}
	if caps["x"].MaxCaptionLength != 280 {
		t.Errorf("x caption limit = %d", caps["x"].MaxCaptionLength)
	}
}

func TestParseCapabilitiesRejectsBadTables(t *testing.T) {
	tests := map[string]string{
		"duplicate":    "- platform: a\n  max_media: 1\n- platform: a\n  max_media: 1\n",
		"no id":        "- max_media: 1\n",
		"bad media":    "- platform: a\n  min_media: 2\n  max_media: 1\n",
		"content type": "- platform: a\n  max_media: 1\n  content_types: [hologram]\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := parseCapabilities([]byte(doc)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name        string
		platform    string
		req         PublishRequest
		wantValid   bool
		wantField   string
		wantWarning string
	}{
		{
			name:      "valid feed post",
			platform:  "instagram_feed",
			req:       PublishRequest{Caption: "Launch day", Hashtags: []string{"launch"}, Media: []MediaAsset{image("1:1")}, ContentType: ContentImage},
			wantValid: true,
		},
		{
			name:      "caption too long for x",
			platform:  "x",
			req:       PublishRequest{Caption: strings.Repeat("a", 281), ContentType: ContentText},
			wantField: "caption",
		},
		{
			name:      "multibyte caption counts runes",
			platform:  "x",
			req:       PublishRequest{Caption: strings.Repeat("é", 280), ContentType: ContentText},
			wantValid: true,
		},
		{
			name:      "hashtags over limit including inline",
			platform:  "x",
			req:       PublishRequest{Caption: "#one #two #three", Hashtags: []string{"four", "five", "six"}, ContentType: ContentText},
			wantField: "hashtags",
		},
		{
			name:      "feed needs media",
			platform:  "instagram_feed",
			req:       PublishRequest{Caption: "text only", ContentType: ContentImage},
			wantField: "media",
		},
		{
			name:      "too many media",
			platform:  "x",
			req:       PublishRequest{Media: []MediaAsset{image(""), image(""), image(""), image(""), image("")}, ContentType: ContentImage},
			wantField: "media",
		},
		{
			name:      "image on tiktok",
			platform:  "tiktok",
			req:       PublishRequest{Media: []MediaAsset{image("9:16")}, ContentType: ContentVideo},
			wantField: "media[0].type",
		},
		{
			name:      "carousel unsupported",
			platform:  "x",
			req:       PublishRequest{Media: []MediaAsset{image(""), image("")}, ContentType: ContentCarousel},
			wantField: "content_type",
		},
		{
			name:      "story unsupported",
			platform:  "linkedin",
			req:       PublishRequest{Media: []MediaAsset{image("")}, ContentType: ContentStory},
			wantField: "content_type",
		},
		{
			name:      "carousel needs two items",
			platform:  "instagram_feed",
			req:       PublishRequest{Media: []MediaAsset{image("1:1")}, ContentType: ContentCarousel},
			wantField: "media",
		},
		{
			name:        "aspect ratio only warns",
			platform:    "instagram_feed",
			req:         PublishRequest{Media: []MediaAsset{image("16:9")}, ContentType: ContentImage},
			wantValid:   true,
			wantWarning: "aspect ratio 16:9",
		},
		{
			name:        "caption near limit warns",
			platform:    "x",
			req:         PublishRequest{Caption: strings.Repeat("a", 260), ContentType: ContentText},
			wantValid:   true,
			wantWarning: "260 of 280",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidateRequest(mustCaps(t, tt.platform), &tt.req)
			if res.Valid != tt.wantValid {
				t.Fatalf("Valid = %v, want %v (errors %v)", res.Valid, tt.wantValid, res.Errors)
			}
			if tt.wantField != "" {
				found := false
				for _, e := range res.Errors {
					if e.Field == tt.wantField {
						found = true
					}
				}
				if !found {
					t.Errorf("expected error on %s, got %v", tt.wantField, res.Errors)
				}
			}
			if tt.wantWarning != "" && !strings.Contains(strings.Join(res.Warnings, "|"), tt.wantWarning) {
				t.Errorf("expected warning containing %q, got %v", tt.wantWarning, res.Warnings)
			}
		})
	}
}

func TestValidationResultErr(t *testing.T) {
	res := ValidateRequest(mustCaps(t, "instagram_feed"), &PublishRequest{ContentType: ContentImage})
	err := res.Err()
	if apperrors.KindOf(err) != apperrors.KindValidation {
		t.Fatalf("KindOf = %s, want validation", apperrors.KindOf(err))
	}
	if apperrors.IsRetryable(err) {
		t.Error("validation errors must not be retryable")
	}
	if len(apperrors.FieldsOf(err)) == 0 {
		t.Error("expected field-level detail")
	}
}

func TestComposeText(t *testing.T) {
	got := ComposeText("Hello", []string{"one", "#two", " "})
	if got != "Hello\n\n#one #two" {
		t.Errorf("ComposeText = %q", got)
	}
	if ComposeText("", []string{"x"}) != "#x" {
		t.Error("hashtags-only text should not start with blank lines")
	}
}

func TestIdempotencyKeyStable(t *testing.T) {
	a := IdempotencyKey("job_1")
	if a != IdempotencyKey("job_1") {
		t.Error("key must be stable for the same job")
	}
	if a == IdempotencyKey("job_2") {
		t.Error("keys must differ across jobs")
	}
	if !strings.HasPrefix(a, "idem_") || len(a) != len("idem_")+32 {
		t.Errorf("unexpected key format %q", a)
	}
}
