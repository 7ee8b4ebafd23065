package platforms

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed capabilities.yaml
var capabilitiesYAML []byte

// Capabilities describes what a destination accepts. Values are read-only after load.
type Capabilities struct {
	Platform           string        `yaml:"platform" json:"platform"`
	DisplayName        string        `yaml:"display_name" json:"display_name"`
	MaxCaptionLength   int           `yaml:"max_caption_length" json:"max_caption_length"`
	MaxHashtags        int           `yaml:"max_hashtags" json:"max_hashtags"`
	MinMedia           int           `yaml:"min_media" json:"min_media"`
	MaxMedia           int           `yaml:"max_media" json:"max_media"`
	MediaTypes         []string      `yaml:"media_types" json:"media_types"`
	AspectRatios       []string      `yaml:"aspect_ratios" json:"aspect_ratios,omitempty"`
	ContentTypes       []ContentType `yaml:"content_types" json:"content_types"`
	SupportsScheduling bool          `yaml:"supports_scheduling" json:"supports_scheduling"`
	SupportsCarousel   bool          `yaml:"supports_carousel" json:"supports_carousel"`
	SupportsStories    bool          `yaml:"supports_stories" json:"supports_stories"`
	SupportsMetrics    bool          `yaml:"supports_metrics" json:"supports_metrics"`

	// Idempotent is a property of the adapter, not the platform table.
	Idempotent bool `yaml:"-" json:"idempotent"`
}

func (c Capabilities) supportsContent(t ContentType) bool {
	for _, ct := range c.ContentTypes {
		if ct == t {
			return true
		}
	}
	return false
}

// LoadCapabilities parses the embedded platform table.
func LoadCapabilities() (map[string]Capabilities, error) {
	return parseCapabilities(capabilitiesYAML)
}

func parseCapabilities(data []byte) (map[string]Capabilities, error) {
	var list []Capabilities
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse capabilities: %w", err)
	}

	caps := make(map[string]Capabilities, len(list))
	for _, c := range list {
		if c.Platform == "" {
			return nil, fmt.Errorf("capabilities entry without platform")
		}
		if _, dup := caps[c.Platform]; dup {
			return nil, fmt.Errorf("duplicate capabilities for %s", c.Platform)
		}
		if c.MaxMedia < c.MinMedia {
			return nil, fmt.Errorf("%s: max_media below min_media", c.Platform)
		}
		for _, ct := range c.ContentTypes {
			if !ct.Valid() {
				return nil, fmt.Errorf("%s: unknown content type %q", c.Platform, ct)
			}
		}
		caps[c.Platform] = c
	}
	return caps, nil
}
