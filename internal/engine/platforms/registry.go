package platforms

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"contentflow/internal/platform/config"

	"github.com/rs/zerolog/log"
)

// Registry maps platform ids to adapters. It is populated at start and read-only afterwards.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(platform string, a Adapter) {
	r.adapters[platform] = a
}

func (r *Registry) Lookup(platform string) (Adapter, bool) {
	a, ok := r.adapters[platform]
	return a, ok
}

// Platforms returns the registered ids in sorted order.
func (r *Registry) Platforms() []string {
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Build wires an adapter for every platform in the capability table. Platforms without
// an entry in cfg are handled manually.
func Build(ctx context.Context, cfg map[string]config.PlatformConfig, timeout time.Duration) (*Registry, error) {
	caps, err := LoadCapabilities()
	if err != nil {
		return nil, err
	}

	reg := NewRegistry()
	client := &http.Client{Timeout: timeout}

	for id, c := range caps {
		pc, configured := cfg[id]
		if !configured {
			reg.Register(id, NewManualAdapter(c))
			continue
		}

		switch pc.Adapter {
		case "http":
			if pc.Endpoint == "" {
				return nil, fmt.Errorf("platform %s: endpoint is required for the http adapter", id)
			}
			reg.Register(id, NewHTTPAdapter(c, pc, client))
		case "discord":
			a, err := NewDiscordAdapter(c, pc)
			if err != nil {
				return nil, fmt.Errorf("platform %s: %w", id, err)
			}
			reg.Register(id, a)
		case "manual", "":
			reg.Register(id, NewManualAdapter(c))
		default:
			return nil, fmt.Errorf("platform %s: unknown adapter %q", id, pc.Adapter)
		}
		log.Info().Str("platform", id).Str("adapter", pc.Adapter).Msg("platform adapter registered")
	}

	for id := range cfg {
		if _, ok := caps[id]; !ok {
			return nil, fmt.Errorf("platform %s is configured but has no capability entry", id)
		}
	}

	return reg, nil
}
