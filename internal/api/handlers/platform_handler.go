package handlers

import (
	"net/http"

	"contentflow/internal/engine/platforms"
)

type PlatformHandler struct {
	registry *platforms.Registry
}

func NewPlatformHandler(registry *platforms.Registry) *PlatformHandler {
	return &PlatformHandler{registry: registry}
}

// List returns the capability table of every registered platform.
func (h *PlatformHandler) List(w http.ResponseWriter, r *http.Request) {
	ids := h.registry.Platforms()
	caps := make([]platforms.Capabilities, 0, len(ids))
	for _, id := range ids {
		a, _ := h.registry.Lookup(id)
		caps = append(caps, a.Capabilities())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"platforms": caps})
}
