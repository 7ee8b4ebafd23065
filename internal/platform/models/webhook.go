package models

import "strings"

const (
	SubscriberActive = "active"
	SubscriberPaused = "paused"
)

type WebhookSubscriber struct {
	ID        string   `json:"id"`
	TenantID  string   `json:"tenant_id"`
	URL       string   `json:"url"`
	Events    []string `json:"events"` // JSON array in DB
	Secret    string   `json:"secret,omitempty"`
	Status    string   `json:"status"` // active, paused
	CreatedAt int64    `json:"created_at"`
	UpdatedAt int64    `json:"updated_at"`
}

// Matches reports whether the subscriber's filter accepts eventType. A filter entry
// is an exact event type, "*" for everything, or a "post.*" style prefix.
func (s *WebhookSubscriber) Matches(eventType string) bool {
	for _, e := range s.Events {
		switch {
		case e == "*", e == eventType:
			return true
		case strings.HasSuffix(e, ".*") && strings.HasPrefix(eventType, strings.TrimSuffix(e, "*")):
			return true
		}
	}
	return false
}
