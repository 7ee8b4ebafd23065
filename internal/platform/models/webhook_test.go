package models

import "testing"

func TestSubscriberMatches(t *testing.T) {
	tests := []struct {
		name   string
		events []string
		event  string
		want   bool
	}{
		{"wildcard", []string{"*"}, "post.approved", true},
		{"exact", []string{"post.approved"}, "post.approved", true},
		{"prefix", []string{"publish.*"}, "publish.failed", true},
		{"prefix other family", []string{"publish.*"}, "post.approved", false},
		{"no match", []string{"post.scheduled"}, "post.approved", false},
		{"empty filter", nil, "post.approved", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &WebhookSubscriber{Events: tt.events}
			if got := s.Matches(tt.event); got != tt.want {
				t.Errorf("Matches(%q) = %v, want %v", tt.event, got, tt.want)
			}
		})
	}
}
