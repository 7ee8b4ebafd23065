package alerts

import (
	"testing"

	"contentflow/internal/platform/config"
)

func TestNewSelectsProvider(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.AlertsConfig
		smtp bool
	}{
		{"default", config.AlertsConfig{}, false},
		{"smtp without host", config.AlertsConfig{Provider: "smtp", Recipients: []string{"ops@agency.test"}}, false},
		{"smtp without recipients", config.AlertsConfig{Provider: "smtp", SMTP: config.SMTPConfig{Host: "mail"}}, false},
		{"smtp", config.AlertsConfig{Provider: "smtp", Recipients: []string{"ops@agency.test"}, SMTP: config.SMTPConfig{Host: "mail", Port: 587}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, isEmail := New(tt.cfg).(*EmailNotifier)
			if isEmail != tt.smtp {
				t.Errorf("email notifier = %v, want %v", isEmail, tt.smtp)
			}
		})
	}
}
