package webhooks

import (
	"strings"
	"testing"
)

func TestSign(t *testing.T) {
	secret := "secret"
	payload := []byte("payload")

	// Calculated using: echo -n "payload" | openssl dgst -sha256 -hmac "secret"
	expected := "b82fcb791acec57859b989b430a826488ce2e479fdf92326bd0a2e8375a42ba4"

	got := Sign(secret, payload)

	if got != expected {
		t.Errorf("Sign() = %v, want %v", got, expected)
	}
	if h := SignatureHeader(secret, payload); h != "sha256="+expected {
		t.Errorf("SignatureHeader() = %v", h)
	}
}

func TestVerify(t *testing.T) {
	payload := []byte(`{"eventId":"evt_1"}`)
	header := SignatureHeader("whsec", payload)

	tests := []struct {
		name    string
		secret  string
		payload []byte
		header  string
		want    bool
	}{
		{"valid", "whsec", payload, header, true},
		{"wrong secret", "other", payload, header, false},
		{"tampered body", "whsec", []byte(`{"eventId":"evt_2"}`), header, false},
		{"missing prefix", "whsec", payload, Sign("whsec", payload), false},
		{"not hex", "whsec", payload, "sha256=zz", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Verify(tt.secret, tt.payload, tt.header); got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret() error = %v", err)
	}
	b, _ := GenerateSecret()
	if !strings.HasPrefix(a, "whsec_") || len(a) != len("whsec_")+48 {
		t.Errorf("unexpected secret %q", a)
	}
	if a == b {
		t.Error("expected distinct secrets")
	}
}
