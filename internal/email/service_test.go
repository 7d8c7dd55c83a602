package email

import (
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{"empty config", Config{}, false},
		{"missing host", Config{Port: "587", From: "test@example.com"}, false},
		{"missing port", Config{Host: "smtp.example.com", From: "test@example.com"}, false},
		{"missing from", Config{Host: "smtp.example.com", Port: "587"}, false},
		{"fully configured", Config{Host: "smtp.example.com", Port: "587", From: "test@example.com"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestSendFailsWhenUnconfigured(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendHTMLEmail([]string{"a@b.c"}, "subject", "<p>hi</p>"); err == nil {
		t.Error("expected error sending without configuration")
	}
}

func TestRenderVerificationTemplate(t *testing.T) {
	html, err := renderTemplate(verificationEmailTemplate, verificationData{
		AppName:         "TOMO",
		UserName:        "Test User",
		VerificationURL: "https://example.com/verify?token=abc123",
	})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	for _, want := range []string{"TOMO", "Test User", "https://example.com/verify?token=abc123", "24 hours"} {
		if !strings.Contains(html, want) {
			t.Errorf("verification template missing %q", want)
		}
	}
}

func TestRenderPasswordResetTemplate(t *testing.T) {
	html, err := renderTemplate(passwordResetEmailTemplate, passwordResetData{
		AppName:  "TOMO",
		UserName: "Test User",
		ResetURL: "https://example.com/reset?token=xyz789",
	})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	for _, want := range []string{"TOMO", "Test User", "https://example.com/reset?token=xyz789", "1 hour"} {
		if !strings.Contains(html, want) {
			t.Errorf("reset template missing %q", want)
		}
	}
}
