package redact

import "testing"

func TestRedact(t *testing.T) {
	tests := []struct {
		name    string
		secrets []string
		in      string
		want    string
	}{
		{
			name:    "single secret",
			secrets: []string{"tok_ABCDEF123"},
			in:      "auth failed for token tok_ABCDEF123",
			want:    "auth failed for token [REDACTED]",
		},
		{
			name:    "multiple occurrences",
			secrets: []string{"sk-secret-key"},
			in:      "sk-secret-key then sk-secret-key again",
			want:    "[REDACTED] then [REDACTED] again",
		},
		{
			name:    "multiple secrets",
			secrets: []string{"tok_ABCDEF123", "ghp_XYZ789"},
			in:      "git tok_ABCDEF123 api ghp_XYZ789",
			want:    "git [REDACTED] api [REDACTED]",
		},
		{
			name:    "short secrets ignored",
			secrets: []string{"abc"},
			in:      "abcdef",
			want:    "abcdef",
		},
		{
			name:    "no secrets",
			secrets: nil,
			in:      "plain text",
			want:    "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(tt.secrets...)
			if got := r.Redact(tt.in); got != tt.want {
				t.Errorf("Redact(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNilRedactorPassesThrough(t *testing.T) {
	var r *Redactor
	if got := r.Redact("text"); got != "text" {
		t.Errorf("nil redactor should pass through, got %q", got)
	}
}
