package flow

import (
	"strings"
	"testing"

	"github.com/gofrs/uuid/v5"
)

func TestCorrelationToken(t *testing.T) {
	t.Run("round-trips the user id", func(t *testing.T) {
		id := uuid.Must(uuid.NewV7())
		token, err := NewCorrelationToken(id)
		if err != nil {
			t.Fatalf("NewCorrelationToken: %v", err)
		}
		if !strings.HasPrefix(token, id.String()+".") {
			t.Errorf("token %q does not start with user id", token)
		}
		got, err := ParseCorrelationToken(token)
		if err != nil {
			t.Fatalf("ParseCorrelationToken: %v", err)
		}
		if got != id {
			t.Errorf("user id: expected %v, got %v", id, got)
		}
	})

	t.Run("tokens are unique per call", func(t *testing.T) {
		id := uuid.Must(uuid.NewV7())
		a, _ := NewCorrelationToken(id)
		b, _ := NewCorrelationToken(id)
		if a == b {
			t.Error("expected distinct tokens")
		}
	})

	t.Run("rejects malformed tokens", func(t *testing.T) {
		for _, tok := range []string{
			"",
			"no-separator",
			uuid.Must(uuid.NewV7()).String() + ".",
			"not-a-uuid.secret",
			uuid.Nil.String() + ".secret",
		} {
			if _, err := ParseCorrelationToken(tok); err == nil {
				t.Errorf("ParseCorrelationToken(%q): expected error", tok)
			}
		}
	})
}

func TestDomainAllowed(t *testing.T) {
	tests := []struct {
		email     string
		allowlist []string
		want      bool
	}{
		{"x@gmail.com", nil, true},
		{"a@b.edu", []string{".edu"}, true},
		{"a@cs.b.EDU", []string{".edu"}, true},
		{"x@gmail.com", []string{".edu"}, false},
		{"a@upenn.edu", []string{"upenn.edu"}, true},
		{"a@seas.upenn.edu", []string{"upenn.edu"}, true},
		{"a@notupenn.edu", []string{"upenn.edu"}, false},
		{"a@franklink.ai", []string{".edu", "franklink.ai"}, true},
		{"no-at-sign", []string{".edu"}, false},
		{"trailing@", []string{".edu"}, false},
	}
	for _, tt := range tests {
		if got := DomainAllowed(tt.email, tt.allowlist); got != tt.want {
			t.Errorf("DomainAllowed(%q, %v): expected %v, got %v", tt.email, tt.allowlist, tt.want, got)
		}
	}
}
