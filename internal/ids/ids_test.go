package ids

import "testing"

func TestNew(t *testing.T) {
	a := New()
	b := New()

	if len(a) != 32 {
		t.Fatalf("expected 32-char id, got %d", len(a))
	}
	if len(b) != 32 {
		t.Fatalf("expected 32-char id, got %d", len(b))
	}
	if a == b {
		t.Fatalf("expected distinct ids, got duplicates")
	}
	if !Valid(a) {
		t.Fatalf("expected generated id to be valid: %q", a)
	}
}

func TestValid(t *testing.T) {
	for _, raw := range []string{"", "has space", "a/b", "tab\there"} {
		if Valid(raw) {
			t.Fatalf("expected %q to be invalid", raw)
		}
	}
	if !Valid("discord:1f2e") {
		t.Fatalf("expected discord-style id to be valid")
	}
}
