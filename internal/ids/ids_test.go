package ids

import (
	"strings"
	"testing"
)

func TestNewIsSortable(t *testing.T) {
	a := New()
	b := New()
	if a >= b {
		t.Fatalf("expected %s < %s", a, b)
	}
	if !Valid(a) {
		t.Fatalf("expected %s to be valid", a)
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("sess_")
	if !strings.HasPrefix(id, "sess_") {
		t.Fatalf("unexpected id %s", id)
	}
	if !Valid(id) {
		t.Fatalf("expected %s to be valid", id)
	}
	if Valid("sess_not-a-ulid") {
		t.Fatalf("expected invalid id")
	}
}
