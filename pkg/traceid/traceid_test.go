package traceid

import (
	"regexp"
	"testing"
	"time"
)

var format = regexp.MustCompile(`^tr-\d{8}-\d{6}-[0-9a-z]{6}$`)

func TestGenerate_Format(t *testing.T) {
	id := Generate(time.Date(2026, 3, 5, 9, 30, 0, 0, time.UTC))
	if !format.MatchString(id) {
		t.Errorf("Generate() = %q, want to match %s", id, format.String())
	}
	if id[3:11] != "20260305" {
		t.Errorf("Generate() date part = %q, want 20260305", id[3:11])
	}
}

func TestNew_IsUnique(t *testing.T) {
	if New() == New() {
		t.Error("New() produced two identical ids back to back")
	}
}
