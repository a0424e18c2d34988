package util

import (
	"testing"
	"time"
)

func TestCleanName(t *testing.T) {
	cases := map[string]string{
		"ACME":          "ACME",
		"  ACME  ":      "ACME",
		"ACME Labs":     "ACME_Labs",
		"ACME   Labs":   "ACME_Labs",
		" A  B   C ":    "A_B_C",
		"":              "",
		"   ":           "",
		"Tab\tSeparate": "Tab_Separate",
	}
	for in, want := range cases {
		if got := CleanName(in); got != want {
			t.Errorf("CleanName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatRemaining(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{2*time.Hour + 13*time.Minute, "2h13m"},
		{5*time.Minute + 2*time.Second, "5m02s"},
		{45 * time.Second, "45s"},
		{0, "0s"},
		{-10 * time.Second, "0s"},
		{time.Hour, "1h00m"},
		{59*time.Minute + 59*time.Second + 600*time.Millisecond, "1h00m"},
	}
	for _, c := range cases {
		if got := FormatRemaining(c.d); got != c.want {
			t.Errorf("FormatRemaining(%v) = %q, want %q", c.d, got, c.want)
		}
	}
}

func TestIsEmpty(t *testing.T) {
	if !IsEmpty("   ") || !IsEmpty("") {
		t.Error("whitespace-only strings should be empty")
	}
	if IsEmpty(" x ") {
		t.Error("non-blank string should not be empty")
	}
}

func TestContains(t *testing.T) {
	list := []string{"alpha", "beta"}
	if !Contains(list, "beta") {
		t.Error("expected beta to be found")
	}
	if Contains(list, "gamma") {
		t.Error("gamma should not be found")
	}
	if Contains(nil, "alpha") {
		t.Error("nil slice contains nothing")
	}
}
