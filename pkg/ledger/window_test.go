package ledger

import (
	"testing"
	"time"
)

func TestWindowStart(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		window string
		want   time.Time
	}{
		{"", time.Time{}},
		{WindowAll, time.Time{}},
		{WindowToday, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)},
		{WindowWeek, time.Date(2026, 3, 3, 15, 30, 0, 0, time.UTC)},
		{WindowMonth, time.Date(2026, 2, 8, 15, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := WindowStart(tt.window, now)
		if err != nil {
			t.Fatalf("%q: %v", tt.window, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("%q: got %v, want %v", tt.window, got, tt.want)
		}
	}

	if _, err := WindowStart("fortnight", now); err == nil {
		t.Error("expected error for unknown window")
	}
}

func TestParseSince(t *testing.T) {
	got, err := ParseSince("2026-03-01")
	if err != nil {
		t.Fatal(err)
	}
	if got.Year() != 2026 || got.Month() != 3 || got.Day() != 1 {
		t.Errorf("got %v", got)
	}

	got, err = ParseSince("2026-03-01T10:00:00Z")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("got %v", got)
	}

	if _, err := ParseSince("last tuesday"); err == nil {
		t.Error("expected error")
	}
}

func TestManualHash(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a := ManualHash("web", "code_review", 1200, at)
	if len(a) != 16 {
		t.Fatalf("len = %d, want 16", len(a))
	}
	if a != ManualHash("web", "code_review", 1200, at) {
		t.Error("hash must be deterministic")
	}
	if a == ManualHash("web", "code_review", 1200, at.Add(time.Second)) {
		t.Error("hash must depend on time")
	}
}
