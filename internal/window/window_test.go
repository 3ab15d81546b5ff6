package window

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/thechetan9/SO-PatchPilot/internal/domain"
)

func TestWindow_IsOpen(t *testing.T) {
	// Каждый день с 02:00 на 3 часа
	w, err := Parse(&domain.MaintenanceWindow{Cron: "0 2 * * *", DurationMin: 180})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	day := time.Date(2026, 5, 12, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		at   time.Duration
		open bool
	}{
		{1*time.Hour + 59*time.Minute, false},
		{2 * time.Hour, true},
		{3*time.Hour + 30*time.Minute, true},
		{4*time.Hour + 59*time.Minute, true},
		{5 * time.Hour, false},
		{12 * time.Hour, false},
	}

	for _, tt := range tests {
		now := day.Add(tt.at)
		if got := w.IsOpen(now); got != tt.open {
			t.Errorf("IsOpen(%s) = %v, want %v", now.Format("15:04"), got, tt.open)
		}
	}
}

func TestWindow_Timezone(t *testing.T) {
	w, err := Parse(&domain.MaintenanceWindow{Cron: "0 22 * * *", DurationMin: 60, Timezone: "Europe/Moscow"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	// 22:30 MSK = 19:30 UTC
	if !w.IsOpen(time.Date(2026, 5, 12, 19, 30, 0, 0, time.UTC)) {
		t.Error("expected window to be open at 19:30 UTC")
	}
	if w.IsOpen(time.Date(2026, 5, 12, 22, 30, 0, 0, time.UTC)) {
		t.Error("expected window to be closed at 22:30 UTC")
	}
}

func TestWindow_NextOpen(t *testing.T) {
	w, _ := Parse(&domain.MaintenanceWindow{Cron: "0 2 * * *", DurationMin: 60})

	now := time.Date(2026, 5, 12, 10, 0, 0, 0, time.UTC)
	want := time.Date(2026, 5, 13, 2, 0, 0, 0, time.UTC)
	if got := w.NextOpen(now); !got.Equal(want) {
		t.Errorf("NextOpen = %v, want %v", got, want)
	}

	open := time.Date(2026, 5, 12, 2, 30, 0, 0, time.UTC)
	if got := w.NextOpen(open); !got.Equal(open) {
		t.Errorf("NextOpen inside window = %v, want %v", got, open)
	}
}

func TestParse_UnknownTimezone(t *testing.T) {
	_, err := Parse(&domain.MaintenanceWindow{Cron: "0 2 * * *", DurationMin: 60, Timezone: "Europe/Mosow"})
	if !errors.Is(err, ErrUnknownTimezone) {
		t.Errorf("expected ErrUnknownTimezone, got %v", err)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		w    *domain.MaintenanceWindow
	}{
		{"nil", nil},
		{"bad cron", &domain.MaintenanceWindow{Cron: "every night", DurationMin: 60}},
		{"zero duration", &domain.MaintenanceWindow{Cron: "0 2 * * *"}},
		{"unknown timezone", &domain.MaintenanceWindow{Cron: "0 2 * * *", DurationMin: 60, Timezone: "Mars/Olympus"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(tt.w); err == nil {
				t.Error("expected error")
			}
		})
	}
}
