package util

import (
	"testing"
	"time"
)

func TestFormatUptime(t *testing.T) {
	cases := []struct {
		name string
		d    time.Duration
		want string
	}{
		{"zero", 0, "0 seconds"},
		{"one second", time.Second, "1 second"},
		{"seconds only", 45 * time.Second, "45 seconds"},
		{"minutes and seconds", 2*time.Minute + 5*time.Second, "2 minutes, 5 seconds"},
		{"one minute", time.Minute + time.Second, "1 minute, 1 second"},
		{"hours", 3*time.Hour + 14*time.Minute + 1*time.Second, "3 hours, 14 minutes, 1 second"},
		{"one hour", time.Hour, "1 hour, 0 minutes, 0 seconds"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FormatUptime(tc.d); got != tc.want {
				t.Errorf("FormatUptime(%v) = %q, want %q", tc.d, got, tc.want)
			}
		})
	}
}

func TestFormatWait(t *testing.T) {
	cases := []struct {
		name string
		d    time.Duration
		want string
	}{
		{"sub-second rounds up", 300 * time.Millisecond, "1 seconde"},
		{"one second", time.Second, "1 seconde"},
		{"several seconds", 8 * time.Second, "8 seconden"},
		{"one minute", 61 * time.Second, "1 minuut"},
		{"several minutes", 10 * time.Minute, "10 minuten"},
		{"partial hour rounds up", 90 * time.Minute, "2 uur"},
		{"whole hours", 23 * time.Hour, "23 uur"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FormatWait(tc.d); got != tc.want {
				t.Errorf("FormatWait(%v) = %q, want %q", tc.d, got, tc.want)
			}
		})
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_ENV_STRING", "custom")
	if got := GetEnv("TEST_ENV_STRING", "fallback"); got != "custom" {
		t.Errorf("expected custom, got %s", got)
	}
	if got := GetEnv("TEST_ENV_STRING_UNSET", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %s", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_ENV_DURATION", "45s")
	if got := GetEnvDuration("TEST_ENV_DURATION", time.Minute); got != 45*time.Second {
		t.Errorf("expected 45s, got %v", got)
	}
	t.Setenv("TEST_ENV_DURATION_BAD", "nonsense")
	if got := GetEnvDuration("TEST_ENV_DURATION_BAD", time.Minute); got != time.Minute {
		t.Errorf("expected fallback for invalid value, got %v", got)
	}
	if got := GetEnvDuration("TEST_ENV_DURATION_UNSET", time.Hour); got != time.Hour {
		t.Errorf("expected fallback for unset value, got %v", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("TEST_ENV_INT", "42")
	if got := GetEnvInt("TEST_ENV_INT", 7); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	t.Setenv("TEST_ENV_INT_BAD", "x")
	if got := GetEnvInt("TEST_ENV_INT_BAD", 7); got != 7 {
		t.Errorf("expected fallback for invalid value, got %d", got)
	}
}
