package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dialtone/internal/config"
	"dialtone/internal/media"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Setenv(config.EnvPhoneNumber, "")

	p := writeConfig(t, `
call:
  time: "25:00"
audio:
  dir: /definitely/not/here
`)
	_, err := New(p)
	if !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("New = %v, want ErrInvalid", err)
	}
}

func TestNewRejectsBadDays(t *testing.T) {
	t.Setenv(config.EnvPhoneNumber, "")

	p := writeConfig(t, `
call:
  phone_number: "+15550100"
  time: "08:00"
  days: "FUNDAY"
audio:
  dir: `+t.TempDir()+`
`)
	_, err := New(p)
	if !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("New = %v, want ErrInvalid", err)
	}
}

func TestWatchdogIdleCoversOneAttempt(t *testing.T) {
	t.Parallel()

	set := config.Settings{
		PollInterval: 30 * time.Second,
		PageTimeout:  20 * time.Second,
		MaxRing:      15 * time.Second,
		RedialDelay:  10 * time.Second,
	}
	want := 80*time.Second + 15*time.Second + maxClipLength + 10*time.Second
	if got := watchdogIdle(set); got != want {
		t.Fatalf("watchdogIdle = %s, want %s", got, want)
	}

	set.PollInterval = time.Hour
	if got := watchdogIdle(set); got != 2*time.Hour {
		t.Fatalf("watchdogIdle with long poll = %s, want 2h", got)
	}
}

func TestNewRequiresClips(t *testing.T) {
	t.Setenv(config.EnvPhoneNumber, "")

	audio := t.TempDir()
	if err := os.WriteFile(filepath.Join(audio, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	p := writeConfig(t, `
call:
  phone_number: "+15550100"
  time: "08:00"
audio:
  dir: `+audio+`
detector:
  enabled: false
`)
	_, err := New(p)
	if !errors.Is(err, media.ErrNoClips) {
		t.Fatalf("New = %v, want ErrNoClips", err)
	}
}

func TestNewMissingConfigFile(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("New = %v, want not-exist", err)
	}
}
