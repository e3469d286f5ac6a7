package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	logx "dialtone/pkg/logx"
)

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestNewLibraryFiltersByExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := touch(t, dir, "a.MP3")
	b := touch(t, dir, "b.wav")
	touch(t, dir, "notes.txt")
	if err := os.Mkdir(filepath.Join(dir, "sub.ogg"), 0o755); err != nil {
		t.Fatal(err)
	}

	lib, err := NewLibrary(dir, nil, logx.Nop())
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}
	got := lib.Clips()
	want := []string{a, b}
	if !slices.Equal(got, want) {
		t.Fatalf("clips = %v, want %v", got, want)
	}

	p, err := lib.Pick()
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if !slices.Contains(want, p) {
		t.Fatalf("Pick = %q, not a candidate", p)
	}
}

func TestNewLibraryConfigErrors(t *testing.T) {
	t.Parallel()
	if _, err := NewLibrary(filepath.Join(t.TempDir(), "missing"), nil, logx.Nop()); !errors.Is(err, ErrNoAudioDir) {
		t.Fatalf("missing dir err = %v, want ErrNoAudioDir", err)
	}
	dir := t.TempDir()
	touch(t, dir, "readme.md")
	if _, err := NewLibrary(dir, nil, logx.Nop()); !errors.Is(err, ErrNoClips) {
		t.Fatalf("empty dir err = %v, want ErrNoClips", err)
	}
}

func TestLibraryCustomExtensions(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	touch(t, dir, "a.mp3")
	m4a := touch(t, dir, "b.m4a")
	lib, err := NewLibrary(dir, []string{"M4A"}, logx.Nop())
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}
	if got := lib.Clips(); !slices.Equal(got, []string{m4a}) {
		t.Fatalf("clips = %v", got)
	}
}

func TestPickSkipsDeletedFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	gone := touch(t, dir, "gone.wav")
	keep := touch(t, dir, "keep.wav")
	lib, err := NewLibrary(dir, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(gone); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		p, err := lib.Pick()
		if err != nil {
			t.Fatalf("Pick: %v", err)
		}
		if p != keep {
			t.Fatalf("Pick = %q, want %q", p, keep)
		}
	}
	if err := os.Remove(keep); err != nil {
		t.Fatal(err)
	}
	if _, err := lib.Pick(); !errors.Is(err, ErrNoClips) {
		t.Fatalf("Pick with nothing on disk err = %v", err)
	}
}

func TestScanFailureKeepsPreviousList(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := touch(t, dir, "a.flac")
	lib, err := NewLibrary(dir, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(a); err != nil {
		t.Fatal(err)
	}
	if err := lib.Scan(); !errors.Is(err, ErrNoClips) {
		t.Fatalf("Scan err = %v", err)
	}
	if got := lib.Clips(); !slices.Equal(got, []string{a}) {
		t.Fatalf("clips = %v, want previous list", got)
	}
}

func TestWatchPicksUpNewClips(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	touch(t, dir, "a.wav")
	lib, err := NewLibrary(dir, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- lib.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	b := touch(t, dir, "b.ogg")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if slices.Contains(lib.Clips(), b) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("watcher did not pick up %s; clips = %v", b, lib.Clips())
}
