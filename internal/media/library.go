// Package media picks the audio clip to play into a call and plays it.
package media

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "dialtone/pkg/logx"
)

var (
	ErrNoAudioDir = errors.New("audio directory not found")
	ErrNoClips    = errors.New("no audio files in directory")
)

// DefaultExtensions are the clip formats SpeakerPlayer can decode.
var DefaultExtensions = []string{".mp3", ".wav", ".ogg", ".flac"}

const rescanDebounce = 250 * time.Millisecond

// Library is the set of candidate clips in one directory.
type Library struct {
	dir  string
	exts []string
	log  logx.Logger

	mu    sync.RWMutex
	clips []string
}

// NewLibrary scans dir once. A missing directory or an empty candidate list is
// a configuration error.
func NewLibrary(dir string, exts []string, log logx.Logger) (*Library, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	norm := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		norm = append(norm, e)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	l := &Library{dir: dir, exts: norm, log: log}
	if err := l.Scan(); err != nil {
		return nil, err
	}
	return l, nil
}

// Scan re-reads the directory. On error the previous candidate list is kept.
func (l *Library) Scan() error {
	fi, err := os.Stat(l.dir)
	if err != nil || !fi.IsDir() {
		return fmt.Errorf("%w: %q", ErrNoAudioDir, l.dir)
	}
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("read audio directory %q: %w", l.dir, err)
	}
	clips := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(l.exts, strings.ToLower(filepath.Ext(e.Name()))) {
			clips = append(clips, filepath.Join(l.dir, e.Name()))
		}
	}
	if len(clips) == 0 {
		return fmt.Errorf("%w: %q", ErrNoClips, l.dir)
	}
	slices.Sort(clips)

	l.mu.Lock()
	l.clips = clips
	l.mu.Unlock()
	return nil
}

// Clips returns a copy of the current candidates.
func (l *Library) Clips() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.clips)
}

// Pick returns a random candidate that still exists on disk.
func (l *Library) Pick() (string, error) {
	clips := l.Clips()
	for len(clips) > 0 {
		i := rand.IntN(len(clips))
		p := clips[i]
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
		clips = slices.Delete(clips, i, i+1)
	}
	return "", fmt.Errorf("%w: %q", ErrNoClips, l.dir)
}

// Watch rescans the directory whenever it changes, until ctx ends. It returns
// an error when the watcher breaks so a supervisor can restart it.
func (l *Library) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("clip watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(l.dir); err != nil {
		return fmt.Errorf("watch %q: %w", l.dir, err)
	}
	l.log.Debug("clip watcher started", logx.String("dir", l.dir))

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()
	rescan := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(rescanDebounce, func() {
			if err := l.Scan(); err != nil {
				l.log.Warn("clip rescan failed; keeping previous list", logx.Err(err))
				return
			}
			l.log.Info("clip list refreshed", logx.Int("clips", len(l.Clips())))
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("clip watcher events closed")
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) != 0 {
				rescan()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("clip watcher errors closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				l.log.Warn("clip watcher overflow; rescanning", logx.Err(err))
				rescan()
				continue
			}
			l.log.Warn("clip watcher error", logx.Err(err))
		}
	}
}
