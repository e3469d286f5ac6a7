package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"

	logx "dialtone/pkg/logx"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrAllPlayersFailed  = errors.New("all players failed")
)

// Player plays one file to completion (or until ctx ends).
type Player interface {
	Play(ctx context.Context, path string) error
}

// ---- speaker (primary) ----

const DefaultSpeakerRate beep.SampleRate = 44100

// SpeakerPlayer decodes mp3/wav/ogg/flac in-process and plays through the
// default output device. The speaker is initialised once at Rate; clips at
// other rates are resampled.
type SpeakerPlayer struct {
	Rate beep.SampleRate

	initOnce sync.Once
	initErr  error
	playMu   sync.Mutex
}

func (p *SpeakerPlayer) rate() beep.SampleRate {
	if p.Rate <= 0 {
		return DefaultSpeakerRate
	}
	return p.Rate
}

func (p *SpeakerPlayer) Play(ctx context.Context, path string) error {
	stream, format, err := decodeFile(path)
	if err != nil {
		return err
	}
	defer stream.Close()

	rate := p.rate()
	p.initOnce.Do(func() {
		p.initErr = speaker.Init(rate, rate.N(time.Second/10))
	})
	if p.initErr != nil {
		return fmt.Errorf("speaker init: %w", p.initErr)
	}

	// One clip at a time; the speaker mixes concurrent streams otherwise.
	p.playMu.Lock()
	defer p.playMu.Unlock()

	var s beep.Streamer = stream
	if format.SampleRate != rate {
		s = beep.Resample(4, format.SampleRate, rate, stream)
	}
	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() { close(done) })))

	select {
	case <-done:
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("decode %q: %w", path, err)
	}
	return nil
}

func decodeFile(path string) (beep.StreamSeekCloser, beep.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, err
	}
	var (
		s      beep.StreamSeekCloser
		format beep.Format
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		s, format, err = mp3.Decode(f)
	case ".wav":
		s, format, err = wav.Decode(f)
	case ".ogg":
		s, format, err = vorbis.Decode(f)
	case ".flac":
		s, format, err = flac.Decode(f)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		_ = f.Close()
		return nil, beep.Format{}, fmt.Errorf("decode %q: %w", path, err)
	}
	return s, format, nil
}

// ---- external command (fallback) ----

// CommandPlayer shells out to an external player, by default
// `ffplay -nodisp -autoexit <path>`.
type CommandPlayer struct {
	Bin  string
	Args []string

	// Run executes the command; nil means os/exec with output discarded.
	Run func(ctx context.Context, name string, args ...string) error
}

func NewFFPlay() *CommandPlayer {
	return &CommandPlayer{Bin: "ffplay", Args: []string{"-nodisp", "-autoexit", "-loglevel", "quiet"}}
}

func (p *CommandPlayer) Play(ctx context.Context, path string) error {
	args := append(append([]string(nil), p.Args...), path)
	run := p.Run
	if run == nil {
		run = runCommand
	}
	if err := run(ctx, p.Bin, args...); err != nil {
		return fmt.Errorf("%s %q: %w", p.Bin, path, err)
	}
	return nil
}

// Available reports whether the player binary resolves on PATH.
func (p *CommandPlayer) Available() bool {
	_, err := exec.LookPath(p.Bin)
	return err == nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// ---- fallback ----

// FallbackPlayer tries Primary, then Fallback with the same path.
type FallbackPlayer struct {
	Primary  Player
	Fallback Player
	Log      logx.Logger
}

func (p *FallbackPlayer) Play(ctx context.Context, path string) error {
	perr := p.Primary.Play(ctx, path)
	if perr == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if p.Fallback == nil {
		return fmt.Errorf("%w: %w", ErrAllPlayersFailed, perr)
	}
	if !p.Log.IsZero() {
		p.Log.Warn("primary playback failed; trying fallback player", logx.String("path", path), logx.Err(perr))
	}
	ferr := p.Fallback.Play(ctx, path)
	if ferr == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrAllPlayersFailed, errors.Join(perr, ferr))
}
