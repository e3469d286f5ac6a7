package tone

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dialtone/internal/stopsignal"
	logx "dialtone/pkg/logx"
)

type fakeInput struct {
	stream  *fakeStream
	openErr error
	opened  int
}

func (f *fakeInput) Open(Format) (Stream, error) {
	f.opened++
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.stream, nil
}

// fakeStream replays blocks, then either fails with err or idles until ctx ends.
type fakeStream struct {
	blocks [][]float32
	err    error

	mu        sync.Mutex
	delivered int
	closed    bool
}

func (s *fakeStream) Run(ctx context.Context, fn func([]float32) bool) error {
	for _, b := range s.blocks {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.mu.Lock()
		s.delivered++
		s.mu.Unlock()
		if !fn(b) {
			return nil
		}
	}
	if s.err != nil {
		return s.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func testConfig() Config {
	return Config{Frequency: 770, SampleRate: 8000, BlockSize: 800, Threshold: 1000}
}

func newTestDetector(t *testing.T, in Input) *Detector {
	t.Helper()
	d, err := NewDetector(testConfig(), in, logx.Nop())
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	return d
}

func TestDetectorFiresOnceAndStopsConsuming(t *testing.T) {
	t.Parallel()
	silence := make([]float32, 800)
	tone := sine(770, 8000, 0.5, 800)
	st := &fakeStream{blocks: [][]float32{silence, silence, tone, tone, silence}}
	d := newTestDetector(t, &fakeInput{stream: st})

	var sig stopsignal.Signal
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := d.Run(ctx, &sig); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !sig.IsSet() {
		t.Fatal("signal not set after tone")
	}
	if src, _ := sig.Cause(); src != SourceTone {
		t.Fatalf("cause = %q, want %q", src, SourceTone)
	}
	if st.delivered != 3 {
		t.Fatalf("delivered = %d, want 3 (single-shot)", st.delivered)
	}
	if !st.closed {
		t.Fatal("stream not closed")
	}
}

func TestDetectorNoDeviceIsNoop(t *testing.T) {
	t.Parallel()
	in := &fakeInput{openErr: ErrNoInputDevice}
	d := newTestDetector(t, in)

	var sig stopsignal.Signal
	if err := d.Run(context.Background(), &sig); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sig.IsSet() {
		t.Fatal("missing device must never fire")
	}
	if in.opened != 1 {
		t.Fatalf("opened = %d, want 1", in.opened)
	}
}

func TestDetectorStreamFaultLeavesSignalUnset(t *testing.T) {
	t.Parallel()
	st := &fakeStream{blocks: [][]float32{make([]float32, 800)}, err: errors.New("device unplugged")}
	d := newTestDetector(t, &fakeInput{stream: st})

	var sig stopsignal.Signal
	if err := d.Run(context.Background(), &sig); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sig.IsSet() {
		t.Fatal("stream fault must not set the signal")
	}
	if !st.closed {
		t.Fatal("stream not closed after fault")
	}
}

func TestDetectorStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	st := &fakeStream{}
	d := newTestDetector(t, &fakeInput{stream: st})

	var sig stopsignal.Signal
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, &sig) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("detector did not stop on cancel")
	}
	if sig.IsSet() {
		t.Fatal("cancel must not set the signal")
	}
}

func TestDetectorSkipsWhenAlreadySet(t *testing.T) {
	t.Parallel()
	in := &fakeInput{stream: &fakeStream{}}
	d := newTestDetector(t, in)

	var sig stopsignal.Signal
	sig.Set("telegram")
	if err := d.Run(context.Background(), &sig); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if in.opened != 0 {
		t.Fatal("detector opened the device for an already stopped cycle")
	}
}

func TestNewDetectorValidation(t *testing.T) {
	t.Parallel()
	in := &fakeInput{}
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{name: "sample rate", mutate: func(c *Config) { c.SampleRate = 0 }, want: ErrInvalidSampleRate},
		{name: "nyquist", mutate: func(c *Config) { c.Frequency = 4000 }, want: ErrInvalidFrequency},
		{name: "block", mutate: func(c *Config) { c.BlockSize = 0 }, want: ErrInvalidBlockSize},
		{name: "threshold", mutate: func(c *Config) { c.Threshold = 0 }, want: ErrInvalidThreshold},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			tt.mutate(&cfg)
			if _, err := NewDetector(cfg, in, logx.Nop()); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := NewDetector(testConfig(), nil, logx.Nop()); !errors.Is(err, ErrInputRequired) {
		t.Fatalf("nil input err = %v", err)
	}
}
