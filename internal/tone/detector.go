package tone

import (
	"context"
	"errors"
	"fmt"

	"dialtone/internal/stopsignal"
	logx "dialtone/pkg/logx"
)

// SourceTone identifies the detector as the producer of a stop signal.
const SourceTone = "tone"

var (
	ErrInvalidFrequency  = errors.New("tone frequency must be > 0 and below the Nyquist rate")
	ErrInvalidSampleRate = errors.New("sample rate must be > 0")
	ErrInvalidBlockSize  = errors.New("block size must be > 0")
	ErrInvalidThreshold  = errors.New("power threshold must be > 0")
	ErrInputRequired     = errors.New("tone input is required")
)

// Config holds the detector settings.
type Config struct {
	Frequency  float64 // Hz
	SampleRate int     // Hz
	BlockSize  int     // samples per block
	Threshold  float64 // Goertzel power that counts as "tone present"
}

func (c Config) validate() error {
	switch {
	case c.SampleRate <= 0:
		return ErrInvalidSampleRate
	case c.Frequency <= 0 || c.Frequency >= float64(c.SampleRate)/2:
		return ErrInvalidFrequency
	case c.BlockSize <= 0:
		return ErrInvalidBlockSize
	case c.Threshold <= 0:
		return ErrInvalidThreshold
	}
	return nil
}

// Detector watches one input for a single tone and raises a stop signal the
// first time its power crosses the threshold. One Run covers one cycle.
type Detector struct {
	cfg    Config
	input  Input
	filter Filter
	log    logx.Logger
}

func NewDetector(cfg Config, input Input, log logx.Logger) (*Detector, error) {
	if input == nil {
		return nil, ErrInputRequired
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Detector{
		cfg:    cfg,
		input:  input,
		filter: NewFilter(cfg.Frequency, float64(cfg.SampleRate), cfg.BlockSize),
		log:    log,
	}, nil
}

// Run consumes the input until the tone fires, ctx ends, or the input fails.
//
// Device and stream failures are logged and swallowed: the detector then never
// fires for this cycle and the signal stays unset. The only error Run returns
// is for a nil signal.
func (d *Detector) Run(ctx context.Context, sig *stopsignal.Signal) error {
	if sig == nil {
		return fmt.Errorf("tone detector: nil signal")
	}
	if sig.IsSet() {
		return nil
	}

	stream, err := d.input.Open(Format{SampleRate: d.cfg.SampleRate, BlockSize: d.cfg.BlockSize})
	if err != nil {
		d.log.Warn("tone input unavailable; detector disabled for this cycle", logx.Err(err))
		return nil
	}
	defer func() {
		if err := stream.Close(); err != nil {
			d.log.Debug("tone input close failed", logx.Err(err))
		}
	}()

	d.log.Info("listening for tone",
		logx.Float64("freq_hz", d.cfg.Frequency),
		logx.Int("sample_rate", d.cfg.SampleRate),
		logx.Int("block", d.cfg.BlockSize),
		logx.Float64("threshold", d.cfg.Threshold),
	)

	var blocks uint64
	err = stream.Run(ctx, func(block []float32) bool {
		if sig.IsSet() {
			// Stopped by another producer; release the device.
			return false
		}
		blocks++
		power := d.power(block)
		if d.log.Enabled(logx.LevelTrace) {
			d.log.Trace("tone power", logx.Float64("power", power), logx.Uint64("block", blocks))
		}
		if power <= d.cfg.Threshold {
			return true
		}
		if sig.Set(SourceTone) {
			d.log.Info("tone detected; stopping retries for this cycle",
				logx.Float64("power", power),
				logx.Float64("freq_hz", d.cfg.Frequency),
			)
		}
		return false
	})

	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		d.log.Debug("tone detector stopped", logx.Uint64("blocks", blocks), logx.Bool("fired", sig.IsSet()))
	default:
		d.log.Warn("tone input failed; detector stopped for this cycle",
			logx.Err(err), logx.Uint64("blocks", blocks))
	}
	return nil
}

func (d *Detector) power(block []float32) float64 {
	if len(block) == d.filter.BlockSize() {
		return d.filter.Power(block)
	}
	return Goertzel(block, d.cfg.Frequency, float64(d.cfg.SampleRate))
}
