package tone

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	logx "dialtone/pkg/logx"
)

// Device is a capture device as reported by the audio host.
type Device struct {
	Index      int
	Name       string
	HostAPI    string
	Channels   int
	SampleRate float64
	IsDefault  bool
}

// PortAudioInput captures mono float32 blocks through PortAudio.
//
// The device is chosen by case-insensitive substring match on its name. When
// nothing matches, the host default input is used and a warning is logged.
type PortAudioInput struct {
	DeviceMatch string
	Log         logx.Logger
}

func (in *PortAudioInput) logger() logx.Logger {
	if in.Log.IsZero() {
		return logx.Nop()
	}
	return in.Log
}

func (in *PortAudioInput) Open(f Format) (Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	dev, err := in.selectDevice()
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}

	buf := make([]float32, f.BlockSize)
	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(f.SampleRate)
	params.FramesPerBuffer = f.BlockSize

	st, err := portaudio.OpenStream(params, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open input %q: %w", dev.Name, err)
	}
	if err := st.Start(); err != nil {
		_ = st.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("start input %q: %w", dev.Name, err)
	}
	return &paStream{st: st, buf: buf, name: dev.Name, log: in.logger()}, nil
}

func (in *PortAudioInput) selectDevice() (*portaudio.DeviceInfo, error) {
	needle := strings.ToLower(strings.TrimSpace(in.DeviceMatch))
	if needle != "" {
		devs, err := portaudio.Devices()
		if err != nil {
			return nil, fmt.Errorf("list devices: %w", err)
		}
		for _, d := range devs {
			if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), needle) {
				in.logger().Info("using input device", logx.String("device", d.Name))
				return d, nil
			}
		}
	}
	dev, err := portaudio.DefaultInputDevice()
	if err != nil || dev == nil {
		return nil, fmt.Errorf("%w: %v", ErrNoInputDevice, err)
	}
	if needle != "" {
		in.logger().Warn("input device not found; using default input",
			logx.String("match", in.DeviceMatch), logx.String("device", dev.Name))
	}
	return dev, nil
}

type paStream struct {
	st   *portaudio.Stream
	buf  []float32
	name string
	log  logx.Logger

	closeOnce sync.Once
}

func (s *paStream) Run(ctx context.Context, fn func(block []float32) bool) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.st.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				s.log.Debug("input overflowed", logx.String("device", s.name))
				continue
			}
			return fmt.Errorf("read %q: %w", s.name, err)
		}
		if !fn(s.buf) {
			return nil
		}
	}
}

func (s *paStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = errors.Join(s.st.Stop(), s.st.Close(), portaudio.Terminate())
	})
	return err
}

// ListDevices reports the capture devices PortAudio can see.
func ListDevices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	defer func() { _ = portaudio.Terminate() }()

	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	def, _ := portaudio.DefaultInputDevice()

	out := make([]Device, 0, len(devs))
	for _, d := range devs {
		if d.MaxInputChannels <= 0 {
			continue
		}
		host := ""
		if d.HostApi != nil {
			host = d.HostApi.Name
		}
		out = append(out, Device{
			Index:      d.Index,
			Name:       d.Name,
			HostAPI:    host,
			Channels:   d.MaxInputChannels,
			SampleRate: d.DefaultSampleRate,
			IsDefault:  def != nil && def.Name == d.Name && def.Index == d.Index,
		})
	}
	return out, nil
}
