package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// ErrInvalid marks configuration errors. They are fatal at startup.
var ErrInvalid = errors.New("invalid config")

var hhmmRe = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)

// Defaults.
const (
	DefaultTimezone       = "Local"
	DefaultMaxRing        = 15 * time.Second
	DefaultRedialDelay    = 10 * time.Second
	DefaultPollInterval   = 30 * time.Second
	DefaultStatePoll      = 500 * time.Millisecond
	DefaultDevice         = "cable"
	DefaultFrequencyHz    = 770.0
	DefaultSampleRate     = 8000
	DefaultBlockDuration  = 100 * time.Millisecond
	DefaultPowerThreshold = 1000.0
	DefaultSpeakerRate    = 44100
	DefaultPageTimeout    = 20 * time.Second
	DefaultTelegramPoll   = 10 * time.Second
	DefaultNotifyRate     = 1
)

// Validate checks the fields that must be present and well-formed before
// the daemon starts. It does not touch devices or browsers.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if strings.TrimSpace(c.Call.PhoneNumber) == "" {
		add("call.phone_number is required (or set %s)", EnvPhoneNumber)
	}
	if !hhmmRe.MatchString(strings.TrimSpace(c.Call.Time)) {
		add("call.time must be HH:MM, got %q", c.Call.Time)
	}
	if tz := strings.TrimSpace(c.Call.Timezone); tz != "" && tz != DefaultTimezone {
		if _, err := time.LoadLocation(tz); err != nil {
			add("call.timezone %q: %v", tz, err)
		}
	}
	for _, f := range []struct{ path, raw string }{
		{"call.max_ring", c.Call.MaxRing},
		{"call.redial_delay", c.Call.RedialDelay},
		{"call.poll_interval", c.Call.PollInterval},
		{"call.state_poll", c.Call.StatePoll},
		{"detector.block_duration", c.Detector.BlockDuration},
		{"browser.page_timeout", c.Browser.PageTimeout},
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
		}
	}

	if strings.TrimSpace(c.Audio.Dir) == "" {
		add("audio.dir is required")
	} else if st, err := os.Stat(c.Audio.Dir); err != nil || !st.IsDir() {
		add("audio.dir %q is not a directory", c.Audio.Dir)
	}

	if c.Detector.FrequencyHz < 0 {
		add("detector.frequency_hz must be > 0")
	}
	if c.Detector.SampleRate < 0 {
		add("detector.sample_rate must be > 0")
	}
	if c.Detector.PowerThreshold < 0 {
		add("detector.power_threshold must be > 0")
	}
	if c.Detector.FrequencyHz > 0 && c.Detector.SampleRate > 0 &&
		c.Detector.FrequencyHz >= float64(c.Detector.SampleRate)/2 {
		add("detector.frequency_hz %.0f must be below Nyquist (%d/2)", c.Detector.FrequencyHz, c.Detector.SampleRate)
	}

	if c.Telegram.Enabled && strings.TrimSpace(c.Telegram.Token) == "" {
		add("telegram.token is required when telegram is enabled (or set %s)", EnvTelegramToken)
	}
	if c.Telegram.Enabled && c.Telegram.ChatID == 0 && len(c.Telegram.OwnerUserIDs) == 0 {
		add("telegram.owner_user_ids or telegram.chat_id is required when telegram is enabled")
	}
	if c.Logging.Telegram.Enabled && !c.Telegram.Enabled {
		add("logging.telegram requires telegram.enabled")
	}

	return errors.Join(errs...)
}

// Settings is the resolved form of Config: defaults applied, durations parsed.
type Settings struct {
	PhoneNumber  string
	Time         string
	Timezone     string
	Days         string
	MaxRing      time.Duration
	RedialDelay  time.Duration
	PollInterval time.Duration
	StatePoll    time.Duration

	AudioDir       string
	Extensions     []string
	FallbackPlayer []string
	SpeakerRate    int

	DetectorEnabled bool
	Device          string
	FrequencyHz     float64
	SampleRate      int
	BlockSize       int
	PowerThreshold  float64

	Browser     BrowserConfig
	PageTimeout time.Duration

	TelegramPoll time.Duration
	NotifyRate   int
}

// Resolve applies defaults. Call Validate first; Resolve does not repeat its checks.
func (c *Config) Resolve() (Settings, error) {
	s := Settings{
		PhoneNumber:     strings.TrimSpace(c.Call.PhoneNumber),
		Time:            strings.TrimSpace(c.Call.Time),
		Timezone:        strings.TrimSpace(c.Call.Timezone),
		Days:            strings.TrimSpace(c.Call.Days),
		AudioDir:        c.Audio.Dir,
		Extensions:      c.Audio.Extensions,
		FallbackPlayer:  c.Audio.FallbackPlayer,
		SpeakerRate:     c.Audio.SpeakerRate,
		DetectorEnabled: c.Detector.Enabled == nil || *c.Detector.Enabled,
		Device:          strings.TrimSpace(c.Detector.Device),
		FrequencyHz:     c.Detector.FrequencyHz,
		SampleRate:      c.Detector.SampleRate,
		PowerThreshold:  c.Detector.PowerThreshold,
		Browser:         c.Browser,
		NotifyRate:      c.Telegram.RatePerSec,
	}
	if s.Timezone == "" {
		s.Timezone = DefaultTimezone
	}
	if s.SpeakerRate <= 0 {
		s.SpeakerRate = DefaultSpeakerRate
	}
	if s.Device == "" {
		s.Device = DefaultDevice
	}
	if s.FrequencyHz <= 0 {
		s.FrequencyHz = DefaultFrequencyHz
	}
	if s.SampleRate <= 0 {
		s.SampleRate = DefaultSampleRate
	}
	if s.PowerThreshold <= 0 {
		s.PowerThreshold = DefaultPowerThreshold
	}
	if s.NotifyRate <= 0 {
		s.NotifyRate = DefaultNotifyRate
	}

	var err error
	if s.MaxRing, err = ParseDurationOrDefault("call.max_ring", c.Call.MaxRing, DefaultMaxRing); err != nil {
		return Settings{}, err
	}
	if s.RedialDelay, err = ParseDurationOrUnset("call.redial_delay", c.Call.RedialDelay, DefaultRedialDelay); err != nil {
		return Settings{}, err
	}
	if s.PollInterval, err = ParseDurationOrDefault("call.poll_interval", c.Call.PollInterval, DefaultPollInterval); err != nil {
		return Settings{}, err
	}
	if s.StatePoll, err = ParseDurationOrDefault("call.state_poll", c.Call.StatePoll, DefaultStatePoll); err != nil {
		return Settings{}, err
	}
	if s.PageTimeout, err = ParseDurationOrDefault("browser.page_timeout", c.Browser.PageTimeout, DefaultPageTimeout); err != nil {
		return Settings{}, err
	}
	if s.TelegramPoll, err = ParseDurationOrDefault("telegram.poll_timeout", c.Telegram.PollTimeout, DefaultTelegramPoll); err != nil {
		return Settings{}, err
	}
	block, err := ParseDurationOrDefault("detector.block_duration", c.Detector.BlockDuration, DefaultBlockDuration)
	if err != nil {
		return Settings{}, err
	}
	s.BlockSize = int(float64(s.SampleRate) * block.Seconds())
	if s.BlockSize <= 0 {
		return Settings{}, fmt.Errorf("%w: detector.block_duration %s is shorter than one sample", ErrInvalid, block)
	}
	return s, nil
}
