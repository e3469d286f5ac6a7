package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings ("500ms", "10s", "1m").
type Config struct {
	Call     CallConfig     `json:"call"`
	Audio    AudioConfig    `json:"audio"`
	Detector DetectorConfig `json:"detector"`
	Browser  BrowserConfig  `json:"browser"`
	Logging  LoggingConfig  `json:"logging"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
	Systemd  SystemdConfig  `json:"systemd,omitempty"`
}

// CallConfig controls when and how often the call is placed.
//
// Defaults:
//   - timezone: "Local"
//   - days: "*" (cron day-of-week field, e.g. "MON-FRI")
//   - max_ring: "15s"
//   - redial_delay: "10s" ("0s" redials immediately)
//   - poll_interval: "30s" (coarse wait for the daily time)
//   - state_poll: "500ms" (call UI polling during one attempt)
type CallConfig struct {
	PhoneNumber  string `json:"phone_number"`
	Time         string `json:"time"` // HH:MM
	Timezone     string `json:"timezone,omitempty"`
	Days         string `json:"days,omitempty"`
	MaxRing      string `json:"max_ring,omitempty"`
	RedialDelay  string `json:"redial_delay,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"`
	StatePoll    string `json:"state_poll,omitempty"`
}

// AudioConfig selects the clip directory and the players.
type AudioConfig struct {
	Dir        string   `json:"dir"`
	Extensions []string `json:"extensions,omitempty"` // default: .mp3 .wav .ogg .flac
	// FallbackPlayer is the external command used when in-process playback fails.
	// Default: ["ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"].
	FallbackPlayer []string `json:"fallback_player,omitempty"`
	SpeakerRate    int      `json:"speaker_rate,omitempty"` // default 44100
}

// DetectorConfig controls the stop-tone detector.
//
// Defaults match a '5' key row tone on an 8 kHz line:
// 770 Hz, 8000 Hz, 100ms blocks, power threshold 1000.
type DetectorConfig struct {
	Enabled        *bool   `json:"enabled,omitempty"` // default true
	Device         string  `json:"device,omitempty"`  // name substring, default "cable"
	FrequencyHz    float64 `json:"frequency_hz,omitempty"`
	SampleRate     int     `json:"sample_rate,omitempty"`
	BlockDuration  string  `json:"block_duration,omitempty"`
	PowerThreshold float64 `json:"power_threshold,omitempty"`
}

// BrowserConfig drives the web call UI session.
type BrowserConfig struct {
	ExecPath        string   `json:"exec_path,omitempty"`
	UserDataDir     string   `json:"user_data_dir,omitempty"`
	Profile         string   `json:"profile,omitempty"` // default "Default"
	Headless        bool     `json:"headless,omitempty"`
	CallURL         string   `json:"call_url,omitempty"`
	PageTimeout     string   `json:"page_timeout,omitempty"`
	HangUpSelectors []string `json:"hang_up_selectors,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// TelegramConfig enables the operator channel: notifications plus /stop and /status.
type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token,omitempty"` // or DIALTONE_TELEGRAM_TOKEN
	ChatID       int64   `json:"chat_id,omitempty"`
	ThreadID     int     `json:"thread_id,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
	RatePerSec   int     `json:"rate_per_sec,omitempty"`
}

// SystemdConfig controls sd_notify integration. It is a no-op outside systemd.
type SystemdConfig struct {
	Notify bool `json:"notify,omitempty"`
}
