// Package config loads the client configuration (genesis.yaml).
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Authority AuthorityConfig `yaml:"authority"`
	Socket    SocketConfig    `yaml:"socket"`
	Mirror    MirrorConfig    `yaml:"mirror"`
	Speech    SpeechConfig    `yaml:"speech"`
	Feed      FeedConfig      `yaml:"feed"`
	Render    RenderConfig    `yaml:"render"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Token is the bearer credential; only ever read from the environment.
	Token string `yaml:"-"`
}

type AuthorityConfig struct {
	BaseURL         string        `yaml:"base_url"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ProposalTimeout time.Duration `yaml:"proposal_timeout"`
}

type SocketConfig struct {
	URL                  string        `yaml:"url"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	ReadTimeout          time.Duration `yaml:"read_timeout"`
	QueueSize            int           `yaml:"queue_size"`
	ValidateEvents       bool          `yaml:"validate_events"`
	PollInterval         time.Duration `yaml:"poll_interval"`
}

type MirrorConfig struct {
	VoxelBounds        BoundsSpec    `yaml:"voxel_bounds"`
	EntityLimit        int           `yaml:"entity_limit"`
	AliveOnly          bool          `yaml:"alive_only"`
	RefreshMinInterval time.Duration `yaml:"refresh_min_interval"`
	CachePath          string        `yaml:"cache_path"`
}

type BoundsSpec struct {
	Min [3]int `yaml:"min"`
	Max [3]int `yaml:"max"`
}

type SpeechConfig struct {
	TTL       time.Duration `yaml:"ttl"`
	MaxEvents int           `yaml:"max_events"`
}

type FeedConfig struct {
	MaxItems int `yaml:"max_items"`
}

type RenderConfig struct {
	InterpRate   float64 `yaml:"interp_rate"`
	SnapDistance float64 `yaml:"snap_distance"`
}

type TelemetryConfig struct {
	JournalDir    string        `yaml:"journal_dir"`
	JournalRotate time.Duration `yaml:"journal_rotate"`
	AuditDB       string        `yaml:"audit_db"`
}

const (
	EnvToken     = "GENESIS_TOKEN"
	EnvBaseURL   = "GENESIS_BASE_URL"
	EnvSocketURL = "GENESIS_SOCKET_URL"
)

// Load reads path (empty means defaults only), applies environment
// overrides, then normalizes and validates.
func Load(path string) (Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("genesis.yaml: %w", err)
		}
	}
	cfg.applyEnv(getenv)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("genesis.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Authority: AuthorityConfig{
			BaseURL:         "http://localhost:8000",
			RequestTimeout:  15 * time.Second,
			ProposalTimeout: 10 * time.Second,
		},
		Socket: SocketConfig{
			MaxReconnectAttempts: 5,
			ReconnectDelay:       2 * time.Second,
			HandshakeTimeout:     5 * time.Second,
			ReadTimeout:          60 * time.Second,
			QueueSize:            256,
			PollInterval:         10 * time.Second,
		},
		Mirror: MirrorConfig{
			VoxelBounds: BoundsSpec{
				Min: [3]int{-100, -10, -100},
				Max: [3]int{100, 60, 100},
			},
			EntityLimit:        500,
			AliveOnly:          false,
			RefreshMinInterval: 2 * time.Second,
		},
		Speech: SpeechConfig{
			TTL:       8 * time.Second,
			MaxEvents: 16,
		},
		Feed: FeedConfig{MaxItems: 50},
		Render: RenderConfig{
			InterpRate:   8,
			SnapDistance: 20,
		},
		Telemetry: TelemetryConfig{JournalRotate: time.Hour},
	}
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvToken)); v != "" {
		c.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvBaseURL)); v != "" {
		c.Authority.BaseURL = v
	}
	if v := strings.TrimSpace(getenv(EnvSocketURL)); v != "" {
		c.Socket.URL = v
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.Authority.BaseURL = strings.TrimRight(strings.TrimSpace(c.Authority.BaseURL), "/")
	c.Socket.URL = strings.TrimSpace(c.Socket.URL)
	if c.Socket.URL == "" && c.Authority.BaseURL != "" {
		// Same host, websocket scheme, /ws path.
		c.Socket.URL = DeriveSocketURL(c.Authority.BaseURL)
	}
	b := &c.Mirror.VoxelBounds
	for i := 0; i < 3; i++ {
		if b.Min[i] > b.Max[i] {
			b.Min[i], b.Max[i] = b.Max[i], b.Min[i]
		}
	}
	if c.Speech.MaxEvents <= 0 {
		c.Speech.MaxEvents = 16
	}
	if c.Feed.MaxItems <= 0 {
		c.Feed.MaxItems = 50
	}
}

// DeriveSocketURL maps http(s)://host/... to ws(s)://host/ws.
func DeriveSocketURL(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = ""
	return u.String()
}

func (c Config) Validate() error {
	if c.Authority.BaseURL == "" {
		return fmt.Errorf("authority.base_url must not be empty")
	}
	if u, err := url.Parse(c.Authority.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("authority.base_url %q must be an http(s) url", c.Authority.BaseURL)
	}
	if c.Socket.URL != "" && !strings.HasPrefix(c.Socket.URL, "ws://") && !strings.HasPrefix(c.Socket.URL, "wss://") {
		return fmt.Errorf("socket.url %q must be a ws(s) url", c.Socket.URL)
	}
	if c.Authority.RequestTimeout <= 0 {
		return fmt.Errorf("authority.request_timeout must be > 0")
	}
	if c.Authority.ProposalTimeout <= 0 {
		return fmt.Errorf("authority.proposal_timeout must be > 0")
	}
	if c.Socket.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("socket.max_reconnect_attempts must be > 0")
	}
	if c.Socket.ReconnectDelay <= 0 {
		return fmt.Errorf("socket.reconnect_delay must be > 0")
	}
	if c.Socket.QueueSize <= 0 {
		return fmt.Errorf("socket.queue_size must be > 0")
	}
	if c.Socket.PollInterval <= 0 {
		return fmt.Errorf("socket.poll_interval must be > 0")
	}
	if c.Mirror.EntityLimit < 0 {
		return fmt.Errorf("mirror.entity_limit must be >= 0")
	}
	if c.Mirror.RefreshMinInterval < 0 {
		return fmt.Errorf("mirror.refresh_min_interval must be >= 0")
	}
	if c.Speech.TTL <= 0 {
		return fmt.Errorf("speech.ttl must be > 0")
	}
	if c.Render.InterpRate <= 0 {
		return fmt.Errorf("render.interp_rate must be > 0")
	}
	if c.Render.SnapDistance < 0 {
		return fmt.Errorf("render.snap_distance must be >= 0")
	}
	if c.Telemetry.JournalRotate < time.Minute {
		return fmt.Errorf("telemetry.journal_rotate must be >= 1m")
	}
	return nil
}
