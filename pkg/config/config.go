package config

import (
	"fmt"
	"os"
	"time"

	"connectrtc/pkg/validation"

	"gopkg.in/yaml.v2"
)

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	Signaling struct {
		Endpoint       string        `yaml:"endpoint"`
		AuthToken      string        `yaml:"auth_token"`
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
		PingInterval   time.Duration `yaml:"ping_interval"`
	} `yaml:"signaling"`

	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
		PortRange  struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"webrtc"`

	Media struct {
		AudioEnabled    bool          `yaml:"audio_enabled"`
		VideoEnabled    bool          `yaml:"video_enabled"`
		AcquireTimeout  time.Duration `yaml:"acquire_timeout"`
		ForceAudioCodec string        `yaml:"force_audio_codec"`
		EnableOpusDTX   bool          `yaml:"enable_opus_dtx"`
	} `yaml:"media"`

	ICE struct {
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"ice"`

	Admin struct {
		Enabled   bool   `yaml:"enabled"`
		Address   string `yaml:"address"`
		JWTSecret string `yaml:"jwt_secret"`
		RateLimit struct {
			Enabled           bool    `yaml:"enabled"`
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`
		} `yaml:"rate_limit"`
	} `yaml:"admin"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled   bool          `yaml:"enabled"`
		Address   string        `yaml:"address"`
		Password  string        `yaml:"password"`
		DB        int           `yaml:"db"`
		PoolSize  int           `yaml:"pool_size"`
		ReportTTL time.Duration `yaml:"report_ttl"`
	} `yaml:"redis"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Signaling
	if err := validation.ValidateSignalingURL(c.Signaling.Endpoint); err != nil {
		return fmt.Errorf("signaling.endpoint: %w", err)
	}
	if c.Signaling.ConnectTimeout <= 0 {
		return fmt.Errorf("signaling.connect_timeout must be > 0")
	}
	if c.Signaling.PingInterval < 0 {
		return fmt.Errorf("signaling.ping_interval must be >= 0")
	}

	// WebRTC
	for i, s := range c.WebRTC.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("webrtc.ice_servers[%d].urls must not be empty", i)
		}
		for _, u := range s.URLs {
			if err := validation.ValidateICEServerURL(u); err != nil {
				return fmt.Errorf("webrtc.ice_servers[%d]: %w", i, err)
			}
		}
		if err := validation.ValidateTURNCredentials(s.URLs, s.Username, s.Credential); err != nil {
			return fmt.Errorf("webrtc.ice_servers[%d]: %w", i, err)
		}
	}
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}

	// Media
	if !c.Media.AudioEnabled && !c.Media.VideoEnabled {
		return fmt.Errorf("media: at least one of audio_enabled or video_enabled must be true")
	}
	if err := validation.ValidateAudioCodec(c.Media.ForceAudioCodec); err != nil {
		return fmt.Errorf("media.force_audio_codec: %w", err)
	}
	if c.Media.AcquireTimeout <= 0 {
		return fmt.Errorf("media.acquire_timeout must be > 0")
	}

	// ICE
	if c.ICE.Timeout <= 0 {
		return fmt.Errorf("ice.timeout must be > 0")
	}

	// Admin
	if c.Admin.Enabled && c.Admin.Address == "" {
		return fmt.Errorf("admin.address must not be empty when admin.enabled=true")
	}
	if c.Admin.RateLimit.Enabled {
		if c.Admin.RateLimit.RequestsPerSecond <= 0 || c.Admin.RateLimit.Burst <= 0 {
			return fmt.Errorf("admin.rate_limit.requests_per_second and burst must be > 0")
		}
		if c.Admin.RateLimit.MaxConcurrent < 0 {
			return fmt.Errorf("admin.rate_limit.max_concurrent must be >= 0")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.ReportTTL < 0 {
			return fmt.Errorf("redis.report_ttl must be >= 0")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Signaling.Endpoint = "ws://localhost:8081/ws"
	cfg.Signaling.ConnectTimeout = 10 * time.Second
	cfg.Signaling.PingInterval = 30 * time.Second

	cfg.WebRTC.ICEServers = []ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}

	cfg.Media.AudioEnabled = true
	cfg.Media.VideoEnabled = false
	cfg.Media.AcquireTimeout = 10 * time.Second

	cfg.ICE.Timeout = 8 * time.Second

	cfg.Admin.Enabled = true
	cfg.Admin.Address = ":9090"
	cfg.Admin.RateLimit.Enabled = true
	cfg.Admin.RateLimit.RequestsPerSecond = 5
	cfg.Admin.RateLimit.Burst = 10
	cfg.Admin.RateLimit.MaxConcurrent = 16

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.ReportTTL = 7 * 24 * time.Hour

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "connectrtc"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	// Apply environment variable overrides
	if endpoint := os.Getenv("CONNECTRTC_SIGNALING_ENDPOINT"); endpoint != "" {
		c.Signaling.Endpoint = endpoint
	}
	if token := os.Getenv("CONNECTRTC_AUTH_TOKEN"); token != "" {
		c.Signaling.AuthToken = token
	}
	if level := os.Getenv("CONNECTRTC_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if addr := os.Getenv("CONNECTRTC_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
	if secret := os.Getenv("CONNECTRTC_ADMIN_JWT_SECRET"); secret != "" {
		c.Admin.JWTSecret = secret
	}
}
