package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"duetrec/pkg/tracing"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		MaxOpenDuets    int           `yaml:"max_open_duets"`
	} `yaml:"server"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Compositor CompositorConfig `yaml:"compositor"`
	Recording  RecordingConfig  `yaml:"recording"`
	Encoder    EncoderConfig    `yaml:"encoder"`
	Devices    DevicesConfig    `yaml:"devices"`
	Playback   PlaybackConfig   `yaml:"playback"`
	Storage    StorageConfig    `yaml:"storage"`
	Publish    PublishConfig    `yaml:"publish"`
	Redis      RedisConfig      `yaml:"redis"`
	Notify     NotifyConfig     `yaml:"notify"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing tracing.Config `yaml:"tracing"`

	RateLimiting RateLimitConfig `yaml:"rate_limiting"`
}

type CompositorConfig struct {
	LandscapeWidth     int    `yaml:"landscape_width"`
	LandscapeHeight    int    `yaml:"landscape_height"`
	PortraitWidth      int    `yaml:"portrait_width"`
	PortraitHeight     int    `yaml:"portrait_height"`
	PortraitSideBySide bool   `yaml:"portrait_side_by_side"`
	SeparatorWidth     int    `yaml:"separator_width"`
	Watermark          string `yaml:"watermark"`
	WatermarkOffsetX   int    `yaml:"watermark_offset_x"`
	WatermarkOffsetY   int    `yaml:"watermark_offset_y"`
}

type RecordingConfig struct {
	FPS             int           `yaml:"fps"`
	RefreshRate     int           `yaml:"refresh_rate"`
	MaxDuration     time.Duration `yaml:"max_duration"`
	AudioSampleRate int           `yaml:"audio_sample_rate"`
}

type EncoderConfig struct {
	Kind          string        `yaml:"kind"` // framed | ffmpeg
	JPEGQuality   int           `yaml:"jpeg_quality"`
	ChunkDuration time.Duration `yaml:"chunk_duration"`
	FFmpeg        FFmpegConfig  `yaml:"ffmpeg"`
}

type FFmpegConfig struct {
	Binary       string        `yaml:"binary"`
	VideoCodec   string        `yaml:"video_codec"`
	AudioCodec   string        `yaml:"audio_codec"`
	VideoBitrate string        `yaml:"video_bitrate"`
	ReadSize     int           `yaml:"read_size"`
	CloseTimeout time.Duration `yaml:"close_timeout"`
}

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type DevicesConfig struct {
	Driver         string        `yaml:"driver"` // synthetic | webrtc
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`

	Synthetic struct {
		Width         int  `yaml:"width"`
		Height        int  `yaml:"height"`
		FPS           int  `yaml:"fps"`
		Microphone    bool `yaml:"microphone"`
		ToneFrequency int  `yaml:"tone_frequency"`
		SampleRate    int  `yaml:"sample_rate"`
	} `yaml:"synthetic"`

	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
		PortRange  struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
		OfferTimeout time.Duration `yaml:"offer_timeout"`
	} `yaml:"webrtc"`
}

type PlaybackConfig struct {
	Decoder string `yaml:"decoder"` // still | ffmpeg
	FFmpeg  struct {
		Binary      string `yaml:"binary"`
		FPS         int    `yaml:"fps"`
		Width       int    `yaml:"width"`
		JPEGQuality int    `yaml:"jpeg_quality"`
	} `yaml:"ffmpeg"`
}

type StorageConfig struct {
	Kind string `yaml:"kind"` // file | s3 | memory

	File struct {
		Directory string `yaml:"directory"`
		BaseURL   string `yaml:"base_url"`
	} `yaml:"file"`

	S3 struct {
		Bucket          string `yaml:"bucket"`
		Region          string `yaml:"region"`
		Endpoint        string `yaml:"endpoint"`
		AccessKeyID     string `yaml:"access_key_id"`
		SecretAccessKey string `yaml:"secret_access_key"`
		UsePathStyle    bool   `yaml:"use_path_style"`
		PartSize        int64  `yaml:"part_size"`
		PublicBaseURL   string `yaml:"public_base_url"`
	} `yaml:"s3"`
}

type PublishConfig struct {
	KeyPrefix     string        `yaml:"key_prefix"`
	UploadTimeout time.Duration `yaml:"upload_timeout"`

	Retry struct {
		MaxAttempts  int           `yaml:"max_attempts"`
		InitialDelay time.Duration `yaml:"initial_delay"`
		MaxDelay     time.Duration `yaml:"max_delay"`
	} `yaml:"retry"`

	CircuitBreaker struct {
		FailureThreshold int           `yaml:"failure_threshold"`
		SuccessThreshold int           `yaml:"success_threshold"`
		Timeout          time.Duration `yaml:"timeout"`
	} `yaml:"circuit_breaker"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"pool_size"`
	TTL      time.Duration `yaml:"ttl"`

	// In-process cache in front of published duet lookups.
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	CacheSize int           `yaml:"cache_size"`
}

type NotifyConfig struct {
	BufferSize   int           `yaml:"buffer_size"`
	PingInterval time.Duration `yaml:"ping_interval"`
	PongTimeout  time.Duration `yaml:"pong_timeout"`
	RedisChannel string        `yaml:"redis_channel"`
}

type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`

	// TrustedProxies lists the peers (IPs or CIDRs) whose X-Forwarded-For
	// header is honored. Empty means the header is ignored.
	TrustedProxies []string `yaml:"trusted_proxies"`
	// IdleTTL drops per-client limiters not seen for this long.
	IdleTTL time.Duration `yaml:"idle_ttl"`

	HTTP struct {
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
		MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
	} `yaml:"http"`

	WebSocket struct {
		ConnectionsPerMinute int `yaml:"connections_per_minute"`
		MaxConcurrent        int `yaml:"max_concurrent_connections"`
	} `yaml:"websocket"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}
	if c.Server.MaxOpenDuets < 0 {
		return fmt.Errorf("server.max_open_duets must be >= 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Compositor
	comp := c.Compositor
	if comp.LandscapeWidth <= 0 || comp.LandscapeHeight <= 0 || comp.PortraitWidth <= 0 || comp.PortraitHeight <= 0 {
		return fmt.Errorf("compositor canvas dimensions must be > 0")
	}
	if comp.LandscapeWidth%2 != 0 || comp.PortraitHeight%2 != 0 {
		return fmt.Errorf("compositor split dimensions (landscape_width, portrait_height) must be even")
	}
	if comp.PortraitSideBySide && comp.PortraitWidth%2 != 0 {
		return fmt.Errorf("compositor.portrait_width must be even when portrait_side_by_side=true")
	}
	if comp.SeparatorWidth < 0 {
		return fmt.Errorf("compositor.separator_width must be >= 0")
	}

	// Recording
	if c.Recording.FPS <= 0 {
		return fmt.Errorf("recording.fps must be > 0")
	}
	if c.Recording.RefreshRate < c.Recording.FPS {
		return fmt.Errorf("recording.refresh_rate must be >= recording.fps")
	}
	if c.Recording.MaxDuration < 0 {
		return fmt.Errorf("recording.max_duration must be >= 0")
	}
	if c.Recording.AudioSampleRate <= 0 {
		return fmt.Errorf("recording.audio_sample_rate must be > 0")
	}

	// Encoder
	switch c.Encoder.Kind {
	case "framed":
		if c.Encoder.JPEGQuality < 1 || c.Encoder.JPEGQuality > 100 {
			return fmt.Errorf("encoder.jpeg_quality must be in [1, 100]")
		}
		if c.Encoder.ChunkDuration <= 0 {
			return fmt.Errorf("encoder.chunk_duration must be > 0")
		}
	case "ffmpeg":
		if c.Encoder.FFmpeg.Binary == "" {
			return fmt.Errorf("encoder.ffmpeg.binary must not be empty")
		}
	default:
		return fmt.Errorf("encoder.kind must be framed or ffmpeg, got %q", c.Encoder.Kind)
	}

	// Devices
	switch c.Devices.Driver {
	case "synthetic", "webrtc":
	default:
		return fmt.Errorf("devices.driver must be synthetic or webrtc, got %q", c.Devices.Driver)
	}
	if c.Devices.AcquireTimeout <= 0 {
		return fmt.Errorf("devices.acquire_timeout must be > 0")
	}
	pr := c.Devices.WebRTC.PortRange
	if pr.Min > 0 || pr.Max > 0 {
		if pr.Min == 0 || pr.Max == 0 {
			return fmt.Errorf("devices.webrtc.port_range.min and max must both be set when one is set")
		}
		if pr.Min >= pr.Max {
			return fmt.Errorf("devices.webrtc.port_range.min must be < max")
		}
	}

	// Playback
	switch c.Playback.Decoder {
	case "still", "ffmpeg":
	default:
		return fmt.Errorf("playback.decoder must be still or ffmpeg, got %q", c.Playback.Decoder)
	}

	// Storage
	switch c.Storage.Kind {
	case "file":
		if c.Storage.File.Directory == "" {
			return fmt.Errorf("storage.file.directory must not be empty")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket must not be empty")
		}
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region must not be empty")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.kind must be file, s3 or memory, got %q", c.Storage.Kind)
	}

	// Publish
	if c.Publish.UploadTimeout <= 0 {
		return fmt.Errorf("publish.upload_timeout must be > 0")
	}
	if c.Publish.Retry.MaxAttempts < 0 {
		return fmt.Errorf("publish.retry.max_attempts must be >= 0")
	}
	if c.Publish.CircuitBreaker.FailureThreshold <= 0 {
		return fmt.Errorf("publish.circuit_breaker.failure_threshold must be > 0")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.CacheTTL < 0 || c.Redis.CacheSize < 0 {
			return fmt.Errorf("redis.cache_ttl and redis.cache_size must be >= 0")
		}
	}

	// Notify
	if c.Notify.BufferSize <= 0 {
		return fmt.Errorf("notify.buffer_size must be > 0")
	}
	if c.Notify.PingInterval <= 0 || c.Notify.PongTimeout <= c.Notify.PingInterval {
		return fmt.Errorf("notify.pong_timeout must be > notify.ping_interval > 0")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("rate_limiting.websocket.connections_per_minute must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_concurrent_connections must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.IdleTTL <= 0 {
			return fmt.Errorf("rate_limiting.idle_ttl must be > 0 when rate limiting is enabled")
		}
		for _, entry := range c.RateLimiting.TrustedProxies {
			if _, _, err := net.ParseCIDR(entry); err != nil && net.ParseIP(entry) == nil {
				return fmt.Errorf("rate_limiting.trusted_proxies: %q is not an IP or CIDR", entry)
			}
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
// A .env file in the working directory is loaded first; variables already set
// in the environment win.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file %s: %w", configPath, err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 5 * time.Minute
	cfg.Server.ShutdownTimeout = 30 * time.Second
	cfg.Server.MaxOpenDuets = 64

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Compositor = CompositorConfig{
		LandscapeWidth:   1280,
		LandscapeHeight:  720,
		PortraitWidth:    720,
		PortraitHeight:   1280,
		SeparatorWidth:   2,
		Watermark:        "Duet",
		WatermarkOffsetX: 10,
		WatermarkOffsetY: 10,
	}

	cfg.Recording = RecordingConfig{
		FPS:             30,
		RefreshRate:     60,
		MaxDuration:     3 * time.Minute,
		AudioSampleRate: 48000,
	}

	cfg.Encoder = EncoderConfig{
		Kind:          "framed",
		JPEGQuality:   80,
		ChunkDuration: time.Second,
		FFmpeg: FFmpegConfig{
			Binary:       "ffmpeg",
			VideoCodec:   "libvpx",
			AudioCodec:   "libopus",
			VideoBitrate: "2M",
			ReadSize:     64 * 1024,
			CloseTimeout: 10 * time.Second,
		},
	}

	cfg.Devices.Driver = "synthetic"
	cfg.Devices.AcquireTimeout = 30 * time.Second
	cfg.Devices.Synthetic.Width = 640
	cfg.Devices.Synthetic.Height = 480
	cfg.Devices.Synthetic.FPS = 30
	cfg.Devices.Synthetic.Microphone = true
	cfg.Devices.Synthetic.ToneFrequency = 440
	cfg.Devices.Synthetic.SampleRate = 48000
	cfg.Devices.WebRTC.ICEServers = []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	cfg.Devices.WebRTC.OfferTimeout = 15 * time.Second

	cfg.Playback.Decoder = "still"
	cfg.Playback.FFmpeg.Binary = "ffmpeg"
	cfg.Playback.FFmpeg.FPS = 30
	cfg.Playback.FFmpeg.Width = 640
	cfg.Playback.FFmpeg.JPEGQuality = 5

	cfg.Storage.Kind = "file"
	cfg.Storage.File.Directory = "./data/artifacts"
	cfg.Storage.File.BaseURL = "/artifacts"
	cfg.Storage.S3.Region = "us-east-1"
	cfg.Storage.S3.PartSize = 5 * 1024 * 1024

	cfg.Publish.KeyPrefix = "duets"
	cfg.Publish.UploadTimeout = 2 * time.Minute
	cfg.Publish.Retry.MaxAttempts = 3
	cfg.Publish.Retry.InitialDelay = 200 * time.Millisecond
	cfg.Publish.Retry.MaxDelay = 5 * time.Second
	cfg.Publish.CircuitBreaker.FailureThreshold = 5
	cfg.Publish.CircuitBreaker.SuccessThreshold = 2
	cfg.Publish.CircuitBreaker.Timeout = 30 * time.Second

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.TTL = 30 * 24 * time.Hour
	cfg.Redis.CacheTTL = time.Minute
	cfg.Redis.CacheSize = 1024

	cfg.Notify.BufferSize = 64
	cfg.Notify.PingInterval = 30 * time.Second
	cfg.Notify.PongTimeout = 60 * time.Second
	cfg.Notify.RedisChannel = "duetrec:notices"

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing = tracing.DefaultConfig()

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 60
	cfg.RateLimiting.WebSocket.MaxConcurrent = 0
	cfg.RateLimiting.IdleTTL = 10 * time.Minute

	return cfg
}

func (c *Config) applyEnvOverrides() error {
	str := map[string]*string{
		"DUETREC_SERVER_ADDRESS":       &c.Server.Address,
		"DUETREC_LOG_LEVEL":            &c.Logging.Level,
		"DUETREC_ENCODER_KIND":         &c.Encoder.Kind,
		"DUETREC_DEVICES_DRIVER":       &c.Devices.Driver,
		"DUETREC_PLAYBACK_DECODER":     &c.Playback.Decoder,
		"DUETREC_STORAGE_KIND":         &c.Storage.Kind,
		"DUETREC_STORAGE_DIR":          &c.Storage.File.Directory,
		"DUETREC_S3_BUCKET":            &c.Storage.S3.Bucket,
		"DUETREC_S3_REGION":            &c.Storage.S3.Region,
		"DUETREC_S3_ENDPOINT":          &c.Storage.S3.Endpoint,
		"DUETREC_S3_ACCESS_KEY_ID":     &c.Storage.S3.AccessKeyID,
		"DUETREC_S3_SECRET_ACCESS_KEY": &c.Storage.S3.SecretAccessKey,
		"DUETREC_REDIS_ADDRESS":        &c.Redis.Address,
		"DUETREC_REDIS_PASSWORD":       &c.Redis.Password,
		"DUETREC_JAEGER_URL":           &c.Tracing.JaegerURL,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	flags := map[string]*bool{
		"DUETREC_REDIS_ENABLED":   &c.Redis.Enabled,
		"DUETREC_TRACING_ENABLED": &c.Tracing.Enabled,
		"DUETREC_RATE_LIMITING":   &c.RateLimiting.Enabled,
	}
	for key, dst := range flags {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}

	if v := os.Getenv("DUETREC_MAX_DURATION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("DUETREC_MAX_DURATION: %w", err)
		}
		c.Recording.MaxDuration = d
	}
	return nil
}
