package domain

import "time"

// Config holds the complete VoxGuard configuration.
type Config struct {
	// Profile names the defaults the config started from: "standalone" or "cluster"
	Profile string `koanf:"profile" validate:"oneof=standalone cluster"`

	Server    ServerConfig    `koanf:"server"`
	Detection DetectionConfig `koanf:"detection"`
	Inference InferenceConfig `koanf:"inference"`

	// Component configurations
	Cache      CacheConfig      `koanf:"cache"`
	Repository RepositoryConfig `koanf:"repository"`
	TimeSeries TimeSeriesConfig `koanf:"timeseries"`
	EventBus   EventBusConfig   `koanf:"eventbus"`
	Ingest     IngestConfig     `koanf:"ingest"`
	Supervisor SupervisorConfig `koanf:"supervisor"`

	// Observability
	Logging LoggingConfig `koanf:"logging"`
	Tracing TracingConfig `koanf:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `koanf:"host"`
	Port         int    `koanf:"port" validate:"gte=0,lte=65535"`
	ReadTimeout  int    `koanf:"read_timeout"`  // seconds
	WriteTimeout int    `koanf:"write_timeout"` // seconds
}

// DetectionConfig holds the window, threshold and cooldown policy.
type DetectionConfig struct {
	WindowSeconds        int     `koanf:"window_seconds" validate:"gt=0"`
	CallerThreshold      int     `koanf:"caller_threshold" validate:"gte=1"`
	CooldownSeconds      int     `koanf:"cooldown_seconds" validate:"gte=0"`
	ProbabilityThreshold float64 `koanf:"probability_threshold" validate:"gte=0,lte=1"`

	// AutoBlock blacklists the gateways behind a confirmed verdict for BlockHours.
	AutoBlock  bool `koanf:"auto_block"`
	BlockHours int  `koanf:"block_hours" validate:"gte=0"`

	// StoreTimeout bounds every call into an external store.
	StoreTimeout time.Duration `koanf:"store_timeout"`

	// CDR feature parameters
	HighVolumeAttempts int `koanf:"high_volume_attempts" validate:"gte=0"`
	ShortCallSeconds   int `koanf:"short_call_seconds" validate:"gte=0"`
}

// InferenceConfig selects the scoring strategy.
type InferenceConfig struct {
	// Strategy is "rules" or "cel"
	Strategy string `koanf:"strategy" validate:"oneof=rules cel"`

	// Expression is the CEL scoring expression used by the cel strategy.
	Expression string `koanf:"expression"`

	Weights RuleWeights   `koanf:"weights"`
	Breaker BreakerConfig `koanf:"breaker"`
}

// RuleWeights are the contributions of the deterministic scorer.
type RuleWeights struct {
	MismatchBonus        float64 `koanf:"mismatch_bonus" validate:"gte=0,lte=1"`
	OverlapWeight        float64 `koanf:"overlap_weight" validate:"gte=0,lte=1"`
	ASRPenalty           float64 `koanf:"asr_penalty" validate:"gte=0,lte=1"`
	ALOCPenalty          float64 `koanf:"aloc_penalty" validate:"gte=0,lte=1"`
	ALOCReferenceSeconds float64 `koanf:"aloc_reference_seconds" validate:"gte=0"`
}

// BreakerConfig configures the circuit breakers around remote backends.
type BreakerConfig struct {
	MaxRequests      uint32        `koanf:"max_requests"`
	Interval         time.Duration `koanf:"interval"`
	Timeout          time.Duration `koanf:"timeout"`
	FailureThreshold uint32        `koanf:"failure_threshold"`
}

// IngestConfig configures where raw signaling arrives from.
type IngestConfig struct {
	// UDPAddr enables the SIP datagram listener when set (e.g. ":5060").
	UDPAddr string `koanf:"udp_addr"`

	// NATSSubject enables NATS ingest of raw messages when set and NATS is enabled.
	NATSSubject string `koanf:"nats_subject"`

	Workers   int `koanf:"workers" validate:"gte=0"`
	QueueSize int `koanf:"queue_size" validate:"gte=0"`
}

// SupervisorConfig configures the supervisor tree and scheduled services.
type SupervisorConfig struct {
	CleanupInterval  time.Duration `koanf:"cleanup_interval"`
	CompactInterval  time.Duration `koanf:"compact_interval"`
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // trace, debug, info, warn, error
	Format string `koanf:"format"` // json, console
	Caller bool   `koanf:"caller"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	ServiceName string  `koanf:"service_name"`
	SampleRatio float64 `koanf:"sample_ratio" validate:"gte=0,lte=1"`
}

// Profiles.
const (
	ProfileStandalone = "standalone"
	ProfileCluster    = "cluster"
)

// DefaultConfig returns a single-node configuration: SQLite, in-memory window,
// in-process bus.
func DefaultConfig() *Config {
	return &Config{
		Profile: ProfileStandalone,
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Detection: DetectionConfig{
			WindowSeconds:        5,
			CallerThreshold:      5,
			CooldownSeconds:      300,
			ProbabilityThreshold: 0.5,
			AutoBlock:            false,
			BlockHours:           24,
			StoreTimeout:         2 * time.Second,
			HighVolumeAttempts:   50,
			ShortCallSeconds:     10,
		},
		Inference: InferenceConfig{
			Strategy: "rules",
			Weights: RuleWeights{
				MismatchBonus:        0.2,
				OverlapWeight:        0.15,
				ASRPenalty:           0.15,
				ALOCPenalty:          0.1,
				ALOCReferenceSeconds: 180,
			},
			Breaker: BreakerConfig{
				MaxRequests:      1,
				Interval:         time.Minute,
				Timeout:          30 * time.Second,
				FailureThreshold: 5,
			},
		},
		Cache: CacheConfig{
			Type:      "memory",
			Shards:    64,
			IdleTTL:   10 * time.Minute,
			KeyPrefix: "voxguard",
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./voxguard.db",
		},
		TimeSeries: TimeSeriesConfig{
			Type: "none",
		},
		EventBus: EventBusConfig{
			BufferSize: 1000,
			NATS: NATSConfig{
				URL:           "nats://localhost:4222",
				MaxReconnects: 10,
				ReconnectWait: 5,
				SubjectPrefix: "voxguard.events",
			},
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topic:   "voxguard.events",
			},
		},
		Ingest: IngestConfig{
			Workers:   4,
			QueueSize: 4096,
		},
		Supervisor: SupervisorConfig{
			CleanupInterval:  time.Hour,
			CompactInterval:  time.Minute,
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "voxguard",
			SampleRatio: 1,
		},
	}
}

// ClusterConfig returns a multi-node configuration: PostgreSQL, Redis window,
// NATS forwarding and ingest.
func ClusterConfig() *Config {
	cfg := DefaultConfig()
	cfg.Profile = ProfileCluster
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "voxguard",
	}
	cfg.Cache.Type = "redis"
	cfg.Cache.RedisAddr = "localhost:6379"
	cfg.EventBus.NATS.Enabled = true
	cfg.Ingest.NATSSubject = "voxguard.signals"
	cfg.Tracing.Enabled = true
	return cfg
}
