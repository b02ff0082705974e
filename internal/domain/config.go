package domain

// Config holds the complete Kestrel configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server" json:"server"`

	// Fusion selects the decision fusion policy served by this process.
	Fusion FusionConfig `mapstructure:"fusion" json:"fusion"`

	Artifacts ArtifactsConfig `mapstructure:"artifacts" json:"artifacts"`
	Corpus    CorpusConfig    `mapstructure:"corpus" json:"corpus"`
	Feedback  FeedbackConfig  `mapstructure:"feedback" json:"feedback"`
	Advisor   AdvisorConfig   `mapstructure:"advisor" json:"advisor"`
	Training  TrainingConfig  `mapstructure:"training" json:"training"`

	// Component configurations
	Repository RepositoryConfig `mapstructure:"repository" json:"repository"`
	Lock       LockConfig       `mapstructure:"lock" json:"lock"`
	EventBus   EventBusConfig   `mapstructure:"event_bus" json:"eventBus"`

	// Observability
	Logging LoggingConfig `mapstructure:"logging" json:"logging"`
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host" json:"host"`
	Port         int    `mapstructure:"port" json:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout" json:"readTimeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout" json:"writeTimeout"` // seconds
	// CORSOrigins lists browser origins allowed to call the API. Empty
	// allows any origin.
	CORSOrigins []string `mapstructure:"cors_origins" json:"corsOrigins"`
}

// FusionConfig holds the fusion policy name.
type FusionConfig struct {
	// Policy is one of ml_first, amount_first, city_first, majority, balanced.
	Policy string `mapstructure:"policy" json:"policy"`
}

// ArtifactsConfig locates the generation store.
type ArtifactsConfig struct {
	Root string `mapstructure:"root" json:"root"`
}

// CorpusConfig locates the historical labeled corpus.
type CorpusConfig struct {
	HistoricalPath string `mapstructure:"historical_path" json:"historicalPath"`
}

// FeedbackConfig selects where feedback logs are appended.
type FeedbackConfig struct {
	// Driver is "csv" (append-only files under Dir) or "sql" (the repository).
	Driver string `mapstructure:"driver" json:"driver"`
	Dir    string `mapstructure:"dir" json:"dir"`
}

// AdvisorRule is one fallback row: a CEL predicate and the action it yields.
type AdvisorRule struct {
	Expression string `mapstructure:"expression" json:"expression" yaml:"expression"`
	Action     string `mapstructure:"action" json:"action" yaml:"action"`
}

// AdvisorConfig holds mitigation advisor settings.
type AdvisorConfig struct {
	// URL of the text generation endpoint. Empty disables remote calls.
	URL            string        `mapstructure:"url" json:"url"`
	Token          string        `mapstructure:"token" json:"-"`
	TimeoutSeconds int           `mapstructure:"timeout_seconds" json:"timeoutSeconds"`
	FallbackRules  []AdvisorRule `mapstructure:"fallback_rules" json:"fallbackRules,omitempty"`
}

// TrainingConfig holds classifier fitting and resampling parameters.
type TrainingConfig struct {
	Seed         uint64  `mapstructure:"seed" json:"seed"`
	Epochs       int     `mapstructure:"epochs" json:"epochs"`
	LearningRate float64 `mapstructure:"learning_rate" json:"learningRate"`
	BatchSize    int     `mapstructure:"batch_size" json:"batchSize"`
	L2           float64 `mapstructure:"l2" json:"l2"`
	TestFraction float64 `mapstructure:"test_fraction" json:"testFraction"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	ServiceName string `mapstructure:"service_name" json:"serviceName"`
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"`
}

// DefaultConfig returns a single-node configuration:
// SQLite registry, CSV feedback logs, in-process bus and lock.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Fusion: FusionConfig{
			Policy: "balanced",
		},
		Artifacts: ArtifactsConfig{
			Root: "./artifacts",
		},
		Corpus: CorpusConfig{
			HistoricalPath: "./data/transactions.csv",
		},
		Feedback: FeedbackConfig{
			Driver: "csv",
			Dir:    "./data",
		},
		Advisor: AdvisorConfig{
			TimeoutSeconds: 10,
		},
		Training: TrainingConfig{
			Seed:         42,
			Epochs:       30,
			LearningRate: 0.1,
			BatchSize:    256,
			L2:           0.0001,
			TestFraction: 0.2,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Lock: LockConfig{
			Type:       "memory",
			TTLSeconds: 3600,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ClusterConfig returns a configuration for running several replicas:
// PostgreSQL, Redis lock and NATS bus.
func ClusterConfig() *Config {
	cfg := DefaultConfig()
	cfg.Repository = RepositoryConfig{
		Driver:          "postgres",
		PostgresHost:    "localhost",
		PostgresPort:    5432,
		PostgresDB:      "kestrel",
		PostgresSSLMode: "disable",
	}
	cfg.Feedback.Driver = "sql"
	cfg.Lock = LockConfig{
		Type:       "redis",
		TTLSeconds: 3600,
		RedisAddr:  "localhost:6379",
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
