package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/brokerdesk/callpipe/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	BaseDir   string          `yaml:"base_dir" mapstructure:"base_dir"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Telephony TelephonyConfig `yaml:"telephony" mapstructure:"telephony"`
	Speech    SpeechConfig    `yaml:"speech" mapstructure:"speech"`
	Bubble    BubbleConfig    `yaml:"bubble" mapstructure:"bubble"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Registry  RegistryConfig  `yaml:"registry" mapstructure:"registry"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run-history database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Path        string           `yaml:"path" mapstructure:"path"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// TelephonyConfig holds call-log API credentials.
type TelephonyConfig struct {
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	ClientID     string `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string `yaml:"client_secret" mapstructure:"client_secret"`
	PageSize     int    `yaml:"page_size" mapstructure:"page_size"`
}

// SpeechConfig holds transcription service settings.
type SpeechConfig struct {
	Key             string `yaml:"key" mapstructure:"key"`
	BaseURL         string `yaml:"base_url" mapstructure:"base_url"`
	SpeakerLabels   bool   `yaml:"speaker_labels" mapstructure:"speaker_labels"`
	LanguageCode    string `yaml:"language_code" mapstructure:"language_code"`
	PollIntervalSec int    `yaml:"poll_interval_sec" mapstructure:"poll_interval_sec"`
	PollTimeoutSec  int    `yaml:"poll_timeout_sec" mapstructure:"poll_timeout_sec"`
}

// BubbleConfig holds backend store settings (file upload + workflow endpoints).
type BubbleConfig struct {
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	APIToken string `yaml:"api_token" mapstructure:"api_token"`
}

// AnthropicConfig holds analysis LLM settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PipelineConfig configures stage execution behavior.
type PipelineConfig struct {
	ContinueOnFailure   bool    `yaml:"continue_on_failure" mapstructure:"continue_on_failure"`
	TranscribeWorkers   int     `yaml:"transcribe_workers" mapstructure:"transcribe_workers"`
	UploadWorkers       int     `yaml:"upload_workers" mapstructure:"upload_workers"`
	AnalyzeWorkers      int     `yaml:"analyze_workers" mapstructure:"analyze_workers"`
	DownloadRetries     int     `yaml:"download_retries" mapstructure:"download_retries"`
	DownloadRetryDelay  int     `yaml:"download_retry_delay_sec" mapstructure:"download_retry_delay_sec"`
	DownloadRatePerSec  float64 `yaml:"download_rate_per_sec" mapstructure:"download_rate_per_sec"`
	DownloadTimeoutSec  int     `yaml:"download_timeout_sec" mapstructure:"download_timeout_sec"`
	UploadTimeoutSec    int     `yaml:"upload_timeout_sec" mapstructure:"upload_timeout_sec"`
	ExtractLimit        int     `yaml:"extract_limit" mapstructure:"extract_limit"`
	ArchiveAfterUpload  bool    `yaml:"archive_after_upload" mapstructure:"archive_after_upload"`
	ArchiveAfterAnalyze bool    `yaml:"archive_after_analyze" mapstructure:"archive_after_analyze"`
}

// RegistryConfig configures the analysis question registry.
type RegistryConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CALLPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("base_dir", ".")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "callpipe.db")
	v.SetDefault("store.pool.max_conns", 0)
	v.SetDefault("store.pool.min_conns", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("telephony.page_size", 100)
	v.SetDefault("speech.speaker_labels", true)
	v.SetDefault("speech.language_code", "en_us")
	v.SetDefault("speech.poll_interval_sec", 3)
	v.SetDefault("speech.poll_timeout_sec", 300)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("pipeline.continue_on_failure", false)
	v.SetDefault("pipeline.transcribe_workers", 10)
	v.SetDefault("pipeline.upload_workers", 2)
	v.SetDefault("pipeline.analyze_workers", 5)
	v.SetDefault("pipeline.download_retries", 3)
	v.SetDefault("pipeline.download_retry_delay_sec", 2)
	v.SetDefault("pipeline.download_rate_per_sec", 1)
	v.SetDefault("pipeline.download_timeout_sec", 30)
	v.SetDefault("pipeline.upload_timeout_sec", 120)
	v.SetDefault("pipeline.extract_limit", 0)
	v.SetDefault("pipeline.archive_after_upload", true)
	v.SetDefault("pipeline.archive_after_analyze", true)
	v.SetDefault("registry.path", "questions.yaml")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
