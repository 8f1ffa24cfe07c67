package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"billextract/internal/analyzer"
	"billextract/internal/archive"
	"billextract/internal/llm"
	"billextract/internal/logger"
	"billextract/internal/pipeline"
	"billextract/internal/retry"
)

type Config struct {
	// Document analysis
	AnalyzerBackend              string        `mapstructure:"analyzer_backend"`
	AnalyzerFallback             bool          `mapstructure:"analyzer_fallback"`
	AnalyzerTimeout              time.Duration `mapstructure:"analyzer_timeout"`
	GoogleCloudProject           string        `mapstructure:"google_cloud_project"`
	GoogleCloudLocation          string        `mapstructure:"google_cloud_location"`
	DocumentAIProcessorID        string        `mapstructure:"document_ai_processor_id"`
	DocumentAIProcessorVersion   string        `mapstructure:"document_ai_processor_version"`
	GoogleCredentials            string        `mapstructure:"google_credentials"`
	GoogleApplicationCredentials string        `mapstructure:"google_application_credentials"`

	// Language model
	ModelProvider       string        `mapstructure:"model_provider"`
	OpenAIAPIKey        string        `mapstructure:"openai_api_key"`
	OpenAIModel         string        `mapstructure:"openai_model"`
	AzureOpenAIEndpoint string        `mapstructure:"azure_openai_endpoint"`
	AzureOpenAIAPIKey   string        `mapstructure:"azure_openai_api_key"`
	DeploymentName      string        `mapstructure:"deployment_name"`
	GeminiAPIKey        string        `mapstructure:"gemini_api_key"`
	GeminiModel         string        `mapstructure:"gemini_model"`
	ModelTemperature    float32       `mapstructure:"model_temperature"`
	ModelMaxTokens      int           `mapstructure:"model_max_tokens"`
	ModelTimeout        time.Duration `mapstructure:"model_timeout"`
	ModelValidation     bool          `mapstructure:"model_validation"`

	// Retries
	RetryMaxAttempts     int           `mapstructure:"retry_max_attempts"`
	RetryInitialDelay    time.Duration `mapstructure:"retry_initial_delay"`
	RetryMaxDelay        time.Duration `mapstructure:"retry_max_delay"`
	FormatRetries        int           `mapstructure:"format_retries"`
	ArchiveWriteAttempts int           `mapstructure:"archive_write_attempts"`

	// Classification
	ClassifierBackend  string `mapstructure:"classifier_backend"`
	AccountMappingFile string `mapstructure:"account_mapping_file"`
	DatabaseURL        string `mapstructure:"database_url"`
	RegistrySheetURL   string `mapstructure:"registry_sheet_url"`
	RegistrySheetRange string `mapstructure:"registry_sheet_range"`
	UnmappedPolicy     string `mapstructure:"unmapped_policy"`

	// Directories
	DocumentsDir string `mapstructure:"documents_dir"`
	OutputDir    string `mapstructure:"output_dir"`
	ArchiveDir   string `mapstructure:"archive_dir"`
	AuditDir     string `mapstructure:"audit_dir"`
	DebugDir     string `mapstructure:"debug_dir"`
	PromptDir    string `mapstructure:"prompt_dir"`

	// Chunking
	ChunkMarker    string `mapstructure:"chunk_marker"`
	ChunkHighlight bool   `mapstructure:"chunk_highlight"`

	// Object storage mirror
	MirrorBackend      string `mapstructure:"mirror_backend"`
	MirrorBucket       string `mapstructure:"mirror_bucket"`
	MirrorPrefix       string `mapstructure:"mirror_prefix"`
	AWSRegion          string `mapstructure:"aws_region"`
	S3Endpoint         string `mapstructure:"s3_endpoint"`
	AWSAccessKeyID     string `mapstructure:"aws_access_key_id"`
	AWSSecretAccessKey string `mapstructure:"aws_secret_access_key"`

	// Reporting
	ResultsSheetURL  string `mapstructure:"results_sheet_url"`
	ResultsSheetName string `mapstructure:"results_sheet_name"`
	BatchWorkers     int    `mapstructure:"batch_workers"`

	// Logging Configuration
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogTimeFormat string `mapstructure:"log_time_format"`
	LogOutput     string `mapstructure:"log_output"`
}

// Load reads the configuration from the environment. When configFile is
// set its values are read first and the environment overrides them.
// Keys in the file use the lower-case environment names, e.g. output_dir.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("analyzer_backend", "documentai")
	v.SetDefault("analyzer_fallback", true)
	v.SetDefault("analyzer_timeout", "60s")
	v.SetDefault("google_cloud_project", "")
	v.SetDefault("google_cloud_location", "us")
	v.SetDefault("document_ai_processor_id", "")
	v.SetDefault("document_ai_processor_version", "")
	v.SetDefault("google_credentials", "")
	v.SetDefault("google_application_credentials", "")

	v.SetDefault("model_provider", "openai")
	v.SetDefault("openai_api_key", "")
	v.SetDefault("openai_model", "gpt-4o")
	v.SetDefault("azure_openai_endpoint", "")
	v.SetDefault("azure_openai_api_key", "")
	v.SetDefault("deployment_name", "")
	v.SetDefault("gemini_api_key", "")
	v.SetDefault("gemini_model", llm.DefaultGeminiModel)
	v.SetDefault("model_temperature", 0)
	v.SetDefault("model_max_tokens", 0)
	v.SetDefault("model_timeout", "120s")
	v.SetDefault("model_validation", true)

	v.SetDefault("retry_max_attempts", 3)
	v.SetDefault("retry_initial_delay", "1s")
	v.SetDefault("retry_max_delay", "30s")
	v.SetDefault("format_retries", 2)
	v.SetDefault("archive_write_attempts", 3)

	v.SetDefault("classifier_backend", "file")
	v.SetDefault("account_mapping_file", "config/accounts.yaml")
	v.SetDefault("database_url", "")
	v.SetDefault("registry_sheet_url", "")
	v.SetDefault("registry_sheet_range", "Accounts!A:B")
	v.SetDefault("unmapped_policy", string(pipeline.PolicyHalt))

	v.SetDefault("documents_dir", "data/documents")
	v.SetDefault("output_dir", "data/output")
	v.SetDefault("archive_dir", "data/archive")
	v.SetDefault("audit_dir", "data/audit")
	v.SetDefault("debug_dir", "")
	v.SetDefault("prompt_dir", "")

	v.SetDefault("chunk_marker", "")
	v.SetDefault("chunk_highlight", true)

	v.SetDefault("mirror_backend", "")
	v.SetDefault("mirror_bucket", "")
	v.SetDefault("mirror_prefix", "")
	v.SetDefault("aws_region", "us-east-1")
	v.SetDefault("s3_endpoint", "")
	v.SetDefault("aws_access_key_id", "")
	v.SetDefault("aws_secret_access_key", "")

	v.SetDefault("results_sheet_url", "")
	v.SetDefault("results_sheet_name", "Runs")
	v.SetDefault("batch_workers", 4)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("log_time_format", time.RFC3339)
	v.SetDefault("log_output", "stderr")
}

func (c *Config) validate() error {
	c.AnalyzerBackend = strings.ToLower(strings.TrimSpace(c.AnalyzerBackend))
	c.ModelProvider = strings.ToLower(strings.TrimSpace(c.ModelProvider))
	c.ClassifierBackend = strings.ToLower(strings.TrimSpace(c.ClassifierBackend))
	c.MirrorBackend = strings.ToLower(strings.TrimSpace(c.MirrorBackend))

	switch c.AnalyzerBackend {
	case "documentai", "vision":
	default:
		return fmt.Errorf("ANALYZER_BACKEND must be documentai or vision, got %q", c.AnalyzerBackend)
	}
	switch c.ModelProvider {
	case "openai", "azure", "gemini":
	default:
		return fmt.Errorf("MODEL_PROVIDER must be openai, azure or gemini, got %q", c.ModelProvider)
	}
	switch c.ClassifierBackend {
	case "file", "postgres", "sheets":
	default:
		return fmt.Errorf("CLASSIFIER_BACKEND must be file, postgres or sheets, got %q", c.ClassifierBackend)
	}
	switch c.MirrorBackend {
	case "", "gcs", "s3":
	default:
		return fmt.Errorf("MIRROR_BACKEND must be empty, gcs or s3, got %q", c.MirrorBackend)
	}
	if c.MirrorBackend != "" && c.MirrorBucket == "" {
		return fmt.Errorf("MIRROR_BUCKET is required when MIRROR_BACKEND is %s", c.MirrorBackend)
	}
	if c.ClassifierBackend == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for the postgres classifier")
	}
	if c.ClassifierBackend == "sheets" && c.RegistrySheetURL == "" {
		return fmt.Errorf("REGISTRY_SHEET_URL is required for the sheets classifier")
	}
	if _, err := pipeline.ParseUnmappedPolicy(c.UnmappedPolicy); err != nil {
		return err
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if c.FormatRetries < 0 {
		return fmt.Errorf("FORMAT_RETRIES must not be negative")
	}
	if c.BatchWorkers < 1 {
		return fmt.Errorf("BATCH_WORKERS must be at least 1")
	}
	return nil
}

// RequireServices checks the settings needed to call the analysis and
// model services. Commands that only list or classify skip it.
func (c *Config) RequireServices() error {
	if c.GoogleCloudProject == "" {
		return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required")
	}
	if c.AnalyzerBackend == "documentai" && c.DocumentAIProcessorID == "" {
		return fmt.Errorf("DOCUMENT_AI_PROCESSOR_ID is required")
	}
	switch c.ModelProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required")
		}
	case "azure":
		if c.AzureOpenAIEndpoint == "" || c.AzureOpenAIAPIKey == "" || c.DeploymentName == "" {
			return fmt.Errorf("AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_API_KEY and DEPLOYMENT_NAME are required for azure")
		}
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

// GoogleConfig returns the settings for the Document AI and Vision analyzers.
func (c *Config) GoogleConfig() analyzer.GoogleConfig {
	return analyzer.GoogleConfig{
		ProjectID:        c.GoogleCloudProject,
		Location:         c.GoogleCloudLocation,
		ProcessorID:      c.DocumentAIProcessorID,
		ProcessorVersion: c.DocumentAIProcessorVersion,
		CredentialsJSON:  c.GoogleCredentials,
		CredentialsFile:  c.GoogleApplicationCredentials,
		Timeout:          c.AnalyzerTimeout,
	}
}

// LLMOptions returns the settings for the configured model provider.
func (c *Config) LLMOptions() llm.Options {
	opts := llm.Options{
		Provider:    c.ModelProvider,
		Temperature: c.ModelTemperature,
		MaxTokens:   c.ModelMaxTokens,
		Timeout:     c.ModelTimeout,
	}
	switch c.ModelProvider {
	case "azure":
		opts.APIKey = c.AzureOpenAIAPIKey
		opts.Endpoint = c.AzureOpenAIEndpoint
		opts.Deployment = c.DeploymentName
	case "gemini":
		opts.APIKey = c.GeminiAPIKey
		opts.Model = c.GeminiModel
	default:
		opts.APIKey = c.OpenAIAPIKey
		opts.Model = c.OpenAIModel
	}
	return opts
}

// RetryPolicy returns the policy for transient service failures.
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = c.RetryMaxAttempts
	if c.RetryInitialDelay > 0 {
		p.Initial = c.RetryInitialDelay
	}
	if c.RetryMaxDelay > 0 {
		p.Max = c.RetryMaxDelay
	}
	return p
}

// ArchiveOptions returns the archiver settings without a mirror.
func (c *Config) ArchiveOptions() archive.Options {
	return archive.Options{
		OutputDir:     c.OutputDir,
		ArchiveDir:    c.ArchiveDir,
		AuditDir:      c.AuditDir,
		WriteAttempts: c.ArchiveWriteAttempts,
	}
}

// S3Config returns the settings for the S3 mirror.
func (c *Config) S3Config() archive.S3Config {
	return archive.S3Config{
		Bucket:    c.MirrorBucket,
		Prefix:    c.MirrorPrefix,
		Region:    c.AWSRegion,
		Endpoint:  c.S3Endpoint,
		AccessKey: c.AWSAccessKeyID,
		SecretKey: c.AWSSecretAccessKey,
	}
}

// Policy returns the parsed unmapped-identifier policy.
func (c *Config) Policy() pipeline.UnmappedPolicy {
	p, _ := pipeline.ParseUnmappedPolicy(c.UnmappedPolicy)
	return p
}

// GoogleCredentialsJSON returns the service account key, read from
// GOOGLE_APPLICATION_CREDENTIALS or taken inline from GOOGLE_CREDENTIALS.
func (c *Config) GoogleCredentialsJSON() ([]byte, error) {
	if c.GoogleApplicationCredentials != "" {
		creds, err := os.ReadFile(c.GoogleApplicationCredentials)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		return creds, nil
	}
	return []byte(c.GoogleCredentials), nil
}
