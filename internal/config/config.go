package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"sigs.k8s.io/yaml"

	"github.com/kubev2v/sheet-filter/internal/handlers/validator"
)

var singleConfig *Config = nil

type Config struct {
	Service  *svcConfig
	Workflow *workflowConfig
	Dispatch *dispatchConfig
	Dataset  *datasetConfig
	Storage  *storageConfig
	Events   *eventsConfig
}

type svcConfig struct {
	Address           string   `envconfig:"SHEET_FILTER_ADDRESS" default:":8000" validate:"required"`
	MetricsAddress    string   `envconfig:"SHEET_FILTER_METRICS_ADDRESS" default:":8080"`
	BaseUrl           string   `envconfig:"SHEET_FILTER_BASE_URL" default:"http://localhost:8000" validate:"required,url"`
	LogLevel          string   `envconfig:"SHEET_FILTER_LOG_LEVEL" default:"info"`
	CorsOrigins       []string `envconfig:"SHEET_FILTER_CORS_ORIGINS" default:"*"`
	DownloadDir       string   `envconfig:"SHEET_FILTER_DOWNLOAD_DIR" default:"downloads" validate:"required"`
	MaxUploadBytes    int64    `envconfig:"SHEET_FILTER_MAX_UPLOAD_BYTES" default:"104857600" validate:"gt=0"`
	AllowedExtensions []string `envconfig:"SHEET_FILTER_ALLOWED_EXTENSIONS" default:"xlsx,xls" validate:"extensions"`
	DebugOutputLimit  int      `envconfig:"SHEET_FILTER_DEBUG_OUTPUT_LIMIT" default:"500" validate:"gte=0"`
}

type workflowConfig struct {
	BaseUrl          string        `envconfig:"SHEET_FILTER_WORKFLOW_URL" default:"http://localhost/v1" validate:"required,url"`
	APIKey           string        `envconfig:"SHEET_FILTER_WORKFLOW_API_KEY" default:""`
	InputVariable    string        `envconfig:"SHEET_FILTER_WORKFLOW_INPUT_VARIABLE" default:"input_file" validate:"required"`
	OutputVariable   string        `envconfig:"SHEET_FILTER_WORKFLOW_OUTPUT_VARIABLE" default:"download_link" validate:"required"`
	CriteriaVariable string        `envconfig:"SHEET_FILTER_WORKFLOW_CRITERIA_VARIABLE" default:"which_aspects"`
	ResponseMode     string        `envconfig:"SHEET_FILTER_WORKFLOW_RESPONSE_MODE" default:"streaming" validate:"response_mode"`
	User             string        `envconfig:"SHEET_FILTER_WORKFLOW_USER" default:"sheet-filter"`
	RequestTimeout   time.Duration `envconfig:"SHEET_FILTER_WORKFLOW_REQUEST_TIMEOUT" default:"180s" validate:"gt=0"`
	DownloadTimeout  time.Duration `envconfig:"SHEET_FILTER_WORKFLOW_DOWNLOAD_TIMEOUT" default:"60s" validate:"gt=0"`
	DefaultCriteria  string        `envconfig:"SHEET_FILTER_DEFAULT_CRITERIA" default:""`
}

type dispatchConfig struct {
	ChunkSize        int           `envconfig:"SHEET_FILTER_CHUNK_SIZE" default:"30" validate:"gt=0"`
	Workers          int           `envconfig:"SHEET_FILTER_WORKERS" default:"6" validate:"gt=0"`
	RetryDelay       time.Duration `envconfig:"SHEET_FILTER_RETRY_DELAY" default:"1s" validate:"gte=0"`
	MaxAttempts      int           `envconfig:"SHEET_FILTER_MAX_ATTEMPTS" default:"-1"`
	JobDeadline      time.Duration `envconfig:"SHEET_FILTER_JOB_DEADLINE" default:"0s" validate:"gte=0"`
	ProgressInterval time.Duration `envconfig:"SHEET_FILTER_PROGRESS_INTERVAL" default:"10s" validate:"gte=0"`
	CleanupChunks    bool          `envconfig:"SHEET_FILTER_CLEANUP_CHUNKS" default:"false"`
}

type datasetConfig struct {
	PrimaryColumn  string   `envconfig:"SHEET_FILTER_PRIMARY_COLUMN" default:"关键词"`
	CategoryColumn string   `envconfig:"SHEET_FILTER_CATEGORY_COLUMN" default:"关键词"`
	TimeColumn     string   `envconfig:"SHEET_FILTER_TIME_COLUMN" default:"时间"`
	DenyList       []string `envconfig:"SHEET_FILTER_DENY_COLUMNS" default:"id,ID"`
}

type storageConfig struct {
	Type      string        `envconfig:"SHEET_FILTER_STORAGE" default:"local" validate:"storage_type"`
	Endpoint  string        `envconfig:"SHEET_FILTER_S3_ENDPOINT" default:""`
	Bucket    string        `envconfig:"SHEET_FILTER_S3_BUCKET" default:""`
	AccessKey string        `envconfig:"SHEET_FILTER_S3_ACCESS_KEY" default:""`
	SecretKey string        `envconfig:"SHEET_FILTER_S3_SECRET_KEY" default:""`
	UseSSL    bool          `envconfig:"SHEET_FILTER_S3_SSL" default:"false"`
	URLExpiry time.Duration `envconfig:"SHEET_FILTER_S3_URL_EXPIRY" default:"24h"`
}

type eventsConfig struct {
	Enabled bool   `envconfig:"SHEET_FILTER_EVENTS_ENABLED" default:"false"`
	Topic   string `envconfig:"SHEET_FILTER_EVENTS_TOPIC" default:"sheetfilter.events"`
}

func New() (*Config, error) {
	return Load("")
}

// Load reads the configuration once. When path is set, the file is read as a
// map of environment variable names to values: a dotenv file when it ends in
// .env, YAML otherwise. Variables already present in the environment take
// precedence over the file.
func Load(path string) (*Config, error) {
	if singleConfig != nil {
		return singleConfig, nil
	}

	if path != "" {
		if err := applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg := new(Config)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	singleConfig = cfg
	return singleConfig, nil
}

func (c *Config) Validate() error {
	v := validator.NewValidator().Register(validator.NewConfigValidationRules()...)
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Storage.Type == "s3" && (c.Storage.Endpoint == "" || c.Storage.Bucket == "") {
		return fmt.Errorf("invalid configuration: s3 storage requires an endpoint and a bucket")
	}
	return nil
}

func applyFile(path string) error {
	if filepath.Ext(path) == ".env" || filepath.Base(path) == ".env" {
		// godotenv never overrides variables that are already set
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", path, err)
		}
		return nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	values := map[string]any{}
	if err := yaml.Unmarshal(content, &values); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	for key, value := range values {
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, formatValue(value)); err != nil {
			return err
		}
	}
	return nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case []any:
		out := ""
		for i, item := range t {
			if i > 0 {
				out += ","
			}
			out += formatValue(item)
		}
		return out
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprint(t)
	default:
		return fmt.Sprint(t)
	}
}

// reset drops the loaded configuration. Used by tests.
func reset() {
	singleConfig = nil
}
