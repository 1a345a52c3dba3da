package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/rupor-github/gencfg"

	"cardgen/common"
)

//go:embed config.yaml.tmpl
var ConfigTmpl []byte

type (
	TemplateFieldName string

	DriverConfig struct {
		Kind common.DriverKind `yaml:"kind" validate:"gte=0"`
	}

	RemoteConfig struct {
		CredentialsFile   string        `yaml:"credentials_file" sanitize:"assure_file_access"`
		CredentialsJSON   SecretString  `yaml:"credentials_json,omitempty"`
		SharedDriveID     string        `yaml:"shared_drive_id"`
		Endpoint          string        `yaml:"endpoint,omitempty" validate:"omitempty,url"`
		BatchCeiling      int           `yaml:"batch_ceiling" validate:"min=1,max=1000"`
		RequestsPerMinute int           `yaml:"requests_per_minute" validate:"min=1"`
		ReadRetries       uint64        `yaml:"read_retries" validate:"lte=10"`
		RetryBase         time.Duration `yaml:"retry_base" validate:"gte=0"`
	}

	LocalConfig struct {
		Converter      string        `yaml:"converter" validate:"required"`
		ConverterArgs  []string      `yaml:"converter_args"`
		ConvertTimeout time.Duration `yaml:"convert_timeout" validate:"gt=0"`
		BatchCeiling   int           `yaml:"batch_ceiling" validate:"min=1"`
		WorkDir        string        `yaml:"work_dir,omitempty"`
		FixZip         bool          `yaml:"fix_zip"`
	}

	CatalogConfig struct {
		Dir string `yaml:"dir" sanitize:"path_clean" validate:"required"`
	}

	OutputConfig struct {
		BulkDir               string `yaml:"bulk_dir" sanitize:"path_clean" validate:"required"`
		SingleDir             string `yaml:"single_dir" sanitize:"path_clean" validate:"required"`
		NameTemplate          string `yaml:"name_template"`
		FileNameTransliterate bool   `yaml:"file_name_transliterate"`
		CacheSingle           bool   `yaml:"cache_single"`
	}

	MetricsConfig struct {
		PushgatewayURL string `yaml:"pushgateway_url,omitempty" validate:"omitempty,url"`
		Job            string `yaml:"job" validate:"required"`
	}

	Config struct {
		Version   int            `yaml:"version" validate:"eq=1"`
		Driver    DriverConfig   `yaml:"driver"`
		Remote    RemoteConfig   `yaml:"remote"`
		Local     LocalConfig    `yaml:"local"`
		Catalog   CatalogConfig  `yaml:"catalog"`
		Output    OutputConfig   `yaml:"output"`
		Metrics   MetricsConfig  `yaml:"metrics"`
		Logging   LoggingConfig  `yaml:"logging"`
		Reporting ReporterConfig `yaml:"reporting"`
	}
)

const (
	// NOTE: must match yaml field name above
	OutputNameTemplateFieldName TemplateFieldName = "name_template"
)

var requiredOptions = append([]func(*gencfg.ProcessingOptions){},
	gencfg.WithDoNotExpandField(string(OutputNameTemplateFieldName)),
)

func unmarshalConfig(data []byte, cfg *Config, process bool) (*Config, error) {
	// We want to use only fields we defined so we cannot use yaml.Unmarshal
	// directly here
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration data: %w", err)
	}
	if process {
		if err := gencfg.Sanitize(cfg); err != nil {
			return nil, err
		}
		if err := gencfg.Validate(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// LoadConfiguration reads the configuration from the file at the given path,
// superimposes its values on top of expanded configuration template to provide
// sane defaults and performs validation.
func LoadConfiguration(path string, options ...func(*gencfg.ProcessingOptions)) (*Config, error) {
	haveFile := len(path) > 0

	data, err := gencfg.Process(ConfigTmpl, append(requiredOptions, options...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	cfg, err := unmarshalConfig(data, &Config{}, !haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	if !haveFile {
		return cfg, nil
	}

	data, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err = unmarshalConfig(data, cfg, haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration file: %w", err)
	}
	return cfg, nil
}

// Prepare generates configuration file from template and returns it as a byte
// slice.
func Prepare() ([]byte, error) {
	return gencfg.Process(ConfigTmpl, requiredOptions...)
}

// Dump returns actual configuration as YAML, secrets are masked.
func Dump(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(*cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config to yaml: %w", err)
	}
	return data, nil
}

// HasRemoteCredentials reports whether remote backend could be reached with
// this configuration.
func (c *RemoteConfig) HasRemoteCredentials() bool {
	return len(c.CredentialsFile) > 0 || len(c.CredentialsJSON) > 0 || len(c.Endpoint) > 0
}
