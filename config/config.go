// Package config resolves forge's process-wide settings (spec §6) from
// environment variables and an optional YAML file via
// github.com/spf13/viper, validated with
// github.com/go-playground/validator/v10.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Mode selects how the executor sources its plugins at startup (spec
// §8 Mode switch: resolved once, never threaded through call sites).
type Mode string

const (
	ModeFastTest   Mode = "fast-test"
	ModeProduction Mode = "production"
)

// QueueMode selects the progressbus/queue backend (spec §4 Selection).
type QueueMode string

const (
	QueueModeInmem QueueMode = "inmem"
	QueueModePulse QueueMode = "pulse"
)

// Settings is the process-wide configuration resolved at startup.
type Settings struct {
	Mode       Mode      `mapstructure:"mode" validate:"required,oneof=fast-test production"`
	VolumeRoot string    `mapstructure:"volume_root" validate:"required"`
	LogRoot    string    `mapstructure:"log_root" validate:"required"`
	LogLevel   string    `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogToFile  bool      `mapstructure:"log_to_file"`
	LogToStdout bool     `mapstructure:"log_to_stdout"`

	QueueMode      QueueMode `mapstructure:"queue_mode" validate:"required,oneof=inmem pulse"`
	StreamStoreURL string    `mapstructure:"stream_store_url" validate:"required_if=QueueMode pulse"`

	WorkerConcurrency int `mapstructure:"worker_concurrency" validate:"required,min=1,max=64"`

	TrainingPluginURL string `mapstructure:"training_plugin_url" validate:"omitempty,url"`
	ImagePluginURL    string `mapstructure:"image_plugin_url" validate:"omitempty,url"`

	HTTPAddr string `mapstructure:"http_addr" validate:"required"`

	// AllowedOrigins is a comma-separated CORS allow-list for production
	// (spec §6: development allows any localhost origin instead). Empty
	// means development mode.
	AllowedOrigins string `mapstructure:"allowed_origins"`
}

// Load resolves Settings from the environment, an optional YAML config
// file (path given by the FORGE_CONFIG_FILE env var, if set), and documented
// defaults, then validates the result.
func Load(appName string) (Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("forge")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("mode", string(ModeProduction))
	v.SetDefault("log_root", "./logs")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_to_file", true)
	v.SetDefault("log_to_stdout", true)
	v.SetDefault("queue_mode", string(QueueModeInmem))
	v.SetDefault("stream_store_url", "")
	v.SetDefault("worker_concurrency", 1)
	v.SetDefault("training_plugin_url", "")
	v.SetDefault("image_plugin_url", "")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("allowed_origins", "")

	if cfgFile := v.GetString("config_file"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("forge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Settings{}, fmt.Errorf("config: read config file: %w", err)
		}
	}

	volumeRoot := v.GetString("volume_root")
	if volumeRoot == "" {
		volumeRoot = ResolveVolumeRoot(appName)
	}
	v.Set("volume_root", volumeRoot)

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validate.Struct(&s); err != nil {
		return Settings{}, convertValidationError(err)
	}
	return s, nil
}

// AllowedOriginsList splits AllowedOrigins on commas, trimming whitespace
// and dropping empty entries. An empty result means development mode.
func (s Settings) AllowedOriginsList() []string {
	if strings.TrimSpace(s.AllowedOrigins) == "" {
		return nil
	}
	parts := strings.Split(s.AllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var validate = validator.New()

// convertValidationError normalizes validator/v10 errors into a single
// readable message naming the first offending field and tag.
func convertValidationError(err error) error {
	ves, ok := err.(validator.ValidationErrors)
	if !ok || len(ves) == 0 {
		return fmt.Errorf("config: validate: %w", err)
	}
	fe := ves[0]
	return fmt.Errorf("config: field %s failed validation for tag %q", fieldPath(fe), fe.Tag())
}

func fieldPath(fe validator.FieldError) string {
	parts := strings.Split(fe.StructNamespace(), ".")
	lowered := make([]string, len(parts))
	for i, p := range parts {
		lowered[i] = strings.ToLower(p)
	}
	return strings.Join(lowered, ".")
}
