package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// TargetConfig describes one synthesis server. Streaming seeds the
// capability flag until discovery refreshes it from the server itself.
type TargetConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Voice      string `yaml:"voice"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	Streaming  bool   `yaml:"streaming"`
}

func (t TargetConfig) Configured() bool {
	return t.Host != "" && t.Port > 0
}

type SynthesisConfig struct {
	ProbeTimeoutMS   int `yaml:"probe_timeout_ms"`
	ReadTimeoutMS    int `yaml:"read_timeout_ms"`
	SentenceMaxChars int `yaml:"sentence_max_chars"`
	SentenceMinChars int `yaml:"sentence_min_chars"`
	CacheEntries     int `yaml:"cache_entries"`
}

type DiscoveryConfig struct {
	Enabled           bool `yaml:"enabled"`
	RefreshIntervalMS int  `yaml:"refresh_interval_ms"`
}

type Config struct {
	RelayName   string          `yaml:"relay_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Primary     TargetConfig    `yaml:"primary"`
	Fallback    TargetConfig    `yaml:"fallback"`
	Synthesis   SynthesisConfig `yaml:"synthesis"`
	Discovery   DiscoveryConfig `yaml:"discovery"`
}

func Default() Config {
	return Config{
		RelayName:   "voxrelay",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Primary: TargetConfig{
			Port:       10200,
			SampleRate: 22050,
			Channels:   1,
			Streaming:  false,
		},
		Fallback: TargetConfig{
			SampleRate: 22050,
			Channels:   1,
		},
		Synthesis: SynthesisConfig{
			ProbeTimeoutMS:   500,
			ReadTimeoutMS:    10000,
			SentenceMaxChars: 240,
			SentenceMinChars: 0,
			CacheEntries:     64,
		},
		Discovery: DiscoveryConfig{
			Enabled:           true,
			RefreshIntervalMS: 60000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RelayName, "VOXRELAY_NAME")
	overrideString(&cfg.Environment, "VOXRELAY_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOXRELAY_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOXRELAY_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOXRELAY_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOXRELAY_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOXRELAY_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOXRELAY_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "VOXRELAY_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "VOXRELAY_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOXRELAY_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOXRELAY_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOXRELAY_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOXRELAY_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOXRELAY_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOXRELAY_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOXRELAY_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Primary.Host, "VOXRELAY_PRIMARY_HOST")
	overrideInt(&cfg.Primary.Port, "VOXRELAY_PRIMARY_PORT")
	overrideString(&cfg.Primary.Voice, "VOXRELAY_PRIMARY_VOICE")
	overrideInt(&cfg.Primary.SampleRate, "VOXRELAY_PRIMARY_SAMPLE_RATE")
	overrideInt(&cfg.Primary.Channels, "VOXRELAY_PRIMARY_CHANNELS")
	overrideBool(&cfg.Primary.Streaming, "VOXRELAY_PRIMARY_STREAMING")
	overrideString(&cfg.Fallback.Host, "VOXRELAY_FALLBACK_HOST")
	overrideInt(&cfg.Fallback.Port, "VOXRELAY_FALLBACK_PORT")
	overrideString(&cfg.Fallback.Voice, "VOXRELAY_FALLBACK_VOICE")
	overrideInt(&cfg.Fallback.SampleRate, "VOXRELAY_FALLBACK_SAMPLE_RATE")
	overrideInt(&cfg.Fallback.Channels, "VOXRELAY_FALLBACK_CHANNELS")
	overrideBool(&cfg.Fallback.Streaming, "VOXRELAY_FALLBACK_STREAMING")
	overrideInt(&cfg.Synthesis.ProbeTimeoutMS, "VOXRELAY_SYNTHESIS_PROBE_TIMEOUT_MS")
	overrideInt(&cfg.Synthesis.ReadTimeoutMS, "VOXRELAY_SYNTHESIS_READ_TIMEOUT_MS")
	overrideInt(&cfg.Synthesis.SentenceMaxChars, "VOXRELAY_SYNTHESIS_SENTENCE_MAX_CHARS")
	overrideInt(&cfg.Synthesis.SentenceMinChars, "VOXRELAY_SYNTHESIS_SENTENCE_MIN_CHARS")
	overrideInt(&cfg.Synthesis.CacheEntries, "VOXRELAY_SYNTHESIS_CACHE_ENTRIES")
	overrideBool(&cfg.Discovery.Enabled, "VOXRELAY_DISCOVERY_ENABLED")
	overrideInt(&cfg.Discovery.RefreshIntervalMS, "VOXRELAY_DISCOVERY_REFRESH_INTERVAL_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RelayName == "" {
		return errors.New("relay_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if !cfg.Primary.Configured() {
		return errors.New("primary.host and primary.port must be set")
	}
	if cfg.Primary.SampleRate <= 0 {
		return errors.New("primary.sample_rate must be positive")
	}
	if cfg.Primary.Channels <= 0 {
		return errors.New("primary.channels must be positive")
	}
	if cfg.Fallback.Host != "" {
		if cfg.Fallback.Port <= 0 || cfg.Fallback.Port > 65535 {
			return errors.New("fallback.port must be between 1 and 65535 when a fallback host is set")
		}
		if cfg.Fallback.SampleRate <= 0 {
			return errors.New("fallback.sample_rate must be positive")
		}
		if cfg.Fallback.Channels <= 0 {
			return errors.New("fallback.channels must be positive")
		}
	}
	if cfg.Synthesis.ProbeTimeoutMS <= 0 {
		return errors.New("synthesis.probe_timeout_ms must be positive")
	}
	if cfg.Synthesis.ReadTimeoutMS <= cfg.Synthesis.ProbeTimeoutMS {
		return errors.New("synthesis.read_timeout_ms must be greater than probe timeout")
	}
	if cfg.Synthesis.SentenceMaxChars < 20 {
		return errors.New("synthesis.sentence_max_chars must be at least 20")
	}
	if cfg.Synthesis.SentenceMinChars < 0 {
		return errors.New("synthesis.sentence_min_chars must be >= 0")
	}
	if cfg.Synthesis.SentenceMinChars >= cfg.Synthesis.SentenceMaxChars {
		return errors.New("synthesis.sentence_min_chars must be less than sentence_max_chars")
	}
	if cfg.Synthesis.CacheEntries < 0 {
		return errors.New("synthesis.cache_entries must be >= 0")
	}
	if cfg.Discovery.Enabled && cfg.Discovery.RefreshIntervalMS <= 0 {
		return errors.New("discovery.refresh_interval_ms must be positive")
	}
	return nil
}
