package config

import (
	"bytes"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/infortic/infortic/pkg/errors"
)

// EnvPrefix prefixes environment overrides: INFORTIC_PIPELINE_BATCH_SIZE
// overrides pipeline.batch_size.
const EnvPrefix = "INFORTIC"

// Load reads the YAML file at path (optional; "" uses defaults only),
// substitutes ${VAR} references with environment values, applies
// INFORTIC_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for callers that apply their own
// overrides (command-line flags) before validating.
func Read(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file").
				WithDetail("path", path)
		}
		if err := v.ReadConfig(bytes.NewReader([]byte(substituteEnvVars(string(data))))); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse config file").
				WithDetail("path", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to decode configuration")
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about, so every
	// leaf gets a default.
	d := Default()
	v.SetDefault("pipeline.batch_size", d.Pipeline.BatchSize)
	v.SetDefault("pipeline.inter_batch_pause", d.Pipeline.InterBatchPause)
	v.SetDefault("pipeline.missing_key_policy", string(d.Pipeline.MissingKeyPolicy))
	v.SetDefault("pipeline.post_clean_check", string(d.Pipeline.PostCleanCheck))
	v.SetDefault("pipeline.fail_on_batch_error", d.Pipeline.FailOnBatchError)
	v.SetDefault("pipeline.dead_letter_dir", d.Pipeline.DeadLetterDir)

	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.base_delay", d.Retry.BaseDelay)
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay)
	v.SetDefault("retry.retry_on", d.Retry.RetryOn)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.postgres.dsn", d.Store.Postgres.DSN)
	v.SetDefault("store.postgres.max_conns", d.Store.Postgres.MaxConns)
	v.SetDefault("store.postgres.simple_protocol", d.Store.Postgres.SimpleProtocol)
	v.SetDefault("store.postgres.connect_timeout", d.Store.Postgres.ConnectTimeout)
	v.SetDefault("store.rest.url", d.Store.REST.URL)
	v.SetDefault("store.rest.api_key", d.Store.REST.APIKey)
	v.SetDefault("store.rest.schema", d.Store.REST.Schema)
	v.SetDefault("store.rest.timeout", d.Store.REST.Timeout)
	v.SetDefault("store.rest.rate_limit_per_sec", d.Store.REST.RateLimitPerSec)
	v.SetDefault("store.rest.rate_burst", d.Store.REST.RateBurst)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.development", d.Logging.Development)
	v.SetDefault("logging.encoding", d.Logging.Encoding)
	v.SetDefault("logging.output_paths", d.Logging.OutputPaths)
	v.SetDefault("logging.file.path", d.Logging.File.Path)
	v.SetDefault("logging.file.max_size_mb", d.Logging.File.MaxSizeMB)
	v.SetDefault("logging.file.max_backups", d.Logging.File.MaxBackups)
	v.SetDefault("logging.file.max_age_days", d.Logging.File.MaxAgeDays)
	v.SetDefault("logging.file.compress", d.Logging.File.Compress)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	return v
}

// Render returns the configuration as YAML with the API key masked.
func Render(cfg *Config) ([]byte, error) {
	c := *cfg
	if c.Store.REST.APIKey != "" {
		c.Store.REST.APIKey = "****"
	}
	if c.Store.Postgres.DSN != "" {
		c.Store.Postgres.DSN = maskDSN(c.Store.Postgres.DSN)
	}
	data, err := yaml.Marshal(&c)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to marshal YAML")
	}
	return data, nil
}

// Save writes the configuration to a YAML file without masking.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to marshal YAML")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to write config file").
			WithDetail("path", path)
	}
	return nil
}

// maskDSN hides the password of a postgres:// URL or of a keyword/value
// DSN ("host=db user=app password=secret").
func maskDSN(dsn string) string {
	scheme := strings.Index(dsn, "://")
	if scheme < 0 {
		return maskKeywordDSN(dsn)
	}
	at := strings.LastIndex(dsn, "@")
	if at < 0 || scheme > at {
		return maskPasswordParam(dsn)
	}
	userinfo := dsn[scheme+3 : at]
	colon := strings.Index(userinfo, ":")
	if colon < 0 {
		return maskPasswordParam(dsn)
	}
	return maskPasswordParam(dsn[:scheme+3] + userinfo[:colon] + ":****" + dsn[at:])
}

// maskKeywordDSN replaces the value of every password key, quoted or not.
func maskKeywordDSN(dsn string) string {
	var b strings.Builder
	for i := 0; i < len(dsn); {
		j := strings.Index(dsn[i:], "password")
		if j < 0 {
			b.WriteString(dsn[i:])
			break
		}
		j += i
		k := j + len("password")
		for k < len(dsn) && dsn[k] == ' ' {
			k++
		}
		if k >= len(dsn) || dsn[k] != '=' || (j > 0 && dsn[j-1] != ' ') {
			b.WriteString(dsn[i : j+len("password")])
			i = j + len("password")
			continue
		}
		k++
		for k < len(dsn) && dsn[k] == ' ' {
			k++
		}
		b.WriteString(dsn[i:k])
		b.WriteString("****")
		i = skipDSNValue(dsn, k)
	}
	return b.String()
}

// skipDSNValue returns the index just past the value starting at i.
func skipDSNValue(dsn string, i int) int {
	if i < len(dsn) && dsn[i] == '\'' {
		for i++; i < len(dsn); i++ {
			switch dsn[i] {
			case '\\':
				i++
			case '\'':
				return i + 1
			}
		}
		return len(dsn)
	}
	for i < len(dsn) && dsn[i] != ' ' {
		i++
	}
	return i
}

// maskPasswordParam hides a password query parameter of a URL DSN.
func maskPasswordParam(dsn string) string {
	q := strings.Index(dsn, "?")
	if q < 0 {
		return dsn
	}
	params := strings.Split(dsn[q+1:], "&")
	for i, p := range params {
		if strings.HasPrefix(p, "password=") {
			params[i] = "password=****"
		}
	}
	return dsn[:q+1] + strings.Join(params, "&")
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values.
// Substituted values are not scanned again.
func substituteEnvVars(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		b.WriteString(content[:start])
		b.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}
