package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/nimburion/configdata/pkg/configdata"
	"github.com/nimburion/configdata/pkg/observability/logger"
)

const redactedValue = "***"

// minJWTSecretLength matches the HS256 key size.
const minJWTSecretLength = 32

// Validate checks the configuration for values that would fail later at wiring time.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Service.Name) == "" {
		errs = append(errs, errors.New("service.name is required"))
	}
	if _, err := configdata.ParsePrecedence(c.Resolution.Precedence); err != nil {
		errs = append(errs, fmt.Errorf("resolution.precedence: %w", err))
	}
	if _, err := configdata.ParseImportOrder(c.Resolution.ImportOrder); err != nil {
		errs = append(errs, fmt.Errorf("resolution.import_order: %w", err))
	}
	if c.Resolution.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("resolution.parallelism must be at least 1, got %d", c.Resolution.Parallelism))
	}
	if c.Resolution.Timeout < 0 || c.Resolution.FetchTimeout < 0 {
		errs = append(errs, errors.New("resolution timeouts must not be negative"))
	}
	if c.Resolution.BreakerFailures < 0 {
		errs = append(errs, errors.New("resolution.breaker_failures must not be negative"))
	}
	if c.Refresh.Interval < 0 || c.Refresh.MinInterval < 0 {
		errs = append(errs, errors.New("refresh intervals must not be negative"))
	}
	if c.Refresh.MinInterval > 0 && c.Refresh.Burst < 1 {
		errs = append(errs, errors.New("refresh.burst must be at least 1 when refresh.min_interval is set"))
	}

	switch c.Vault.KVVersion {
	case 0, 1, 2:
	default:
		errs = append(errs, fmt.Errorf("vault.kv_version must be 0, 1 or 2, got %d", c.Vault.KVVersion))
	}
	if (c.Vault.RoleID == "") != (c.Vault.SecretID == "") {
		errs = append(errs, errors.New("vault.role_id and vault.secret_id must be set together"))
	}
	if c.Redis.URL != "" {
		if _, err := url.Parse(c.Redis.URL); err != nil {
			errs = append(errs, fmt.Errorf("redis.url: %w", err))
		}
	}

	for name, section := range map[string]SQLConfig{"postgres": c.Postgres, "mysql": c.MySQL} {
		if section.URL == "" {
			continue
		}
		if section.MaxConns < 0 {
			errs = append(errs, fmt.Errorf("%s.max_conns must not be negative", name))
		}
		if section.Table == "" {
			errs = append(errs, fmt.Errorf("%s.table is required", name))
		}
	}
	if c.MySQL.URL != "" {
		if _, err := mysql.ParseDSN(c.MySQL.URL); err != nil {
			errs = append(errs, fmt.Errorf("mysql.url: %w", err))
		}
	}
	if c.MongoDB.URL != "" && c.MongoDB.Database == "" {
		errs = append(errs, errors.New("mongodb.database is required when mongodb.url is set"))
	}

	switch strings.ToLower(c.Bus.Type) {
	case "":
	case "kafka":
		if len(c.Bus.Brokers) == 0 {
			errs = append(errs, errors.New("bus.brokers is required for the kafka bus"))
		}
	case "rabbitmq":
		if c.Bus.URL == "" {
			errs = append(errs, errors.New("bus.url is required for the rabbitmq bus"))
		}
	case "sqs":
		if c.Bus.QueueURL == "" || c.Bus.Region == "" {
			errs = append(errs, errors.New("bus.queue_url and bus.region are required for the sqs bus"))
		}
	default:
		errs = append(errs, fmt.Errorf("bus.type must be kafka, rabbitmq or sqs, got %q", c.Bus.Type))
	}

	if c.Management.Enabled && (c.Management.Port < 1 || c.Management.Port > 65535) {
		errs = append(errs, fmt.Errorf("management.port must be between 1 and 65535, got %d", c.Management.Port))
	}
	if secret := c.Management.Auth.JWTSecret; secret != "" && len(secret) < minJWTSecretLength {
		errs = append(errs, fmt.Errorf("management.auth.jwt_secret must be at least %d bytes", minJWTSecretLength))
	}

	if _, err := logger.ParseLogLevel(c.Observability.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("observability.log_level: %w", err))
	}
	if _, err := logger.ParseLogFormat(c.Observability.LogFormat); err != nil {
		errs = append(errs, fmt.Errorf("observability.log_format: %w", err))
	}
	if c.Observability.TracingEnabled {
		if c.Observability.TracingEndpoint == "" {
			errs = append(errs, errors.New("observability.tracing_endpoint is required when tracing is enabled"))
		}
		if rate := c.Observability.TracingSampleRate; rate < 0 || rate > 1 {
			errs = append(errs, fmt.Errorf("observability.tracing_sample_rate must be between 0 and 1, got %v", rate))
		}
	}

	return errors.Join(errs...)
}

// Redacted returns a copy with credentials masked, suitable for printing.
func (c *Config) Redacted() *Config {
	out := *c
	out.Config.Import = append([]string(nil), c.Config.Import...)
	out.Vault.Token = mask(c.Vault.Token)
	out.Vault.SecretID = mask(c.Vault.SecretID)
	out.S3.SecretAccessKey = mask(c.S3.SecretAccessKey)
	out.S3.SessionToken = mask(c.S3.SessionToken)
	out.Redis.URL = RedactURL(c.Redis.URL)
	out.Postgres.URL = RedactURL(c.Postgres.URL)
	out.MySQL.URL = redactDSN(c.MySQL.URL)
	out.DynamoDB.SecretAccessKey = mask(c.DynamoDB.SecretAccessKey)
	out.DynamoDB.SessionToken = mask(c.DynamoDB.SessionToken)
	out.MongoDB.URL = RedactURL(c.MongoDB.URL)
	out.Memcached.Servers = append([]string(nil), c.Memcached.Servers...)
	out.Bus.Brokers = append([]string(nil), c.Bus.Brokers...)
	out.Bus.URL = RedactURL(c.Bus.URL)
	out.Bus.SecretAccessKey = mask(c.Bus.SecretAccessKey)
	out.Management.Auth.JWTSecret = mask(c.Management.Auth.JWTSecret)
	return &out
}

// IsSecretKey reports whether a property key names a credential.
func IsSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range []string{"password", "secret", "token", "credential", "private_key", "api_key", "apikey"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// RedactURL masks the password of a URL with user info.
func RedactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.User == nil {
		return raw
	}
	if _, has := parsed.User.Password(); !has {
		return raw
	}
	return parsed.Redacted()
}

// redactDSN masks the password of a MySQL DSN. Unparseable DSNs are masked
// whole.
func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return redactedValue
	}
	if parsed.Passwd == "" {
		return dsn
	}
	parsed.Passwd = redactedValue
	return parsed.FormatDSN()
}

func mask(value string) string {
	if value == "" {
		return ""
	}
	return redactedValue
}
