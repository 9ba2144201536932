package infra

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации шлюза.
type Config struct {
	Server      ServerConfig                `mapstructure:"server"`
	Auth        AuthConfig                  `mapstructure:"auth"`
	RateLimit   RateLimitConfig             `mapstructure:"rate_limit"`
	State       StateConfig                 `mapstructure:"state"`
	Downstream  DownstreamDefaults          `mapstructure:"downstream"`
	Downstreams map[string]DownstreamConfig `mapstructure:"downstreams"`
	Logger      LoggerConfig                `mapstructure:"logger"`
	Metrics     MetricsConfig               `mapstructure:"metrics"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// AuthConfig — два статических bearer-токена.
type AuthConfig struct {
	TokenRead  string `mapstructure:"token_read"`
	TokenWrite string `mapstructure:"token_write"`
}

// RateLimitConfig — фиксированное окно на токен.
type RateLimitConfig struct {
	Window        time.Duration `mapstructure:"window"`
	MaxRequests   int           `mapstructure:"max_requests"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// StateConfig — каталог с PROJECT_STATE.json и журналами.
type StateConfig struct {
	Dir     string `mapstructure:"dir"`
	Project string `mapstructure:"project"`
}

// DownstreamDefaults — общие настройки надёжности исходящих вызовов.
type DownstreamDefaults struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	RPS           float64       `mapstructure:"rps"`
	Burst         int           `mapstructure:"burst"`
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	CBFailures    uint32        `mapstructure:"cb_failures"`
	ProbeAttempts uint          `mapstructure:"probe_attempts"`
}

// DownstreamConfig описывает один MCP-провайдер.
type DownstreamConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	Token     string `mapstructure:"token"`
	Transport string `mapstructure:"transport"` // http, sse
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // пусто — метрики не публикуются
}

// envDownstreams — короткие имена переменных окружения для известных downstream.
var envDownstreams = map[string]string{
	"stitch":             "STITCH",
	"memory_accelerator": "MEMORY",
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. ENV: STATE_DIR=/data перекроет state.dir
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	for name, d := range cfg.Downstreams {
		if d.Transport == "" {
			d.Transport = "http"
		}
		cfg.Downstreams[name] = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindLegacyEnv привязывает привычные имена переменных (SOVEREIGN_*, DOWNSTREAM_*).
func bindLegacyEnv(v *viper.Viper) error {
	binds := [][]string{
		{"server.port", "SOVEREIGN_PORT"},
		{"auth.token_read", "SOVEREIGN_TOKEN_READ"},
		{"auth.token_write", "SOVEREIGN_TOKEN_WRITE"},
	}
	for name, env := range envDownstreams {
		prefix := "DOWNSTREAM_" + env + "_"
		binds = append(binds,
			[]string{"downstreams." + name + ".base_url", prefix + "BASE_URL"},
			[]string{"downstreams." + name + ".token", prefix + "TOKEN"},
			[]string{"downstreams." + name + ".transport", prefix + "TRANSPORT"},
		)
	}
	for _, b := range binds {
		if err := v.BindEnv(b...); err != nil {
			return fmt.Errorf("bind env %s: %w", b[1], err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("rate_limit.window", time.Minute)
	v.SetDefault("rate_limit.max_requests", 60)
	v.SetDefault("rate_limit.sweep_interval", 5*time.Minute)

	v.SetDefault("state.dir", "./state")
	v.SetDefault("state.project", "sovereign")

	v.SetDefault("downstream.timeout", 30*time.Second)
	v.SetDefault("downstream.rps", 20)
	v.SetDefault("downstream.burst", 10)
	v.SetDefault("downstream.cb_max_requests", 1)
	v.SetDefault("downstream.cb_interval", 30*time.Second)
	v.SetDefault("downstream.cb_timeout", 30*time.Second)
	v.SetDefault("downstream.cb_failures", 5)
	v.SetDefault("downstream.probe_attempts", 3)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("metrics.addr", ":9090")
}

// Validate отсекает конфигурации, с которыми шлюз не может работать безопасно.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.TokenRead == "" {
		errs = append(errs, errors.New("auth.token_read (SOVEREIGN_TOKEN_READ) is required"))
	}
	if c.Auth.TokenWrite == "" {
		errs = append(errs, errors.New("auth.token_write (SOVEREIGN_TOKEN_WRITE) is required"))
	}
	if c.Auth.TokenRead != "" && c.Auth.TokenRead == c.Auth.TokenWrite {
		errs = append(errs, errors.New("auth: read and write tokens must differ"))
	}
	if c.RateLimit.Window <= 0 || c.RateLimit.MaxRequests <= 0 {
		errs = append(errs, errors.New("rate_limit: window and max_requests must be positive"))
	}
	if c.State.Dir == "" {
		errs = append(errs, errors.New("state.dir is required"))
	}
	for name, d := range c.Downstreams {
		if d.BaseURL == "" {
			errs = append(errs, fmt.Errorf("downstreams.%s.base_url is required", name))
		}
		if d.Token == "" {
			errs = append(errs, fmt.Errorf("downstreams.%s.token is required", name))
		}
		if d.Transport != "http" && d.Transport != "sse" {
			errs = append(errs, fmt.Errorf("downstreams.%s.transport: unknown transport %q", name, d.Transport))
		}
	}
	return errors.Join(errs...)
}
