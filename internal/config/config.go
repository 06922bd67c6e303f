package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "IDC"

type Config struct {
	ListenAddr      string        `mapstructure:"listen_addr" validate:"required"`
	DatabaseURL     string        `mapstructure:"database_url" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`

	JWTSecret string        `mapstructure:"jwt_secret" validate:"required,min=16"`
	JWTIssuer string        `mapstructure:"jwt_issuer" validate:"required"`
	JWTTTL    time.Duration `mapstructure:"jwt_ttl" validate:"gt=0"`

	PanelBaseURL      string        `mapstructure:"panel_base_url" validate:"required,url"`
	PanelAPIKey       string        `mapstructure:"panel_api_key" validate:"required"`
	PanelTimeout      time.Duration `mapstructure:"panel_timeout" validate:"gt=0"`
	PanelPollInterval time.Duration `mapstructure:"panel_poll_interval" validate:"gt=0"`
	StartWaitMax      time.Duration `mapstructure:"start_wait_max" validate:"gt=0"`

	CaptchaBackend string        `mapstructure:"captcha_backend" validate:"oneof=memory redis"`
	CaptchaTTL     time.Duration `mapstructure:"captcha_ttl" validate:"gt=0"`
	RedisAddr      string        `mapstructure:"redis_addr" validate:"required_if=CaptchaBackend redis"`
	RedisPassword  string        `mapstructure:"redis_password"`
	RedisDB        int           `mapstructure:"redis_db" validate:"gte=0"`

	// PaymentMethods is a comma separated list of enabled channels (wechat, alipay).
	PaymentMethods    string        `mapstructure:"payment_methods"`
	PaymentGatewayURL string        `mapstructure:"payment_gateway_url" validate:"required_with=PaymentMethods,omitempty,url"`
	PaymentGatewayKey string        `mapstructure:"payment_gateway_key" validate:"required_with=PaymentMethods"`
	PaymentNotifyURL  string        `mapstructure:"payment_notify_url" validate:"omitempty,url"`
	PaymentTimeout    time.Duration `mapstructure:"payment_timeout" validate:"gt=0"`

	MirrorSyncInterval time.Duration `mapstructure:"mirror_sync_interval" validate:"gt=0"`
	RateLimitRPS       float64       `mapstructure:"rate_limit_rps" validate:"gt=0"`
	RateLimitBurst     int           `mapstructure:"rate_limit_burst" validate:"gte=1"`

	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=json console"`
}

var defaults = map[string]any{
	"listen_addr":          ":8080",
	"shutdown_timeout":     "10s",
	"jwt_issuer":           "idc-control-plane",
	"jwt_ttl":              "24h",
	"panel_timeout":        "30s",
	"panel_poll_interval":  "2s",
	"start_wait_max":       "60s",
	"captcha_backend":      "memory",
	"captcha_ttl":          "5m",
	"redis_db":             0,
	"payment_methods":      "",
	"payment_timeout":      "15s",
	"mirror_sync_interval": "1m",
	"rate_limit_rps":       5,
	"rate_limit_burst":     10,
	"log_level":            "info",
	"log_format":           "json",
}

// keys without a default still need binding so Unmarshal sees them.
var requiredKeys = []string{
	"database_url",
	"jwt_secret",
	"panel_base_url",
	"panel_api_key",
	"redis_addr",
	"redis_password",
	"payment_gateway_url",
	"payment_gateway_key",
	"payment_notify_url",
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadFromEnv reads IDC_* variables, optionally seeded from a .env file.
func LoadFromEnv() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	for _, k := range requiredKeys {
		if err := v.BindEnv(k); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", k, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// EnabledPaymentMethods splits PaymentMethods, dropping blanks.
func (c Config) EnabledPaymentMethods() []string {
	var out []string
	for _, m := range strings.Split(c.PaymentMethods, ",") {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			out = append(out, m)
		}
	}
	return out
}
