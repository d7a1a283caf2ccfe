package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/kangjhooe/xclass-sub019/internal/types"
)

type Configuration struct {
	Deployment DeploymentConfig `validate:"required"`
	Server     ServerConfig     `validate:"required"`
	Logging    LoggingConfig    `validate:"required"`
	Postgres   PostgresConfig   `validate:"required"`
	Webhook    WebhookConfig    `validate:"required"`
	Billing    BillingConfig    `validate:"required"`
	Scheduler  SchedulerConfig  `validate:"required"`
}

type DeploymentConfig struct {
	Mode types.RunMode `validate:"required"`
}

type ServerConfig struct {
	Address string `validate:"required"`
}

type LoggingConfig struct {
	Level types.LogLevel `validate:"required"`
}

type PostgresConfig struct {
	Host                   string `validate:"required"`
	Port                   int    `validate:"required"`
	User                   string `validate:"required"`
	Password               string
	DBName                 string `validate:"required"`
	SSLMode                string `validate:"required"`
	MaxOpenConns           int
	MaxIdleConns           int
	ConnMaxLifetimeMinutes int
}

type WebhookConfig struct {
	Topic string `validate:"required"`
}

// BillingConfig tunes the metering and renewal behaviour
type BillingConfig struct {
	// TrialGraceDays extends the trial end before trial-end processing kicks in
	TrialGraceDays int `validate:"min=0"`
	// SweepBatchSize is the page size used by the renewal sweep
	SweepBatchSize int `validate:"min=1"`
	// MaxRetries bounds optimistic-lock retries per subscription
	MaxRetries int `validate:"min=1"`
}

type SchedulerConfig struct {
	// RenewalCron is the cron expression for the daily renewal sweep
	RenewalCron string `validate:"required"`
	Enabled     bool
}

func NewConfig() (*Configuration, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/xclass")

	v.SetEnvPrefix("XCLASS")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("deployment.mode", string(types.ModeLocal))
	v.SetDefault("server.address", ":8080")
	v.SetDefault("logging.level", string(types.LogLevelInfo))
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "xclass")
	v.SetDefault("postgres.dbname", "xclass")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.maxopenconns", 10)
	v.SetDefault("postgres.maxidleconns", 5)
	v.SetDefault("postgres.connmaxlifetimeminutes", 30)
	v.SetDefault("webhook.topic", "webhooks")
	v.SetDefault("billing.trialgracedays", 0)
	v.SetDefault("billing.sweepbatchsize", 100)
	v.SetDefault("billing.maxretries", 3)
	v.SetDefault("scheduler.renewalcron", "0 2 * * *")
	v.SetDefault("scheduler.enabled", true)
}

func (c Configuration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// GetDefaultConfig returns a default configuration for local development
// This is useful for running scripts or other non-web applications
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: types.ModeLocal},
		Logging:    LoggingConfig{Level: types.LogLevelDebug},
		Webhook:    WebhookConfig{Topic: "webhooks"},
		Billing: BillingConfig{
			TrialGraceDays: 0,
			SweepBatchSize: 100,
			MaxRetries:     3,
		},
		Scheduler: SchedulerConfig{
			RenewalCron: "0 2 * * *",
			Enabled:     false,
		},
	}
}

func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"user=%s password=%s dbname=%s host=%s port=%d sslmode=%s",
		c.User,
		c.Password,
		c.DBName,
		c.Host,
		c.Port,
		c.SSLMode,
	)
}
