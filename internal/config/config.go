package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ServerAddress string
	Environment   string
	Database      DatabaseConfig
	Migration     MigrationConfig
	Engine        EngineConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	Params   string
}

type MigrationConfig struct {
	Dir string
}

// EngineConfig carries the reconciliation knobs: which company the service
// books for and the auto-reconcile cron budgets.
type EngineConfig struct {
	CompanyID         int64
	CronInterval      time.Duration
	CronBatchSize     int
	CronLimitTime     time.Duration
	AutoReconcileDays int
}

func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.SetDefault("CRON_INTERVAL", "5m")
	viper.SetDefault("CRON_BATCH_SIZE", 100)
	viper.SetDefault("CRON_LIMIT_TIME", "2m")
	viper.SetDefault("AUTO_RECONCILE_DAYS", 90)

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := &Config{
		ServerAddress: viper.GetString("SERVER_ADDRESS"),
		Environment:   viper.GetString("ENVIRONMENT"),
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetInt("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			Name:     viper.GetString("DB_NAME"),
			Params:   viper.GetString("DB_PARAMS"),
		},
		Migration: MigrationConfig{
			Dir: viper.GetString("MIGRATION_DIR"),
		},
		Engine: EngineConfig{
			CompanyID:         viper.GetInt64("COMPANY_ID"),
			CronInterval:      viper.GetDuration("CRON_INTERVAL"),
			CronBatchSize:     viper.GetInt("CRON_BATCH_SIZE"),
			CronLimitTime:     viper.GetDuration("CRON_LIMIT_TIME"),
			AutoReconcileDays: viper.GetInt("AUTO_RECONCILE_DAYS"),
		},
	}

	return config, nil
}

// GetDSN returns the MySQL DSN string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Params,
	)
}

// GetMigrationDBURL returns the database URL for migrations
func (c *Config) GetMigrationDBURL() string {
	return fmt.Sprintf("mysql://%s:%s@tcp(%s:%d)/%s?%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Params,
	)
}
