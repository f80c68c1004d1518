package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Scheduling SchedulingConfig
	Session    SessionConfig
	NLU        NLUConfig
	SMTP       SMTPConfig
	Secrets    Secrets `mapstructure:"-"`
}

type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeoutSeconds"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SchedulingConfig is the immutable policy surface consumed by the
// validator and the slot allocator. Defaults cover a clinic running
// 15-minute slots with a 90-day booking horizon.
type SchedulingConfig struct {
	SlotDurationMinutes   int    `mapstructure:"slot_duration_minutes"`
	DayStart              string `mapstructure:"day_start"` // HH:MM, origin of slot numbering
	AdvanceBookingDays    int    `mapstructure:"advance_booking_days"`
	MinNoticeHours        int    `mapstructure:"min_notice_hours"`
	WeekendDays           []int  `mapstructure:"weekend_days"` // time.Weekday values
	MaxAppointmentsPerDay int    `mapstructure:"max_appointments_per_day"`
	MinSlotCount          int    `mapstructure:"min_slot_count"`
	MaxSlotCount          int    `mapstructure:"max_slot_count"`
}

type SessionConfig struct {
	TTLMinutes  int `mapstructure:"ttl_minutes"`
	HistoryCap  int `mapstructure:"history_cap"`
	MaxTurns    int `mapstructure:"max_turns"`
	HistorySent int `mapstructure:"history_sent"` // messages forwarded as NLU context
}

type NLUConfig struct {
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature"`
}

type SMTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	User string `mapstructure:"user"`
	From string `mapstructure:"from"`
}

// Secrets are never read from the config file, only from the environment.
type Secrets struct {
	OpenAIKey    string `envconfig:"OPENAI_API_KEY"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
}

func (c SchedulingConfig) SlotDuration() time.Duration {
	return time.Duration(c.SlotDurationMinutes) * time.Minute
}

func (c SessionConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process("", &config.Secrets); err != nil {
		return nil, fmt.Errorf("failed to read secrets from environment: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.timeoutSeconds", 30)
	viper.SetDefault("scheduling.slot_duration_minutes", 15)
	viper.SetDefault("scheduling.day_start", "08:00")
	viper.SetDefault("scheduling.advance_booking_days", 90)
	viper.SetDefault("scheduling.min_notice_hours", 2)
	viper.SetDefault("scheduling.weekend_days", []int{0, 6})
	viper.SetDefault("scheduling.max_appointments_per_day", 2)
	viper.SetDefault("scheduling.min_slot_count", 1)
	viper.SetDefault("scheduling.max_slot_count", 4)
	viper.SetDefault("session.ttl_minutes", 30)
	viper.SetDefault("session.history_cap", 40)
	viper.SetDefault("session.max_turns", 200)
	viper.SetDefault("session.history_sent", 6)
	viper.SetDefault("nlu.model", "gpt-4o-mini")
	viper.SetDefault("nlu.temperature", 0.2)
}
