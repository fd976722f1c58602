package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode    string `mapstructure:"mode"`
	APIBase string `mapstructure:"api_base_url"`

	PollInterval       time.Duration `mapstructure:"poll_interval"`
	HTTPTimeout        time.Duration `mapstructure:"http_timeout"`
	RelayFailureBudget int           `mapstructure:"relay_failure_budget"`
	RelayPause         time.Duration `mapstructure:"relay_pause"`

	STUNServers       []string      `mapstructure:"stun_servers"`
	ConnectStaggerMax time.Duration `mapstructure:"connect_stagger_max"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	ParticipantsEvery time.Duration `mapstructure:"participants_every"`

	InputDevice  string `mapstructure:"input_device"`
	OutputDevice string `mapstructure:"output_device"`

	LogLevel string `mapstructure:"log_level"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("api_base_url", "http://localhost:8080/api")
	v.SetDefault("poll_interval", "750ms")
	v.SetDefault("http_timeout", "5s")
	v.SetDefault("relay_failure_budget", 3)
	v.SetDefault("relay_pause", "5s")
	v.SetDefault("stun_servers", []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
	})
	v.SetDefault("connect_stagger_max", "1s")
	v.SetDefault("reconnect_delay", "2s")
	v.SetDefault("participants_every", "5s")
	v.SetDefault("log_level", "info")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
