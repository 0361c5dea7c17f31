package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/EternisAI/silo-stations/internal/allocation"
	"github.com/EternisAI/silo-stations/internal/api/http"
	"github.com/EternisAI/silo-stations/internal/auth"
	"github.com/EternisAI/silo-stations/internal/db"
	"github.com/EternisAI/silo-stations/internal/notify"
	"github.com/EternisAI/silo-stations/internal/report"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	Log        LogConfig
	Http       http.Config
	Storage    string `mapstructure:"storage"`
	Database   db.Config
	Auth       AuthConfig
	Allocation allocation.Config
	Notify     NotifyConfig
	Report     report.Config
}

type AuthConfig struct {
	JWT auth.JWTConfig `mapstructure:"jwt"`
	// Roles maps a role name to its capabilities. Empty means the built-in
	// defaults.
	Roles map[string][]string `mapstructure:"roles"`
}

type NotifyConfig struct {
	QueueSize int                   `mapstructure:"queue_size"`
	Timeout   time.Duration         `mapstructure:"timeout"`
	Log       bool                  `mapstructure:"log"`
	Telegram  notify.TelegramConfig `mapstructure:"telegram"`
	Redis     notify.RedisConfig    `mapstructure:"redis"`
	Websocket WebsocketConfig       `mapstructure:"websocket"`
}

type WebsocketConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

var config Config

func ParseCommaSeparated(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func InitConfig() {
	var err error

	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/silo-stations-server")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("auth.jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("database.url", "DATABASE_URL")
	_ = viper.BindEnv("notify.telegram.token", "TELEGRAM_TOKEN")

	if err := viper.ReadInConfig(); err != nil {
		panic(err)
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		panic(err)
	}

	// A chat list set through the environment arrives as one string.
	var chatIDs []string
	for _, id := range config.Notify.Telegram.ChatIDs {
		chatIDs = append(chatIDs, ParseCommaSeparated(id)...)
	}
	config.Notify.Telegram.ChatIDs = chatIDs

	// Initialize logger with configured log level
	initLogger(config.Log.Level)

	// Pretty print config as JSON (only at DEBUG level)
	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		redacted := config
		redacted.Auth.JWT.Secret = "***"
		redacted.Database.Url = "***"
		redacted.Notify.Telegram.Token = "***"
		redacted.Notify.Redis.Password = "***"
		configJSON, err := json.MarshalIndent(redacted, "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}
