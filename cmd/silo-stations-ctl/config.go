package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/EternisAI/silo-stations/internal/allocation"
	"github.com/EternisAI/silo-stations/internal/archive"
	"github.com/EternisAI/silo-stations/internal/db"
	"github.com/EternisAI/silo-stations/internal/report"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the subset of the server configuration the ctl tool needs, read
// from the same application.yaml.
type Config struct {
	Database   db.Config
	Allocation allocation.Config
	Report     report.Config
	Archive    archive.Config
}

func loadConfig(path string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("application")
		v.AddConfigPath(".")
		v.AddConfigPath("./cmd/silo-stations-server")
		v.SetConfigType("yaml")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("database.url", "DATABASE_URL")

	for _, name := range []string{"database.url", "database.schema", "archive.driver", "archive.dir"} {
		if f := rootCmd.PersistentFlags().Lookup(flagName(name)); f != nil {
			_ = v.BindPFlag(name, f)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func flagName(key string) string {
	return strings.ReplaceAll(key, ".", "-")
}
