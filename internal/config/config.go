package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string
	DBPath        string
	JWTSecret     string
	TokenTTL      time.Duration
	CORSOrigins   []string
	MigrationsDir string
	PresetsFile   string
	LogLevel      string
	LogFormat     string
}

// Load reads configuration from defaults, an optional file named by
// CONFIG_FILE, and environment variables, in increasing precedence.
func Load() (Config, error) {
	v := viper.New()
	v.SetDefault("port", "8080")
	v.SetDefault("db_path", "./data/timer.db")
	v.SetDefault("jwt_secret", "change-this-secret")
	v.SetDefault("token_ttl_hours", 72)
	v.SetDefault("cors_origins", []string{"http://localhost:5173", "http://127.0.0.1:5173"})
	v.SetDefault("migrations_dir", "./migrations")
	v.SetDefault("presets_file", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.AutomaticEnv()

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	ttlHours := v.GetInt("token_ttl_hours")
	if ttlHours <= 0 {
		ttlHours = 72
	}

	cfg := Config{
		Port:          v.GetString("port"),
		DBPath:        v.GetString("db_path"),
		JWTSecret:     v.GetString("jwt_secret"),
		TokenTTL:      time.Duration(ttlHours) * time.Hour,
		CORSOrigins:   splitList(v.GetStringSlice("cors_origins")),
		MigrationsDir: v.GetString("migrations_dir"),
		PresetsFile:   v.GetString("presets_file"),
		LogLevel:      v.GetString("log_level"),
		LogFormat:     v.GetString("log_format"),
	}
	return cfg, nil
}

// splitList flattens comma separated entries, as set through the environment.
func splitList(values []string) []string {
	items := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				items = append(items, trimmed)
			}
		}
	}
	return items
}
