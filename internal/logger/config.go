package logger

import (
	"io"
	"os"
	"strconv"
)

// Options configures New.
type Options struct {
	Level   string // debug, info, warn, error
	Format  string // json, text
	Service string
	Env     string // local, dev, prod

	// Output replaces stdout and the rotating file when set.
	Output io.Writer

	// File is only written outside the local environment.
	File     string
	FileOnly bool
	Rotation Rotation
}

// Rotation mirrors the lumberjack settings.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// OptionsFromEnv reads LOG_* and APP_ENV variables for the named service.
func OptionsFromEnv(service string) Options {
	return Options{
		Level:    env("LOG_LEVEL", "info"),
		Format:   env("LOG_FORMAT", "json"),
		Service:  env("SERVICE_NAME", service),
		Env:      env("APP_ENV", "local"),
		File:     env("LOG_FILE", "/var/log/mediavault/"+service+".log"),
		FileOnly: envBool("LOG_FILE_ONLY", false),
		Rotation: Rotation{
			MaxSizeMB:  envInt("LOG_MAX_SIZE", 100),
			MaxBackups: envInt("LOG_MAX_BACKUPS", 7),
			MaxAgeDays: envInt("LOG_MAX_AGE", 30),
			Compress:   envBool("LOG_COMPRESS", true),
		},
	}
}

func (o Options) local() bool {
	return o.Env == "" || o.Env == "local"
}

func env(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if i, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return i
	}
	return fallback
}
