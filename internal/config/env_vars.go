package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	portEnvVar     = "PORT"
	appNameVar     = "APP_NAME"
	baseURLVar     = "BASE_URL"
	logLevelEnvVar = "LOG_LEVEL"
	dotEnvFileVar  = "DOTENV_FILE"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, "8080")
	if !strings.HasPrefix(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Session Auth")
}

// GetBaseURL returns the public base URL of the server (e.g., "https://app.example.com")
func (EnvVars) GetBaseURL() string {
	return GetEnv(baseURLVar, "http://localhost:8080")
}

func (EnvVars) GetLogLevel() string {
	return strings.ToLower(GetEnv(logLevelEnvVar, "info"))
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

// LoadDotEnv loads variables from the file named by DOTENV_FILE (default ".env").
// Variables already present in the environment win and a missing file is ignored.
func LoadDotEnv() {
	file := GetEnv(dotEnvFileVar, ".env")
	if _, err := os.Stat(file); err != nil {
		return
	}
	if err := godotenv.Load(file); err != nil {
		log.Warn().Err(err).Str("file", file).Msg("failed to load env file")
	}
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetFirstEnv returns the value of the first variable in envVars that is set.
func GetFirstEnv(envVars ...string) string {
	for _, envVar := range envVars {
		if value := strings.TrimSpace(os.Getenv(envVar)); value != "" {
			return value
		}
	}
	return ""
}

// GetBoolEnv parses envVar as a boolean, returning defaultValue when unset or unparsable.
func GetBoolEnv(envVar string, defaultValue bool) bool {
	raw := strings.TrimSpace(os.Getenv(envVar))
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		log.Warn().Str("var", envVar).Str("value", raw).Msg("invalid boolean, using default")
		return defaultValue
	}
	return value
}

// GetPositiveSeconds parses envVar as a positive number of seconds. Unset values return
// defaultValue silently; non-positive or unparsable values log a warning and return defaultValue.
func GetPositiveSeconds(envVar string, defaultValue time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(envVar))
	if raw == "" {
		return defaultValue
	}
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seconds <= 0 {
		log.Warn().
			Str("var", envVar).
			Str("value", raw).
			Dur("default", defaultValue).
			Msg("ttl must be a positive integer number of seconds, using default")
		return defaultValue
	}
	return time.Duration(seconds) * time.Second
}

// GetListEnv splits a comma separated variable, dropping empty items.
func GetListEnv(envVar string) []string {
	var items []string
	for _, item := range strings.Split(os.Getenv(envVar), ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
