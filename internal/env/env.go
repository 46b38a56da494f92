package env

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const NotExists = "~!-===X===-!~"

// Load reads KEY=VALUE pairs from the given dotenv files into the process
// environment. Variables that are already set win. Missing files are skipped.
func Load(files ...string) {
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}

		if err := godotenv.Load(file); err != nil {
			slog.Warn("couldn't load env file", "file", file, "error", err)
		}
	}
}

// GetString retrieves the value of the environment variable named by the key.
// It returns the value, or if the variable is not present, it returns the defaultValue.
func GetString(key, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	return value
}

// GetBool returns true if the env variable with the key set and is truthy and
// defaultValue otherwise.
func GetBool(key string, defaultValue bool) bool {
	strValue := GetString(key, NotExists)
	if strValue == NotExists {
		return defaultValue
	}

	if strValue == "1" || strValue == "true" {
		return true
	}

	return false
}

// GetInt returns an integer if the env variable with the key set and contains
// an integer and defaultValue otherwise.
func GetInt(key string, defaultValue int) int {
	strValue := GetString(key, NotExists)
	if strValue == NotExists {
		return defaultValue
	}

	intValue, err := strconv.ParseInt(strValue, 10, 64)
	if err != nil {
		return defaultValue
	}

	return int(intValue)
}

func GetUint64(key string, defaultValue uint64) uint64 {
	strValue := GetString(key, NotExists)
	if strValue == NotExists {
		return defaultValue
	}

	value, err := strconv.ParseUint(strValue, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// GetDuration accepts Go duration strings ("1500ms", "2s") as well as a bare
// number of milliseconds.
func GetDuration(key string, defaultValue time.Duration) time.Duration {
	strValue := GetString(key, NotExists)
	if strValue == NotExists {
		return defaultValue
	}

	if ms, err := strconv.ParseInt(strValue, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}

	d, err := time.ParseDuration(strValue)
	if err != nil {
		return defaultValue
	}

	return d
}

// GetStrings splits a comma separated variable, dropping empty items.
func GetStrings(key string, defaultValue []string) []string {
	strValue := GetString(key, "")
	if strValue == "" {
		return defaultValue
	}

	var values []string
	for _, s := range strings.Split(strValue, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}

		values = append(values, s)
	}

	return values
}

func GetFloat(key string, defaultValue float64) float64 {
	strValue := GetString(key, NotExists)
	if strValue == NotExists {
		return defaultValue
	}

	value, err := strconv.ParseFloat(strValue, 64)
	if err != nil {
		return defaultValue
	}

	return value
}
