package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// envValue parses key with parse, keeping def when the variable is unset or
// does not parse.
func envValue[T any](key string, def T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	v, err := parse(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return v
}

func getEnv(key, defaultVal string) string {
	return envValue(key, defaultVal, func(s string) (string, error) { return s, nil })
}

func getEnvAsInt(key string, defaultVal int) int {
	return envValue(key, defaultVal, strconv.Atoi)
}

func getEnvAsBool(key string, defaultVal bool) bool {
	return envValue(key, defaultVal, strconv.ParseBool)
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	return envValue(key, defaultVal, time.ParseDuration)
}

// getEnvAsStringSlice reads a comma separated list. Blank entries are dropped
// and an all-blank value keeps the defaults.
func getEnvAsStringSlice(key string, defaults []string) []string {
	return envValue(key, defaults, func(s string) ([]string, error) {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			return defaults, nil
		}
		return out, nil
	})
}
