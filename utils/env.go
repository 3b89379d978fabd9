package utils

import (
	"os"
	"slices"
	"strings"
	"time"

	"go.viam.com/rgbdview/logging"
)

const (
	// EnvVarPrefix is the prefix for all viewer environment variables.
	EnvVarPrefix = "RGBDVIEW_"

	// ReadTimeoutEnvVar overrides how long the display loop waits for a frame.
	ReadTimeoutEnvVar = "RGBDVIEW_READ_TIMEOUT"

	// DebugEnvVar turns on debug logging when set to one of EnvTrueValues.
	DebugEnvVar = "RGBDVIEW_DEBUG"
)

// EnvTrueValues contains strings that we interpret as boolean true in env vars.
var EnvTrueValues = []string{"true", "yes", "1", "TRUE", "YES"}

// GetReadTimeout returns the frame read timeout: the env variable value if set and valid,
// defaultTimeout otherwise.
func GetReadTimeout(defaultTimeout time.Duration, logger logging.Logger) time.Duration {
	return timeoutHelper(defaultTimeout, ReadTimeoutEnvVar, logger)
}

func timeoutHelper(defaultTimeout time.Duration, timeoutEnvVar string, logger logging.Logger) time.Duration {
	if timeoutVal := os.Getenv(timeoutEnvVar); timeoutVal != "" {
		timeout, err := time.ParseDuration(timeoutVal)
		if err != nil || timeout <= 0 {
			logger.Warnw("failed to parse env var, falling back to default timeout",
				"env_var", timeoutEnvVar, "value", timeoutVal, "default", defaultTimeout.String())
			return defaultTimeout
		}
		return timeout
	}
	return defaultTimeout
}

// DebugFromEnv reports whether DebugEnvVar asks for debug logging.
func DebugFromEnv() bool {
	return slices.Contains(EnvTrueValues, os.Getenv(DebugEnvVar))
}

// LogEnvVariables logs the viewer environment variables that are set.
func LogEnvVariables(msg string, logger logging.Logger) {
	var env []string
	for _, v := range os.Environ() {
		if strings.HasPrefix(v, EnvVarPrefix) {
			env = append(env, v)
		}
	}
	if len(env) == 0 {
		return
	}
	logger.Debugw(msg, "env", env)
}
