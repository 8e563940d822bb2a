package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// LoadResult is the outcome of loading one configuration value.
//
// Value is the environment value when it parsed and validated, otherwise
// the default. Warning is set whenever the default replaced a value that
// was present but unusable.
type LoadResult[T any] struct {
	Value           T
	Warning         string
	FallbackApplied bool
}

// LoadEnv reads envKey, parses it and validates it. Unset or blank
// variables yield the default without a warning. Parse and validation
// failures yield the default with a warning; LoadEnv never fails.
//
// Example:
//
//	result := LoadEnv("SWEEP_TIMEZONE", "UTC", ParseString, ValidateTimezone)
//	if result.FallbackApplied {
//	    logger.Warn("Configuration fallback applied", slog.String("warning", result.Warning))
//	}
func LoadEnv[T any](envKey string, defaultValue T, parse func(string) (T, error), validator func(T) error) LoadResult[T] {
	raw := strings.TrimSpace(os.Getenv(envKey))
	if raw == "" {
		return LoadResult[T]{Value: defaultValue}
	}

	fallback := func(err error) LoadResult[T] {
		return LoadResult[T]{
			Value: defaultValue,
			Warning: fmt.Sprintf("Invalid %s='%s': %v, falling back to default '%v'",
				envKey, raw, err, defaultValue),
			FallbackApplied: true,
		}
	}

	value, err := parse(raw)
	if err != nil {
		return fallback(err)
	}
	if validator != nil {
		if err := validator(value); err != nil {
			return fallback(err)
		}
	}
	return LoadResult[T]{Value: value}
}

// ParseString is the identity parser for LoadEnv.
func ParseString(s string) (string, error) {
	return s, nil
}

// LoadEnvWithFallback loads a validated string.
func LoadEnvWithFallback(envKey, defaultValue string, validator func(string) error) LoadResult[string] {
	return LoadEnv(envKey, defaultValue, ParseString, validator)
}

// LoadEnvDuration loads a duration in time.ParseDuration format.
func LoadEnvDuration(envKey string, defaultValue time.Duration, validator func(time.Duration) error) LoadResult[time.Duration] {
	return LoadEnv(envKey, defaultValue, time.ParseDuration, validator)
}
