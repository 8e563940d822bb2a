// Package config holds fail-open configuration helpers for background
// components: validators and environment loaders that fall back to a
// default with a warning instead of failing startup.
package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard five field expressions and descriptors such
// as "@hourly" or "@every 30s".
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateCronSchedule validates a cron expression using the robfig/cron/v3 parser.
//
// Example:
//
//	err := ValidateCronSchedule("*/5 * * * *")
//
// Validation tool: https://crontab.guru/
func ValidateCronSchedule(schedule string) error {
	if schedule == "" {
		return fmt.Errorf("invalid cron schedule: cannot be empty")
	}

	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule '%s': %w", schedule, err)
	}
	return nil
}

// ParseCronSchedule parses a validated schedule for use with cron.Schedule.
func ParseCronSchedule(schedule string) (cron.Schedule, error) {
	if err := ValidateCronSchedule(schedule); err != nil {
		return nil, err
	}
	return cronParser.Parse(schedule)
}

// ValidateTimezone validates a timezone string by attempting to load it
// using time.LoadLocation.
//
// Common issues:
//   - Missing tzdata package in Docker image
//   - Using UTC offset instead of IANA name (e.g., "+09:00" instead of "Asia/Tokyo")
func ValidateTimezone(timezone string) error {
	if timezone == "" {
		return fmt.Errorf("invalid timezone: cannot be empty")
	}

	if _, err := time.LoadLocation(timezone); err != nil {
		return fmt.Errorf("invalid timezone '%s': %w", timezone, err)
	}
	return nil
}

// ValidateDuration validates that a duration is within [min, max].
func ValidateDuration(duration, min, max time.Duration) error {
	if min > max {
		return fmt.Errorf("invalid range: min (%v) cannot be greater than max (%v)", min, max)
	}
	if duration < min {
		return fmt.Errorf("duration %v is below minimum %v", duration, min)
	}
	if duration > max {
		return fmt.Errorf("duration %v exceeds maximum %v", duration, max)
	}
	return nil
}
