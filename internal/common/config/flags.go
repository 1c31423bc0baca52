package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// LogLevelFlag implements flag.Value for a slog level
type LogLevelFlag slog.Level

func (f *LogLevelFlag) String() string {
	if f == nil {
		return ""
	}
	return strings.ToLower(slog.Level(*f).String())
}

func (f *LogLevelFlag) Set(value string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", value, err)
	}
	*f = LogLevelFlag(level)
	return nil
}

// Level returns the parsed slog level
func (f *LogLevelFlag) Level() slog.Level {
	return slog.Level(*f)
}

// StringSliceFlag implements flag.Value for a comma-separated list of strings.
// Repeated use of the flag appends.
type StringSliceFlag []string

func (f *StringSliceFlag) String() string {
	if f == nil {
		return ""
	}
	return strings.Join(*f, ",")
}

func (f *StringSliceFlag) Set(value string) error {
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		*f = append(*f, part)
	}
	return nil
}
