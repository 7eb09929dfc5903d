package common

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration so config files can express intervals as
// human-readable strings ("30s", "1h30m") in YAML, JSON and TOML alike.
type Duration struct {
	time.Duration
}

// NewDuration creates a Duration from a time.Duration.
func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

// UnmarshalText parses a textual duration. TOML and YAML decoders route
// through here via encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(data []byte) error {
	parsed, err := time.ParseDuration(string(data))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(data), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration in time.Duration string form.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalJSON parses a JSON string value as a duration.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalJSON renders the duration as a JSON string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

// UnmarshalYAML parses a YAML scalar as a duration.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalYAML renders the duration as a YAML string.
func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}
