// Package simulate replays timer schedules on a virtual clock.
package simulate

import (
	"fmt"

	"github.com/spf13/viper"
)

// Timer kinds accepted in a schedule.
const (
	KindTimeout  = "timeout"
	KindInterval = "interval"
)

// Timer is one scheduled callback.
type Timer struct {
	Name  string `mapstructure:"name"`
	Kind  string `mapstructure:"kind"`
	Delay int64  `mapstructure:"delay"`
	// ClearAt cancels the timer once every callback due at that tick has
	// run. Zero leaves the timer alone.
	ClearAt int64 `mapstructure:"clear_at"`
}

// Schedule describes a replay: the timers to register at tick zero and how
// far to advance the clock.
type Schedule struct {
	Ticks  int64   `mapstructure:"ticks"`
	Timers []Timer `mapstructure:"timers"`
}

// LoadSchedule reads a schedule from a YAML, JSON or TOML file.
func LoadSchedule(path string) (*Schedule, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigParseError); ok {
			return nil, fmt.Errorf("error parsing schedule: %v", err)
		}
		return nil, fmt.Errorf("error reading schedule file: %v", err)
	}

	var s Schedule
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("error unmarshaling schedule: %v", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the schedule for values the clock would reject.
func (s *Schedule) Validate() error {
	if s.Ticks <= 0 {
		return fmt.Errorf("ticks must be positive, got %d", s.Ticks)
	}

	seen := make(map[string]bool, len(s.Timers))
	for i, t := range s.Timers {
		if t.Name == "" {
			return fmt.Errorf("timer %d: name is required", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("timer %q: duplicate name", t.Name)
		}
		seen[t.Name] = true

		switch t.Kind {
		case KindTimeout, KindInterval:
		default:
			return fmt.Errorf("timer %q: unknown kind %q", t.Name, t.Kind)
		}
		if t.Delay < 0 {
			return fmt.Errorf("timer %q: delay must not be negative, got %d", t.Name, t.Delay)
		}
		if t.ClearAt < 0 {
			return fmt.Errorf("timer %q: clear_at must not be negative, got %d", t.Name, t.ClearAt)
		}
	}
	return nil
}
