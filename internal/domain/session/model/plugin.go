package model

import (
	"fmt"
	"time"
)

// PluginKind tags the four plugin configuration variants.
type PluginKind string

const (
	PluginLog        PluginKind = "log"
	PluginPageLimit  PluginKind = "page_limit"
	PluginRandomWait PluginKind = "random_wait"
	PluginRetry      PluginKind = "retry"
)

// PluginSpec is a tagged union: exactly the variant payload matching Kind is
// set. A session materializes each enabled spec into a live plugin instance
// whose counters persist for the session's lifetime.
type PluginSpec struct {
	Kind    PluginKind `json:"kind" yaml:"kind"`
	Name    string     `json:"name" yaml:"name"`
	Enabled bool       `json:"enabled" yaml:"enabled"`

	Log        *LogSpec        `json:"log,omitempty" yaml:"log,omitempty"`
	PageLimit  *PageLimitSpec  `json:"page_limit,omitempty" yaml:"page_limit,omitempty"`
	RandomWait *RandomWaitSpec `json:"random_wait,omitempty" yaml:"random_wait,omitempty"`
	Retry      *RetrySpec      `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// LogSpec configures the logging plugin.
type LogSpec struct {
	Level string `json:"level" yaml:"level"`
}

// PageLimitSpec caps the number of open pages per browser context.
type PageLimitSpec struct {
	MaxPages int `json:"max_pages" yaml:"max_pages"`
}

// RandomWaitSpec shapes humanized pacing between operations.
type RandomWaitSpec struct {
	MinWait      time.Duration `json:"min_wait" yaml:"min_wait"`
	MidWait      time.Duration `json:"mid_wait" yaml:"mid_wait"`
	MaxWait      time.Duration `json:"max_wait" yaml:"max_wait"`
	LongInterval int           `json:"long_interval" yaml:"long_interval"`
	MidInterval  int           `json:"mid_interval" yaml:"mid_interval"`
	BaseLongProb float64       `json:"base_long_prob" yaml:"base_long_prob"`
	BaseMidProb  float64       `json:"base_mid_prob" yaml:"base_mid_prob"`
	Growth       float64       `json:"growth" yaml:"growth"`
}

// RetrySpec configures transparent re-execution of failed operations.
type RetrySpec struct {
	Attempts      int           `json:"attempts" yaml:"attempts"`
	Delay         time.Duration `json:"delay" yaml:"delay"`
	NotifyOnError bool          `json:"notify_on_error" yaml:"notify_on_error"`
}

// Validate checks that the variant payload matches the kind.
func (s PluginSpec) Validate() error {
	switch s.Kind {
	case PluginLog:
		if s.Log == nil {
			return fmt.Errorf("plugin %q: missing log payload", s.Name)
		}
	case PluginPageLimit:
		if s.PageLimit == nil {
			return fmt.Errorf("plugin %q: missing page_limit payload", s.Name)
		}
		if s.PageLimit.MaxPages < 1 {
			return fmt.Errorf("plugin %q: max_pages must be >= 1", s.Name)
		}
	case PluginRandomWait:
		rw := s.RandomWait
		if rw == nil {
			return fmt.Errorf("plugin %q: missing random_wait payload", s.Name)
		}
		if rw.MinWait < 0 || rw.MidWait < rw.MinWait || rw.MaxWait < rw.MidWait {
			return fmt.Errorf("plugin %q: waits must satisfy min <= mid <= max", s.Name)
		}
		if rw.LongInterval < 1 || rw.MidInterval < 1 {
			return fmt.Errorf("plugin %q: intervals must be >= 1", s.Name)
		}
	case PluginRetry:
		if s.Retry == nil {
			return fmt.Errorf("plugin %q: missing retry payload", s.Name)
		}
		if s.Retry.Attempts < 0 {
			return fmt.Errorf("plugin %q: attempts must be >= 0", s.Name)
		}
	default:
		return fmt.Errorf("unknown plugin kind %q", s.Kind)
	}
	return nil
}

// DefaultPluginSpecs is the plugin set bound to a session whose profile has
// no explicit configuration.
func DefaultPluginSpecs() []PluginSpec {
	return []PluginSpec{
		{
			Kind:    PluginLog,
			Name:    "log",
			Enabled: true,
			Log:     &LogSpec{Level: "info"},
		},
		{
			Kind:      PluginPageLimit,
			Name:      "page-limit",
			Enabled:   true,
			PageLimit: &PageLimitSpec{MaxPages: 5},
		},
		{
			Kind:    PluginRandomWait,
			Name:    "random-wait",
			Enabled: true,
			RandomWait: &RandomWaitSpec{
				MinWait:      0,
				MidWait:      10 * time.Second,
				MaxWait:      30 * time.Second,
				LongInterval: 10,
				MidInterval:  5,
				BaseLongProb: 0.05,
				BaseMidProb:  0.15,
				Growth:       0.02,
			},
		},
		{
			Kind:    PluginRetry,
			Name:    "retry",
			Enabled: true,
			Retry:   &RetrySpec{Attempts: 3, Delay: 30 * time.Second, NotifyOnError: true},
		},
	}
}
