package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"buildplan/internal/calendar"
	"buildplan/internal/phase"
)

// Config models buildplan.yml: the scheduling defaults, the holiday
// calendar and the site capacity constraints for a workspace. Phase rules
// themselves come from the built-in catalog; the config adjusts the knobs
// around them.
type Config struct {
	Scheduling struct {
		MaxWorkers         int       `yaml:"max_workers"`
		SeasonalFactors    []float64 `yaml:"seasonal_factors"`
		StaggerLagDays     int       `yaml:"stagger_lag_days"`
		ApplyCriticalChain bool      `yaml:"apply_critical_chain"`
		SafetyReduction    float64   `yaml:"safety_reduction"`
		ProjectBufferRatio float64   `yaml:"project_buffer_ratio"`
		FeedingBufferRatio float64   `yaml:"feeding_buffer_ratio"`
	} `yaml:"scheduling"`
	Calendar struct {
		FixedHolidays []HolidayDate `yaml:"fixed_holidays"`
		EasterOffsets []int         `yaml:"easter_offsets"`
	} `yaml:"calendar"`
	Capacity struct {
		WorkersPerFloor    int            `yaml:"workers_per_floor"`
		SplitThreshold     int            `yaml:"split_threshold"`
		LevelingIterations int            `yaml:"leveling_iterations"`
		EquipmentLimits    map[string]int `yaml:"equipment_limits"`
	} `yaml:"capacity"`
}

type HolidayDate struct {
	Month int `yaml:"month"`
	Day   int `yaml:"day"`
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "buildplan.yml")
}

// Load reads and validates config from a workspace.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create with bp config init", Path(workspace))
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template invalid: %v", err))
	}
	return &cfg
}

// GenerateDefault returns the default config YAML for bp config init.
func GenerateDefault() string {
	return defaultTemplate
}

// Validate ensures the config meets required structure, including cycle
// freedom of the phase rules it will be combined with.
func (c *Config) Validate() error {
	s := c.Scheduling
	if s.MaxWorkers < 1 {
		return fmt.Errorf("scheduling.max_workers must be >= 1")
	}
	if len(s.SeasonalFactors) != 0 && len(s.SeasonalFactors) != 12 {
		return fmt.Errorf("scheduling.seasonal_factors must have 12 entries, got %d", len(s.SeasonalFactors))
	}
	for i, f := range s.SeasonalFactors {
		if f <= 0 || f > 1.5 {
			return fmt.Errorf("scheduling.seasonal_factors[%d] = %v out of range (0, 1.5]", i, f)
		}
	}
	if s.SafetyReduction < 0 || s.SafetyReduction >= 1 {
		return fmt.Errorf("scheduling.safety_reduction must be in [0, 1)")
	}
	if s.ProjectBufferRatio < 0 || s.ProjectBufferRatio > 1 {
		return fmt.Errorf("scheduling.project_buffer_ratio must be in [0, 1]")
	}
	if s.FeedingBufferRatio < 0 || s.FeedingBufferRatio > 1 {
		return fmt.Errorf("scheduling.feeding_buffer_ratio must be in [0, 1]")
	}
	for _, h := range c.Calendar.FixedHolidays {
		if h.Month < 1 || h.Month > 12 || h.Day < 1 || h.Day > 31 {
			return fmt.Errorf("calendar.fixed_holidays contains invalid date %d-%d", h.Month, h.Day)
		}
	}
	if c.Capacity.WorkersPerFloor < 1 {
		return fmt.Errorf("capacity.workers_per_floor must be >= 1")
	}
	if c.Capacity.SplitThreshold < 1 {
		return fmt.Errorf("capacity.split_threshold must be >= 1")
	}
	for eq, n := range c.Capacity.EquipmentLimits {
		if n < 1 {
			return fmt.Errorf("capacity.equipment_limits.%s must be >= 1", eq)
		}
	}
	return c.Catalog().Validate()
}

// BuildCalendar materializes the working-day calendar.
func (c *Config) BuildCalendar() calendar.Calendar {
	cal := calendar.Calendar{EasterOffsets: c.Calendar.EasterOffsets}
	for _, h := range c.Calendar.FixedHolidays {
		cal.Fixed = append(cal.Fixed, calendar.MonthDay{Month: time.Month(h.Month), Day: h.Day})
	}
	return cal
}

// Catalog returns the phase catalog with config overrides applied.
func (c *Config) Catalog() phase.Catalog {
	cat := phase.Default()
	if c.Scheduling.StaggerLagDays > 0 {
		cat.StaggerLagDays = c.Scheduling.StaggerLagDays
	}
	return cat
}

const defaultTemplate = `scheduling:
  max_workers: 10
  stagger_lag_days: 3
  apply_critical_chain: false
  safety_reduction: 0.5
  project_buffer_ratio: 0.5
  feeding_buffer_ratio: 0.5
  seasonal_factors: [0.7, 0.8, 0.9, 1, 1, 1, 1, 1, 1, 1, 0.9, 0.75]

calendar:
  fixed_holidays:
    - { month: 1, day: 1 }
    - { month: 1, day: 2 }
    - { month: 5, day: 1 }
    - { month: 8, day: 15 }
    - { month: 12, day: 25 }
    - { month: 12, day: 26 }
  easter_offsets: [-2, 1, 50]

capacity:
  workers_per_floor: 12
  split_threshold: 8
  leveling_iterations: 50
  equipment_limits:
    crane: 1
    concrete_pump: 1
    excavator: 2
    scaffolding: 2
`
