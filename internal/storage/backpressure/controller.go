// Package backpressure classifies write-queue fill levels so that sustained
// overload is reported once per level change instead of once per drop.
package backpressure

import (
	"sync"
	"sync/atomic"
	"time"
)

// Level represents the current backpressure level.
type Level int

const (
	// LevelNormal - writers keep up.
	LevelNormal Level = iota

	// LevelWarning - a write queue is filling.
	LevelWarning

	// LevelCritical - a write queue is close to full.
	LevelCritical

	// LevelEmergency - a write queue is full and records are being dropped.
	LevelEmergency
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// UsageSource reports a fill ratio between 0 and 1.
type UsageSource interface {
	UsageRatio() float64
}

// Thresholds are the usage ratios at which each level starts.
type Thresholds struct {
	Warning   float64
	Critical  float64
	Emergency float64
}

// Config configures a Controller.
type Config struct {
	Enabled    bool
	Thresholds Thresholds

	// Hysteresis is subtracted from a threshold before leaving its level.
	Hysteresis float64

	// Cooldown is the minimum time between two evaluations.
	Cooldown time.Duration
}

// DefaultConfig returns the default backpressure configuration.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Thresholds: Thresholds{
			Warning:   0.50,
			Critical:  0.80,
			Emergency: 0.95,
		},
		Hysteresis: 0.10,
		Cooldown:   100 * time.Millisecond,
	}
}

// Controller tracks the highest fill ratio among its sources.
type Controller struct {
	mu sync.Mutex

	config  Config
	sources []UsageSource

	// Current state
	level     atomic.Int32
	lastCheck time.Time
	lastLevel Level

	// Statistics
	stats Stats

	// Level change callback
	onLevelChange func(old, new Level, usage float64)
}

// Stats holds backpressure statistics.
type Stats struct {
	LevelChanges   int64
	WarningCount   int64
	CriticalCount  int64
	EmergencyCount int64
	RecordsDropped int64
}

// New creates a controller over the given sources.
func New(cfg Config, sources ...UsageSource) *Controller {
	return &Controller{
		config:  cfg,
		sources: sources,
	}
}

// SetOnLevelChange sets the callback for level changes. The callback runs
// with the controller locked and must not call back into it.
func (c *Controller) SetOnLevelChange(fn func(old, new Level, usage float64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLevelChange = fn
}

// Check evaluates current conditions and updates the level.
func (c *Controller) Check() Level {
	if !c.config.Enabled {
		return LevelNormal
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	// Respect cooldown
	if !c.lastCheck.IsZero() && now.Sub(c.lastCheck) < c.config.Cooldown {
		return Level(c.level.Load())
	}
	c.lastCheck = now

	usage := c.usage()
	newLevel := c.determineLevel(usage)
	if newLevel != c.lastLevel {
		c.setLevel(newLevel, usage)
	}

	return newLevel
}

func (c *Controller) usage() float64 {
	var max float64
	for _, s := range c.sources {
		if u := s.UsageRatio(); u > max {
			max = u
		}
	}
	return max
}

// determineLevel determines the backpressure level based on usage.
func (c *Controller) determineLevel(usage float64) Level {
	thresholds := c.config.Thresholds
	hysteresis := c.config.Hysteresis

	// Going up (increasing pressure)
	if usage >= thresholds.Emergency {
		return LevelEmergency
	}
	if usage >= thresholds.Critical && c.lastLevel < LevelCritical {
		return LevelCritical
	}
	if usage >= thresholds.Warning && c.lastLevel < LevelWarning {
		return LevelWarning
	}

	// Going down (decreasing pressure) - apply hysteresis one level at a time
	switch c.lastLevel {
	case LevelEmergency:
		if usage < thresholds.Emergency-hysteresis {
			return LevelCritical
		}
		return LevelEmergency
	case LevelCritical:
		if usage < thresholds.Critical-hysteresis {
			return LevelWarning
		}
		return LevelCritical
	case LevelWarning:
		if usage < thresholds.Warning-hysteresis {
			return LevelNormal
		}
		return LevelWarning
	default:
		return LevelNormal
	}
}

// setLevel updates the current level and fires callback.
func (c *Controller) setLevel(newLevel Level, usage float64) {
	oldLevel := c.lastLevel
	c.lastLevel = newLevel
	c.level.Store(int32(newLevel))
	c.stats.LevelChanges++

	switch newLevel {
	case LevelWarning:
		c.stats.WarningCount++
	case LevelCritical:
		c.stats.CriticalCount++
	case LevelEmergency:
		c.stats.EmergencyCount++
	}

	if c.onLevelChange != nil {
		c.onLevelChange(oldLevel, newLevel, usage)
	}
}

// CurrentLevel returns the current backpressure level.
func (c *Controller) CurrentLevel() Level {
	return Level(c.level.Load())
}

// RecordDrop records that a record was dropped.
func (c *Controller) RecordDrop() {
	c.mu.Lock()
	c.stats.RecordsDropped++
	c.mu.Unlock()
}

// Stats returns current statistics.
func (c *Controller) Stats() ControllerStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ControllerStats{
		CurrentLevel:   c.CurrentLevel(),
		LevelChanges:   c.stats.LevelChanges,
		WarningCount:   c.stats.WarningCount,
		CriticalCount:  c.stats.CriticalCount,
		EmergencyCount: c.stats.EmergencyCount,
		RecordsDropped: c.stats.RecordsDropped,
		Usage:          c.usage(),
	}
}

// ControllerStats holds controller statistics.
type ControllerStats struct {
	CurrentLevel   Level
	LevelChanges   int64
	WarningCount   int64
	CriticalCount  int64
	EmergencyCount int64
	RecordsDropped int64
	Usage          float64
}

// IsEnabled returns whether backpressure is enabled.
func (c *Controller) IsEnabled() bool {
	return c.config.Enabled
}
