package session

import "time"

// Config holds session runtime configuration from YAML.
type Config struct {
	// MaxHistory bounds the per-session history window.
	MaxHistory int `yaml:"max_history"`

	// SummaryEvery regenerates the context summary every N-th
	// interaction.
	SummaryEvery int `yaml:"summary_every"`

	// IdleTimeout is how long a non-paused session may sit idle
	// before the sweep removes it.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// SweepInterval is the cadence of the periodic expiry sweep.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// AutoSaveInterval is the minimum spacing between snapshot saves
	// of one session.
	AutoSaveInterval time.Duration `yaml:"auto_save_interval"`

	// RecoveryWindow bounds how old a snapshot may be and still be
	// eligible for recovery.
	RecoveryWindow time.Duration `yaml:"recovery_window"`

	// MaxSessionsPerUser caps concurrently active sessions per owner.
	MaxSessionsPerUser int `yaml:"max_sessions_per_user"`

	// GenerationTimeout bounds each generation collaborator call.
	GenerationTimeout time.Duration `yaml:"generation_timeout"`
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		MaxHistory:         10,
		SummaryEvery:       3,
		IdleTimeout:        30 * time.Minute,
		SweepInterval:      time.Minute,
		AutoSaveInterval:   5 * time.Minute,
		RecoveryWindow:     24 * time.Hour,
		MaxSessionsPerUser: 5,
		GenerationTimeout:  30 * time.Second,
	}
}

// withDefaults fills zero values with defaults.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxHistory <= 0 {
		c.MaxHistory = def.MaxHistory
	}
	if c.SummaryEvery <= 0 {
		c.SummaryEvery = def.SummaryEvery
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.AutoSaveInterval <= 0 {
		c.AutoSaveInterval = def.AutoSaveInterval
	}
	if c.RecoveryWindow <= 0 {
		c.RecoveryWindow = def.RecoveryWindow
	}
	if c.MaxSessionsPerUser <= 0 {
		c.MaxSessionsPerUser = def.MaxSessionsPerUser
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = def.GenerationTimeout
	}
	return c
}
