package config

import "time"

// CronConfig configures internal/jobqueue's scheduled work: the
// Checkpointer's periodic cleanup pass plus any deployer-defined scheduled
// jobs, both driven by github.com/robfig/cron/v3.
type CronConfig struct {
	Enabled bool            `yaml:"enabled"`
	Jobs    []CronJobConfig `yaml:"jobs"`
}

// CronJobConfig defines one scheduled job.
type CronJobConfig struct {
	ID       string             `yaml:"id"`
	Name     string             `yaml:"name"`
	Enabled  bool               `yaml:"enabled"`
	Schedule CronScheduleConfig `yaml:"schedule"`
}

// CronScheduleConfig defines when a job runs: either a standard five-field
// cron expression or a fixed interval.
type CronScheduleConfig struct {
	Cron  string        `yaml:"cron"`
	Every time.Duration `yaml:"every"`
}
