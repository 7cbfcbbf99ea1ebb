package config

import "slices"

// JobNames returns a sorted list of job names from the configuration.
// The deterministic order keeps schedule registration and CLI listings
// stable.
func JobNames(cfg *Config) []string {
	names := make([]string, 0, len(cfg.Jobs))
	for name := range cfg.Jobs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ScheduledJobs returns the sorted names of jobs the scheduler should
// register: enabled jobs with a cron schedule.
func ScheduledJobs(cfg *Config) []string {
	names := make([]string, 0, len(cfg.Jobs))
	for name, j := range cfg.Jobs {
		if j.Disabled || j.ManualOnly || j.Schedule == "" {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
