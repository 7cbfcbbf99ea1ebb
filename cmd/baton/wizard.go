package main

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/huh"
	cronv3 "github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/baton/internal/config"
	"github.com/flemzord/baton/internal/security"
)

// initCmd walks through defining the first job and writes a minimal
// baton.yaml. Everything it leaves out falls back to documented defaults
// at load time, so the generated file stays small and readable.
func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a baton.yaml interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, _ := cmd.Flags().GetString("output")
			if !force {
				if _, err := os.Stat(out); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", out)
				}
			}

			w := wizardAnswers{
				schedule:  "30 7 * * *",
				files:     "*.json",
				retention: "14",
			}
			if err := newInitForm(&w).Run(); err != nil {
				return err
			}
			if !w.confirm {
				fmt.Println("Canceled.")
				return nil
			}

			cfg := w.config()
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}

			// Round-trip through the loader's own default and validation
			// path; a file this command writes must start the daemon.
			var check config.Config
			if err := yaml.Unmarshal(data, &check); err != nil {
				return err
			}
			check.ApplyDefaults()
			if err := config.Validate(&check); err != nil {
				return fmt.Errorf("generated config failed validation: %w", err)
			}

			header := "# baton configuration\n" +
				"# Credential values are read from the daemon environment; only their\n" +
				"# variable names belong in this file.\n"
			if err := os.WriteFile(out, append([]byte(header), data...), 0o644); err != nil {
				return err
			}

			fmt.Printf("Wrote %s\n", boldStyle.Sprint(out))
			if creds := splitCredentials(w.credentials); len(creds) > 0 {
				fmt.Printf("Export before starting: %s\n", strings.Join(creds, ", "))
			}
			fmt.Printf("Start the daemon with: baton start --config %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "baton.yaml", "Where to write the configuration")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}

type wizardAnswers struct {
	jobName     string
	schedule    string
	command     string
	files       string
	credentials string
	retention   string
	confirm     bool
}

func (w wizardAnswers) config() *config.Config {
	days, _ := strconv.Atoi(w.retention)
	return &config.Config{
		Version: "1",
		Jobs: map[string]*config.JobConfig{
			w.jobName: {
				Schedule:    w.schedule,
				Command:     w.command,
				Credentials: splitCredentials(w.credentials),
				Session: config.SessionConfig{
					Files:         w.files,
					RetentionDays: days,
				},
			},
		},
	}
}

func newInitForm(w *wizardAnswers) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Job name").
				Description("Used in URLs, file paths, and the artifact slot name").
				Placeholder("checkin").
				Value(&w.jobName).
				Validate(security.ValidateName),
			huh.NewInput().
				Title("Cron schedule").
				Description("Five-field cron expression, evaluated in the daemon's local time").
				Value(&w.schedule).
				Validate(validateSchedule),
			huh.NewInput().
				Title("Command").
				Description("Run through sh -c inside the job workspace").
				Placeholder("./checkin --once").
				Value(&w.command).
				Validate(validateCommand),
			huh.NewInput().
				Title("Session files").
				Description("Glob selecting the files to persist after each run").
				Value(&w.files).
				Validate(validateGlob),
			huh.NewInput().
				Title("Credential variables").
				Description("Comma-separated environment variable names holding the job's secrets").
				Placeholder("AIRLINE_USER, AIRLINE_PASSWORD").
				Value(&w.credentials).
				Validate(validateCredentialList),
			huh.NewInput().
				Title("Session retention (days)").
				Description("How long a stored session stays restorable; blank for the default (7)").
				Value(&w.retention).
				Validate(validateDays),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Write configuration?").
				Affirmative("Write").
				Negative("Cancel").
				Value(&w.confirm),
		),
	)
}

// envVarPattern is the POSIX environment variable name rule.
var envVarPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func validateSchedule(s string) error {
	if _, err := cronv3.ParseStandard(s); err != nil {
		return fmt.Errorf("not a valid cron expression: %v", err)
	}
	return nil
}

func validateCommand(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("command is required")
	}
	return nil
}

func validateGlob(s string) error {
	if s == "" {
		return fmt.Errorf("a session file glob is required")
	}
	if !doublestar.ValidatePattern(s) {
		return fmt.Errorf("not a valid glob pattern")
	}
	return nil
}

func validateCredentialList(s string) error {
	for _, name := range splitCredentials(s) {
		if !envVarPattern.MatchString(name) {
			return fmt.Errorf("%q is not a valid environment variable name", name)
		}
	}
	return nil
}

func validateDays(s string) error {
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fmt.Errorf("enter a positive number of days, or leave blank")
	}
	return nil
}

func splitCredentials(s string) []string {
	var names []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}
