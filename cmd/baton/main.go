// Package main is the entry point for the baton CLI.
package main

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/flemzord/baton/internal/artifact"
	"github.com/flemzord/baton/internal/artifact/fsstore"
	"github.com/flemzord/baton/internal/artifact/sqlitestore"
	"github.com/flemzord/baton/internal/config"
	"github.com/flemzord/baton/pkg/app"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	okStyle    = color.New(color.FgGreen)
	failStyle  = color.New(color.FgRed)
	warnStyle  = color.New(color.FgYellow)
	boldStyle  = color.New(color.Bold)
	faintStyle = color.New(color.FgWhite, color.Faint)
)

func main() {
	err := rootCmd().Execute()
	if err == nil {
		return
	}
	var ee *exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "baton",
		Short:         "A scheduler that keeps login sessions alive between runs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		versionCmd(),
		startCmd(),
		runCmd(),
		jobsCmd(),
		runsCmd(),
		artifactsCmd(),
		configCmd(),
		initCmd(),
		serviceCmd(),
	)
	return root
}

// exitError makes a cobra command exit with a specific process code
// without printing anything further; the command has already reported.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("baton %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the baton daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			return app.Run(app.RunParams{
				ConfigPath: cfgPath,
				Version:    version,
				Commit:     commit,
				Date:       date,
				DataDir:    dataDir,
			})
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	cmd.Flags().String("data-dir", "", "Override the data directory")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <path>",
		Short: "Validate a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			cfg.ApplyDefaults()
			if err := config.Validate(cfg); err != nil {
				return err
			}

			names := config.JobNames(cfg)
			fmt.Printf("Configuration OK (%d jobs)\n", len(names))
			for _, name := range names {
				j := cfg.Jobs[name]
				sched := j.Schedule
				if j.ManualOnly {
					sched = "manual only"
				}
				fmt.Printf("  %-20s %s\n", name, sched)
			}
			if creds := credentialNames(cfg); len(creds) > 0 {
				fmt.Printf("Required credential variables: %s\n", strings.Join(creds, ", "))
			}
			return nil
		},
	})
	return cmd
}

// loadConfig locates, loads, defaults, and validates configuration the
// same way the daemon does, so CLI views match what `baton start` runs.
func loadConfig(explicit, dataDir string) (*config.Config, string, error) {
	path, err := config.Locate(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	cfg.ApplyDefaults()
	if err := config.Validate(cfg); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func openArtifactStore(cfg config.StoreConfig) (artifact.Store, func() error, error) {
	switch cfg.Backend {
	case config.StoreBackendSQLite:
		s, err := sqlitestore.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		s, err := fsstore.New(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { return nil }, nil
	}
}

// credentialNames returns the sorted union of every job's credential
// variable names. Names are safe to print; values never are.
func credentialNames(cfg *config.Config) []string {
	var names []string
	for _, j := range cfg.Jobs {
		names = append(names, j.Credentials...)
	}
	slices.Sort(names)
	return slices.Compact(names)
}

func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	cmd.Flags().String("data-dir", "", "Override the data directory")
}

func configFlags(cmd *cobra.Command) (string, string) {
	cfgPath, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	return cfgPath, dataDir
}
